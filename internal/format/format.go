// Package format turns evaluation results into MIME bundles.
package format

import (
	"fmt"

	"github.com/aretw0/basthon/pkg/domain"
	"github.com/aretw0/basthon/pkg/ports"
)

// HTMLRenderer is implemented by host values with an HTML representation.
type HTMLRenderer interface{ ReprHTML() (string, error) }

// SVGRenderer is implemented by host values with an SVG representation.
type SVGRenderer interface{ ReprSVG() (string, error) }

// PNGRenderer is implemented by host values with a base64 PNG representation.
type PNGRenderer interface{ ReprPNG() (string, error) }

// MarkdownRenderer is implemented by host values with a Markdown representation.
type MarkdownRenderer interface{ ReprMarkdown() (string, error) }

// LaTeXRenderer is implemented by host values with a LaTeX representation.
type LaTeXRenderer interface{ ReprLaTeX() (string, error) }

// capability pairs a MIME type with the guest method that renders it.
type capability struct {
	mime   string
	method string
}

var capabilities = []capability{
	{domain.MimeHTML, "_repr_html_"},
	{domain.MimeMarkdown, "_repr_markdown_"},
	{domain.MimeSVG, "_repr_svg_"},
	{domain.MimePNG, "_repr_png_"},
	{domain.MimeLaTeX, "_repr_latex_"},
}

// Represent builds the bundle of v. text/plain is always present; each other
// representation is added when v offers it. A failing capability fails the
// whole call.
func Represent(v any) (domain.Bundle, error) {
	if gv, ok := v.(ports.Value); ok {
		return representGuest(gv)
	}
	return representHost(v)
}

func representGuest(v ports.Value) (domain.Bundle, error) {
	bundle := domain.Bundle{domain.MimeText: v.String()}
	for _, c := range capabilities {
		render, ok := v.Method(c.method)
		if !ok {
			continue
		}
		out, err := render()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", c.method, err)
		}
		bundle[c.mime] = out.String()
	}
	return bundle, nil
}

func representHost(v any) (domain.Bundle, error) {
	bundle := domain.Bundle{domain.MimeText: text(v)}
	renderers := []struct {
		mime   string
		render func() (string, error)
	}{
		{domain.MimeHTML, bindRender[HTMLRenderer](v, HTMLRenderer.ReprHTML)},
		{domain.MimeMarkdown, bindRender[MarkdownRenderer](v, MarkdownRenderer.ReprMarkdown)},
		{domain.MimeSVG, bindRender[SVGRenderer](v, SVGRenderer.ReprSVG)},
		{domain.MimePNG, bindRender[PNGRenderer](v, PNGRenderer.ReprPNG)},
		{domain.MimeLaTeX, bindRender[LaTeXRenderer](v, LaTeXRenderer.ReprLaTeX)},
	}
	for _, r := range renderers {
		if r.render == nil {
			continue
		}
		out, err := r.render()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", r.mime, err)
		}
		bundle[r.mime] = out
	}
	return bundle, nil
}

// bindRender returns a bound render function when v implements T.
func bindRender[T any](v any, fn func(T) (string, error)) func() (string, error) {
	t, ok := v.(T)
	if !ok {
		return nil
	}
	return func() (string, error) { return fn(t) }
}

func text(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}
