package goja

import (
	"fmt"
	"html"
	"strconv"
	"strings"

	engine "github.com/dop251/goja"
)

// markdownModule builds Markdown documents the host can render.
type markdownModule struct {
	renderHook
}

func (*markdownModule) Name() string       { return "markdown" }
func (*markdownModule) Requires() []string { return nil }

func (m *markdownModule) Instantiate(env Env) (engine.Value, error) {
	obj := env.VM.NewObject()
	method(obj, "render", func(call engine.FunctionCall) engine.Value {
		return m.document(env, call.Argument(0).String())
	})
	return obj, nil
}

// document is a Markdown source with a rich representation and show().
func (m *markdownModule) document(env Env, src string) *engine.Object {
	doc := env.VM.NewObject()
	_ = doc.Set("source", src)
	text := func(engine.FunctionCall) engine.Value { return env.VM.ToValue(src) }
	method(doc, "toString", text)
	method(doc, "_repr_markdown_", text)
	method(doc, "show", func(engine.FunctionCall) engine.Value {
		if !m.render("markdown", src) {
			env.Print(src)
		}
		return engine.Undefined()
	})
	return doc
}

// svgModule draws vector images.
type svgModule struct {
	renderHook
}

func (*svgModule) Name() string       { return "svg" }
func (*svgModule) Requires() []string { return nil }

func (m *svgModule) Instantiate(env Env) (engine.Value, error) {
	obj := env.VM.NewObject()
	method(obj, "canvas", func(call engine.FunctionCall) engine.Value {
		c := &canvas{
			width:  numberArg(call, 0, 300),
			height: numberArg(call, 1, 150),
		}
		return m.canvasObject(env, c)
	})
	return obj, nil
}

type canvas struct {
	width, height float64
	shapes        []string
}

func (c *canvas) markup() string {
	var b strings.Builder
	fmt.Fprintf(&b, `<svg xmlns="http://www.w3.org/2000/svg" width="%s" height="%s">`, num(c.width), num(c.height))
	for _, s := range c.shapes {
		b.WriteString(s)
	}
	b.WriteString("</svg>")
	return b.String()
}

func (m *svgModule) canvasObject(env Env, c *canvas) *engine.Object {
	obj := env.VM.NewObject()
	chain := func(shape func(call engine.FunctionCall) string) func(engine.FunctionCall) engine.Value {
		return func(call engine.FunctionCall) engine.Value {
			c.shapes = append(c.shapes, shape(call))
			return obj
		}
	}
	method(obj, "circle", chain(func(call engine.FunctionCall) string {
		return fmt.Sprintf(`<circle cx="%s" cy="%s" r="%s" fill="%s"/>`,
			num(numberArg(call, 0, 0)), num(numberArg(call, 1, 0)), num(numberArg(call, 2, 1)), attr(call, 3, "black"))
	}))
	method(obj, "rect", chain(func(call engine.FunctionCall) string {
		return fmt.Sprintf(`<rect x="%s" y="%s" width="%s" height="%s" fill="%s"/>`,
			num(numberArg(call, 0, 0)), num(numberArg(call, 1, 0)), num(numberArg(call, 2, 0)), num(numberArg(call, 3, 0)), attr(call, 4, "black"))
	}))
	method(obj, "line", chain(func(call engine.FunctionCall) string {
		return fmt.Sprintf(`<line x1="%s" y1="%s" x2="%s" y2="%s" stroke="%s"/>`,
			num(numberArg(call, 0, 0)), num(numberArg(call, 1, 0)), num(numberArg(call, 2, 0)), num(numberArg(call, 3, 0)), attr(call, 4, "black"))
	}))
	method(obj, "text", chain(func(call engine.FunctionCall) string {
		return fmt.Sprintf(`<text x="%s" y="%s" fill="%s">%s</text>`,
			num(numberArg(call, 0, 0)), num(numberArg(call, 1, 0)), attr(call, 3, "black"), html.EscapeString(call.Argument(2).String()))
	}))

	markup := func(engine.FunctionCall) engine.Value { return env.VM.ToValue(c.markup()) }
	method(obj, "render", markup)
	method(obj, "_repr_svg_", markup)
	method(obj, "toString", func(engine.FunctionCall) engine.Value {
		return env.VM.ToValue(fmt.Sprintf("Canvas(%s, %s)", num(c.width), num(c.height)))
	})
	method(obj, "show", func(engine.FunctionCall) engine.Value {
		if !m.render("svg", c.markup()) {
			env.Print(c.markup())
		}
		return engine.Undefined()
	})
	return obj
}

func numberArg(call engine.FunctionCall, i int, def float64) float64 {
	a := call.Argument(i)
	if engine.IsUndefined(a) || engine.IsNull(a) {
		return def
	}
	return a.ToFloat()
}

func attr(call engine.FunctionCall, i int, def string) string {
	a := call.Argument(i)
	if engine.IsUndefined(a) || engine.IsNull(a) {
		return def
	}
	return html.EscapeString(a.String())
}

func num(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// tableModule turns rows of records into tables. Its Markdown export goes
// through the markdown package, which it therefore requires.
type tableModule struct {
	renderHook
	markdown *markdownModule
}

func (*tableModule) Name() string       { return "table" }
func (*tableModule) Requires() []string { return []string{"markdown"} }

func (m *tableModule) Instantiate(env Env) (engine.Value, error) {
	obj := env.VM.NewObject()
	method(obj, "from", func(call engine.FunctionCall) engine.Value {
		t, err := newTable(env, call.Argument(0))
		if err != nil {
			env.Throw(err)
		}
		return m.tableObject(env, t)
	})
	return obj, nil
}

type table struct {
	columns []string
	rows    [][]string
}

// newTable reads an array of records. Columns are the union of record keys
// in first-seen order.
func newTable(env Env, rows engine.Value) (*table, error) {
	arr, ok := rows.(*engine.Object)
	if !ok || arr.ClassName() != "Array" {
		return nil, fmt.Errorf("table.from expects an array of records")
	}
	n := int(arr.Get("length").ToInteger())
	t := &table{}
	index := map[string]int{}
	records := make([]*engine.Object, 0, n)
	for i := 0; i < n; i++ {
		rec, ok := arr.Get(strconv.Itoa(i)).(*engine.Object)
		if !ok {
			return nil, fmt.Errorf("table.from: row %d is not a record", i)
		}
		records = append(records, rec)
		for _, k := range rec.Keys() {
			if _, seen := index[k]; !seen {
				index[k] = len(t.columns)
				t.columns = append(t.columns, k)
			}
		}
	}
	for _, rec := range records {
		row := make([]string, len(t.columns))
		for i, col := range t.columns {
			if v := rec.Get(col); v != nil && !engine.IsUndefined(v) {
				row[i] = v.String()
			}
		}
		t.rows = append(t.rows, row)
	}
	return t, nil
}

func (t *table) html() string {
	var b strings.Builder
	b.WriteString("<table><thead><tr>")
	for _, c := range t.columns {
		b.WriteString("<th>" + html.EscapeString(c) + "</th>")
	}
	b.WriteString("</tr></thead><tbody>")
	for _, row := range t.rows {
		b.WriteString("<tr>")
		for _, cell := range row {
			b.WriteString("<td>" + html.EscapeString(cell) + "</td>")
		}
		b.WriteString("</tr>")
	}
	b.WriteString("</tbody></table>")
	return b.String()
}

func (t *table) markdown() string {
	var b strings.Builder
	b.WriteString("| " + strings.Join(t.columns, " | ") + " |\n|")
	for range t.columns {
		b.WriteString(" --- |")
	}
	b.WriteString("\n")
	for _, row := range t.rows {
		b.WriteString("| " + strings.Join(row, " | ") + " |\n")
	}
	return b.String()
}

func (m *tableModule) tableObject(env Env, t *table) *engine.Object {
	obj := env.VM.NewObject()
	cols := make([]any, len(t.columns))
	for i, c := range t.columns {
		cols[i] = c
	}
	_ = obj.Set("columns", env.VM.NewArray(cols...))
	_ = obj.Set("length", len(t.rows))
	method(obj, "_repr_html_", func(engine.FunctionCall) engine.Value {
		return env.VM.ToValue(t.html())
	})
	method(obj, "toMarkdown", func(engine.FunctionCall) engine.Value {
		return m.markdown.document(env, t.markdown())
	})
	method(obj, "toString", func(engine.FunctionCall) engine.Value {
		return env.VM.ToValue(fmt.Sprintf("Table(%d rows, %d columns)", len(t.rows), len(t.columns)))
	})
	method(obj, "display", func(engine.FunctionCall) engine.Value {
		if !m.render("html", t.html()) {
			env.Print(t.markdown())
		}
		return engine.Undefined()
	})
	return obj
}
