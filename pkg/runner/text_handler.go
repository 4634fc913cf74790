package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/basthon/pkg/domain"
	"github.com/aretw0/lifecycle"
	"github.com/muesli/termenv"
)

const (
	// Prompt is printed before the first line of a cell.
	Prompt = ">>> "
	// ContinuationPrompt is printed before the following lines.
	ContinuationPrompt = "... "
)

// TextHandler implements the standard text-based interface.
type TextHandler struct {
	source      io.Reader
	interactive bool // true if reading from CONIN$ (Windows) where EOF should be ignored
	Reader      *bufio.Reader
	Writer      io.Writer
	Renderer    ContentRenderer
	Quiet       bool // no prompts

	out       *termenv.Output
	inputChan chan inputResult
	startOnce sync.Once
}

type inputResult struct {
	text string
	err  error
}

// TextHandlerOption defines configuration for TextHandler.
type TextHandlerOption func(*TextHandler)

// WithTextHandlerRenderer configures the markdown renderer for displays.
func WithTextHandlerRenderer(renderer ContentRenderer) TextHandlerOption {
	return func(h *TextHandler) {
		h.Renderer = renderer
	}
}

// WithQuiet disables prompts, for piped input.
func WithQuiet(quiet bool) TextHandlerOption {
	return func(h *TextHandler) {
		h.Quiet = quiet
	}
}

// NewTextHandler creates a handler for standard text IO.
func NewTextHandler(r io.Reader, w io.Writer, opts ...TextHandlerOption) *TextHandler {
	if r == nil {
		r = os.Stdin
	}
	if w == nil {
		w = os.Stdout
	}
	h := &TextHandler{
		Writer: w,
		out:    termenv.NewOutput(w),
	}

	// Windows Specific: if we are running in a terminal, read from CONIN$
	// to support graceful signal handling.
	h.source, h.interactive = resolveInputReader(r)
	h.Reader = bufio.NewReader(h.source)

	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *TextHandler) initPump() {
	h.startOnce.Do(func() {
		h.inputChan = make(chan inputResult)
		go h.pump()
	})
}

func (h *TextHandler) pump() {
	for {
		text, err := h.Reader.ReadString('\n')

		if text != "" {
			h.inputChan <- inputResult{text: text}
		}

		if err != nil {
			if err == io.EOF {
				if h.interactive {
					// A signal may have interrupted the read; the console stays usable.
					h.inputChan <- inputResult{err: io.EOF}
					time.Sleep(50 * time.Millisecond)
					continue
				}
				close(h.inputChan)
				return
			}
			h.inputChan <- inputResult{err: err}
			time.Sleep(50 * time.Millisecond)
		}
	}
}

func (h *TextHandler) readLine(ctx context.Context, prompt string) (string, error) {
	if !h.Quiet {
		fmt.Fprint(h.Writer, prompt)
	}
	return h.next(ctx)
}

func (h *TextHandler) next(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res, ok := <-h.inputChan:
		if !ok {
			return "", io.EOF
		}
		if res.err != nil {
			return "", res.err
		}
		return strings.TrimRight(res.text, "\r\n"), nil
	}
}

// ReadLine answers a guest input() call with the next terminal line. The
// guest prompt is written even in quiet mode. End of input gives no line.
func (h *TextHandler) ReadLine(ctx context.Context, prompt string) (string, bool, error) {
	h.initPump()
	if prompt != "" {
		fmt.Fprint(h.Writer, prompt)
	}
	line, err := h.next(ctx)
	if errors.Is(err, io.EOF) {
		return "", false, nil
	}
	if err == nil {
		line, err = CleanCell(line)
	}
	if err != nil {
		return "", false, err
	}
	return line, true, nil
}

// Input reads one cell. A line that leaves brackets open starts a block
// which is closed by an empty line.
func (h *TextHandler) Input(ctx context.Context) (domain.EvalRequest, error) {
	h.initPump()

	for {
		first, err := h.readLine(ctx, Prompt)
		if err != nil {
			return domain.EvalRequest{}, err
		}
		if strings.TrimSpace(first) == "" {
			continue
		}

		lines := []string{first}
		if openBrackets(first) > 0 || strings.HasSuffix(first, "\\") {
			for {
				line, err := h.readLine(ctx, ContinuationPrompt)
				if err == io.EOF {
					break
				}
				if err != nil {
					return domain.EvalRequest{}, err
				}
				if strings.TrimSpace(line) == "" {
					break
				}
				lines = append(lines, line)
			}
		}

		clean, err := CleanCell(strings.Join(lines, "\n"))
		if err != nil {
			h.SystemOutput(ctx, fmt.Sprintf("cell rejected: %v", err))
			continue
		}
		return domain.EvalRequest{Code: clean}, nil
	}
}

// openBrackets counts brackets opened but not closed on a line. Quotes are
// not tracked.
func openBrackets(line string) int {
	n := 0
	for _, r := range line {
		switch r {
		case '(', '[', '{':
			n++
		case ')', ']', '}':
			n--
		}
	}
	return n
}

// Output renders an event for a terminal.
func (h *TextHandler) Output(ctx context.Context, event string, p domain.Payload) error {
	switch event {
	case domain.EventEvalOutput:
		text, _ := p[domain.KeyContent].(string)
		if p[domain.KeyStream] == string(domain.StreamStderr) {
			text = h.out.String(text).Foreground(h.out.Color("#f87171")).String()
			if !strings.HasSuffix(text, "\n") {
				text += "\n"
			}
		}
		_, err := fmt.Fprint(h.Writer, text)
		return err

	case domain.EventEvalFinished:
		bundle, ok := p[domain.KeyResult].(domain.Bundle)
		if !ok {
			return nil
		}
		label := h.out.String(fmt.Sprintf("Out[%v]:", p[domain.KeyExecutionCount])).Foreground(h.out.Color("#a78bfa"))
		_, err := fmt.Fprintf(h.Writer, "%s %s\n", label, bundle.Text())
		return err

	case domain.EventEvalDisplay:
		displayType, _ := p[domain.KeyDisplayType].(string)
		_, err := fmt.Fprintln(h.Writer, strings.TrimRight(h.renderDisplay(displayType, p[domain.KeyContent]), "\n"))
		return err

	case domain.EventFileDownload:
		name, _ := p[domain.KeyFilename].(string)
		return h.SystemOutput(ctx, fmt.Sprintf("download ready: %s", name))
	}
	return nil
}

func (h *TextHandler) renderDisplay(displayType string, content any) string {
	switch c := content.(type) {
	case domain.Bundle:
		if md, ok := c[domain.MimeMarkdown]; ok && h.Renderer != nil {
			if rendered, err := h.Renderer(md); err == nil {
				return rendered
			}
		}
		if text, ok := c[domain.MimeText]; ok {
			return text
		}
		mimes := make([]string, 0, len(c))
		for m := range c {
			mimes = append(mimes, m)
		}
		sort.Strings(mimes)
		return fmt.Sprintf("<display %s>", strings.Join(mimes, ", "))
	case string:
		if displayType == "markdown" && h.Renderer != nil {
			if rendered, err := h.Renderer(c); err == nil {
				return rendered
			}
		}
		if displayType == "text" || displayType == "markdown" {
			return c
		}
		return fmt.Sprintf("<%s display, %d bytes>", displayType, len(c))
	default:
		return fmt.Sprintf("<%s display>", displayType)
	}
}

// SystemOutput prints a meta-message with a "[System]" prefix.
func (h *TextHandler) SystemOutput(ctx context.Context, msg string) error {
	_, err := fmt.Fprintf(h.Writer, "[System] %s\n", msg)
	return err
}

// resolveInputReader attempts to open a platform-specific terminal reader
// (e.g. CONIN$ on Windows) via the lifecycle library. It reports whether the
// reader is an interactive terminal handled specially.
func resolveInputReader(defaultReader io.Reader) (io.Reader, bool) {
	if r, err := lifecycle.UpgradeTerminal(defaultReader); err == nil && r != defaultReader {
		return r, true
	}
	return defaultReader, false
}
