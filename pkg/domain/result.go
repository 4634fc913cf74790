package domain

// MIME types of a result bundle.
const (
	MimeText     = "text/plain"
	MimeHTML     = "text/html"
	MimeMarkdown = "text/markdown"
	MimeLaTeX    = "text/latex"
	MimeSVG      = "image/svg+xml"
	MimePNG      = "image/png"
)

// Bundle maps MIME types to representations of a single value.
// text/plain is always present.
type Bundle map[string]string

// Text returns the plain-text representation.
func (b Bundle) Text() string { return b[MimeText] }

// Result is the outcome of one successful evaluation.
type Result struct {
	ExecutionCount int    `json:"execution_count"`
	Bundle         Bundle `json:"result,omitempty"`
}

// HasValue reports whether the evaluation produced a value.
func (r *Result) HasValue() bool { return r != nil && r.Bundle != nil }
