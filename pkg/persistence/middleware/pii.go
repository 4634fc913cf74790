package middleware

import (
	"context"
	"regexp"

	"github.com/aretw0/basthon/pkg/ports"
)

// assignment matches `name = "literal"` and `name: 'literal'` in source text.
var assignment = regexp.MustCompile(`([A-Za-z_$][\w$]*)(\s*[:=]\s*)("(?:\\.|[^"\\])*"|'(?:\\.|[^'\\])*'|` + "`[^`]*`" + `)`)

type redactionMiddleware struct {
	next     ports.BackupStore
	patterns []*regexp.Regexp
}

// NewRedactionMiddleware creates a middleware that masks string literals
// assigned to identifiers matching any of the patterns before a backup is
// stored, so secrets pasted into snippets never reach the store.
func NewRedactionMiddleware(patternStrings []string) Middleware {
	patterns := make([]*regexp.Regexp, len(patternStrings))
	for i, p := range patternStrings {
		patterns[i] = regexp.MustCompile(p)
	}
	return func(next ports.BackupStore) ports.BackupStore {
		return &redactionMiddleware{next: next, patterns: patterns}
	}
}

func (m *redactionMiddleware) Save(ctx context.Context, key string, data []byte) error {
	return m.next.Save(ctx, key, m.redact(data))
}

func (m *redactionMiddleware) Load(ctx context.Context, key string) ([]byte, error) {
	return m.next.Load(ctx, key)
}

func (m *redactionMiddleware) Delete(ctx context.Context, key string) error {
	return m.next.Delete(ctx, key)
}

func (m *redactionMiddleware) List(ctx context.Context) ([]string, error) {
	return m.next.List(ctx)
}

// redact returns a masked copy; data itself is never modified.
func (m *redactionMiddleware) redact(data []byte) []byte {
	return assignment.ReplaceAllFunc(data, func(match []byte) []byte {
		parts := assignment.FindSubmatch(match)
		if !m.sensitive(string(parts[1])) {
			return match
		}
		literal := parts[3]
		out := make([]byte, 0, len(parts[1])+len(parts[2])+5)
		out = append(out, parts[1]...)
		out = append(out, parts[2]...)
		out = append(out, literal[0])
		out = append(out, "***"...)
		return append(out, literal[len(literal)-1])
	})
}

func (m *redactionMiddleware) sensitive(name string) bool {
	for _, p := range m.patterns {
		if p.MatchString(name) {
			return true
		}
	}
	return false
}
