package runner

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// MaxCellBytes bounds the source of one cell typed at the terminal.
	MaxCellBytes = 64 << 10
	// EnvMaxCellBytes overrides MaxCellBytes.
	EnvMaxCellBytes = "BASTHON_MAX_CELL_BYTES"
)

var (
	ErrCellTooLarge = errors.New("cell too large")
	ErrCellEncoding = errors.New("cell is not valid UTF-8")
)

// CleanCell prepares terminal text for evaluation. A cell over the byte
// limit or with broken UTF-8 is refused. Escape sequences and other control
// runes are dropped; line breaks and tabs survive.
func CleanCell(cell string) (string, error) {
	if limit := cellLimit(); len(cell) > limit {
		return "", fmt.Errorf("%w: %d bytes, limit %d", ErrCellTooLarge, len(cell), limit)
	}
	if !utf8.ValidString(cell) {
		return "", ErrCellEncoding
	}
	if strings.IndexFunc(cell, unwanted) < 0 {
		return cell, nil
	}
	return strings.Map(func(r rune) rune {
		if unwanted(r) {
			return -1
		}
		return r
	}, cell), nil
}

// unwanted reports whether r is a control rune guest source cannot carry.
func unwanted(r rune) bool {
	switch r {
	case '\n', '\r', '\t':
		return false
	}
	return unicode.IsControl(r)
}

func cellLimit() int {
	if n, err := strconv.Atoi(os.Getenv(EnvMaxCellBytes)); err == nil && n > 0 {
		return n
	}
	return MaxCellBytes
}
