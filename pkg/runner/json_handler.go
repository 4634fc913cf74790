package runner

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aretw0/basthon/internal/orchestrator"
	"github.com/aretw0/basthon/pkg/domain"
)

// JSONHandler implements the IOHandler interface for structured JSON-Lines
// communication. Each input line is an eval.request object, a JSON string
// or raw code. Each kernel event becomes one output line.
type JSONHandler struct {
	Reader  *bufio.Reader
	Writer  io.Writer
	Encoder *json.Encoder
}

// Message is one JSON line written by the handler.
type Message struct {
	Event   string         `json:"event"`
	Payload domain.Payload `json:"payload,omitempty"`
}

// NewJSONHandler creates a handler for JSON IO.
func NewJSONHandler(r io.Reader, w io.Writer) *JSONHandler {
	if r == nil {
		r = os.Stdin
	}
	if w == nil {
		w = os.Stdout
	}
	return &JSONHandler{
		Reader:  bufio.NewReader(r),
		Writer:  w,
		Encoder: json.NewEncoder(w),
	}
}

func (h *JSONHandler) Input(ctx context.Context) (domain.EvalRequest, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.EvalRequest{}, err
		}
		text, err := h.Reader.ReadString('\n')
		text = strings.TrimSpace(text)
		if text == "" {
			if err != nil {
				return domain.EvalRequest{}, err
			}
			continue
		}
		return decodeLine(text)
	}
}

func decodeLine(text string) (domain.EvalRequest, error) {
	if strings.HasPrefix(text, "{") {
		var payload map[string]any
		if err := json.Unmarshal([]byte(text), &payload); err != nil {
			return domain.EvalRequest{}, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
		}
		return orchestrator.DecodeRequest(domain.Payload(payload))
	}

	var code string
	if err := json.Unmarshal([]byte(text), &code); err == nil {
		return domain.EvalRequest{Code: code}, nil
	}
	// Fallback: raw code
	return domain.EvalRequest{Code: text}, nil
}

func (h *JSONHandler) Output(ctx context.Context, event string, payload domain.Payload) error {
	return h.Encoder.Encode(Message{Event: event, Payload: payload})
}

// SystemOutput emits a "system" line.
func (h *JSONHandler) SystemOutput(ctx context.Context, msg string) error {
	return h.Encoder.Encode(Message{Event: "system", Payload: domain.Payload{"message": msg}})
}
