package runner

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/aretw0/basthon/pkg/domain"
)

func TestTextHandler_Input(t *testing.T) {
	outBuf := &bytes.Buffer{}
	handler := NewTextHandler(strings.NewReader("\n1 + 1\n"), outBuf)

	req, err := handler.Input(context.Background())
	if err != nil {
		t.Fatalf("Input failed: %v", err)
	}
	if req.Code != "1 + 1" {
		t.Errorf("Expected '1 + 1', got %q", req.Code)
	}

	// Blank line is skipped and re-prompted.
	if got := outBuf.String(); got != Prompt+Prompt {
		t.Errorf("Expected two prompts, got %q", got)
	}

	if _, err := handler.Input(context.Background()); err != io.EOF {
		t.Errorf("Expected io.EOF, got %v", err)
	}
}

func TestTextHandler_InputBlock(t *testing.T) {
	outBuf := &bytes.Buffer{}
	handler := NewTextHandler(strings.NewReader("for (let i = 0; i < 2; i++) {\n  i\n}\n\nnext\n"), outBuf)

	req, err := handler.Input(context.Background())
	if err != nil {
		t.Fatalf("Input failed: %v", err)
	}
	if want := "for (let i = 0; i < 2; i++) {\n  i\n}"; req.Code != want {
		t.Errorf("Expected %q, got %q", want, req.Code)
	}
	if !strings.Contains(outBuf.String(), ContinuationPrompt) {
		t.Error("Expected continuation prompt")
	}

	req, err = handler.Input(context.Background())
	if err != nil || req.Code != "next" {
		t.Errorf("Expected 'next', got %q (%v)", req.Code, err)
	}
}

func TestTextHandler_InputCancelled(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	handler := NewTextHandler(r, io.Discard)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := handler.Input(ctx); err != context.Canceled {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestTextHandler_RejectedCell(t *testing.T) {
	t.Setenv(EnvMaxCellBytes, "8")
	outBuf := &bytes.Buffer{}
	handler := NewTextHandler(strings.NewReader("'way too long'\n2\n"), outBuf, WithQuiet(true))

	req, err := handler.Input(context.Background())
	if err != nil {
		t.Fatalf("Input failed: %v", err)
	}
	if req.Code != "2" {
		t.Errorf("Expected the next cell after a rejected one, got %q", req.Code)
	}
	if !strings.Contains(outBuf.String(), "[System] cell rejected: cell too large") {
		t.Errorf("Expected a rejection notice, got %q", outBuf.String())
	}
}

func TestTextHandler_ReadLine(t *testing.T) {
	outBuf := &bytes.Buffer{}
	handler := NewTextHandler(strings.NewReader("Ada\r\n"), outBuf, WithQuiet(true))

	line, ok, err := handler.ReadLine(context.Background(), "name? ")
	if err != nil || !ok {
		t.Fatalf("ReadLine failed: ok=%v err=%v", ok, err)
	}
	if line != "Ada" {
		t.Errorf("Expected 'Ada', got %q", line)
	}
	if got := outBuf.String(); got != "name? " {
		t.Errorf("Expected the guest prompt even when quiet, got %q", got)
	}

	line, ok, err = handler.ReadLine(context.Background(), "")
	if err != nil || ok || line != "" {
		t.Errorf("Expected no line at end of input, got %q ok=%v err=%v", line, ok, err)
	}
}

func TestTextHandler_Output(t *testing.T) {
	outBuf := &bytes.Buffer{}
	handler := NewTextHandler(strings.NewReader(""), outBuf, WithTextHandlerRenderer(func(s string) (string, error) {
		return "Rendered: " + s, nil
	}))
	ctx := context.Background()

	handler.Output(ctx, domain.EventEvalOutput, domain.OutputPayload(nil, domain.StreamStdout, "hello\n"))
	handler.Output(ctx, domain.EventEvalFinished, domain.FinishedPayload(nil, 3, domain.Bundle{domain.MimeText: "42"}))
	handler.Output(ctx, domain.EventEvalFinished, domain.FinishedPayload(nil, 4, nil))
	handler.Output(ctx, domain.EventEvalDisplay, domain.DisplayPayload(nil, "markdown", "# Title", 4))
	handler.Output(ctx, domain.EventEvalDisplay, domain.DisplayPayload(nil, "svg", "<svg/>", 4))
	handler.Output(ctx, domain.EventEvalDisplay, domain.DisplayPayload(nil, domain.DisplayMultiple,
		domain.Bundle{domain.MimeText: "'x'", domain.MimeHTML: "<b>x</b>"}, 4))
	handler.Output(ctx, domain.EventFileDownload, domain.DownloadPayload("out.txt", []byte("x")))

	output := outBuf.String()
	for _, want := range []string{
		"hello\n",
		"Out[3]: 42\n",
		"Rendered: # Title\n",
		"<svg display, 6 bytes>\n",
		"'x'\n",
		"[System] download ready: out.txt\n",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("Expected output to contain %q, got %q", want, output)
		}
	}
	if strings.Contains(output, "Out[4]") {
		t.Error("Did not expect an Out line for an evaluation without value")
	}
}

func TestOpenBrackets(t *testing.T) {
	cases := map[string]int{
		"1 + 1":            0,
		"function f() {":   1,
		"[1, [2,":          2,
		"}":                -1,
		"f({a: [1]})":      0,
	}
	for line, want := range cases {
		if got := openBrackets(line); got != want {
			t.Errorf("openBrackets(%q) = %d, want %d", line, got, want)
		}
	}
}
