package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/basthon"
	"github.com/aretw0/basthon/pkg/domain"
	"github.com/aretw0/basthon/pkg/ports"
	"github.com/aretw0/lifecycle"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// EvalResponse is the structured result of the evaluate tool.
type EvalResponse struct {
	ExecutionCount int               `json:"execution_count" jsonschema_description:"Execution counter after the evaluation"`
	Stdout         string            `json:"stdout,omitempty" jsonschema_description:"Text written to stdout"`
	Stderr         string            `json:"stderr,omitempty" jsonschema_description:"Text written to stderr"`
	Result         map[string]string `json:"result,omitempty" jsonschema_description:"MIME bundle of the value, if any"`
	Displays       []Display         `json:"displays,omitempty" jsonschema_description:"Rich displays published during the evaluation"`
	Error          map[string]any    `json:"error,omitempty" jsonschema_description:"Error raised by the evaluation"`
}

// Display is one eval.display event.
type Display struct {
	Type    string `json:"display_type"`
	Content any    `json:"content"`
}

// Kernel defines the kernel API exposed over MCP.
type Kernel interface {
	Run(ctx context.Context, code string, aux map[string]any) (*domain.Result, error)
	Subscribe(name string, h ports.EventHandler) (unsubscribe func())
	Restart(ctx context.Context) error
	ExecutionCount() int
	History(ctx context.Context) ([]basthon.HistoryEntry, error)
	Importables() []string
	NativePackages() []string
	Loaded() []string
	PutResource(ctx context.Context, filename string, content []byte) error
}

// Server wraps a kernel and exposes it as an MCP Server.
type Server struct {
	kernel    Kernel
	mcpServer *server.MCPServer

	// evaluations are serialized so that events can be attributed to the
	// call that caused them.
	mu sync.Mutex
}

// NewServer creates a new MCP Server instance.
func NewServer(k Kernel) *Server {
	s := &Server{
		kernel:    k,
		mcpServer: server.NewMCPServer("basthon-mcp", strings.TrimSpace(basthon.Version)),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE starts the server on the given port using SSE.
func (s *Server) ServeSSE(ctx context.Context, port int) error {
	addr := fmt.Sprintf(":%d", port)
	baseURL := fmt.Sprintf("http://localhost:%d", port)

	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", corsMiddleware(sseServer.SSEHandler()))
	mux.Handle("/message", corsMiddleware(sseServer.MessageHandler()))

	httpServer := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	serverErrors := make(chan error, 1)

	lifecycle.Go(ctx, func(ctx context.Context) error {
		slog.Info("MCP Server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
		return nil
	})

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		slog.Info("Shutdown signal received, shutting down MCP server")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) registerTools() {
	// TOOL: evaluate
	evalTool := mcp.NewTool("evaluate",
		mcp.WithDescription("Evaluate a JavaScript snippet in the persistent kernel namespace. Packages it requires are loaded first."),
		mcp.WithString("code", mcp.Required(), mcp.Description("The snippet to evaluate")),
		mcp.WithOutputSchema[EvalResponse](),
	)
	s.mcpServer.AddTool(evalTool, mcp.NewStructuredToolHandler(s.handleEvaluate))

	// TOOL: restart
	s.mcpServer.AddTool(mcp.NewTool("restart",
		mcp.WithDescription("Discard the namespace and its history. Loaded packages and files are kept."),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if err := s.kernel.Restart(ctx); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("restart failed: %v", err)), nil
		}
		return mcp.NewToolResultText("restarted"), nil
	})

	// TOOL: put_file
	s.mcpServer.AddTool(mcp.NewTool("put_file",
		mcp.WithDescription("Write a file into the guest filesystem. Files with a module extension become importable."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Absolute guest path")),
		mcp.WithString("content", mcp.Required(), mcp.Description("File content")),
	), s.handlePutFile)

	// TOOL: list_packages
	s.mcpServer.AddTool(mcp.NewTool("list_packages",
		mcp.WithDescription("List importable, native and loaded packages."),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultText(string(s.packagesJSON())), nil
	})
}

func (s *Server) handleEvaluate(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (EvalResponse, error) {
	code, _ := args["code"].(string)
	if strings.TrimSpace(code) == "" {
		return EvalResponse{}, fmt.Errorf("%w: empty code", domain.ErrInvalidRequest)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		resp           EvalResponse
		stdout, stderr strings.Builder
	)
	unsubscribe := []func(){
		s.kernel.Subscribe(domain.EventEvalOutput, func(p domain.Payload) error {
			text, _ := p[domain.KeyContent].(string)
			if p[domain.KeyStream] == string(domain.StreamStderr) {
				stderr.WriteString(text)
			} else {
				stdout.WriteString(text)
			}
			return nil
		}),
		s.kernel.Subscribe(domain.EventEvalDisplay, func(p domain.Payload) error {
			displayType, _ := p[domain.KeyDisplayType].(string)
			resp.Displays = append(resp.Displays, Display{Type: displayType, Content: p[domain.KeyContent]})
			return nil
		}),
	}
	defer func() {
		for _, u := range unsubscribe {
			u()
		}
	}()

	res, err := s.kernel.Run(ctx, code, nil)
	resp.ExecutionCount = s.kernel.ExecutionCount()
	resp.Stdout = stdout.String()
	resp.Stderr = stderr.String()
	if res.HasValue() {
		resp.Result = res.Bundle
	}
	if err != nil {
		slog.Debug("MCP Evaluate: evaluation failed", "error", err)
		resp.Error = domain.ErrorInfo(err)
	}
	return resp, nil
}

func (s *Server) handlePutFile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	path, _ := args["path"].(string)
	content, _ := args["content"].(string)
	if path == "" {
		return mcp.NewToolResultError("path is required"), nil
	}
	if err := s.kernel.PutResource(ctx, path, []byte(content)); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("put_file failed: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("staged %s", path)), nil
}

func (s *Server) packagesJSON() []byte {
	listing := map[string][]string{
		"importables": s.kernel.Importables(),
		"native":      s.kernel.NativePackages(),
		"loaded":      s.kernel.Loaded(),
	}
	jsonBytes, _ := json.Marshal(listing)
	return jsonBytes
}

func (s *Server) registerResources() {
	// EXPOSE: basthon://history
	s.mcpServer.AddResource(mcp.NewResource("basthon://history", "Evaluation History",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		entries, err := s.kernel.History(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read history: %w", err)
		}
		jsonBytes, _ := json.Marshal(entries)

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      "basthon://history",
				MIMEType: "application/json",
				Text:     string(jsonBytes),
			},
		}, nil
	})

	// EXPOSE: basthon://packages
	s.mcpServer.AddResource(mcp.NewResource("basthon://packages", "Packages",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      "basthon://packages",
				MIMEType: "application/json",
				Text:     string(s.packagesJSON()),
			},
		}, nil
	})
}
