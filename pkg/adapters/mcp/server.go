package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aretw0/journey"
	"github.com/aretw0/journey/pkg/domain"
	"github.com/aretw0/journey/pkg/ports"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// SessionResponse aligns with the HTTP result view so both adapters return the same shape.
type SessionResponse struct {
	Progress  domain.Progress            `json:"progress" jsonschema_description:"Progress of the user through the playbook"`
	Responses map[string]domain.Response `json:"responses" jsonschema_description:"Stored responses keyed by item id"`
	Outcome   domain.Outcome             `json:"outcome,omitempty" jsonschema_description:"What a navigation request did: applied, completed, blocked or unchanged"`
	Blocking  []string                   `json:"blocking,omitempty" jsonschema_description:"Required items without a valid response"`
	Source    domain.Source              `json:"source" jsonschema_description:"Layer the state was read from: durable or cache"`
	Degraded  bool                       `json:"degraded" jsonschema_description:"True when only the local recovery cache holds the change"`
}

type sessionArgs struct {
	UserID     string `json:"user_id"`
	PlaybookID string `json:"playbook_id"`
}

func (a sessionArgs) key() (domain.SessionKey, error) {
	key := domain.NewSessionKey(a.UserID, a.PlaybookID)
	return key, key.Validate()
}

type startArgs struct {
	sessionArgs
	ExternalRef string `json:"external_ref"`
}

type responseArgs struct {
	sessionArgs
	ItemID  string         `json:"item_id"`
	Payload map[string]any `json:"payload"`
}

type jumpArgs struct {
	sessionArgs
	Index int `json:"index"`
}

// Server wraps the coordinator and exposes it as an MCP Server.
type Server struct {
	engine    ports.Coordinator
	mcpServer *server.MCPServer
	logger    *slog.Logger
}

// NewServer creates a new MCP Server instance.
func NewServer(engine ports.Coordinator, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		engine:    engine,
		logger:    logger,
		mcpServer: server.NewMCPServer("journey-mcp", strings.TrimSpace(journey.Version)),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer exposes the underlying server, e.g. for in-process clients.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE serves the SSE transport on addr until ctx is cancelled.
func (s *Server) ServeSSE(ctx context.Context, addr, baseURL string) error {
	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", corsMiddleware(sseServer.SSEHandler()))
	mux.Handle("/message", corsMiddleware(sseServer.MessageHandler()))

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("MCP Server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.logger.Info("shutting down MCP server")
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

func sessionParams() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithString("user_id", mcp.Required(), mcp.Description("User the session belongs to")),
		mcp.WithString("playbook_id", mcp.Required(), mcp.Description("Playbook being followed")),
		mcp.WithOutputSchema[SessionResponse](),
	}
}

func tool(name, description string, extra ...mcp.ToolOption) mcp.Tool {
	opts := append([]mcp.ToolOption{mcp.WithDescription(description)}, sessionParams()...)
	return mcp.NewTool(name, append(opts, extra...)...)
}

// session adapts a coordinator call on a session key into a structured tool handler.
func (s *Server) session(op string, call func(context.Context, domain.SessionKey) (domain.Result, error)) server.ToolHandlerFunc {
	return mcp.NewStructuredToolHandler(func(ctx context.Context, _ mcp.CallToolRequest, args sessionArgs) (SessionResponse, error) {
		key, err := args.key()
		if err != nil {
			return SessionResponse{}, err
		}
		return s.finish(op, key, call)(ctx)
	})
}

func (s *Server) finish(op string, key domain.SessionKey, call func(context.Context, domain.SessionKey) (domain.Result, error)) func(context.Context) (SessionResponse, error) {
	return func(ctx context.Context) (SessionResponse, error) {
		res, err := call(ctx, key)
		if err != nil {
			s.logger.Debug("MCP: operation rejected", "op", op, "user_id", key.UserID, "playbook_id", key.PlaybookID, "err", err)
			return SessionResponse{}, fmt.Errorf("%s failed: %w", op, err)
		}
		return newSessionResponse(res), nil
	}
}

func newSessionResponse(res domain.Result) SessionResponse {
	out := SessionResponse{
		Progress:  res.Progress,
		Responses: res.Responses,
		Outcome:   res.Outcome,
		Blocking:  res.Blocking,
		Source:    res.Source,
		Degraded:  res.Degraded(),
	}
	if out.Responses == nil {
		out.Responses = map[string]domain.Response{}
	}
	return out
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		tool("start_playbook", "Start a playbook for a user. Starting an already started session returns it unchanged.",
			mcp.WithString("external_ref", mcp.Description("Opaque reference to an external record (optional)"))),
		mcp.NewStructuredToolHandler(s.handleStart),
	)
	s.mcpServer.AddTool(
		tool("get_status", "Get the reconciled progress of a session. Use it to resume."),
		s.session("status", s.engine.GetStatus),
	)
	s.mcpServer.AddTool(
		tool("save_response", "Validate and store the response to an item. Does not move the cursor.",
			mcp.WithString("item_id", mcp.Required(), mcp.Description("Item being answered")),
			mcp.WithObject("payload", mcp.Required(), mcp.Description("Response fields, validated against the item schema"))),
		mcp.NewStructuredToolHandler(s.handleSaveResponse),
	)
	s.mcpServer.AddTool(
		tool("move_next", "Advance to the next item, or complete the playbook at the last one."),
		s.session("next", s.engine.MoveNext),
	)
	s.mcpServer.AddTool(
		tool("move_previous", "Go back one item."),
		s.session("previous", s.engine.MovePrevious),
	)
	s.mcpServer.AddTool(
		tool("jump_to", "Move to an already reached item or the one right after the furthest reached.",
			mcp.WithNumber("index", mcp.Required(), mcp.Description("Zero based item index"), mcp.Min(0))),
		mcp.NewStructuredToolHandler(s.handleJump),
	)
	s.mcpServer.AddTool(
		tool("abandon_playbook", "Terminate a session in progress."),
		s.session("abandon", s.engine.AbandonPlaybook),
	)
	s.mcpServer.AddTool(
		tool("reset_playbook", "Discard the progress and responses of a session."),
		s.session("reset", s.engine.ResetPlaybook),
	)

	s.mcpServer.AddTool(mcp.NewTool("list_playbooks",
		mcp.WithDescription("List every known playbook."),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		playbooks, err := s.engine.Definitions().ListPlaybooks(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("list failed: %v", err)), nil
		}
		jsonBytes, err := json.Marshal(playbooks)
		if err != nil {
			return nil, err
		}
		return mcp.NewToolResultText(string(jsonBytes)), nil
	})
}

func (s *Server) handleStart(ctx context.Context, _ mcp.CallToolRequest, args startArgs) (SessionResponse, error) {
	key, err := args.key()
	if err != nil {
		return SessionResponse{}, err
	}
	return s.finish("start", key, func(ctx context.Context, key domain.SessionKey) (domain.Result, error) {
		return s.engine.StartPlaybook(ctx, key, args.ExternalRef)
	})(ctx)
}

func (s *Server) handleSaveResponse(ctx context.Context, _ mcp.CallToolRequest, args responseArgs) (SessionResponse, error) {
	key, err := args.key()
	if err != nil {
		return SessionResponse{}, err
	}
	if args.ItemID == "" {
		return SessionResponse{}, errors.New("item_id is required")
	}
	return s.finish("respond", key, func(ctx context.Context, key domain.SessionKey) (domain.Result, error) {
		return s.engine.SaveItemResponse(ctx, key, args.ItemID, args.Payload)
	})(ctx)
}

func (s *Server) handleJump(ctx context.Context, _ mcp.CallToolRequest, args jumpArgs) (SessionResponse, error) {
	key, err := args.key()
	if err != nil {
		return SessionResponse{}, err
	}
	return s.finish("jump", key, func(ctx context.Context, key domain.SessionKey) (domain.Result, error) {
		return s.engine.JumpTo(ctx, key, args.Index)
	})(ctx)
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource("journey://playbooks", "Playbook catalogue",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		playbooks, err := s.engine.Definitions().ListPlaybooks(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list playbooks: %w", err)
		}
		return jsonResource("journey://playbooks", playbooks)
	})

	s.mcpServer.AddResourceTemplate(mcp.NewResourceTemplate("journey://playbooks/{id}", "Playbook definition",
		mcp.WithTemplateMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		id := strings.TrimPrefix(request.Params.URI, "journey://playbooks/")
		defs := s.engine.Definitions()
		pb, err := defs.GetPlaybook(ctx, id)
		if err != nil {
			return nil, err
		}
		items, err := defs.GetItems(ctx, id)
		if err != nil {
			return nil, err
		}
		return jsonResource(request.Params.URI, domain.Definition{Playbook: pb, Items: items})
	})
}

func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(jsonBytes),
		},
	}, nil
}
