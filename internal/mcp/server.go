package mcp

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"props2mcp/internal/appstate"
	"props2mcp/internal/config"
	"props2mcp/internal/elastic"
	"props2mcp/internal/model"
)

const (
	serverName = "props2mcp"

	// Version is reported in the initialize result and by the version command.
	Version = "0.1.0"
)

// SearchBackend is the slice of the store client the tool handlers need.
type SearchBackend interface {
	GetScriptSource(ctx context.Context, id string) (string, error)
	SearchTemplate(ctx context.Context, index, id string, params map[string]interface{}) (elastic.TemplateResponse, error)
}

// Server is a streamable-HTTP MCP endpoint: JSON-RPC 2.0 over POST with
// session tracking via the MCP-Session-Id header.
type Server struct {
	cfg      *config.Config
	backend  SearchBackend
	geocoder model.Geocoder
	state    *appstate.IngestState
	ledger   model.RunLedger
	logger   *log.Logger

	tools map[string]toolDefinition

	mu       sync.Mutex
	sessions map[string]struct{}
}

type Options struct {
	Config   *config.Config
	Backend  SearchBackend
	Geocoder model.Geocoder
	State    *appstate.IngestState
	Ledger   model.RunLedger
	Logger   *log.Logger
}

func NewServer(opts Options) *Server {
	s := &Server{
		cfg:      opts.Config,
		backend:  opts.Backend,
		geocoder: opts.Geocoder,
		state:    opts.State,
		ledger:   opts.Ledger,
		logger:   opts.Logger,
		sessions: map[string]struct{}{},
	}
	s.tools = s.buildToolRegistry()
	return s
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *rpcError   `json:"error,omitempty"`
}

type rpcError struct {
	Code    int           `json:"code"`
	Message string        `json:"message"`
	Data    *rpcErrorData `json:"data,omitempty"`
}

type rpcErrorData struct {
	Code      string `json:"code"`
	Retryable bool   `json:"retryable"`
}

// Handler returns the HTTP handler for the MCP path.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.serveHTTP)
}

func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeResponse(w, http.StatusBadRequest, rpcResponse{
			JSONRPC: "2.0",
			Error:   &rpcError{Code: -32700, Message: "parse error"},
		})
		return
	}

	switch req.Method {
	case "initialize":
		s.handleInitialize(w, req.ID)
	case "notifications/initialized":
		w.WriteHeader(http.StatusAccepted)
	case "ping":
		writeResult(w, http.StatusOK, req.ID, map[string]interface{}{})
	case "tools/list":
		if !s.validSession(r) {
			writeSessionError(w, req.ID)
			return
		}
		s.handleToolsList(w, req.ID)
	case "tools/call":
		if !s.validSession(r) {
			writeSessionError(w, req.ID)
			return
		}
		s.handleToolsCall(r.Context(), w, req.Params, req.ID)
	default:
		writeResponse(w, http.StatusOK, rpcResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error:   &rpcError{Code: -32601, Message: "method not found: " + req.Method},
		})
	}
}

func (s *Server) handleInitialize(w http.ResponseWriter, id interface{}) {
	sessionID := uuid.NewString()
	s.mu.Lock()
	s.sessions[sessionID] = struct{}{}
	s.mu.Unlock()

	w.Header().Set("MCP-Session-Id", sessionID)
	writeResult(w, http.StatusOK, id, map[string]interface{}{
		"protocolVersion": s.cfg.Server.ProtocolVersion,
		"capabilities": map[string]interface{}{
			"tools": map[string]interface{}{},
		},
		"serverInfo": map[string]interface{}{
			"name":    serverName,
			"version": Version,
		},
	})
}

func (s *Server) validSession(r *http.Request) bool {
	sessionID := strings.TrimSpace(r.Header.Get("MCP-Session-Id"))
	if sessionID == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[sessionID]
	return ok
}

func (s *Server) authorized(r *http.Request) bool {
	if s.cfg.Server.AuthMode != "token" {
		return true
	}
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	return strings.TrimSpace(header[len(prefix):]) == s.cfg.Server.AuthToken
}

// Serve blocks while handling HTTP on listener. Cancel ctx to initiate
// graceful shutdown; in-flight requests are allowed to drain.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle(s.cfg.Server.MCPPath, s.Handler())
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(listener) }()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func writeSessionError(w http.ResponseWriter, id interface{}) {
	writeResponse(w, http.StatusBadRequest, rpcResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &rpcError{
			Code:    -32600,
			Message: "missing or unknown MCP-Session-Id (run initialize first)",
			Data:    &rpcErrorData{Code: "SESSION_REQUIRED", Retryable: false},
		},
	})
}

func writeResult(w http.ResponseWriter, status int, id, result interface{}) {
	writeResponse(w, status, rpcResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  result,
	})
}

func writeResponse(w http.ResponseWriter, status int, resp rpcResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
