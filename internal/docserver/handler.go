package docserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/rosterhq/rostersync/internal/remote"
)

// errorBody is the JSON body of every error response.
type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Printf("%s %s from %s: %v", r.Method, r.URL.Path, r.Header.Get(remote.ClientIDHeader), err)
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

// backendStatus maps a backend error to a response code.
func backendStatus(err error) int {
	switch {
	case errors.Is(err, remote.ErrInvalidPath):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, remote.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// handleDoc serves single-document reads and writes.
func (s *Server) handleDoc(w http.ResponseWriter, r *http.Request) {
	path, err := remote.UnescapePath(strings.TrimPrefix(r.URL.EscapedPath(), remote.DocsPrefix))
	if err == nil {
		err = remote.ValidatePath(path)
	}
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	switch r.Method {
	case http.MethodGet:
		snap, err := s.backend.Get(r.Context(), path)
		if err != nil {
			s.writeError(w, r, backendStatus(err), err)
			return
		}
		if !snap.Exists() {
			writeJSON(w, http.StatusNotFound, errorBody{Error: "document not found"})
			return
		}
		writeJSON(w, http.StatusOK, remote.ToWire(snap))

	case http.MethodPatch:
		doc, ok := s.readDocument(w, r)
		if !ok {
			return
		}
		if err := s.backend.Set(r.Context(), path, doc); err != nil {
			s.writeError(w, r, backendStatus(err), err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	case http.MethodPut:
		if r.Header.Get("If-None-Match") != "*" {
			s.writeError(w, r, http.StatusPreconditionRequired, fmt.Errorf("PUT requires If-None-Match: *"))
			return
		}
		doc, ok := s.readDocument(w, r)
		if !ok {
			return
		}
		created, err := s.backend.Create(r.Context(), path, doc)
		if err != nil {
			s.writeError(w, r, backendStatus(err), err)
			return
		}
		if !created {
			writeJSON(w, http.StatusPreconditionFailed, errorBody{Error: "document exists"})
			return
		}
		w.WriteHeader(http.StatusCreated)

	default:
		w.Header().Set("Allow", "GET, PATCH, PUT")
		s.writeError(w, r, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
	}
}

func (s *Server) readDocument(w http.ResponseWriter, r *http.Request) (remote.Document, bool) {
	doc, err := remote.DecodeDocument(http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes))
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return nil, false
	}
	return doc, true
}

// handleBatch applies an atomic multi-document write.
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		s.writeError(w, r, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
		return
	}

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes))
	dec.UseNumber()
	var req remote.BatchRequest
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("failed to decode batch: %w", err))
		return
	}
	if len(req.Writes) == 0 {
		s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("batch has no writes"))
		return
	}
	for path := range req.Writes {
		if err := remote.ValidatePath(path); err != nil {
			s.writeError(w, r, http.StatusBadRequest, err)
			return
		}
	}

	if err := s.backend.BatchSet(r.Context(), req.Writes); err != nil {
		s.writeError(w, r, backendStatus(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListen upgrades to a WebSocket and streams snapshots of one path,
// starting with the current state.
func (s *Server) handleListen(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if err := remote.ValidatePath(path); err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.config.OriginPatterns,
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	l := &listener{
		id:     uuid.NewString(),
		path:   path,
		device: r.Header.Get(remote.ClientIDHeader),
		conn:   conn,
		cancel: cancel,
	}
	count := s.addListener(l)
	defer s.removeListener(l)
	s.logger.Printf("Listener %s (device %s) on %s connected (total: %d)", l.id, l.device, path, count)

	sub, err := s.backend.Subscribe(ctx, path, func(snap remote.Snapshot) {
		data, err := json.Marshal(remote.ToWire(snap))
		if err != nil {
			s.logger.Printf("Failed to marshal snapshot of %s: %v", path, err)
			return
		}
		wctx, wcancel := context.WithTimeout(ctx, 5*time.Second)
		defer wcancel()
		if err := conn.Write(wctx, websocket.MessageText, data); err != nil {
			cancel()
		}
	})
	if err != nil {
		s.logger.Printf("Subscribe %s failed: %v", path, err)
		_ = conn.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}
	defer sub.Cancel()

	// Client messages are ignored; reading detects disconnects.
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			break
		}
	}
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"subscribers": s.ListenerCount(),
	})
}

// handleRoot returns basic server information
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>Roster Document Server</title>
</head>
<body>
    <h1>Roster Document Server</h1>
    <p>Documents: <code>%s{path}</code></p>
    <p>Live updates: <code>ws://%s%s?path={path}</code></p>
    <p>Health check: <a href="/health">/health</a> &middot; Metrics: <a href="/metrics">/metrics</a></p>
</body>
</html>`, remote.DocsPrefix, r.Host, remote.ListenPath)
}
