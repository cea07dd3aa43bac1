package stream

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// Path is the route the handler is mounted on.
const Path = "/ws/detect-quotes"

// Handler upgrades authenticated requests to a detection [Session].
type Handler struct {
	cfg  *Config
	auth *Authenticator

	// sessions counts running sessions so shutdown can wait for their
	// drain; hijacked connections are invisible to http.Server.Shutdown.
	sessions sync.WaitGroup
}

// NewHandler validates cfg, fills its defaults, and returns a handler.
func NewHandler(cfg Config, auth *Authenticator) (*Handler, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if auth == nil {
		auth = &Authenticator{}
	}
	return &Handler{cfg: &cfg, auth: auth}, nil
}

// ServeHTTP implements http.Handler.
//
// Query parameters: api_key (required), version, user_email, anonymous_id.
// A bad key is answered by accepting the upgrade and closing at once with
// status 1008 and an empty reason; nothing else happens for that request.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := &websocket.AcceptOptions{
		Subprotocols:   []string{Subprotocol},
		OriginPatterns: h.cfg.OriginPatterns,
	}

	if err := h.auth.Verify(q.Get("api_key")); err != nil {
		conn, aerr := websocket.Accept(w, r, opts)
		if aerr != nil {
			slog.Debug("stream: upgrade failed", "remote", r.RemoteAddr, "err", aerr)
			return
		}
		slog.Warn("stream: rejected connection", "remote", r.RemoteAddr, "err", err)
		_ = conn.Close(websocket.StatusPolicyViolation, "")
		return
	}

	id := h.cfg.Resolver.Resolve(r.Context(), q.Get("user_email"), q.Get("anonymous_id"))

	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		slog.Debug("stream: upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	// The session enforces MaxMessageBytes itself and skips oversize
	// segments; the library limit would close the connection with 1009.
	conn.SetReadLimit(-1)

	h.sessions.Add(1)
	defer h.sessions.Done()

	sess := NewSession(conn, h.cfg, SessionParams{
		ID:       uuid.NewString(),
		Version:  q.Get("version"),
		Identity: id,
		Remote:   r.RemoteAddr,
	})
	_ = sess.Run(r.Context())
}

// Wait blocks until every running session has drained and closed, or ctx
// ends. Sessions end when their request context is cancelled, so callers
// cancel the server's base context first.
func (h *Handler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
