package rpc

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	gorilla "github.com/gorilla/websocket"
	"golang.org/x/sync/semaphore"

	"norelock.dev/listenify/bragi/internal/auth"
	"norelock.dev/listenify/bragi/internal/config"
	"norelock.dev/listenify/bragi/internal/utils"
	"norelock.dev/listenify/bragi/pkg/jsonrpc"
	"norelock.dev/listenify/bragi/pkg/websocket"
)

// maxInFlightPerConn bounds concurrently served calls of one connection.
const maxInFlightPerConn = 16

// TokenVerifier validates bearer tokens.
type TokenVerifier interface {
	ValidateToken(token string) (*auth.Claims, error)
}

// Observer receives connection and message events, typically metrics.
type Observer interface {
	IncWSConnectionsActive()
	DecWSConnectionsActive()
	ObserveWSConnection(duration time.Duration)
	ObserveWSMessage(direction, method string)
}

// ServerOptions configures the WebSocket endpoint.
type ServerOptions struct {
	WebSocket config.WebSocketConfig

	// AllowedOrigins is matched against the Origin header. "*" allows all.
	AllowedOrigins []string

	// Verifier authenticates connections. Nil disables authentication.
	Verifier TokenVerifier

	// Observer is optional.
	Observer Observer
}

// Server accepts WebSocket connections and serves each text message as a
// JSON-RPC message. Calls on one connection run concurrently, so responses
// may arrive out of order and are matched by id.
type Server struct {
	dispatcher *jsonrpc.Server
	opts       ServerOptions
	upgrader   gorilla.Upgrader
	pool       *websocket.Pool
	logger     *utils.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates the WebSocket server around dispatcher.
func NewServer(dispatcher *jsonrpc.Server, opts ServerOptions, logger *utils.Logger) *Server {
	if logger == nil {
		logger = utils.GetLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		dispatcher: dispatcher,
		opts:       opts,
		pool:       websocket.NewPool(),
		logger:     logger.Named("rpc_server"),
		ctx:        ctx,
		cancel:     cancel,
	}
	s.upgrader = gorilla.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.opts.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(s.opts.AllowedOrigins, "*") || slices.Contains(s.opts.AllowedOrigins, origin)
}

// authenticate reads the token from the Authorization header or, since
// browsers cannot set headers on upgrades, from the token query parameter.
func (s *Server) authenticate(r *http.Request) (*auth.Claims, error) {
	if s.opts.Verifier == nil {
		return nil, nil
	}
	token := r.URL.Query().Get("token")
	if token == "" {
		var err error
		if token, err = utils.ExtractBearerToken(r); err != nil {
			return nil, err
		}
	}
	return s.opts.Verifier.ValidateToken(token)
}

// HandleWebSocket upgrades the request and serves the connection until it
// closes.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	claims, err := s.authenticate(r)
	if err != nil {
		s.logger.Warn("Rejected websocket connection", "ip", utils.GetRequestIP(r), "error", err)
		utils.RespondWithError(w, err)
		return
	}

	raw, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Failed to upgrade connection", "error", err)
		return
	}

	conn := websocket.NewConnection(raw)
	id := uuid.NewString()
	if err := s.pool.Add(id, conn); err != nil {
		_ = conn.CloseWithReason(gorilla.CloseGoingAway, "server shutting down", s.opts.WebSocket.WriteWait)
		return
	}

	ctx := s.ctx
	if claims != nil {
		ctx = auth.WithClaims(ctx, claims)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.serve(ctx, id, conn)
	}()
}

// serve runs the read loop of one connection.
func (s *Server) serve(ctx context.Context, id string, conn *websocket.Connection) {
	start := time.Now()
	logger := s.logger.With("conn", id, "remote", conn.RemoteAddr())
	logger.Info("WebSocket connection established")

	if s.opts.Observer != nil {
		s.opts.Observer.IncWSConnectionsActive()
	}

	ctx, cancel := context.WithCancel(ctx)
	var calls sync.WaitGroup
	defer func() {
		cancel()
		calls.Wait()
		_ = conn.Close()
		_ = s.pool.Remove(id)
		if s.opts.Observer != nil {
			s.opts.Observer.DecWSConnectionsActive()
			s.opts.Observer.ObserveWSConnection(time.Since(start))
		}
		logger.Info("WebSocket connection closed", "duration", time.Since(start).String())
	}()

	cfg := s.opts.WebSocket
	conn.SetReadLimit(cfg.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	})

	calls.Add(1)
	go func() {
		defer calls.Done()
		s.keepAlive(ctx, conn)
	}()

	sem := semaphore.NewWeighted(maxInFlightPerConn)
	for {
		kind, msg, err := conn.ReadMessage()
		if err != nil {
			if !errors.Is(err, websocket.ErrConnectionClosed) && gorilla.IsUnexpectedCloseError(err, gorilla.CloseNormalClosure, gorilla.CloseGoingAway) {
				logger.Warn("Unexpected close", "error", err)
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			return
		}
		calls.Add(1)
		go func() {
			defer calls.Done()
			defer sem.Release(1)
			s.answer(ctx, conn, msg, logger)
		}()
	}
}

// answer dispatches msg and writes the response, if any.
func (s *Server) answer(ctx context.Context, conn *websocket.Connection, msg []byte, logger *utils.Logger) {
	if s.opts.Observer != nil {
		s.opts.Observer.ObserveWSMessage("in", peekMethod(msg))
	}
	out := s.dispatcher.Handle(ctx, msg)
	if out == nil {
		return
	}
	if err := conn.WriteWithTimeout(websocket.TextMessage, out, s.opts.WebSocket.WriteWait); err != nil {
		if !errors.Is(err, websocket.ErrConnectionClosed) {
			logger.Warn("Failed to write response", "error", err)
		}
		return
	}
	if s.opts.Observer != nil {
		s.opts.Observer.ObserveWSMessage("out", peekMethod(msg))
	}
}

// keepAlive pings the peer until ctx ends or a ping fails.
func (s *Server) keepAlive(ctx context.Context, conn *websocket.Connection) {
	ticker := time.NewTicker(s.opts.WebSocket.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteWithTimeout(websocket.PingMessage, nil, s.opts.WebSocket.WriteWait); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}

// Count returns the number of open connections.
func (s *Server) Count() int {
	return s.pool.Count()
}

// Shutdown closes every connection and waits for their loops to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down RPC server", "connections", s.pool.Count())
	s.cancel()
	err := s.pool.Close()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return err
	case <-ctx.Done():
		return errors.Join(err, ctx.Err())
	}
}

// peekMethod extracts the method name of a single request for metrics.
// Unknown names collapse into "other" to keep label cardinality bounded.
func peekMethod(msg []byte) string {
	if strings.HasPrefix(strings.TrimSpace(string(msg)), "[") {
		return "batch"
	}
	req, err := jsonrpc.ParseRequest(msg)
	if err != nil {
		return "invalid"
	}
	switch req.Method {
	case MethodPing, MethodProviders, MethodSuggest, MethodSearch, MethodDetail, MethodStream:
		return req.Method
	}
	return "other"
}
