// Package serve implements the evocaition daemon: editor plugins connect over
// a Unix domain socket and exchange JSON messages, one per line.
package serve

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	evocaition "github.com/Paranoid-AF/evocaition"
	"github.com/Paranoid-AF/evocaition/command"
	defaults "github.com/Paranoid-AF/evocaition/default"
	"github.com/Paranoid-AF/evocaition/document"
	"github.com/Paranoid-AF/evocaition/generate"
)

// maxLineSize bounds one request line; predict requests carry whole documents.
const maxLineSize = 32 << 20

// Predictor runs a prediction against a document host.
type Predictor interface {
	Predict(ctx context.Context, h document.Host, mode command.ReturnMode) (string, error)
}

// sessionEntry tracks a cancellable in-flight request for a session.
type sessionEntry struct {
	requestID int
	cancel    context.CancelFunc
}

// Server listens on a Unix domain socket for editor requests.
type Server struct {
	listener net.Listener
	sockPath string
	engine   Predictor
	config   generate.ConfigProvider
	log      *zap.Logger
	focus    *focusRegistry
	maxLine  int
	closed   sync.Once

	mu       sync.Mutex
	sessions map[string]sessionEntry
}

// Option configures a Server.
type Option func(*serverOptions)

type serverOptions struct {
	config   generate.ConfigProvider
	log      *zap.Logger
	focusTTL time.Duration
	maxLine  int
}

// WithLogger sets the server logger.
func WithLogger(log *zap.Logger) Option {
	return func(o *serverOptions) { o.log = log }
}

// WithConfig sets where the server reads cancelStaleRequests from.
func WithConfig(p generate.ConfigProvider) Option {
	return func(o *serverOptions) { o.config = p }
}

// WithFocusTTL sets how long reported focus is remembered.
func WithFocusTTL(ttl time.Duration) Option {
	return func(o *serverOptions) { o.focusTTL = ttl }
}

func withMaxLineSize(n int) Option {
	return func(o *serverOptions) { o.maxLine = n }
}

// NewServer creates a server bound to sockPath. A stale socket file is removed.
func NewServer(sockPath string, engine Predictor, opts ...Option) (*Server, error) {
	o := serverOptions{
		config:   generate.FileConfig{},
		log:      zap.NewNop(),
		focusTTL: DefaultFocusTTL,
		maxLine:  maxLineSize,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if err := os.Remove(sockPath); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	listener, err := net.Listen("unix", sockPath)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(sockPath, 0o600); err != nil {
		listener.Close()
		return nil, err
	}

	return &Server{
		listener: listener,
		sockPath: sockPath,
		engine:   engine,
		config:   o.config,
		log:      o.log,
		focus:    newFocusRegistry(o.focusTTL),
		maxLine:  o.maxLine,
		sessions: make(map[string]sessionEntry),
	}, nil
}

// SocketPath returns the path the server listens on.
func (s *Server) SocketPath() string {
	return s.sockPath
}

// Serve accepts connections until the listener is closed.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go s.handleConn(conn)
	}
}

// Close stops accepting connections, cancels in-flight requests and removes
// the socket file. It is safe to call more than once.
func (s *Server) Close() {
	s.closed.Do(func() {
		s.listener.Close()
		os.Remove(s.sockPath)

		s.mu.Lock()
		for sid, entry := range s.sessions {
			entry.cancel()
			delete(s.sessions, sid)
		}
		s.mu.Unlock()
		s.focus.close()
	})
}

// connWriter serialises responses written from concurrent handlers.
type connWriter struct {
	mu   sync.Mutex
	conn net.Conn
	log  *zap.Logger
}

func (w *connWriter) send(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.log.Error("failed to marshal response", zap.Error(err))
		return
	}
	w.log.Debug("response", zap.ByteString("data", data))

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.conn.Write(append(data, '\n')); err != nil {
		w.log.Debug("failed to write response", zap.Error(err))
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	w := &connWriter{conn: conn, log: s.log}
	var wg sync.WaitGroup
	defer wg.Wait()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, min(64*1024, s.maxLine)), s.maxLine)
	for scanner.Scan() {
		raw := append([]byte(nil), scanner.Bytes()...)
		if len(raw) == 0 {
			continue
		}
		s.log.Debug("request", zap.Int("bytes", len(raw)))

		var env struct {
			evocaition.Envelope
			Action string `json:"action"`
		}
		if err := json.Unmarshal(raw, &env); err != nil {
			s.log.Warn("invalid request", zap.Error(err))
			w.send(evocaition.Response{Error: &evocaition.Error{
				Code:    evocaition.CodeInvalidRequest,
				Message: "invalid request: " + err.Error(),
			}})
			continue
		}

		switch {
		case env.Type == evocaition.TypeFocus:
			var req evocaition.FocusRequest
			if err := json.Unmarshal(raw, &req); err != nil {
				w.send(evocaition.FocusResponse{Error: invalidRequest(err)})
				continue
			}
			w.send(s.handleFocus(&req))

		case env.Type == evocaition.TypeConfig || (env.Type == "" && env.Action != ""):
			var req evocaition.ConfigRequest
			if err := json.Unmarshal(raw, &req); err != nil {
				w.send(evocaition.ConfigResponse{Error: invalidRequest(err)})
				continue
			}
			w.send(s.handleConfig(&req))

		case env.Type == evocaition.TypePredict || env.Type == "":
			var req evocaition.Request
			if err := json.Unmarshal(raw, &req); err != nil {
				w.send(evocaition.Response{Error: invalidRequest(err)})
				continue
			}
			ctx, cancel := s.beginRequest(&req)
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer s.endRequest(&req)
				defer cancel()
				w.send(s.handlePredict(ctx, &req))
			}()

		default:
			w.send(evocaition.Response{Error: &evocaition.Error{
				Code:    evocaition.CodeInvalidRequest,
				Message: "unknown message type: " + env.Type,
			}})
		}
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			s.log.Warn("request too large, closing connection", zap.Int("limit", s.maxLine))
			w.send(evocaition.Response{Error: &evocaition.Error{
				Code:    evocaition.CodeInvalidRequest,
				Message: fmt.Sprintf("invalid request: line exceeds %d bytes", s.maxLine),
			}})
			return
		}
		s.log.Debug("connection closed", zap.Error(err))
	}
}

func invalidRequest(err error) *evocaition.Error {
	return &evocaition.Error{Code: evocaition.CodeInvalidRequest, Message: "invalid request: " + err.Error()}
}

// cancelStale reports whether a new request supersedes the session's
// in-flight one.
func (s *Server) cancelStale() bool {
	cfg, err := s.config.Load()
	if err != nil {
		return true
	}
	return cfg.CancelStaleRequests
}

// beginRequest registers req with its session, cancelling the previous
// in-flight request of that session when configured to.
func (s *Server) beginRequest(req *evocaition.Request) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sid := req.SessionID
	if sid == "" {
		return ctx, cancel
	}

	stale := s.cancelStale()
	s.mu.Lock()
	if prev, ok := s.sessions[sid]; ok && stale {
		prev.cancel()
	}
	s.sessions[sid] = sessionEntry{requestID: req.RequestID, cancel: cancel}
	s.mu.Unlock()
	// a predict request is sent from the active document
	s.focus.set(sid, req.DocumentID)
	return ctx, cancel
}

func (s *Server) endRequest(req *evocaition.Request) {
	if req.SessionID == "" {
		return
	}
	s.mu.Lock()
	if cur, ok := s.sessions[req.SessionID]; ok && cur.requestID == req.RequestID {
		delete(s.sessions, req.SessionID)
	}
	s.mu.Unlock()
}

func (s *Server) handlePredict(ctx context.Context, req *evocaition.Request) *evocaition.Response {
	resp := &evocaition.Response{
		RequestID:  req.RequestID,
		DocumentID: req.DocumentID,
		Cursor:     req.Cursor,
	}

	mode, ok := command.ParseMode(req.Mode)
	if !ok {
		resp.Error = &evocaition.Error{Code: evocaition.CodeInvalidRequest, Message: "unknown mode: " + req.Mode}
		return resp
	}

	host := &requestHost{
		focus:   s.focus,
		session: req.SessionID,
		doc:     document.NewBuffer(req.DocumentID, req.Text, req.Cursor),
	}
	resp.Cursor = host.doc.Cursor()

	text, err := s.engine.Predict(ctx, host, mode)
	if err != nil {
		resp.Error = generate.AsError(err)
		s.log.Debug("prediction failed",
			zap.Int("request_id", req.RequestID),
			zap.String("code", resp.Error.Code),
			zap.String("message", resp.Error.Message),
		)
		return resp
	}
	resp.Text = text
	return resp
}

func (s *Server) handleFocus(req *evocaition.FocusRequest) *evocaition.FocusResponse {
	if req.SessionID == "" {
		return &evocaition.FocusResponse{Error: &evocaition.Error{
			Code:    evocaition.CodeInvalidRequest,
			Message: "session_id is required",
		}}
	}
	s.focus.set(req.SessionID, req.DocumentID)
	return &evocaition.FocusResponse{OK: true}
}

func (s *Server) handleConfig(req *evocaition.ConfigRequest) *evocaition.ConfigResponse {
	var resp evocaition.ConfigResponse

	switch req.Action {
	case "get":
		cfg, err := evocaition.LoadConfig()
		if err != nil {
			resp.Error = configError(err)
		} else {
			redacted := cfg.Redacted()
			resp.Config = &redacted
		}

	case "defaults":
		resp.Config = evocaition.DefaultConfig()

	case "default_prompt":
		resp.Prompt = defaults.DefaultPrompt

	case "validate":
		cfg, err := evocaition.LoadConfig()
		if err != nil {
			resp.Error = configError(err)
		} else {
			resp.Warnings = evocaition.ValidateConfig(cfg)
		}

	case "set":
		if _, err := evocaition.SetSetting(req.Key, req.Value); err != nil {
			resp.Error = configError(err)
			break
		}
		s.log.Info("setting updated", zap.String("key", req.Key))
		cfg, err := evocaition.LoadConfig()
		if err != nil {
			resp.Error = configError(err)
			break
		}
		redacted := cfg.Redacted()
		resp.Config = &redacted
		resp.Warnings = evocaition.ValidateConfig(cfg)

	default:
		resp.Error = &evocaition.Error{
			Code:    evocaition.CodeUnknownAction,
			Message: "unknown config action: " + req.Action,
		}
	}
	return &resp
}

func configError(err error) *evocaition.Error {
	if errors.Is(err, evocaition.ErrInvalidConfigValue) {
		return &evocaition.Error{Code: evocaition.CodeInvalidConfigValue, Message: err.Error()}
	}
	return &evocaition.Error{Code: evocaition.CodeConfigError, Message: err.Error()}
}
