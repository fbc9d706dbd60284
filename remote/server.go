// Package remote exposes an mpv client over HTTP and a WebSocket that speaks
// mpv's JSON IPC message format.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	mpv "github.com/agiangrant/mpvclient"
)

// Default tracer name for the control server.
const defaultTracerName = "mpvctl"

// DefaultReplyBase offsets IPC request and observation ids before they are
// used as reply ids on the client.
const DefaultReplyBase uint64 = 1 << 40

// Config configures a Server.
type Config struct {
	// TracerName is the name of the tracer (default: "mpvctl").
	TracerName string

	// ReplyBase is added to IPC ids to form reply ids.
	ReplyBase uint64

	// Logger receives connection and request errors.
	// Default: slog.Default()
	Logger *slog.Logger

	// CheckOrigin decides whether a WebSocket upgrade is allowed.
	// Default: same-origin requests and requests without an Origin header.
	CheckOrigin func(r *http.Request) bool
}

// Option configures a Server.
type Option func(*Config)

// WithTracerName sets the tracer name.
func WithTracerName(name string) Option {
	return func(c *Config) {
		c.TracerName = name
	}
}

// WithReplyBase sets the reply id offset.
func WithReplyBase(base uint64) Option {
	return func(c *Config) {
		c.ReplyBase = base
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithCheckOrigin sets the WebSocket origin check.
func WithCheckOrigin(check func(r *http.Request) bool) Option {
	return func(c *Config) {
		c.CheckOrigin = check
	}
}

func defaultConfig() Config {
	return Config{
		TracerName: defaultTracerName,
		ReplyBase:  DefaultReplyBase,
	}
}

// Server routes HTTP requests and IPC messages to one client. Events reach
// connected sockets through Publish.
type Server struct {
	client   *mpv.Client
	config   Config
	logger   *slog.Logger
	tracer   trace.Tracer
	upgrader websocket.Upgrader
	router   chi.Router

	mu    sync.RWMutex
	conns map[*conn]struct{}
}

// conn serialises writes to one socket.
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(v)
}

// New creates a server for client.
func New(client *mpv.Client, opts ...Option) *Server {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	s := &Server{
		client: client,
		config: config,
		logger: config.Logger,
		tracer: otel.Tracer(config.TracerName),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     config.CheckOrigin,
		},
		conns: make(map[*conn]struct{}),
	}

	r := chi.NewRouter()
	r.Get("/properties/{name}", s.handleGetProperty)
	r.Put("/properties/{name}", s.handleSetProperty)
	r.Post("/command", s.handleCommand)
	r.Get("/ipc", s.handleIPC)
	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Router returns the chi router so callers can mount more routes.
func (s *Server) Router() chi.Router {
	return s.router
}

// ClientCount returns the number of connected sockets.
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// Close closes all sockets.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		c.ws.Close()
		delete(s.conns, c)
	}
}

// ============================================================================
// HTTP
// ============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusOf maps a libmpv error to an HTTP status.
func statusOf(err error) int {
	switch mpv.Code(err) {
	case mpv.Success:
		return http.StatusOK
	case mpv.ErrPropertyNotFound:
		return http.StatusNotFound
	case mpv.ErrPropertyUnavail:
		return http.StatusServiceUnavailable
	case mpv.ErrInvalidParameter, mpv.ErrPropertyFormat, mpv.ErrPropertyError, mpv.ErrCommand:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) handleGetProperty(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	resp := s.execute(r.Context(), Request{
		Command: mpv.ArrayNode(mpv.StringNode("get_property"), mpv.StringNode(name)),
	})
	writeJSON(w, statusFor(resp), resp)
}

func (s *Server) handleSetProperty(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var value mpv.Node
	if err := json.NewDecoder(r.Body).Decode(&value); err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Error: mpv.ErrInvalidParameter.String()})
		return
	}
	resp := s.execute(r.Context(), Request{
		Command: mpv.ArrayNode(mpv.StringNode("set_property"), mpv.StringNode(name), value),
	})
	writeJSON(w, statusFor(resp), resp)
}

// handleCommand runs one IPC request. Async is ignored; the command always
// completes before the response is written.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Error: mpv.ErrInvalidParameter.String()})
		return
	}
	req.Async = false
	resp := s.execute(r.Context(), req)
	writeJSON(w, statusFor(resp), resp)
}

func statusFor(resp Response) int {
	if resp.Error == success {
		return http.StatusOK
	}
	return statusOf(resp.err)
}

// ============================================================================
// WebSocket
// ============================================================================

func (s *Server) handleIPC(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &conn{ws: ws}

	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
		ws.Close()
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("ipc connection closed", "error", err)
			}
			return
		}

		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			c.send(Response{Error: mpv.ErrInvalidParameter.String()})
			continue
		}
		resp := s.execute(r.Context(), req)
		if resp.deferred {
			continue
		}
		if err := c.send(resp); err != nil {
			return
		}
	}
}

// Publish converts ev to IPC messages and sends them to every socket. Command
// replies for async requests become responses; property changes keep the id
// the socket observed them with. It must be called while ev is valid.
func (s *Server) Publish(ev mpv.Event) {
	var msg any
	switch ev.ID {
	case mpv.EventNone:
		return
	case mpv.EventCommandReply:
		id, ok := s.ipcID(ev.ReplyUserdata)
		if !ok {
			return
		}
		resp := Response{RequestID: id, Error: errorText(ev.Err)}
		if res, ok := ev.CommandReply(); ok && ev.Err == nil && !res.IsNone() {
			resp.Data = res
		}
		msg = resp
	case mpv.EventPropertyChange:
		id, ok := s.ipcID(ev.ReplyUserdata)
		if !ok {
			return
		}
		msg = eventMessage(ev, id)
	default:
		msg = eventMessage(ev, 0)
	}

	s.mu.RLock()
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.RUnlock()

	for _, c := range conns {
		if err := c.send(msg); err != nil {
			s.mu.Lock()
			delete(s.conns, c)
			s.mu.Unlock()
			c.ws.Close()
		}
	}
}

func (s *Server) ipcID(reply uint64) (int64, bool) {
	if reply < s.config.ReplyBase || reply-s.config.ReplyBase > 1<<62 {
		return 0, false
	}
	return int64(reply - s.config.ReplyBase), true
}

// reply maps a non-negative client id into the server's reply range.
func (s *Server) reply(id int64) uint64 {
	return s.config.ReplyBase + uint64(id)
}

// ============================================================================
// Command execution
// ============================================================================

// execute runs req inside a span. Async commands report deferred; their
// response is sent by Publish once the command-reply arrives.
func (s *Server) execute(ctx context.Context, req Request) Response {
	name, _ := commandName(req.Command)
	_, span := s.tracer.Start(ctx, "mpv.ipc",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("mpv.command", name),
			attribute.Int64("mpv.request_id", req.RequestID),
			attribute.Bool("mpv.async", req.Async),
		),
	)
	defer span.End()

	data, deferred, err := s.run(name, req)
	resp := Response{RequestID: req.RequestID, Error: errorText(err), err: err, deferred: deferred && err == nil}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return resp
	}
	span.SetStatus(codes.Ok, "")
	if !data.IsNone() {
		resp.Data = data
	}
	return resp
}

func (s *Server) run(name string, req Request) (mpv.Node, bool, error) {
	if name == "" {
		return mpv.None, false, &mpv.Error{Code: mpv.ErrInvalidParameter, Message: mpv.ErrInvalidParameter.String()}
	}
	if req.RequestID < 0 {
		return mpv.None, false, fmt.Errorf("%s: negative request_id %d: %w", name, req.RequestID, mpv.ErrInvalidParameter)
	}
	args, _ := req.Command.Array()
	arg := func(i int) (string, error) {
		if i >= len(args) {
			return "", fmt.Errorf("%s: missing argument %d: %w", name, i, mpv.ErrInvalidParameter)
		}
		v, ok := args[i].Str()
		if !ok {
			return "", fmt.Errorf("%s: argument %d is not a string: %w", name, i, mpv.ErrInvalidParameter)
		}
		return v, nil
	}
	id := func(i int) (int64, error) {
		if i >= len(args) {
			return 0, fmt.Errorf("%s: missing argument %d: %w", name, i, mpv.ErrInvalidParameter)
		}
		n, ok := args[i].Int()
		if !ok || n < 0 {
			return 0, fmt.Errorf("%s: argument %d is not a non-negative integer: %w", name, i, mpv.ErrInvalidParameter)
		}
		return n, nil
	}

	switch name {
	case "client_name":
		return mpv.StringNode(s.client.Name()), false, nil
	case "get_property":
		prop, err := arg(1)
		if err != nil {
			return mpv.None, false, err
		}
		v, err := mpv.GetProperty[mpv.Node](s.client, prop)
		return v, false, err
	case "get_property_string":
		prop, err := arg(1)
		if err != nil {
			return mpv.None, false, err
		}
		v, err := mpv.GetProperty[string](s.client, prop)
		if err != nil {
			return mpv.None, false, err
		}
		return mpv.StringNode(v), false, nil
	case "set_property":
		prop, err := arg(1)
		if err != nil {
			return mpv.None, false, err
		}
		if len(args) < 3 {
			return mpv.None, false, fmt.Errorf("set_property: missing value: %w", mpv.ErrInvalidParameter)
		}
		return mpv.None, false, mpv.SetProperty(s.client, prop, args[2])
	case "observe_property":
		n, err := id(1)
		if err != nil {
			return mpv.None, false, err
		}
		prop, err := arg(2)
		if err != nil {
			return mpv.None, false, err
		}
		return mpv.None, false, mpv.ObserveProperty[mpv.Node](s.client, s.reply(n), prop)
	case "unobserve_property":
		n, err := id(1)
		if err != nil {
			return mpv.None, false, err
		}
		return mpv.None, false, s.client.UnobserveProperty(s.reply(n))
	}

	if req.Async {
		return mpv.None, true, s.client.CommandNodeAsync(s.reply(req.RequestID), req.Command)
	}
	v, err := s.client.CommandNode(req.Command)
	return v, false, err
}
