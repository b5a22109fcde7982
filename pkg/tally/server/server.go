// Package server exposes the calculator over HTTP: health checks, a JSON
// evaluate endpoint and a websocket command channel.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"github.com/chosenoffset/tally/pkg/tally"
	"github.com/chosenoffset/tally/pkg/tally/commands"
	"github.com/chosenoffset/tally/pkg/tally/metrics"
	"github.com/chosenoffset/tally/pkg/tally/parser"
)

const (
	maxRequestBody = 64 << 10
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	clientBuffer   = 16
)

// Calculator is the evaluation engine behind the server.
type Calculator interface {
	Compute(ctx context.Context, input string) (*tally.Result, error)
	Stats() metrics.EvalStats
}

// Options configures a Server.
type Options struct {
	Addr       string
	MaxClients int
	Logger     *log.Logger
}

type Server struct {
	addr        string
	server      *http.Server
	handler     http.Handler
	calc        Calculator
	dispatcher  *commands.Dispatcher
	httpMetrics *metrics.HTTPMetrics
	logger      *log.Logger
	startTime   time.Time

	upgrader     websocket.Upgrader
	clients      map[*client]bool
	clientsMutex sync.RWMutex
	maxClients   int
	replyWait    time.Duration

	events   chan Event
	stop     chan struct{}
	stopOnce sync.Once
	mutex    sync.Mutex
}

// Event is broadcast to every websocket client.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Evaluation describes one .calc command run over the websocket.
type Evaluation struct {
	Timestamp  time.Time `json:"timestamp"`
	Sender     string    `json:"sender"`
	Expression string    `json:"expression"`
	Result     string    `json:"result,omitempty"`
	Error      string    `json:"error,omitempty"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewServer wires the routes and starts the broadcast loop. Call Close (or
// Stop) to release it.
func NewServer(calc Calculator, dispatcher *commands.Dispatcher, opts Options) *Server {
	if opts.MaxClients <= 0 {
		opts.MaxClients = 100
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}

	s := &Server{
		addr:        opts.Addr,
		calc:        calc,
		dispatcher:  dispatcher,
		httpMetrics: metrics.NewHTTPMetrics(),
		logger:      opts.Logger,
		startTime:   time.Now(),
		upgrader: websocket.Upgrader{
			CheckOrigin:     sameOrigin,
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients:    make(map[*client]bool),
		maxClients: opts.MaxClients,
		replyWait:  writeWait,
		events:     make(chan Event, 100),
		stop:       make(chan struct{}),
	}

	router := httprouter.New()
	router.GET("/", s.handleIndex)
	router.GET("/health", s.handleHealth)
	router.GET("/api/commands", s.handleCommands)
	router.POST("/api/evaluate", s.handleEvaluate)
	router.GET("/ws", s.handleWebSocket)

	s.handler = s.httpMetrics.Middleware(router)

	go s.broadcast()

	return s
}

// Handler returns the root handler, wrapped with request metrics.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on the configured address and blocks until the server stops.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until the server stops.
func (s *Server) Serve(ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mutex.Lock()
	s.server = srv
	s.mutex.Unlock()

	s.logger.Printf("server: listening on %s", ln.Addr())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// Stop shuts the HTTP server down and disconnects websocket clients.
func (s *Server) Stop(ctx context.Context) error {
	s.Close()

	s.mutex.Lock()
	srv := s.server
	s.mutex.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Close stops the broadcast loop and disconnects websocket clients.
func (s *Server) Close() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
}

// Publish queues an event for every websocket client. Events are dropped when
// the queue is full.
func (s *Server) Publish(event Event) {
	select {
	case s.events <- event:
	default:
		s.logger.Printf("server: event queue full, dropping %s event", event.Type)
	}
}

// ClientCount returns the number of connected websocket clients.
func (s *Server) ClientCount() int {
	s.clientsMutex.RLock()
	defer s.clientsMutex.RUnlock()
	return len(s.clients)
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("tally is running!"))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	rt := metrics.ReadRuntime()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "alive",
		"bot":            "running",
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
		"goroutines":     rt.NumGoroutine,
		"heap_alloc":     rt.HeapAlloc,
		"ws_clients":     s.ClientCount(),
		"http":           s.httpMetrics.GetStats(),
		"evaluations":    s.calc.Stats(),
	})
}

type commandInfo struct {
	Name        string   `json:"name"`
	Aliases     []string `json:"aliases,omitempty"`
	Usage       string   `json:"usage"`
	Description string   `json:"description"`
	Example     string   `json:"example,omitempty"`
}

func (s *Server) handleCommands(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	var out []commandInfo
	if s.dispatcher != nil {
		for _, c := range s.dispatcher.Registry().Commands() {
			out = append(out, commandInfo{
				Name:        c.Name,
				Aliases:     c.Aliases,
				Usage:       c.Usage,
				Description: c.Description,
				Example:     c.Example,
			})
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"commands": out})
}

type evaluateRequest struct {
	Expression string `json:"expression"`
}

type evaluateResponse struct {
	Result     string         `json:"result,omitempty"`
	Expression string         `json:"expression,omitempty"`
	Error      *errorResponse `json:"error,omitempty"`
}

type errorResponse struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

	var req evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, evaluateResponse{Error: &errorResponse{
			Kind:    "BAD_REQUEST",
			Message: "Invalid JSON request",
		}})
		return
	}

	res, err := s.calc.Compute(r.Context(), req.Expression)
	if err != nil {
		status, body := errorBody(err, s.commandPrefix())
		writeJSON(w, status, evaluateResponse{Error: body})
		return
	}

	writeJSON(w, http.StatusOK, evaluateResponse{Result: res.Display, Expression: res.Expression})
}

func errorBody(err error, prefix string) (int, *errorResponse) {
	body := &errorResponse{Message: commands.UserMessage(err, prefix), Detail: err.Error()}

	switch {
	case errors.Is(err, tally.ErrExpressionTooLong), errors.Is(err, tally.ErrExpressionTooComplex):
		body.Kind = "LIMIT_EXCEEDED"
		return http.StatusRequestEntityTooLarge, body
	}

	if kind := parser.KindOf(err); kind != 0 {
		body.Kind = kind.String()
		return http.StatusUnprocessableEntity, body
	}

	body.Kind = "INTERNAL"
	return http.StatusInternalServerError, body
}

func (s *Server) commandPrefix() string {
	if s.dispatcher == nil {
		return commands.DefaultPrefix
	}
	return s.dispatcher.Prefix()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// sameOrigin allows requests without an Origin header and same-host origins.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return u.Host == r.Host
}
