// Package api exposes the tracking pipeline over HTTP: status and
// history queries, map maintenance commands, and a websocket feed of
// live tick results.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/banshee-data/fusiontrack/internal/command"
	"github.com/banshee-data/fusiontrack/internal/geom"
	"github.com/banshee-data/fusiontrack/internal/httputil"
	"github.com/banshee-data/fusiontrack/internal/monitoring"
	"github.com/banshee-data/fusiontrack/internal/security"
	"github.com/banshee-data/fusiontrack/internal/storage/sqlite"
	"github.com/banshee-data/fusiontrack/internal/tracker"
	"github.com/banshee-data/fusiontrack/internal/version"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // local deployments only
	},
}

// Commander is the maintenance-command surface the API drives.
type Commander interface {
	PersistMap(destination string) command.Result
	LocalizeInMap(destination string, hint geom.Pose) *command.Future
}

// StatusSource reports pipeline state for the status endpoint.
type StatusSource interface {
	LastResult() (tracker.TickResult, bool)
	TickCount() int64
	PendingFrameCounts() []int
	ExecStats() (mean, max float64)
	Localized() bool
}

// Config for the API server.
type Config struct {
	ListenAddr string
	Commander  Commander
	Status     StatusSource
	DB         *sqlite.DB // optional; history endpoints 404 without it

	// MapRoot, when set, confines map command destinations to paths
	// under it.
	MapRoot string
}

const (
	// tickQueueSize bounds the hand-off queue between the tracking
	// tick and the fan-out worker. Ticks beyond it are dropped.
	tickQueueSize = 64

	// tickWriteTimeout caps how long one subscriber write may stall
	// the worker before the connection is evicted.
	tickWriteTimeout = 5 * time.Second
)

// Server serves the HTTP API and fans tick results out to websocket
// subscribers.
type Server struct {
	cfg  Config
	http *http.Server

	// ticks feeds the fan-out worker; storage writes and subscriber
	// writes happen there, never on the publishing goroutine.
	ticks chan tracker.TickResult
	quit  chan struct{}
	stop  sync.Once

	mu      sync.Mutex
	conns   map[*websocket.Conn]bool
	dropped uint64
}

func NewServer(cfg Config) *Server {
	s := &Server{
		cfg:   cfg,
		ticks: make(chan tracker.TickResult, tickQueueSize),
		quit:  make(chan struct{}),
		conns: make(map[*websocket.Conn]bool),
	}
	s.http = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: s.Routes(),
	}
	go s.tickWorker()
	return s
}

// Routes builds the API mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/ticks", s.handleTicks)
	mux.HandleFunc("GET /api/commands", s.handleCommands)
	mux.HandleFunc("POST /api/map/save", s.handleSaveMap)
	mux.HandleFunc("POST /api/map/localize", s.handleLocalize)
	mux.HandleFunc("GET /ws/ticks", s.handleTickStream)
	return mux
}

// ListenAndServe blocks serving the API.
func (s *Server) ListenAndServe() error {
	monitoring.Logf("api: listening on %s", s.cfg.ListenAddr)
	return s.http.ListenAndServe()
}

// Shutdown stops the fan-out worker, closes websocket subscribers and
// stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stop.Do(func() { close(s.quit) })
	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.conns = make(map[*websocket.Conn]bool)
	s.mu.Unlock()
	return s.http.Shutdown(ctx)
}

// PublishTick hands one tick to the fan-out worker. Register it as an
// orchestrator sink: it never blocks, so the tracking tick pays at
// most the cost of a channel send. When the worker falls behind the
// tick is dropped.
func (s *Server) PublishTick(tick tracker.TickResult) {
	select {
	case s.ticks <- tick:
	default:
		s.mu.Lock()
		s.dropped++
		n := s.dropped
		s.mu.Unlock()
		if n%100 == 1 {
			monitoring.Logf("api: tick queue full, dropped tick t=%d (%d total drops)", tick.TimestampNanos, n)
		}
	}
}

// tickWorker drains the tick queue: each tick is persisted (when a
// database is wired) and broadcast to websocket subscribers.
func (s *Server) tickWorker() {
	for {
		select {
		case <-s.quit:
			return
		case tick := <-s.ticks:
			if s.cfg.DB != nil {
				if err := s.cfg.DB.InsertTick(tick); err != nil {
					monitoring.Logf("api: failed to persist tick: %v", err)
				}
			}
			s.broadcast(newTickPayload(tick))
		}
	}
}

// broadcast writes one payload to every subscriber. A write that
// cannot complete within the deadline evicts the connection so one
// stalled reader cannot starve the rest of the feed.
func (s *Server) broadcast(payload *tickPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		conn.SetWriteDeadline(time.Now().Add(tickWriteTimeout))
		if err := conn.WriteJSON(payload); err != nil {
			conn.Close()
			delete(s.conns, conn)
		}
	}
}

// SubscriberCount reports active websocket connections.
func (s *Server) SubscriberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

type statusResponse struct {
	Version       string       `json:"version"`
	TickCount     int64        `json:"tick_count"`
	PendingFrames []int        `json:"pending_frames"`
	ExecMeanMs    float64      `json:"exec_mean_ms"`
	ExecMaxMs     float64      `json:"exec_max_ms"`
	Localized     bool         `json:"localized"`
	LastTick      *tickPayload `json:"last_tick,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	mean, max := s.cfg.Status.ExecStats()
	resp := statusResponse{
		Version:       version.Version,
		TickCount:     s.cfg.Status.TickCount(),
		PendingFrames: s.cfg.Status.PendingFrameCounts(),
		ExecMeanMs:    mean,
		ExecMaxMs:     max,
		Localized:     s.cfg.Status.Localized(),
	}
	if last, ok := s.cfg.Status.LastResult(); ok {
		resp.LastTick = newTickPayload(last)
	}
	httputil.WriteJSONOK(w, resp)
}

func (s *Server) handleTicks(w http.ResponseWriter, r *http.Request) {
	if s.cfg.DB == nil {
		httputil.NotFound(w, "persistence not configured")
		return
	}
	records, err := s.cfg.DB.RecentTicks(queryInt(r, "limit", 100))
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, records)
}

func (s *Server) handleCommands(w http.ResponseWriter, r *http.Request) {
	if s.cfg.DB == nil {
		httputil.NotFound(w, "persistence not configured")
		return
	}
	records, err := s.cfg.DB.RecentCommands(queryInt(r, "limit", 100))
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, records)
}

type mapRequest struct {
	Destination string       `json:"destination"`
	Hint        *posePayload `json:"hint,omitempty"`
}

type commandResponse struct {
	Token  string       `json:"token"`
	Status string       `json:"status"`
	Pose   *posePayload `json:"pose,omitempty"`
}

func (s *Server) handleSaveMap(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeMapRequest(w, r)
	if !ok {
		return
	}

	token := uuid.NewString()
	res := s.cfg.Commander.PersistMap(req.Destination)
	s.audit(token, "save_map", req.Destination, res)

	code := http.StatusOK
	if !res.OK() {
		code = http.StatusConflict
	}
	httputil.WriteJSON(w, code, commandResponse{Token: token, Status: res.Status.String()})
}

func (s *Server) handleLocalize(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeMapRequest(w, r)
	if !ok {
		return
	}

	hint := geom.IdentityPose()
	if req.Hint != nil {
		hint = req.Hint.toPose()
	}

	token := uuid.NewString()
	fut := s.cfg.Commander.LocalizeInMap(req.Destination, hint)

	select {
	case <-fut.Done():
	case <-r.Context().Done():
		httputil.WriteJSONError(w, http.StatusRequestTimeout, "request cancelled")
		return
	}

	res := fut.Wait()
	s.audit(token, "localize", req.Destination, res)

	resp := commandResponse{Token: token, Status: res.Status.String()}
	code := http.StatusOK
	if res.OK() && res.Pose != nil {
		resp.Pose = newPosePayload(*res.Pose)
	} else {
		code = http.StatusConflict
	}
	httputil.WriteJSON(w, code, resp)
}

// decodeMapRequest parses and validates the body of a map command.
func (s *Server) decodeMapRequest(w http.ResponseWriter, r *http.Request) (mapRequest, bool) {
	var req mapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Destination == "" {
		httputil.BadRequest(w, "destination is required")
		return req, false
	}
	if s.cfg.MapRoot != "" {
		if err := security.ValidatePathWithinDirectory(req.Destination, s.cfg.MapRoot); err != nil {
			httputil.BadRequest(w, fmt.Sprintf("destination outside map root: %v", err))
			return req, false
		}
	}
	return req, true
}

func (s *Server) handleTickStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		monitoring.Logf("api: websocket upgrade error: %v", err)
		return
	}

	s.mu.Lock()
	s.conns[conn] = true
	s.mu.Unlock()

	// Drain client messages so pings are answered and closure is
	// noticed; subscribers are write-only otherwise.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.mu.Lock()
				if s.conns[conn] {
					conn.Close()
					delete(s.conns, conn)
				}
				s.mu.Unlock()
				return
			}
		}
	}()
}

func (s *Server) audit(token, cmd, destination string, res command.Result) {
	if s.cfg.DB == nil {
		return
	}
	detail := ""
	if !res.OK() {
		detail = fmt.Sprintf("command failed with %s", res.Status)
	}
	if err := s.cfg.DB.InsertCommandAudit(token, cmd, destination, res.Status.String(), detail); err != nil {
		monitoring.Logf("api: failed to audit %s command: %v", cmd, err)
	}
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil || n < 1 {
		return def
	}
	return n
}
