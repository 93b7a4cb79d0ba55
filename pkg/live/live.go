// Package live streams a document's applied buffer deltas to HTTP and
// WebSocket consumers: a read-only mirror of the editing session for
// previews, debugging, and dashboards.
//
// Wire Publish as the engine's delta observer:
//
//	srv := live.NewServer(engine)
//	eng := reconcile.New(buf, reconcile.WithDeltaObserver(srv.Publish))
//	http.ListenAndServe(addr, srv.Router())
package live

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/weft-dev/weft/pkg/middleware"
	"github.com/weft-dev/weft/pkg/reconcile"
)

// DeltaJSON is the wire form of one applied buffer mutation.
type DeltaJSON struct {
	Op       string `json:"op"`
	Location int    `json:"location"`
	Length   int    `json:"length,omitempty"`
	Text     string `json:"text,omitempty"`
}

// Frame is one published batch of deltas: everything one transaction
// did to the buffer, in execution order.
type Frame struct {
	Seq    uint64      `json:"seq"`
	Deltas []DeltaJSON `json:"deltas"`
}

// DocumentEngine is the engine surface the server reads.
type DocumentEngine interface {
	Text() (string, error)
	Len() int
}

// Server mirrors one engine's buffer over HTTP.
type Server struct {
	log     *slog.Logger
	engine  DocumentEngine
	history *DeltaHistory
	metrics *middleware.HTTPMetrics

	upgrader websocket.Upgrader

	mu   sync.Mutex
	seq  uint64
	subs map[*subscriber]struct{}
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger overrides the server logger.
func WithLogger(log *slog.Logger) ServerOption {
	return func(s *Server) { s.log = log }
}

// WithHistory overrides the replay window (default 128 frames).
func WithHistory(h *DeltaHistory) ServerOption {
	return func(s *Server) { s.history = h }
}

// WithHTTPMetrics instruments the router's requests.
func WithHTTPMetrics(m *middleware.HTTPMetrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// NewServer returns a server mirroring engine.
func NewServer(engine DocumentEngine, opts ...ServerOption) *Server {
	s := &Server{
		log:     slog.Default(),
		engine:  engine,
		history: NewDeltaHistory(128),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		subs: make(map[*subscriber]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Publish encodes one transaction's deltas into a frame, records it in
// the replay window, and fans it out to connected subscribers. Slow
// subscribers are dropped rather than allowed to stall publishing.
func (s *Server) Publish(deltas []reconcile.AppliedDelta) {
	if len(deltas) == 0 {
		return
	}
	out := make([]DeltaJSON, 0, len(deltas))
	for _, d := range deltas {
		j := DeltaJSON{Location: d.Range.Location}
		switch d.Op {
		case reconcile.OpDelete:
			j.Op = "delete"
			j.Length = d.Range.Length
		case reconcile.OpInsert:
			j.Op = "insert"
			j.Location = d.Location
			j.Text = d.Text
		case reconcile.OpSetAttributes:
			j.Op = "set_attributes"
			j.Length = d.Range.Length
		}
		out = append(out, j)
	}

	s.mu.Lock()
	s.seq++
	frame := Frame{Seq: s.seq, Deltas: out}
	data, err := json.Marshal(frame)
	if err != nil {
		s.mu.Unlock()
		s.log.Error("frame encode failed", slog.String("error", err.Error()))
		return
	}
	s.history.Add(frame.Seq, data)
	for sub := range s.subs {
		select {
		case sub.send <- data:
		default:
			delete(s.subs, sub)
			close(sub.send)
			s.log.Warn("dropping slow delta subscriber")
		}
	}
	s.mu.Unlock()
}

// Seq returns the last published sequence number.
func (s *Server) Seq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// Router returns the HTTP surface:
//
//	GET /document      full buffer text
//	GET /deltas        frames after ?since=N (410 when outside the window)
//	GET /ws            WebSocket delta stream
//	GET /metrics       Prometheus exposition
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.Tracing("weft/live"))
	if s.metrics != nil {
		r.Use(s.metrics.Handler)
	}
	r.Get("/document", s.handleDocument)
	r.Get("/deltas", s.handleDeltas)
	r.Get("/ws", s.handleWS)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func (s *Server) handleDocument(w http.ResponseWriter, _ *http.Request) {
	text, err := s.engine.Text()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"seq":    s.Seq(),
		"length": s.engine.Len(),
		"text":   text,
	})
}

func (s *Server) handleDeltas(w http.ResponseWriter, r *http.Request) {
	since, err := strconv.ParseUint(r.URL.Query().Get("since"), 10, 64)
	if err != nil {
		http.Error(w, "since must be a sequence number", http.StatusBadRequest)
		return
	}
	frames := s.history.Frames(since)
	if frames == nil && since < s.history.MaxSeq() {
		// The window moved past the request; the client must refetch
		// /document.
		http.Error(w, "replay window exceeded", http.StatusGone)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte("["))
	for i, f := range frames {
		if i > 0 {
			w.Write([]byte(","))
		}
		w.Write(f)
	}
	w.Write([]byte("]"))
}

// subscriber is one connected WebSocket client.
type subscriber struct {
	conn *websocket.Conn
	send chan []byte
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	sub := &subscriber{conn: conn, send: make(chan []byte, 256)}
	go s.writePump(sub)
	go s.readPump(sub)

	since, replay := uint64(0), false
	if v, err := strconv.ParseUint(r.URL.Query().Get("since"), 10, 64); err == nil {
		since, replay = v, true
	}

	// Replay and registration are one step under the publish lock: a
	// concurrent frame is either in the replay window or fanned out
	// live, never lost between the two.
	s.mu.Lock()
	if replay {
		for _, f := range s.history.Frames(since) {
			select {
			case sub.send <- f:
			default:
			}
		}
	}
	s.subs[sub] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) writePump(sub *subscriber) {
	defer sub.conn.Close()
	for frame := range sub.send {
		if err := sub.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			s.unsubscribe(sub)
			return
		}
	}
}

// readPump drains control frames and detects disconnects.
func (s *Server) readPump(sub *subscriber) {
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			s.unsubscribe(sub)
			return
		}
	}
}

func (s *Server) unsubscribe(sub *subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[sub]; ok {
		delete(s.subs, sub)
		close(sub.send)
	}
}
