package api

import (
	"container/list"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ashureev/tutorlive/internal/identity"
	"github.com/ashureev/tutorlive/internal/tutor"
)

const updateBufferSize = 256

// StreamConfig tunes the SSE broker.
type StreamConfig struct {
	KeepaliveInterval time.Duration
	RetryDelay        time.Duration
	ReplayBufferSize  int
}

// sseConnection represents a single SSE client connection.
type sseConnection struct {
	ID          int64
	LearnerID   string
	TabID       string
	EventID     int64
	ConnectedAt time.Time
	Writer      http.ResponseWriter
	Flusher     http.Flusher
	Done        chan struct{}
	mu          sync.Mutex
}

// queuedUpdate is an update kept for replay.
type queuedUpdate struct {
	EventID int64
	Update  tutor.Update
}

// updateQueue buffers updates for reconnecting clients, sharded per learner tab.
// Each tab gets its own bounded list so one tab's burst cannot evict updates
// belonging to another.
type updateQueue struct {
	mu      sync.RWMutex
	queues  map[string]*list.List
	maxSize int
}

func newUpdateQueue(maxSize int) *updateQueue {
	if maxSize <= 0 {
		maxSize = 200
	}
	return &updateQueue{
		queues:  make(map[string]*list.List),
		maxSize: maxSize,
	}
}

func (q *updateQueue) enqueue(key string, eventID int64, u tutor.Update) {
	q.mu.Lock()
	defer q.mu.Unlock()

	l, ok := q.queues[key]
	if !ok {
		l = list.New()
		q.queues[key] = l
	}
	l.PushBack(&queuedUpdate{EventID: eventID, Update: u})
	for l.Len() > q.maxSize {
		l.Remove(l.Front())
	}
}

func (q *updateQueue) missed(key string, afterEventID int64) []*queuedUpdate {
	q.mu.RLock()
	defer q.mu.RUnlock()

	l, ok := q.queues[key]
	if !ok {
		return nil
	}
	var out []*queuedUpdate
	for e := l.Front(); e != nil; e = e.Next() {
		msg := e.Value.(*queuedUpdate)
		if msg.EventID > afterEventID {
			out = append(out, msg)
		}
	}
	return out
}

func (q *updateQueue) prune(key string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.queues, key)
}

type keyedUpdate struct {
	key    string
	update tutor.Update
}

// Broker fans session updates out to SSE clients with Last-Event-ID replay.
type Broker struct {
	cfg           StreamConfig
	updates       chan keyedUpdate
	connections   map[string]map[int64]*sseConnection // learner:tab -> connection id -> connection
	queue         *updateQueue
	connectionsMu sync.RWMutex
	eventCounter  int64
	connectionID  int64
	counterMu     sync.Mutex
	done          chan struct{}
	closeOnce     sync.Once
}

// NewBroker creates a broker and starts its broadcast loop.
func NewBroker(cfg StreamConfig) *Broker {
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = 10 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	b := &Broker{
		cfg:         cfg,
		updates:     make(chan keyedUpdate, updateBufferSize),
		connections: make(map[string]map[int64]*sseConnection),
		queue:       newUpdateQueue(cfg.ReplayBufferSize),
		done:        make(chan struct{}),
	}
	go b.broadcastLoop()
	return b
}

func streamKey(learnerID, tabID string) string {
	return learnerID + ":" + tabID
}

// Publisher returns the publisher for one learner tab. It never blocks; when
// the broker is saturated the update is dropped.
func (b *Broker) Publisher(learnerID, tabID string) tutor.Publisher {
	key := streamKey(learnerID, tabID)
	return tutor.PublisherFunc(func(u tutor.Update) {
		select {
		case b.updates <- keyedUpdate{key: key, update: u}:
		default:
			slog.Warn("[BROADCAST] Update buffer full, dropping update", "learner_id", learnerID, "tab_id", tabID, "kind", u.Kind)
		}
	})
}

// Forget drops the replay buffer of a learner tab.
func (b *Broker) Forget(learnerID, tabID string) {
	b.queue.prune(streamKey(learnerID, tabID))
}

// Close stops the broadcast loop.
func (b *Broker) Close() {
	b.closeOnce.Do(func() { close(b.done) })
}

func (b *Broker) nextEventID() int64 {
	b.counterMu.Lock()
	defer b.counterMu.Unlock()
	b.eventCounter++
	return b.eventCounter
}

func (b *Broker) broadcastLoop() {
	slog.Info("[BROADCAST] Broadcast loop started")
	for {
		select {
		case <-b.done:
			slog.Info("[BROADCAST] Broadcast loop shutting down")
			return
		case ku := <-b.updates:
			eventID := b.nextEventID()
			b.queue.enqueue(ku.key, eventID, ku.update)

			b.connectionsMu.RLock()
			tabConns, exists := b.connections[ku.key]
			if !exists {
				b.connectionsMu.RUnlock()
				continue
			}
			// Snapshot connections to avoid holding RLock during writes
			conns := make([]*sseConnection, 0, len(tabConns))
			for _, c := range tabConns {
				conns = append(conns, c)
			}
			b.connectionsMu.RUnlock()

			for _, conn := range conns {
				b.sendToConnection(conn, eventID, ku.update)
			}
		}
	}
}

func (b *Broker) sendToConnection(conn *sseConnection, eventID int64, u tutor.Update) {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	b.writeUpdate(conn, eventID, u)
}

// writeUpdate writes one update. The caller holds conn.mu.
func (b *Broker) writeUpdate(conn *sseConnection, eventID int64, u tutor.Update) {
	select {
	case <-conn.Done:
		return
	default:
	}
	if eventID <= conn.EventID {
		return
	}

	data, err := json.Marshal(u)
	if err != nil {
		slog.Error("[SEND] Failed to marshal SSE update", "error", err, "conn_id", conn.ID)
		return
	}
	if err := writeSSEWithID(conn.Writer, eventID, string(u.Kind), string(data)); err != nil {
		slog.Error("[SEND] Failed to write to SSE connection",
			"error", err,
			"conn_id", conn.ID,
			"learner_id", conn.LearnerID,
		)
		return
	}
	conn.Flusher.Flush()
	conn.EventID = eventID
}

// HandleStream serves GET /api/session/stream.
//
//nolint:gocognit // SSE lifecycle handling intentionally keeps branches together.
func (b *Broker) HandleStream(w http.ResponseWriter, r *http.Request) {
	learnerID := identity.LearnerIDFromContext(r.Context())
	tabID := identity.TabIDFromContext(r.Context())
	if learnerID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	key := streamKey(learnerID, tabID)

	lastEventID := int64(0)
	idHeader := r.Header.Get("Last-Event-ID")
	if idHeader == "" {
		idHeader = r.URL.Query().Get("lastEventId")
	}
	if idHeader != "" {
		if parsed, err := strconv.ParseInt(idHeader, 10, 64); err == nil {
			lastEventID = parsed
			slog.Info("SSE client reconnecting with Last-Event-ID", "learner_id", learnerID, "last_event_id", lastEventID)
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	if _, err := io.WriteString(w, fmt.Sprintf("retry: %d\n\n", b.cfg.RetryDelay.Milliseconds())); err != nil {
		slog.Warn("failed to write SSE retry header", "error", err, "learner_id", learnerID)
		return
	}
	flusher.Flush()

	b.counterMu.Lock()
	b.connectionID++
	connID := b.connectionID
	if lastEventID > b.eventCounter {
		// Stale id from before a restart; replay nothing and accept everything new.
		lastEventID = 0
	}
	b.counterMu.Unlock()

	conn := &sseConnection{
		ID:          connID,
		LearnerID:   learnerID,
		TabID:       tabID,
		EventID:     lastEventID,
		ConnectedAt: time.Now(),
		Writer:      w,
		Flusher:     flusher,
		Done:        make(chan struct{}),
	}

	// Replay under the connection lock so live updates queue behind it.
	conn.mu.Lock()
	b.connectionsMu.Lock()
	if _, exists := b.connections[key]; !exists {
		b.connections[key] = make(map[int64]*sseConnection)
	}
	b.connections[key][connID] = conn
	b.connectionsMu.Unlock()

	defer func() {
		conn.mu.Lock()
		close(conn.Done)
		conn.mu.Unlock()
		b.connectionsMu.Lock()
		if tabConns, exists := b.connections[key]; exists {
			delete(tabConns, connID)
			if len(tabConns) == 0 {
				delete(b.connections, key)
			}
		}
		b.connectionsMu.Unlock()
		slog.Info("SSE connection closed", "learner_id", learnerID, "tab_id", tabID, "conn_id", connID)
	}()

	var replayed int
	if lastEventID > 0 {
		missed := b.queue.missed(key, lastEventID)
		for _, msg := range missed {
			b.writeUpdate(conn, msg.EventID, msg.Update)
		}
		replayed = len(missed)
	}

	eventID := b.nextEventID()
	connectedData := fmt.Sprintf(`{"status":"connected","learner_id":%q,"tab_id":%q,"event_id":%d}`, learnerID, tabID, eventID)
	err := writeSSE(w, "connected", connectedData)
	if err == nil {
		flusher.Flush()
	}
	conn.mu.Unlock()
	if err != nil {
		slog.Warn("failed to write SSE connected event", "error", err, "learner_id", learnerID)
		return
	}

	slog.Info("SSE connection established",
		"learner_id", learnerID,
		"tab_id", tabID,
		"reconnect", lastEventID > 0,
		"replayed", replayed,
	)

	keepalive := time.NewTicker(b.cfg.KeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-b.done:
			return
		case <-keepalive.C:
			conn.mu.Lock()
			if err := writeSSE(w, "ping", `{"status":"alive"}`); err != nil {
				conn.mu.Unlock()
				slog.Warn("failed to write SSE keepalive ping", "error", err, "learner_id", learnerID)
				return
			}
			flusher.Flush()
			conn.mu.Unlock()
		}
	}
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func writeSSEWithID(w io.Writer, id int64, event, data string) error {
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, event, data)
	return err
}
