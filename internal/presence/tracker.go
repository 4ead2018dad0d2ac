package presence

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/egysaas25-hub/wppagent-sub000/internal/event"
)

// Status is a user-declared presence state.
type Status string

const (
	StatusOnline  Status = "online"
	StatusAway    Status = "away"
	StatusBusy    Status = "busy"
	StatusOffline Status = "offline" // Emitted on eviction, never stored
)

// Record is one tracked (user, connection) pair.
type Record struct {
	UserID   string
	TenantID string
	ConnID   string
	Status   Status
	LastSeen time.Time
}

// Config controls sweep behavior.
type Config struct {
	SweepInterval   time.Duration // How often stale records are evicted
	StaleAfter      time.Duration // Idle time before a record is stale
	EventBufferSize int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		SweepInterval:   2 * time.Minute,
		StaleAfter:      5 * time.Minute,
		EventBufferSize: 256,
	}
}

// Tracker is the in-memory presence registry.
type Tracker struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.RWMutex
	byConn  map[string]*Record            // connID -> record
	byUser  map[string]map[string]*Record // userID -> connID -> record
	dropped int64

	events  chan event.Event
	closeMu sync.Mutex
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	now func() time.Time
}

// NewTracker creates a Tracker.
func NewTracker(cfg Config, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		cfg:    cfg,
		logger: logger,
		byConn: make(map[string]*Record),
		byUser: make(map[string]map[string]*Record),
		events: make(chan event.Event, cfg.EventBufferSize),
		now:    time.Now,
	}
}

// Start begins the staleness sweep.
func (t *Tracker) Start(ctx context.Context) error {
	t.ctx, t.cancel = context.WithCancel(ctx)

	t.wg.Add(1)
	go t.sweepLoop()

	t.logger.Info("presence tracker started",
		"sweep_interval", t.cfg.SweepInterval,
		"stale_after", t.cfg.StaleAfter,
	)
	return nil
}

// Stop halts the sweep and closes the event channel.
func (t *Tracker) Stop(ctx context.Context) error {
	if t.cancel != nil {
		t.cancel()
	}

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		t.logger.Warn("presence tracker stop timed out")
	}

	// Late SetOffline calls race shutdown (the realtime server drops its
	// subscribers while stopping), so the channel closes under the same
	// lock emit takes.
	t.closeMu.Lock()
	if !t.closed {
		t.closed = true
		close(t.events)
	}
	t.closeMu.Unlock()

	t.logger.Info("presence tracker stopped")
	return nil
}

// Events returns the presence event channel. Closed by Stop.
func (t *Tracker) Events() <-chan event.Event {
	return t.events
}

// SetOnline registers a connection as present for a user. Re-calling
// for a known connection refreshes its status and last-seen time.
func (t *Tracker) SetOnline(userID, tenantID, connID string, status Status) {
	if status == "" || status == StatusOffline {
		status = StatusOnline
	}

	t.mu.Lock()
	rec, ok := t.byConn[connID]
	if !ok {
		rec = &Record{UserID: userID, TenantID: tenantID, ConnID: connID}
		t.byConn[connID] = rec
		conns := t.byUser[userID]
		if conns == nil {
			conns = make(map[string]*Record)
			t.byUser[userID] = conns
		}
		conns[connID] = rec
	}
	rec.Status = status
	rec.LastSeen = t.now()
	t.mu.Unlock()

	t.emit(userID, tenantID, status)
}

// SetOffline removes a connection's record. Reports whether one
// existed.
func (t *Tracker) SetOffline(connID string) bool {
	t.mu.Lock()
	rec, ok := t.byConn[connID]
	if !ok {
		t.mu.Unlock()
		return false
	}
	t.removeLocked(rec)
	stillOnline := len(t.byUser[rec.UserID]) > 0
	t.mu.Unlock()

	// The user goes offline only when their last connection is gone.
	if !stillOnline {
		t.emit(rec.UserID, rec.TenantID, StatusOffline)
	}
	return true
}

// UpdateStatus changes the declared status on every connection of a
// user.
func (t *Tracker) UpdateStatus(userID string, status Status) {
	if status == "" || status == StatusOffline {
		return
	}

	t.mu.Lock()
	conns := t.byUser[userID]
	var tenantID string
	for _, rec := range conns {
		rec.Status = status
		rec.LastSeen = t.now()
		tenantID = rec.TenantID
	}
	t.mu.Unlock()

	if tenantID != "" {
		t.emit(userID, tenantID, status)
	}
}

// Touch refreshes a connection's last-seen time without a status
// change.
func (t *Tracker) Touch(connID string) {
	t.mu.Lock()
	if rec, ok := t.byConn[connID]; ok {
		rec.LastSeen = t.now()
	}
	t.mu.Unlock()
}

// OnlineUsers returns a snapshot of all records for a tenant.
func (t *Tracker) OnlineUsers(tenantID string) []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []Record
	for _, rec := range t.byConn {
		if rec.TenantID == tenantID {
			out = append(out, *rec)
		}
	}
	return out
}

// IsOnline reports whether the user has at least one live connection.
func (t *Tracker) IsOnline(userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byUser[userID]) > 0
}

// Count returns the number of tracked connections.
func (t *Tracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byConn)
}

func (t *Tracker) sweepLoop() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			t.sweep()
		}
	}
}

// sweep evicts records idle longer than the staleness window.
func (t *Tracker) sweep() {
	cutoff := t.now().Add(-t.cfg.StaleAfter)

	type gone struct {
		userID   string
		tenantID string
	}

	t.mu.Lock()
	var offline []gone
	evicted := 0
	for _, rec := range t.byConn {
		if rec.LastSeen.Before(cutoff) {
			t.removeLocked(rec)
			evicted++
			if len(t.byUser[rec.UserID]) == 0 {
				offline = append(offline, gone{rec.UserID, rec.TenantID})
			}
		}
	}
	t.mu.Unlock()

	for _, g := range offline {
		t.emit(g.userID, g.tenantID, StatusOffline)
	}
	if evicted > 0 {
		t.logger.Info("evicted stale presence records", "count", evicted)
	}
}

// removeLocked deletes a record from both indexes. Caller holds mu.
func (t *Tracker) removeLocked(rec *Record) {
	delete(t.byConn, rec.ConnID)
	if conns := t.byUser[rec.UserID]; conns != nil {
		delete(conns, rec.ConnID)
		if len(conns) == 0 {
			delete(t.byUser, rec.UserID)
		}
	}
}

func (t *Tracker) emit(userID, tenantID string, status Status) {
	t.closeMu.Lock()
	defer t.closeMu.Unlock()
	if t.closed {
		return
	}

	ev := event.PresenceUpdated{UserID: userID, TenantID: tenantID, Status: string(status)}
	select {
	case t.events <- ev:
	default:
		t.mu.Lock()
		t.dropped++
		t.mu.Unlock()
		t.logger.Warn("presence event buffer full, dropping event", "user", userID)
	}
}
