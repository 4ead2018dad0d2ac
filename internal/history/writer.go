package history

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/egysaas25-hub/wppagent-sub000/internal/event"
)

// Config controls batching behavior.
type Config struct {
	BatchSize     int           // Rows per flush
	FlushInterval time.Duration // Max time a row waits in the batch
	QueueSize     int           // Inbound record queue buffer
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     100,
		FlushInterval: 2 * time.Second,
		QueueSize:     4096,
	}
}

// Metrics counts writer activity.
type Metrics struct {
	MessagesWritten int64
	AcksWritten     int64
	Conflicts       int64
	Flushes         int64
	Errors          int64
	Dropped         int64
}

type messageRow struct {
	sessionName string
	messageID   string
	chatID      string
	sender      string
	fromMe      bool
	body        string
	msgType     string
	timestamp   time.Time
	receivedAt  time.Time
}

type ackRow struct {
	sessionName string
	messageID   string
	ack         int
	updatedAt   time.Time
}

type record struct {
	msg *messageRow
	ack *ackRow
}

// Writer persists message history and ack updates in batches.
//
// Schema:
//
//	CREATE TABLE messages (
//	    session_name TEXT        NOT NULL,
//	    message_id   TEXT        NOT NULL,
//	    chat_id      TEXT        NOT NULL,
//	    sender       TEXT        NOT NULL DEFAULT '',
//	    from_me      BOOLEAN     NOT NULL DEFAULT FALSE,
//	    body         TEXT        NOT NULL DEFAULT '',
//	    msg_type     TEXT        NOT NULL DEFAULT 'chat',
//	    ack          SMALLINT    NOT NULL DEFAULT 0,
//	    ts           TIMESTAMPTZ NOT NULL,
//	    received_at  TIMESTAMPTZ NOT NULL,
//	    PRIMARY KEY (session_name, message_id)
//	);
type Writer struct {
	cfg    Config
	logger *slog.Logger
	db     *pgxpool.Pool

	input chan record

	batchMu  sync.Mutex
	msgBatch []messageRow
	ackBatch []ackRow
	metrics  Metrics

	flushTicker *time.Ticker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWriter creates a Writer.
func NewWriter(cfg Config, db *pgxpool.Pool, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		input:    make(chan record, cfg.QueueSize),
		msgBatch: make([]messageRow, 0, cfg.BatchSize),
		ackBatch: make([]ackRow, 0, cfg.BatchSize),
	}
}

// Start begins consuming records and writing to the database.
func (w *Writer) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	w.wg.Add(1)
	go w.consumeLoop()

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("history writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop shuts the writer down, flushing anything still queued.
func (w *Writer) Stop(ctx context.Context) error {
	w.logger.Info("stopping history writer")

	if w.cancel != nil {
		w.cancel()
	}
	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("history writer stop timed out")
	}

	// Final flush on a fresh context; w.ctx is already cancelled.
	fctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	w.drain()
	w.flushCtx(fctx)

	w.logger.Info("history writer stopped")
	return nil
}

// Stats returns current metrics.
func (w *Writer) Stats() Metrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// RecordMessage queues an incoming message. Never blocks; the record is
// dropped with a warning when the queue is full.
func (w *Writer) RecordMessage(sessionName string, msg event.Message) {
	row := messageRow{
		sessionName: sessionName,
		messageID:   msg.ID,
		chatID:      msg.ChatID,
		sender:      msg.From,
		fromMe:      msg.FromMe,
		body:        msg.Body,
		msgType:     msg.Type,
		timestamp:   msg.Timestamp,
		receivedAt:  time.Now(),
	}
	w.enqueue(record{msg: &row})
}

// RecordAck queues a delivery ack update.
func (w *Writer) RecordAck(sessionName, messageID string, level event.AckLevel) {
	row := ackRow{
		sessionName: sessionName,
		messageID:   messageID,
		ack:         int(level),
		updatedAt:   time.Now(),
	}
	w.enqueue(record{ack: &row})
}

func (w *Writer) enqueue(rec record) {
	select {
	case w.input <- rec:
	default:
		w.batchMu.Lock()
		w.metrics.Dropped++
		w.batchMu.Unlock()
		w.logger.Warn("history queue full, dropping record")
	}
}

// consumeLoop reads records and accumulates batches.
func (w *Writer) consumeLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case rec := <-w.input:
			w.handleRecord(rec)
		}
	}
}

// flushLoop periodically flushes the batches.
func (w *Writer) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flush()
		}
	}
}

func (w *Writer) handleRecord(rec record) {
	w.batchMu.Lock()
	if rec.msg != nil {
		w.msgBatch = append(w.msgBatch, *rec.msg)
	}
	if rec.ack != nil {
		w.ackBatch = append(w.ackBatch, *rec.ack)
	}
	shouldFlush := len(w.msgBatch) >= w.cfg.BatchSize || len(w.ackBatch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush()
	}
}

// drain empties whatever is left on the queue after the consume loop
// has exited.
func (w *Writer) drain() {
	for {
		select {
		case rec := <-w.input:
			w.batchMu.Lock()
			if rec.msg != nil {
				w.msgBatch = append(w.msgBatch, *rec.msg)
			}
			if rec.ack != nil {
				w.ackBatch = append(w.ackBatch, *rec.ack)
			}
			w.batchMu.Unlock()
		default:
			return
		}
	}
}

// flush writes the current batches to the database.
func (w *Writer) flush() {
	w.flushCtx(w.ctx)
}

func (w *Writer) flushCtx(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.msgBatch) == 0 && len(w.ackBatch) == 0 {
		w.batchMu.Unlock()
		return
	}

	msgs := w.msgBatch
	acks := w.ackBatch
	w.msgBatch = make([]messageRow, 0, w.cfg.BatchSize)
	w.ackBatch = make([]ackRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	conflicts, err := w.batchWrite(ctx, msgs, acks)
	if err != nil {
		w.logger.Error("history batch write failed",
			"error", err,
			"messages", len(msgs),
			"acks", len(acks),
		)
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.MessagesWritten += int64(len(msgs) - conflicts)
	w.metrics.AcksWritten += int64(len(acks))
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed history",
		"messages", len(msgs),
		"acks", len(acks),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchWrite inserts messages and applies ack updates in one round
// trip. Message re-delivery hits ON CONFLICT DO NOTHING; ack updates
// never regress a higher level.
func (w *Writer) batchWrite(ctx context.Context, msgs []messageRow, acks []ackRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range msgs {
		batch.Queue(`
			INSERT INTO messages (session_name, message_id, chat_id, sender, from_me, body, msg_type, ts, received_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (session_name, message_id) DO NOTHING
		`, r.sessionName, r.messageID, r.chatID, r.sender, r.fromMe, r.body, r.msgType, r.timestamp, r.receivedAt)
	}
	for _, r := range acks {
		batch.Queue(`
			UPDATE messages SET ack = GREATEST(ack, $3)
			WHERE session_name = $1 AND message_id = $2
		`, r.sessionName, r.messageID, r.ack)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range msgs {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}
	for range acks {
		if _, err := results.Exec(); err != nil {
			return 0, err
		}
	}

	return conflicts, nil
}
