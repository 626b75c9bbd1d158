package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	aws_pkg "github.com/yashrajoria/marketplace-backend/pkg/aws"
	"github.com/yashrajoria/marketplace-backend/services/checkout-service/models"
	"github.com/yashrajoria/marketplace-backend/services/checkout-service/repository"
)

// AuditEntry is one pipeline outcome as reported by the orchestrator.
type AuditEntry struct {
	Reference string
	Event     models.AuditEvent
	UserID    string
	Amount    *decimal.Decimal
	Err       error
	Metadata  map[string]any
}

// AuditSink persists batches of audit rows.
type AuditSink interface {
	Write(ctx context.Context, entries []models.AuditLog) error
}

// Auditor is the write-only audit interface the pipeline depends on.
type Auditor interface {
	Log(entry AuditEntry)
}

// AuditLogger hands entries to a background worker through a bounded queue.
// Log never blocks: when the queue is full the entry is dropped and a warning
// is logged. Sink failures are logged and never reach the caller.
type AuditLogger struct {
	sink          AuditSink
	logger        *zap.Logger
	queue         chan models.AuditLog
	batchSize     int
	flushInterval time.Duration
	writeTimeout  time.Duration
	onDrop        func()

	mu      sync.RWMutex
	closed  bool
	done    chan struct{}
	dropped atomic.Int64
}

// NewAuditLogger starts the worker. bufferSize bounds the queue.
func NewAuditLogger(sink AuditSink, logger *zap.Logger, bufferSize int) *AuditLogger {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	a := &AuditLogger{
		sink:          sink,
		logger:        logger.Named("audit"),
		queue:         make(chan models.AuditLog, bufferSize),
		batchSize:     50,
		flushInterval: time.Second,
		writeTimeout:  5 * time.Second,
		done:          make(chan struct{}),
	}
	go a.run()
	return a
}

// OnDrop registers fn to be called for every dropped entry.
func (a *AuditLogger) OnDrop(fn func()) {
	a.onDrop = fn
}

func (a *AuditLogger) Log(entry AuditEntry) {
	row := toAuditLog(entry)

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.drop(row, "audit logger closed")
		return
	}
	select {
	case a.queue <- row:
	default:
		a.drop(row, "audit queue full")
	}
}

func (a *AuditLogger) drop(row models.AuditLog, reason string) {
	a.dropped.Add(1)
	a.logger.Warn("audit entry dropped",
		zap.String("reason", reason),
		zap.String("reference", row.Reference),
		zap.String("event", string(row.Event)))
	if a.onDrop != nil {
		a.onDrop()
	}
}

// Dropped returns the number of entries dropped so far.
func (a *AuditLogger) Dropped() int64 {
	return a.dropped.Load()
}

func (a *AuditLogger) run() {
	defer close(a.done)

	ticker := time.NewTicker(a.flushInterval)
	defer ticker.Stop()

	batch := make([]models.AuditLog, 0, a.batchSize)
	for {
		select {
		case row, ok := <-a.queue:
			if !ok {
				a.flush(batch)
				return
			}
			batch = append(batch, row)
			if len(batch) >= a.batchSize {
				a.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			a.flush(batch)
			batch = batch[:0]
		}
	}
}

func (a *AuditLogger) flush(batch []models.AuditLog) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.writeTimeout)
	defer cancel()
	if err := a.sink.Write(ctx, batch); err != nil {
		a.logger.Error("audit sink write failed", zap.Int("entries", len(batch)), zap.Error(err))
	}
}

// Close stops accepting entries and waits for queued ones to be written or
// for ctx to end.
func (a *AuditLogger) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func toAuditLog(e AuditEntry) models.AuditLog {
	row := models.AuditLog{
		ID:        uuid.New(),
		Reference: e.Reference,
		Event:     e.Event,
		UserID:    e.UserID,
		CreatedAt: time.Now().UTC(),
	}
	if e.Amount != nil {
		row.Amount = decimal.NewNullDecimal(*e.Amount)
	}
	if e.Err != nil {
		row.Error = e.Err.Error()
	}
	if len(e.Metadata) > 0 {
		row.Metadata = datatypes.JSONMap(e.Metadata)
	}
	return row
}

// ---- sinks ----

// DatabaseAuditSink appends rows to the audit_logs table.
type DatabaseAuditSink struct {
	repo repository.AuditRepository
}

func NewDatabaseAuditSink(repo repository.AuditRepository) *DatabaseAuditSink {
	return &DatabaseAuditSink{repo: repo}
}

func (s *DatabaseAuditSink) Write(ctx context.Context, entries []models.AuditLog) error {
	return s.repo.CreateBatch(ctx, entries)
}

// QueueAuditSink ships rows as JSON messages to an SQS queue.
type QueueAuditSink struct {
	sender aws_pkg.QueueSender
}

func NewQueueAuditSink(sender aws_pkg.QueueSender) *QueueAuditSink {
	return &QueueAuditSink{sender: sender}
}

func (s *QueueAuditSink) Write(ctx context.Context, entries []models.AuditLog) error {
	messages := make([]string, 0, len(entries))
	for _, e := range entries {
		b, err := json.Marshal(e)
		if err != nil {
			return err
		}
		messages = append(messages, string(b))
	}
	if len(messages) == 1 {
		return s.sender.SendMessage(ctx, messages[0])
	}
	return s.sender.SendMessageBatch(ctx, messages)
}

// LogAuditSink writes every row as a structured log line.
type LogAuditSink struct {
	logger *zap.Logger
}

func NewLogAuditSink(logger *zap.Logger) *LogAuditSink {
	return &LogAuditSink{logger: logger}
}

func (s *LogAuditSink) Write(_ context.Context, entries []models.AuditLog) error {
	for _, e := range entries {
		fields := []zap.Field{
			zap.String("reference", e.Reference),
			zap.String("event", string(e.Event)),
		}
		if e.UserID != "" {
			fields = append(fields, zap.String("user_id", e.UserID))
		}
		if e.Amount.Valid {
			fields = append(fields, zap.String("amount", e.Amount.Decimal.String()))
		}
		if e.Error != "" {
			fields = append(fields, zap.String("error", e.Error))
		}
		if len(e.Metadata) > 0 {
			fields = append(fields, zap.Any("metadata", map[string]any(e.Metadata)))
		}
		s.logger.Info("audit", fields...)
	}
	return nil
}

// MultiAuditSink writes to every sink and joins their errors.
type MultiAuditSink []AuditSink

func (m MultiAuditSink) Write(ctx context.Context, entries []models.AuditLog) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, entries); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
