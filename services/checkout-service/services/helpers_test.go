package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/yashrajoria/marketplace-backend/services/checkout-service/models"
)

// newTestDB opens a private in-memory sqlite database with the checkout
// schema. One connection keeps every statement on the same database.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&models.Store{},
		&models.SubscriptionPayment{},
		&models.Product{},
		&models.MainOrder{},
		&models.SubOrder{},
		&models.AuditLog{},
	))
	return db
}

func seedStore(t *testing.T, db *gorm.DB) models.Store {
	t.Helper()
	store := models.Store{ID: uuid.New(), OwnerID: "owner-1", Name: "Store " + uuid.NewString()[:8]}
	require.NoError(t, db.Create(&store).Error)
	return store
}

func seedProduct(t *testing.T, db *gorm.DB, storeID uuid.UUID, price string, stock int) models.Product {
	t.Helper()
	p := models.Product{
		ID:                uuid.New(),
		StoreID:           storeID,
		Name:              "Product " + uuid.NewString()[:8],
		Price:             decimal.RequireFromString(price),
		InventoryQuantity: stock,
		IsActive:          true,
	}
	require.NoError(t, db.Create(&p).Error)
	return p
}

func stockOf(t *testing.T, db *gorm.DB, id uuid.UUID) int {
	t.Helper()
	var p models.Product
	require.NoError(t, db.First(&p, "id = ?", id).Error)
	return p.InventoryQuantity
}

// sequenceNumbers hands out the queued numbers, then unique ones.
type sequenceNumbers struct {
	mu     sync.Mutex
	queued []string
	n      int
}

func (s *sequenceNumbers) Next(time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queued) > 0 {
		next := s.queued[0]
		s.queued = s.queued[1:]
		return next
	}
	s.n++
	return fmt.Sprintf("ORD-TEST-%06d", s.n)
}

// recordingAuditor keeps entries in memory.
type recordingAuditor struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (r *recordingAuditor) Log(entry AuditEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
}

func (r *recordingAuditor) events() []models.AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.AuditEvent, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Event)
	}
	return out
}

func (r *recordingAuditor) last() AuditEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries[len(r.entries)-1]
}

var testLogger = zap.NewNop()

var bg = context.Background()
