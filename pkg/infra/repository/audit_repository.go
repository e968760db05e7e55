package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// AuditRecord is one moderation decision, persisted for diagnosis. The
// content itself is never stored, only the fingerprint.
type AuditRecord struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	Fingerprint string    `gorm:"index"`
	Flagged     bool
	CacheHit    bool
	LatencyMs   int64
	CreatedAt   time.Time
}

func (AuditRecord) TableName() string {
	return "moderation_audit"
}

type AuditRepository struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewAuditRepository(db *gorm.DB, logger *logrus.Logger) (*AuditRepository, error) {
	if err := db.AutoMigrate(&AuditRecord{}); err != nil {
		return nil, err
	}
	return &AuditRepository{db: db, logger: logger}, nil
}

// Record persists one decision. Failures are logged and swallowed: the
// audit trail must never affect request outcomes.
func (r *AuditRepository) Record(ctx context.Context, fingerprint string, flagged, cacheHit bool, latency time.Duration) {
	record := AuditRecord{
		ID:          uuid.New(),
		Fingerprint: fingerprint,
		Flagged:     flagged,
		CacheHit:    cacheHit,
		LatencyMs:   latency.Milliseconds(),
		CreatedAt:   time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(&record).Error; err != nil {
		r.logger.WithError(err).Warn("failed to persist audit record")
	}
}
