package storage

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/gammasense/gammalink/internal/device"
	"github.com/gammasense/gammalink/internal/protocol"
)

// SampleRepository provides append-only persistence for telemetry samples
// and spectrum snapshots. It implements device.SampleSink.
type SampleRepository struct {
	db *gorm.DB

	// Pending writes are buffered and flushed in one transaction once the
	// batch fills; the caller controls cadence via Flush.
	pending   []Sample
	batchSize int
}

// NewSampleRepository creates a new repository instance
func NewSampleRepository(db *gorm.DB, batchSize int) *SampleRepository {
	if batchSize < 1 {
		batchSize = 1
	}
	return &SampleRepository{db: db, batchSize: batchSize}
}

// AppendSample buffers one telemetry tuple, flushing when the batch fills.
func (r *SampleRepository) AppendSample(s device.Sample) error {
	r.pending = append(r.pending, Sample{
		Timestamp:    s.Timestamp,
		CountRate:    s.CountRate,
		DoseRate:     s.DoseRate,
		CountRateErr: s.CountRateErr,
		DoseRateErr:  s.DoseRateErr,
		Flags:        s.Flags,
	})
	if len(r.pending) >= r.batchSize {
		return r.Flush()
	}
	return nil
}

// Flush writes all buffered samples in one transaction.
func (r *SampleRepository) Flush() error {
	if len(r.pending) == 0 {
		return nil
	}
	batch := r.pending
	r.pending = nil

	err := r.db.Transaction(func(tx *gorm.DB) error {
		return tx.Create(&batch).Error
	})
	if err != nil {
		return fmt.Errorf("sample flush of %d rows failed: %w", len(batch), err)
	}
	return nil
}

// SaveSpectrum persists one decoded spectrum, re-encoding the channel
// counts with the compact wire format.
func (r *SampleRepository) SaveSpectrum(s *protocol.Spectrum, accumulated bool) error {
	encoded := protocol.EncodeSpectrum(s)
	snapshot := SpectrumSnapshot{
		TakenAt:     time.Now(),
		Accumulated: accumulated,
		Duration:    s.Duration.Seconds(),
		A0:          s.A0,
		A1:          s.A1,
		A2:          s.A2,
		Channels:    len(s.Counts),
		Counts:      encoded,
	}
	return r.db.Create(&snapshot).Error
}

// RecentSamples returns up to limit samples newest first.
func (r *SampleRepository) RecentSamples(limit int) ([]Sample, error) {
	var samples []Sample
	err := r.db.Order("timestamp DESC").Limit(limit).Find(&samples).Error
	if err != nil {
		return nil, err
	}
	return samples, nil
}

// Count returns the total number of persisted samples.
func (r *SampleRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&Sample{}).Count(&count).Error
	return count, err
}
