package storage

import (
	"fmt"
	"time"
)

// Sample is one persisted real-time telemetry reading.
type Sample struct {
	ID           uint      `gorm:"primarykey" json:"id"`
	Timestamp    time.Time `gorm:"index;not null" json:"timestamp"`
	CountRate    float64   `json:"count_rate"`
	DoseRate     float64   `json:"dose_rate"`
	CountRateErr float64   `json:"count_rate_err"`
	DoseRateErr  float64   `json:"dose_rate_err"`
	Flags        uint8     `json:"flags"`
}

// TableName specifies the table name for GORM
func (Sample) TableName() string {
	return "samples"
}

// String returns a formatted string representation
func (s Sample) String() string {
	return fmt.Sprintf("%s  %.2f cps (±%.1f%%)  %.4f (±%.1f%%)",
		s.Timestamp.Format(time.RFC3339), s.CountRate, s.CountRateErr,
		s.DoseRate, s.DoseRateErr)
}

// SpectrumSnapshot is one persisted spectrum, with channel counts stored as
// the device's compressed wire encoding.
type SpectrumSnapshot struct {
	ID          uint      `gorm:"primarykey" json:"id"`
	TakenAt     time.Time `gorm:"index;not null" json:"taken_at"`
	Accumulated bool      `json:"accumulated"`
	Duration    float64   `json:"duration_seconds"`
	A0          float64   `json:"a0"`
	A1          float64   `json:"a1"`
	A2          float64   `json:"a2"`
	Channels    int       `json:"channels"`
	Counts      []byte    `gorm:"type:blob" json:"-"`
}

// TableName specifies the table name for GORM
func (SpectrumSnapshot) TableName() string {
	return "spectrum_snapshots"
}
