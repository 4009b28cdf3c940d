package device

import (
	"context"

	"github.com/gammasense/gammalink/internal/protocol"
)

// DoseUnit selects how the device displays dose quantities.
type DoseUnit int

const (
	DoseUnitSievert DoseUnit = iota
	DoseUnitRoentgen
)

func (u DoseUnit) String() string {
	if u == DoseUnitRoentgen {
		return "R"
	}
	return "Sv"
}

// CountUnit selects how the device displays count rates.
type CountUnit int

const (
	CountUnitCPS CountUnit = iota
	CountUnitCPM
)

func (u CountUnit) String() string {
	if u == CountUnitCPM {
		return "cpm"
	}
	return "cps"
}

// Raw register scaling. Count thresholds are stored as counts per 10
// seconds; dose thresholds in 1/10000 of the displayed unit.
const (
	countRateRawDivisor = 10.0
	doseRawDivisor      = 10000.0
)

// AlarmLimits are the two-level dosimetry thresholds, scaled into the
// device's configured display units.
type AlarmLimits struct {
	CountRateL1 float64
	CountRateL2 float64
	DoseRateL1  float64
	DoseRateL2  float64
	DoseL1      float64
	DoseL2      float64
	DoseUnit    DoseUnit
	CountUnit   CountUnit
}

// alarmRegisterIDs is the fixed batch read order for AlarmLimits.
var alarmRegisterIDs = []uint32{
	protocol.VSFR_CR_LEV1,
	protocol.VSFR_CR_LEV2,
	protocol.VSFR_DR_LEV1,
	protocol.VSFR_DR_LEV2,
	protocol.VSFR_DS_LEV1,
	protocol.VSFR_DS_LEV2,
	protocol.VSFR_DS_UNITS,
	protocol.VSFR_CR_UNITS,
}

// AlarmLimits reads all six thresholds plus the unit flags in a single
// batch round trip and applies the unit-dependent scaling.
func (s *Session) AlarmLimits(ctx context.Context) (*AlarmLimits, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readyLocked(); err != nil {
		return nil, err
	}

	values, err := s.batchReadVSFR(ctx, alarmRegisterIDs)
	if err != nil {
		return nil, err
	}
	return scaleAlarmLimits(values), nil
}

// scaleAlarmLimits turns the raw batch values into display-unit thresholds.
func scaleAlarmLimits(values []uint32) *AlarmLimits {
	limits := &AlarmLimits{
		DoseUnit:  DoseUnit(values[6] & 1),
		CountUnit: CountUnit(values[7] & 1),
	}

	countScale := 1.0 / countRateRawDivisor
	if limits.CountUnit == CountUnitCPM {
		countScale *= 60.0
	}
	limits.CountRateL1 = float64(values[0]) * countScale
	limits.CountRateL2 = float64(values[1]) * countScale

	limits.DoseRateL1 = float64(values[2]) / doseRawDivisor
	limits.DoseRateL2 = float64(values[3]) / doseRawDivisor
	limits.DoseL1 = float64(values[4]) / doseRawDivisor
	limits.DoseL2 = float64(values[5]) / doseRawDivisor
	return limits
}
