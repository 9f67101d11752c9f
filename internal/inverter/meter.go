package inverter

import (
	"context"
	"fmt"
	"time"

	"solar-estimator/internal/modbus"
	"solar-estimator/internal/yield"
)

// Reading is the production snapshot of a Sungrow inverter.
type Reading struct {
	Timestamp      time.Time `json:"timestamp"`
	SerialNumber   string    `json:"serial_number"`
	DeviceTypeCode uint16    `json:"device_type_code"`
	NominalPower   float64   `json:"nominal_power_kw"`
	DailyEnergy    float64   `json:"daily_energy_kwh"`
	TotalEnergy    float64   `json:"total_energy_kwh"`
	DCPower        uint32    `json:"dc_power_w"`
	ActivePower    uint32    `json:"active_power_w"`
	RunningState   uint16    `json:"running_state"`
	StateString    string    `json:"running_state_string"`
}

// Meter reads production figures from a Sungrow inverter.
type Meter struct {
	reader modbus.RegisterReader
	now    func() time.Time
}

func NewMeter(reader modbus.RegisterReader) *Meter {
	return &Meter{reader: reader, now: time.Now}
}

// Read fetches the whole production block in a single request.
func (m *Meter) Read(ctx context.Context) (*Reading, error) {
	regs, err := m.reader.ReadInputRegisters(ctx, blockStart, blockLen)
	if err != nil {
		return nil, err
	}
	if len(regs) < blockLen {
		return nil, fmt.Errorf("short register block: got %d, want %d", len(regs), blockLen)
	}

	at := func(reg int) []uint16 { return regs[reg-blockStart:] }
	state := at(RegRunningState)[0]

	return &Reading{
		Timestamp:      m.now(),
		SerialNumber:   modbus.String(at(RegSerialNumber)[:10]),
		DeviceTypeCode: at(RegDeviceTypeCode)[0],
		NominalPower:   float64(at(RegNominalPower)[0]) * 0.1,
		DailyEnergy:    float64(at(RegDailyEnergy)[0]) * 0.1,
		TotalEnergy:    float64(modbus.Uint32(at(RegTotalEnergy))) * 0.1,
		DCPower:        modbus.Uint32(at(RegTotalDCPower)),
		ActivePower:    modbus.Uint32(at(RegActivePower)),
		RunningState:   state,
		StateString:    RunningStateString(state),
	}, nil
}

// Calibration compares a day's measured output with the estimate for it.
type Calibration struct {
	Reading   *Reading             `json:"reading"`
	Expected  float64              `json:"expected_kwh"`
	Deviation yield.FixedDeviation `json:"deviation_pct"`
}

// Calibrate derives the efficiency deviation that explains the inverter's
// daily energy against expectedKWh for the same day so far.
func Calibrate(r *Reading, expectedKWh, performanceRatio, band float64) (*Calibration, error) {
	dev, err := yield.MeasuredDeviation(expectedKWh, r.DailyEnergy, performanceRatio, band)
	if err != nil {
		return nil, err
	}
	return &Calibration{Reading: r, Expected: expectedKWh, Deviation: dev}, nil
}
