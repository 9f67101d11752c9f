package inverter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solar-estimator/internal/apperrors"
)

type fakeReader struct {
	regs map[uint16]uint16
	err  error
}

func (f *fakeReader) ReadInputRegisters(_ context.Context, address, quantity uint16) ([]uint16, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]uint16, quantity)
	for i := range out {
		out[i] = f.regs[address+uint16(i)]
	}
	return out, nil
}

func fixture() *fakeReader {
	regs := map[uint16]uint16{
		RegSerialNumber:     'A'<<8 | '2',
		RegSerialNumber + 1: '2'<<8 | '3',
		RegSerialNumber + 2: '1'<<8 | '0',
		RegDeviceTypeCode:   0x2600,
		RegNominalPower:     50,
		RegDailyEnergy:      183,
		RegTotalEnergy:      0x86A0, // 100000 low word
		RegTotalEnergy + 1:  0x0001,
		RegTotalDCPower:     3200,
		RegActivePower:      3050,
		RegRunningState:     StateMPPT,
	}
	return &fakeReader{regs: regs}
}

func TestMeter_Read(t *testing.T) {
	m := NewMeter(fixture())
	now := time.Date(2026, 1, 14, 15, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	r, err := m.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "A22310", r.SerialNumber)
	assert.Equal(t, uint16(0x2600), r.DeviceTypeCode)
	assert.InDelta(t, 5.0, r.NominalPower, 1e-9)
	assert.InDelta(t, 18.3, r.DailyEnergy, 1e-9)
	assert.InDelta(t, 10000.0, r.TotalEnergy, 1e-9)
	assert.Equal(t, uint32(3200), r.DCPower)
	assert.Equal(t, uint32(3050), r.ActivePower)
	assert.Equal(t, "MPPT", r.StateString)
	assert.Equal(t, now, r.Timestamp)
	assert.True(t, Producing(r.RunningState))
}

func TestMeter_ReadError(t *testing.T) {
	m := NewMeter(&fakeReader{err: apperrors.Upstream("inverter", errors.New("timeout"))})
	_, err := m.Read(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrUpstream)
}

func TestCalibrate(t *testing.T) {
	c, err := Calibrate(&Reading{DailyEnergy: 18}, 20, 80, 12)
	require.NoError(t, err)
	assert.InDelta(t, -8, float64(c.Deviation), 1e-9)
	assert.Equal(t, 20.0, c.Expected)

	_, err = Calibrate(&Reading{DailyEnergy: 18}, 0, 80, 12)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestRunningStateString(t *testing.T) {
	assert.Equal(t, "Fault", RunningStateString(StateFault))
	assert.Equal(t, "Unknown", RunningStateString(0x9999))
	assert.False(t, Producing(StateStandby))
}
