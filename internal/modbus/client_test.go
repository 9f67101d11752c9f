package modbus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solar-estimator/internal/apperrors"
)

func TestUint32(t *testing.T) {
	assert.Equal(t, uint32(0x0001_0002), Uint32([]uint16{0x0002, 0x0001}))
	assert.Equal(t, uint32(123456), Uint32([]uint16{123456 & 0xFFFF, 123456 >> 16}))
}

func TestString(t *testing.T) {
	regs := []uint16{'A'<<8 | '2', '2'<<8 | '3', '1'<<8 | 0, 0}
	assert.Equal(t, "A2231", String(regs))
	assert.Equal(t, "", String([]uint16{0, 0}))
}

func TestReadInputRegisters_CancelledContext(t *testing.T) {
	c := NewClient("127.0.0.1", 1, 1, 50*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.ReadInputRegisters(ctx, 5000, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrUpstream)
	assert.ErrorIs(t, err, context.Canceled)
}
