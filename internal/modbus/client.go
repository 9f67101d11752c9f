package modbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/simonvetter/modbus"

	"solar-estimator/internal/apperrors"
)

// RegisterReader reads blocks of 16-bit input registers.
type RegisterReader interface {
	ReadInputRegisters(ctx context.Context, address, quantity uint16) ([]uint16, error)
}

// Client is a Modbus TCP client safe for concurrent use. It connects lazily
// and drops the connection after a failed read so the next read redials.
type Client struct {
	mu      sync.Mutex
	client  *modbus.ModbusClient
	url     string
	unitID  uint8
	timeout time.Duration
}

func NewClient(host string, port int, unitID uint8, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		url:     fmt.Sprintf("tcp://%s:%d", host, port),
		unitID:  unitID,
		timeout: timeout,
	}
}

func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked()
}

func (c *Client) connectLocked() error {
	if c.client != nil {
		return nil
	}

	client, err := modbus.NewClient(&modbus.ClientConfiguration{
		URL:     c.url,
		Timeout: c.timeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create modbus client: %w", err)
	}
	if err := client.Open(); err != nil {
		return apperrors.Upstream("inverter", fmt.Errorf("connect %s: %w", c.url, err))
	}
	if err := client.SetUnitId(c.unitID); err != nil {
		client.Close()
		return fmt.Errorf("failed to set unit id: %w", err)
	}

	c.client = client
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	return err
}

// ReadInputRegisters reads quantity registers starting at address. The
// modbus library has no context support, so ctx is only checked before the
// request; the configured timeout bounds the request itself.
func (c *Client) ReadInputRegisters(ctx context.Context, address, quantity uint16) ([]uint16, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Upstream("inverter", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connectLocked(); err != nil {
		return nil, err
	}

	regs, err := c.client.ReadRegisters(address, quantity, modbus.INPUT_REGISTER)
	if err != nil {
		c.client.Close()
		c.client = nil
		return nil, apperrors.Upstream("inverter", fmt.Errorf("read %d registers at %d: %w", quantity, address, err))
	}
	return regs, nil
}

// Uint32 decodes a little-endian word pair: low word first.
func Uint32(regs []uint16) uint32 {
	return uint32(regs[0]) | uint32(regs[1])<<16
}

// String decodes big-endian register bytes, dropping trailing NULs.
func String(regs []uint16) string {
	b := make([]byte, 0, len(regs)*2)
	for _, reg := range regs {
		b = append(b, byte(reg>>8), byte(reg&0xFF))
	}
	for len(b) > 0 && b[len(b)-1] == 0 {
		b = b[:len(b)-1]
	}
	return string(b)
}
