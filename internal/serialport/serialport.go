// Package serialport adapts go.bug.st/serial's port handle to the
// internal/link.Conn contract, so the real UART device can be used as the
// dispatcher's transport exactly like the net.Pipe used in tests.
package serialport

import (
	"time"

	"go.bug.st/serial"
)

// timeoutError implements net.Error so link.readFrame's Timeout() check
// recognizes a serial read-timeout the same way it recognizes one from
// net.Pipe or a real TCP connection.
type timeoutError struct{}

func (timeoutError) Error() string   { return "serialport: read timed out" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

// Port wraps a serial.Port and translates absolute read deadlines into the
// library's relative read-timeout model.
type Port struct {
	port        serial.Port
	hasDeadline bool
}

// Open opens device at the given baud rate, 8 data bits, no parity, one
// stop bit — the conventional framing for the payload scheduler's UART.
func Open(device string, baudRate int) (*Port, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(device, mode)
	if err != nil {
		return nil, err
	}
	return &Port{port: p}, nil
}

// Read implements io.Reader. go.bug.st/serial signals an elapsed read
// timeout by returning 0, nil rather than a net.Error, so that case is
// translated into a timeoutError here whenever a deadline is in effect;
// readers downstream (link.readFrame) only need to recognize net.Error.
func (p *Port) Read(b []byte) (int, error) {
	n, err := p.port.Read(b)
	if n == 0 && err == nil && p.hasDeadline {
		return 0, timeoutError{}
	}
	return n, err
}

// Write implements io.Writer.
func (p *Port) Write(b []byte) (int, error) {
	return p.port.Write(b)
}

// SetReadDeadline implements link.Conn. A zero time means "no deadline":
// go.bug.st/serial's SetReadTimeout(serial.NoTimeout) blocks forever, which
// is the same contract link.UnlimitedTimeout relies on. Any other time is converted to
// the duration remaining until it; a deadline already in the past is
// clamped to a minimal positive timeout so the next Read fails promptly
// instead of blocking forever.
func (p *Port) SetReadDeadline(t time.Time) error {
	if t.IsZero() {
		p.hasDeadline = false
		return p.port.SetReadTimeout(serial.NoTimeout)
	}
	d := time.Until(t)
	if d <= 0 {
		d = time.Millisecond
	}
	p.hasDeadline = true
	return p.port.SetReadTimeout(d)
}

// Close releases the underlying device.
func (p *Port) Close() error {
	return p.port.Close()
}
