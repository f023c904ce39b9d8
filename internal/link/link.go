// Package link implements the reliable message channel built on top of the
// cep frame codec: single-packet integrity acknowledgement, multi-packet
// segmentation, and bounded retries, as described for the serial link
// between the OBC and the payload scheduler.
package link

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/spaceteam/edu-scheduler/internal/cep"
)

const (
	// IntegrityAckTimeout bounds how long the sender waits for an Ack/Nack
	// reply to a Data frame, and how long the receiver's caller waits for
	// the final Ack after an Eof.
	IntegrityAckTimeout = time.Second

	// maxAttempts is the total number of times a Data frame is written
	// while waiting for an Ack (the first write plus up to maxAttempts-1
	// retransmissions), and the total number of times a Data frame is read
	// while validating its CRC (the first read plus up to maxAttempts-1
	// re-reads).
	maxAttempts = 4
)

// UnlimitedTimeout, passed to ReceivePacket (and from there to
// SetReadDeadline), clears any read deadline so the call blocks until data
// arrives. It is used between commands, where the
// scheduler waits indefinitely for the OBC's next message.
var UnlimitedTimeout time.Time

// ErrPacketInvalid is returned when a packet could not be sent or received
// after exhausting all retries, or when an unexpected frame kind arrives in
// a context that requires Ack or Nack.
var ErrPacketInvalid = errors.New("link: packet invalid")

// ErrNotAcknowledged is returned by AwaitAck when the peer replies with
// Nack instead of Ack.
var ErrNotAcknowledged = errors.New("link: not acknowledged")

// ErrTimedOut is returned when a read deadline elapses before a frame
// arrives. It is distinguished from a generic I/O error so that command
// handlers can tell "the OBC has gone quiet" apart from "the transport
// broke."
var ErrTimedOut = errors.New("link: timed out")

// Conn is the minimal bidirectional byte stream contract the link layer
// needs: a real serial port, a net.Pipe used in tests, or a bridged virtual
// PTY all satisfy it.
type Conn interface {
	io.Reader
	io.Writer
	SetReadDeadline(t time.Time) error
}

// Link wraps a Conn and exposes the five CEP operations. It is not safe for
// concurrent use by multiple goroutines; the dispatcher is the link's only
// caller in the scheduler process.
type Link struct {
	conn Conn
}

// New wraps conn in a Link.
func New(conn Conn) *Link {
	return &Link{conn: conn}
}

func (l *Link) writeFrame(f cep.Frame) error {
	if _, err := l.conn.Write(cep.Encode(f)); err != nil {
		return fmt.Errorf("link: write: %w", err)
	}
	return nil
}

func (l *Link) readFrame(timeout time.Time) (cep.Frame, error) {
	if err := l.conn.SetReadDeadline(timeout); err != nil {
		return cep.Frame{}, fmt.Errorf("link: set read deadline: %w", err)
	}
	f, err := cep.Decode(l.conn)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return cep.Frame{}, ErrTimedOut
		}
		return cep.Frame{}, fmt.Errorf("link: read: %w", err)
	}
	return f, nil
}

// SendPacket writes one frame. Non-Data frames are fire-and-forget. A Data
// frame is retransmitted on Nack up to maxAttempts total attempts; any
// other reply, a timeout, or exhausted retries fails with
// ErrPacketInvalid.
func (l *Link) SendPacket(f cep.Frame) error {
	if f.Kind != cep.KindData {
		return l.writeFrame(f)
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := l.writeFrame(f); err != nil {
			return err
		}

		reply, err := l.readFrame(time.Now().Add(IntegrityAckTimeout))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrPacketInvalid, err)
		}

		switch reply.Kind {
		case cep.KindAck:
			return nil
		case cep.KindNack:
			continue // retransmit, unless attempts are exhausted (loop end)
		default:
			return ErrPacketInvalid
		}
	}
	return ErrPacketInvalid
}

// ReceivePacket reads one frame. A Data frame with a valid CRC is
// acknowledged and returned; an invalid CRC is Nacked and the read is
// retried up to maxAttempts total attempts before failing with
// ErrPacketInvalid. Any non-Data frame is returned as-is, without sending
// an Ack or Nack.
func (l *Link) ReceivePacket(timeout time.Time) (cep.Frame, error) {
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		f, err := l.readFrame(timeout)
		if err != nil {
			if errors.Is(err, ErrTimedOut) {
				return cep.Frame{}, err
			}
			if errors.Is(err, cep.ErrInvalidCRC) {
				if wErr := l.writeFrame(cep.Nack()); wErr != nil {
					return cep.Frame{}, wErr
				}
				continue
			}
			return cep.Frame{}, err
		}

		if f.Kind != cep.KindData {
			return f, nil
		}
		if err := l.writeFrame(cep.Ack()); err != nil {
			return cep.Frame{}, err
		}
		return f, nil
	}
	return cep.Frame{}, ErrPacketInvalid
}

// SendMultiPacket segments data into chunks of at most cep.MaxPayload
// bytes, sends each as a Data frame, sends a final Eof, and waits for the
// closing integrity Ack.
func (l *Link) SendMultiPacket(data []byte) error {
	for len(data) > 0 {
		n := len(data)
		if n > cep.MaxPayload {
			n = cep.MaxPayload
		}
		chunk, err := cep.NewData(data[:n])
		if err != nil {
			return err
		}
		if err := l.SendPacket(chunk); err != nil {
			return err
		}
		data = data[n:]
	}

	if err := l.SendPacket(cep.Eof()); err != nil {
		return err
	}
	return l.AwaitAck(IntegrityAckTimeout)
}

// ReceiveMultiPacket repeatedly calls ReceivePacket, appending Data payloads
// until an Eof arrives, then sends a closing Ack and returns the
// concatenation. timeout bounds each individual ReceivePacket call.
func (l *Link) ReceiveMultiPacket(timeout time.Duration) ([]byte, error) {
	var buf []byte
	for {
		f, err := l.ReceivePacket(time.Now().Add(timeout))
		if err != nil {
			return nil, err
		}
		switch f.Kind {
		case cep.KindData:
			buf = append(buf, f.Payload...)
		case cep.KindEof:
			if err := l.writeFrame(cep.Ack()); err != nil {
				return nil, err
			}
			return buf, nil
		default:
			return nil, ErrPacketInvalid
		}
	}
}

// AwaitAck reads one frame with the given timeout. It returns nil on Ack,
// ErrNotAcknowledged on Nack, ErrPacketInvalid on any other frame kind, and
// ErrTimedOut if the deadline elapses first.
func (l *Link) AwaitAck(timeout time.Duration) error {
	f, err := l.readFrame(time.Now().Add(timeout))
	if err != nil {
		return err
	}
	switch f.Kind {
	case cep.KindAck:
		return nil
	case cep.KindNack:
		return ErrNotAcknowledged
	default:
		return ErrPacketInvalid
	}
}
