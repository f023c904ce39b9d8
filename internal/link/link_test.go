package link

import (
	"bytes"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/spaceteam/edu-scheduler/internal/cep"
)

func pipe() (*Link, net.Conn) {
	a, b := net.Pipe()
	return New(a), b
}

func TestSendPacketSuccess(t *testing.T) {
	l, peer := pipe()
	defer peer.Close()

	done := make(chan error, 1)
	go func() {
		f, err := cep.NewData([]byte("ping"))
		if err != nil {
			done <- err
			return
		}
		done <- l.SendPacket(f)
	}()

	got, err := cep.Decode(peer)
	if err != nil {
		t.Fatalf("peer decode: %v", err)
	}
	if !bytes.Equal(got.Payload, []byte("ping")) {
		t.Fatalf("payload = %q", got.Payload)
	}
	if _, err := peer.Write(cep.Encode(cep.Ack())); err != nil {
		t.Fatal(err)
	}

	if err := <-done; err != nil {
		t.Fatalf("SendPacket: %v", err)
	}
}

func TestSendPacketNackExhaustsRetries(t *testing.T) {
	l, peer := pipe()
	defer peer.Close()

	writes := make(chan struct{}, 16)
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			f, err := cep.Decode(peer)
			if err != nil {
				return
			}
			if f.Kind == cep.KindData {
				writes <- struct{}{}
				_, _ = peer.Write(cep.Encode(cep.Nack()))
			}
		}
	}()

	f, err := cep.NewData([]byte("x"))
	if err != nil {
		t.Fatal(err)
	}
	sendErr := l.SendPacket(f)
	close(stop)

	if !errors.Is(sendErr, ErrPacketInvalid) {
		t.Fatalf("got %v, want ErrPacketInvalid", sendErr)
	}

	count := len(writes)
	if count != maxAttempts {
		t.Fatalf("sender attempted %d writes, want %d", count, maxAttempts)
	}
}

func TestReceivePacketInvalidCRCRetriesThenFails(t *testing.T) {
	l, peer := pipe()
	defer peer.Close()

	corrupt := func() []byte {
		f, _ := cep.NewData([]byte{0xAA})
		wire := cep.Encode(f)
		wire[3] ^= 0xFF // flip payload without fixing the CRC
		return wire
	}

	nacks := make(chan struct{}, 16)
	peerDone := make(chan struct{})
	go func() {
		defer close(peerDone)
		for i := 0; i < maxAttempts; i++ {
			if _, err := peer.Write(corrupt()); err != nil {
				return
			}
			buf := make([]byte, 1)
			if _, err := io.ReadFull(peer, buf); err != nil {
				return
			}
			if cep.Kind(buf[0]) == cep.KindNack {
				nacks <- struct{}{}
			}
		}
	}()

	_, err := l.ReceivePacket(time.Now().Add(5 * time.Second))
	if !errors.Is(err, ErrPacketInvalid) {
		t.Fatalf("got %v, want ErrPacketInvalid", err)
	}
	<-peerDone // the peer records the last Nack after the receiver has returned
	if len(nacks) != maxAttempts {
		t.Fatalf("receiver sent %d nacks, want %d", len(nacks), maxAttempts)
	}
}

func TestMultiPacketRoundTrip(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	client := New(clientConn)
	server := New(serverConn)
	defer clientConn.Close()
	defer serverConn.Close()

	payload := bytes.Repeat([]byte{0x42}, cep.MaxPayload*2+500)

	recvErrCh := make(chan error, 1)
	var received []byte
	go func() {
		b, err := server.ReceiveMultiPacket(5 * time.Second)
		received = b
		recvErrCh <- err
	}()

	if err := client.SendMultiPacket(payload); err != nil {
		t.Fatalf("SendMultiPacket: %v", err)
	}
	if err := <-recvErrCh; err != nil {
		t.Fatalf("ReceiveMultiPacket: %v", err)
	}
	if !bytes.Equal(received, payload) {
		t.Fatalf("round trip mismatch: got %d bytes, want %d", len(received), len(payload))
	}
}

func TestAwaitAckNack(t *testing.T) {
	l, peer := pipe()
	defer peer.Close()

	go func() {
		_, _ = peer.Write(cep.Encode(cep.Nack()))
	}()

	err := l.AwaitAck(time.Second)
	if !errors.Is(err, ErrNotAcknowledged) {
		t.Fatalf("got %v, want ErrNotAcknowledged", err)
	}
}

func TestAwaitAckTimeout(t *testing.T) {
	l, peer := pipe()
	defer peer.Close()

	err := l.AwaitAck(50 * time.Millisecond)
	if !errors.Is(err, ErrTimedOut) {
		t.Fatalf("got %v, want ErrTimedOut", err)
	}
}
