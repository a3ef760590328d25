package smp

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"syscall"
	"time"
)

// SerialSpecs configures a serial (UART) transport, per §3.
type SerialSpecs struct {
	Device               string
	Baudrate             uint32
	InitialTimeoutS      uint32
	SubsequentTimeoutMs  uint32
	NbRetry              uint32
	Linelength           int
	MTU                  int
}

func (SerialSpecs) isTransportSpecs() {}

// serialPort is the byte-oriented port surface the serial transport
// needs; SerialPort implements it against a real device, and tests
// substitute an in-memory fake.
type serialPort interface {
	io.Reader
	io.Writer
	SetReadTimeout(time.Duration)
	BytesToRead() (int, error)
	Close() error
}

var _ serialPort = (*SerialPort)(nil)

// SerialTransport implements Transport over the line-oriented,
// base64-framed serial wire protocol described in §4.4.
type SerialTransport struct {
	port       serialPort
	linelength int
	mtu        int
}

var _ Transport = (*SerialTransport)(nil)

// NewSerialTransport opens specs.Device and returns a ready transport.
func NewSerialTransport(specs SerialSpecs) (*SerialTransport, error) {
	port, err := OpenSerialPort(specs.Device, specs.Baudrate, time.Duration(specs.InitialTimeoutS)*time.Second)
	if err != nil {
		return nil, err
	}
	return newSerialTransport(port, specs), nil
}

func newSerialTransport(port serialPort, specs SerialSpecs) *SerialTransport {
	return &SerialTransport{port: port, linelength: specs.Linelength, mtu: specs.MTU}
}

// MTU returns the pre-base64 request_frame budget, per §4.4: the
// configured mtu is a post-encoding block-size limit, so the usable
// payload budget is mtu*3/4.
func (t *SerialTransport) MTU() int {
	return t.mtu * 3 / 4
}

func (t *SerialTransport) SetTimeout(d time.Duration) {
	t.port.SetReadTimeout(d)
}

// Close releases the underlying port.
func (t *SerialTransport) Close() error {
	return t.port.Close()
}

// TransceiveRaw implements Transport.
func (t *SerialTransport) TransceiveRaw(frame []byte) ([]byte, error) {
	encoded := encodeSerialFrame(frame, t.linelength)

	if len(encoded) > t.mtu {
		overflow := len(encoded) - t.mtu
		// reduce is expressed in pre-base64 bytes: the overflow measured
		// on the encoded block, converted back, plus rounding/padding
		// slack (§4.4 MTU overflow policy).
		return nil, &TooLargeChunkError{Reduce: overflow*3/4 + 3}
	}

	if err := t.drainPending(); err != nil {
		return nil, fmt.Errorf("smp: drain serial input: %w", err)
	}

	if _, err := t.port.Write(encoded); err != nil {
		return nil, fmt.Errorf("smp: serial write: %w", err)
	}

	resp, err := decodeSerialFrame(t.readByte)
	if err != nil {
		if isTimeoutErr(err) {
			return nil, ErrTimeout
		}
		return nil, err
	}
	return resp, nil
}

func (t *SerialTransport) drainPending() error {
	n, err := t.port.BytesToRead()
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	buf := make([]byte, n)
	_, err = io.ReadFull(t.port, buf)
	return err
}

func (t *SerialTransport) readByte() (byte, error) {
	var b [1]byte
	if _, err := io.ReadFull(t.port, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

// timeouter is the de facto standard interface (net.Error and friends)
// used across the ecosystem to mark an error as a deadline expiry.
type timeouter interface {
	Timeout() bool
}

func isTimeoutErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.ETIMEDOUT) {
		return true
	}
	var t timeouter
	if errors.As(err, &t) {
		return t.Timeout()
	}
	// fdev/poll and similar low-level pollers don't always wrap a typed
	// timeout error; fall back to the conventional message.
	return strings.Contains(err.Error(), "timeout") || strings.Contains(err.Error(), "timed out")
}
