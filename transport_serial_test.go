package smp

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakePort is an in-memory serialPort: writes go to a buffer the test
// inspects, reads are served from a canned response the test preloads,
// the way the teacher's transport_ble_test.go fakes its peripheral.
type fakePort struct {
	written      bytes.Buffer
	toRead       *bytes.Reader
	closeCalls   int
	readTimeouts int
}

func (p *fakePort) Read(b []byte) (int, error) {
	if p.toRead == nil || p.toRead.Len() == 0 {
		return 0, io.EOF
	}
	return p.toRead.Read(b)
}

func (p *fakePort) Write(b []byte) (int, error) { return p.written.Write(b) }
func (p *fakePort) Close() error                { p.closeCalls++; return nil }
func (p *fakePort) SetReadTimeout(d time.Duration) { p.readTimeouts++ }
func (p *fakePort) BytesToRead() (int, error)   { return 0, nil }

func TestSerialTransportTransceiveRaw(t *testing.T) {
	reqFrame := []byte{0x02, 0x00, 0x00, 0x02, 0x00, 0x00, 0x05, 0x00, 0xA0}
	rspFrame := []byte{0x03, 0x00, 0x00, 0x01, 0x00, 0x00, 0x05, 0x00, 0xA0}
	encodedRsp := encodeSerialFrame(rspFrame, 128)

	port := &fakePort{toRead: bytes.NewReader(encodedRsp)}
	transport := newSerialTransport(port, SerialSpecs{Linelength: 128, MTU: 1024})

	got, err := transport.TransceiveRaw(reqFrame)
	require.NoError(t, err)
	require.Equal(t, rspFrame, got)

	wantEncoded := encodeSerialFrame(reqFrame, 128)
	require.Equal(t, wantEncoded, port.written.Bytes())
}

func TestSerialTransportTooLargeChunk(t *testing.T) {
	port := &fakePort{}
	transport := newSerialTransport(port, SerialSpecs{Linelength: 128, MTU: 8})

	_, err := transport.TransceiveRaw(make([]byte, 200))
	var tooLarge *TooLargeChunkError
	require.ErrorAs(t, err, &tooLarge)
	require.Greater(t, tooLarge.Reduce, 0)
}

func TestSerialTransportMTU(t *testing.T) {
	transport := newSerialTransport(&fakePort{}, SerialSpecs{MTU: 100})
	require.Equal(t, 75, transport.MTU())
}

type fakeTimeoutErr struct{}

func (fakeTimeoutErr) Error() string { return "deadline exceeded" }
func (fakeTimeoutErr) Timeout() bool { return true }

func TestIsTimeoutErr(t *testing.T) {
	require.False(t, isTimeoutErr(nil))
	require.False(t, isTimeoutErr(io.ErrClosedPipe))
	require.True(t, isTimeoutErr(fakeTimeoutErr{}))
}
