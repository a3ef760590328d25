package smp

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	mtu       int
	respond   func(frame []byte) ([]byte, error)
	lastFrame []byte
}

var _ Transport = (*fakeTransport)(nil)

func (f *fakeTransport) TransceiveRaw(frame []byte) ([]byte, error) {
	f.lastFrame = frame
	return f.respond(frame)
}

func (f *fakeTransport) MTU() int                    { return f.mtu }
func (f *fakeTransport) SetTimeout(d time.Duration)  {}

func TestClientResetSuccess(t *testing.T) {
	seq := uint8(0x11)
	transport := &fakeTransport{
		mtu: 4096,
		respond: func(frame []byte) ([]byte, error) {
			req, err := DecodeHeader(frame)
			require.NoError(t, err)
			require.Equal(t, seq, req.Seq)

			rsp := Header{Op: OpWriteRsp, Group: GroupDefault, Seq: req.Seq, ID: IDDefaultReset}
			body := []byte{0xA1, 0x62, 0x72, 0x63, 0x00} // {"rc": 0}
			rsp.Len = uint16(len(body))
			out := rsp.Marshal()
			return append(out[:], body...), nil
		},
	}

	client := &Client{transport: transport, seq: seq}
	err := Reset(client)
	require.NoError(t, err)
	require.Equal(t, seq+1, client.seq)
}

func TestClientEraseDeviceError(t *testing.T) {
	seq := uint8(0x42)
	transport := &fakeTransport{
		mtu: 4096,
		respond: func(frame []byte) ([]byte, error) {
			req, err := DecodeHeader(frame)
			require.NoError(t, err)

			rsp := Header{Op: OpWriteRsp, Group: GroupImage, Seq: req.Seq, ID: IDImageErase}
			body := []byte{0xA1, 0x62, 0x72, 0x63, 0x01} // {"rc": 1}
			rsp.Len = uint16(len(body))
			out := rsp.Marshal()
			return append(out[:], body...), nil
		},
	}

	client := &Client{transport: transport, seq: seq}
	err := Erase(client, nil)
	require.Error(t, err)

	var devErr *DeviceError
	require.True(t, errors.As(err, &devErr))
	require.Equal(t, 1, devErr.Rc)
}

func TestClientEnvelopeMismatch(t *testing.T) {
	transport := &fakeTransport{
		mtu: 4096,
		respond: func(frame []byte) ([]byte, error) {
			req, err := DecodeHeader(frame)
			require.NoError(t, err)

			rsp := Header{Op: OpWriteRsp, Group: GroupDefault, Seq: req.Seq + 1, ID: IDDefaultReset}
			body := []byte{0xA0}
			rsp.Len = uint16(len(body))
			out := rsp.Marshal()
			return append(out[:], body...), nil
		},
	}

	client := &Client{transport: transport, seq: 5}
	err := Reset(client)
	require.ErrorIs(t, err, ErrWrongAnswerTypes)
}

func TestClientTooLargeChunkDoesNotAdvanceSeq(t *testing.T) {
	seq := uint8(77)
	transport := &fakeTransport{
		mtu: 4096,
		respond: func(frame []byte) ([]byte, error) {
			return nil, &TooLargeChunkError{Reduce: 10}
		},
	}

	client := &Client{transport: transport, seq: seq}
	_, _, _, err := client.Transceive(OpWrite, GroupImage, IDImageErase, struct{}{})

	var tooLarge *TooLargeChunkError
	require.True(t, errors.As(err, &tooLarge))
	require.Equal(t, 10, tooLarge.Reduce)
	require.Equal(t, seq, client.seq)
}
