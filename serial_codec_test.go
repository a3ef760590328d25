package smp

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func newByteReader(b []byte) byteReader {
	r := bytes.NewReader(b)
	return func() (byte, error) {
		return r.ReadByte()
	}
}

func TestSerialFrameRoundTrip(t *testing.T) {
	for _, size := range []int{0, 1, 9, 128, 1000} {
		r := make([]byte, size)
		_, err := rand.Read(r)
		require.NoError(t, err)

		for _, linelength := range []int{32, 64, 128, 256, 4096} {
			encoded := encodeSerialFrame(r, linelength)
			decoded, err := decodeSerialFrame(newByteReader(encoded))
			require.NoErrorf(t, err, "linelength=%d size=%d", linelength, size)
			require.Equal(t, r, decoded)
		}
	}
}

func TestSerialFrameTamperDetection(t *testing.T) {
	r := []byte{0x02, 0x00, 0x00, 0x02, 0x00, 0x00, 0x05, 0x00, 0xA0}
	encoded := encodeSerialFrame(r, 128)

	decoded, err := decodeSerialFrame(newByteReader(encoded))
	require.NoError(t, err)
	require.Equal(t, r, decoded)

	tampered := append([]byte(nil), encoded...)
	// flip one bit of the third base64 character, which encodes part of
	// the length prefix.
	tampered[4] ^= 0x01
	_, err = decodeSerialFrame(newByteReader(tampered))
	require.Error(t, err)
}

func TestSerialFrameS3Literal(t *testing.T) {
	r := []byte{0x02, 0x00, 0x00, 0x02, 0x00, 0x00, 0x05, 0x00, 0xA0}
	encoded := encodeSerialFrame(r, 128)

	require.Equal(t, byte(0x06), encoded[0])
	require.Equal(t, byte(0x09), encoded[1])
	require.Equal(t, byte('\n'), encoded[len(encoded)-1])

	b64 := encoded[2 : len(encoded)-1]
	decoded, err := base64.StdEncoding.DecodeString(string(b64))
	require.NoError(t, err)

	var want []byte
	want = binary.BigEndian.AppendUint16(want, uint16(len(r)+2))
	want = append(want, r...)
	crc := crcXmodem(r)
	want = binary.BigEndian.AppendUint16(want, crc)

	require.Equal(t, want, decoded)
}

func TestSerialFrameMultiLine(t *testing.T) {
	r := make([]byte, 500)
	_, err := rand.Read(r)
	require.NoError(t, err)

	encoded := encodeSerialFrame(r, 32)
	lines := bytes.Split(bytes.TrimRight(encoded, "\n"), []byte{'\n'})
	require.Greater(t, len(lines), 1)
	require.Equal(t, []byte{0x06, 0x09}, lines[0][:2])
	for _, line := range lines[1:] {
		require.Equal(t, []byte{0x04, 0x14}, line[:2])
	}

	decoded, err := decodeSerialFrame(newByteReader(encoded))
	require.NoError(t, err)
	require.Equal(t, r, decoded)
}
