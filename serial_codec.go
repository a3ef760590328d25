package smp

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"github.com/sigurn/crc16"
)

// Wire markers from §4.4/§6: the first line of an encoded frame starts
// with startFirst, every continuation line starts with startCont.
var (
	startFirst = [2]byte{0x06, 0x09}
	startCont  = [2]byte{0x04, 0x14}
)

var xmodemTable = crc16.MakeTable(crc16.CRC16_XMODEM)

func crcXmodem(data []byte) uint16 {
	return crc16.Checksum(data, xmodemTable)
}

// encodeSerialFrame assembles the serial wire encoding of an SMP frame
// (header+body), per §4.4 steps 1-5: append a trailing CRC16/XMODEM,
// prepend a big-endian length prefix, base64-encode the result, and
// split it into marker-prefixed, newline-terminated lines of at most
// linelength bytes.
func encodeSerialFrame(smpFrame []byte, linelength int) []byte {
	crc := crcXmodem(smpFrame)

	inner := make([]byte, 0, len(smpFrame)+2)
	inner = append(inner, smpFrame...)
	inner = binary.BigEndian.AppendUint16(inner, crc)

	framed := make([]byte, 2, 2+len(inner))
	binary.BigEndian.PutUint16(framed, uint16(len(inner)))
	framed = append(framed, inner...)

	encoded := base64.StdEncoding.EncodeToString(framed)

	out := make([]byte, 0, len(encoded)+(len(encoded)/max(linelength-4, 1)+1)*3)
	chunkLen := linelength - 4
	for pos, first := 0, true; pos < len(encoded); first = false {
		marker := startCont
		if first {
			marker = startFirst
		}
		out = append(out, marker[0], marker[1])

		n := min(chunkLen, len(encoded)-pos)
		out = append(out, encoded[pos:pos+n]...)
		out = append(out, '\n')
		pos += n
	}
	return out
}

// byteReader supplies one byte at a time, e.g. from a live serial port
// or a bytes.Reader in tests.
type byteReader func() (byte, error)

// decodeSerialFrame reverses encodeSerialFrame, implementing §4.4's
// reception steps 2-7: it expects the start marker on the first line
// and the continuation marker on every later line, accumulates base64 text across lines until the declared
// length is satisfied, then verifies the length field and trailing
// CRC16/XMODEM before returning the inner SMP frame bytes.
func decodeSerialFrame(read byteReader) ([]byte, error) {
	var encoded []byte
	expectedLen := 0

	for first := true; ; first = false {
		marker := startCont
		if first {
			marker = startFirst
		}
		for _, want := range marker {
			got, err := read()
			if err != nil {
				return nil, err
			}
			if got != want {
				return nil, fmt.Errorf("smp: %w: expected marker byte 0x%02x, got 0x%02x", ErrWrongChunkLength, want, got)
			}
		}

		for {
			b, err := read()
			if err != nil {
				return nil, err
			}
			if b == '\n' {
				break
			}
			encoded = append(encoded, b)
		}

		decoded, err := base64.StdEncoding.DecodeString(string(encoded))
		if err != nil {
			return nil, fmt.Errorf("smp: decode base64 serial chunk: %w", err)
		}

		if expectedLen == 0 && len(decoded) >= 2 {
			if l := binary.BigEndian.Uint16(decoded[:2]); l > 0 {
				expectedLen = int(l)
			}
		}

		if len(decoded) >= 2 && len(decoded)-2 >= expectedLen {
			break
		}
	}

	decoded, err := base64.StdEncoding.DecodeString(string(encoded))
	if err != nil {
		return nil, fmt.Errorf("smp: decode base64 serial frame: %w", err)
	}
	if len(decoded) < 4 {
		return nil, fmt.Errorf("%w: frame too short (%d bytes)", ErrWrongChunkLength, len(decoded))
	}

	declaredLen := int(binary.BigEndian.Uint16(decoded[:2]))
	if declaredLen != len(decoded)-2 {
		return nil, fmt.Errorf("%w: declared %d, got %d", ErrWrongChunkLength, declaredLen, len(decoded)-2)
	}

	body := decoded[2 : len(decoded)-2]
	trailerCRC := binary.BigEndian.Uint16(decoded[len(decoded)-2:])
	if crcXmodem(body) != trailerCRC {
		return nil, ErrWrongChecksum
	}

	return body, nil
}
