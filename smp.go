// Package smp implements a host-side client for the Simple Management
// Protocol (SMP) used by MCU bootloaders (mcumgr/MCUboot-style devices)
// to query and flash firmware images, erase slots, mark images pending
// or confirmed, and reset the target.
package smp

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

// Op is the SMP operation code carried in the low 3 bits of the header's
// first byte.
type Op uint8

const (
	OpRead     Op = 0
	OpReadRsp  Op = 1
	OpWrite    Op = 2
	OpWriteRsp Op = 3
)

func (op Op) String() string {
	switch op {
	case OpRead:
		return "read"
	case OpReadRsp:
		return "read-rsp"
	case OpWrite:
		return "write"
	case OpWriteRsp:
		return "write-rsp"
	default:
		return fmt.Sprintf("op(%d)", uint8(op))
	}
}

// responseOp returns the Rsp counterpart of a request op, per the
// envelope validation rule in §4.7: Read -> ReadRsp, Write -> WriteRsp.
func (op Op) responseOp() (Op, bool) {
	switch op {
	case OpRead:
		return OpReadRsp, true
	case OpWrite:
		return OpWriteRsp, true
	default:
		return 0, false
	}
}

// Group identifies the command group a request/response belongs to.
type Group uint16

const (
	GroupDefault Group = 0
	GroupImage   Group = 1
)

// Command ids, scoped per group.
const (
	IDDefaultReset uint8 = 0

	IDImageState  uint8 = 0
	IDImageUpload uint8 = 1
	IDImageErase  uint8 = 5
)

// headerLen is the fixed size of an SMP header on the wire.
const headerLen = 8

// Header is the 8-byte SMP frame header described in §3.
type Header struct {
	Op    Op
	Flags uint8
	Len   uint16
	Group Group
	Seq   uint8
	ID    uint8
}

// NewRequestHeader returns a header for a new request. Len and Seq are
// zero; the caller (normally *Client) fills them in before serializing.
func NewRequestHeader(op Op, group Group, id uint8) Header {
	return Header{Op: op, Group: group, ID: id}
}

// Marshal encodes the header into its 8-byte wire representation.
func (h Header) Marshal() [headerLen]byte {
	var buf [headerLen]byte
	buf[0] = uint8(h.Op) & 0x07
	buf[1] = h.Flags
	binary.BigEndian.PutUint16(buf[2:4], h.Len)
	binary.BigEndian.PutUint16(buf[4:6], uint16(h.Group))
	buf[6] = h.Seq
	buf[7] = h.ID
	return buf
}

// DecodeHeader parses the first 8 bytes of b as an SMP header.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < headerLen {
		return Header{}, fmt.Errorf("smp: %w: need %d bytes, got %d", ErrMalformedHeader, headerLen, len(b))
	}
	op := Op(b[0] & 0x07)
	if op > OpWriteRsp {
		return Header{}, fmt.Errorf("smp: %w: invalid op %d", ErrMalformedHeader, op)
	}
	return Header{
		Op:    op,
		Flags: b[1],
		Len:   binary.BigEndian.Uint16(b[2:4]),
		Group: Group(binary.BigEndian.Uint16(b[4:6])),
		Seq:   b[6],
		ID:    b[7],
	}, nil
}

// randomSeq returns a uniformly random sequence-id seed, per §3's
// "initialized to a uniformly random value" rule: this disambiguates
// overlapping host processes during development, so the source doesn't
// matter beyond being unpredictable.
func randomSeq() uint8 {
	var b [1]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand failing is effectively unrecoverable on any real
		// platform; fall back to a fixed value rather than panic.
		return 0
	}
	return b[0]
}
