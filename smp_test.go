package smp

import "testing"

func TestHeaderRoundTrip(t *testing.T) {
	tests := []Header{
		{Op: OpRead, Flags: 0, Len: 0, Group: GroupDefault, Seq: 0, ID: IDDefaultReset},
		{Op: OpWriteRsp, Flags: 0, Len: 300, Group: GroupImage, Seq: 255, ID: IDImageUpload},
		{Op: OpReadRsp, Flags: 0, Len: 1, Group: GroupImage, Seq: 128, ID: IDImageState},
	}

	for _, h := range tests {
		buf := h.Marshal()
		got, err := DecodeHeader(buf[:])
		if err != nil {
			t.Fatalf("DecodeHeader: %s", err)
		}
		if got != h {
			t.Fatalf("round trip mismatch: got %+v, want %+v", got, h)
		}
	}
}

func TestDecodeHeaderTooShort(t *testing.T) {
	_, err := DecodeHeader([]byte{0x02, 0x00, 0x00})
	if err == nil {
		t.Fatal("expected error for short header")
	}
}

func TestDecodeHeaderInvalidOp(t *testing.T) {
	buf := []byte{0x07, 0, 0, 0, 0, 0, 0, 0}
	_, err := DecodeHeader(buf)
	if err == nil {
		t.Fatal("expected error for invalid op")
	}
}

func TestResponseOp(t *testing.T) {
	if op, ok := OpRead.responseOp(); !ok || op != OpReadRsp {
		t.Fatalf("OpRead -> %v, %v", op, ok)
	}
	if op, ok := OpWrite.responseOp(); !ok || op != OpWriteRsp {
		t.Fatalf("OpWrite -> %v, %v", op, ok)
	}
	if _, ok := OpReadRsp.responseOp(); ok {
		t.Fatal("OpReadRsp should have no response op")
	}
}
