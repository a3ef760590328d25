package smp

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// encodeCBOR serializes a typed request body.
func encodeCBOR(v interface{}) ([]byte, error) {
	data, err := cbor.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("smp: encode cbor body: %w", err)
	}
	return data, nil
}

// decodeCBOR parses a CBOR payload into v.
func decodeCBOR(data []byte, v interface{}) error {
	if err := cbor.Unmarshal(data, v); err != nil {
		return fmt.Errorf("smp: decode cbor body: %w", err)
	}
	return nil
}

// decodeResponseMap parses a response body as a dynamic map, per §9:
// unknown keys are preserved/ignored, required keys are matched by
// their text name.
func decodeResponseMap(data []byte) (map[string]interface{}, error) {
	if len(data) == 0 {
		return map[string]interface{}{}, nil
	}
	m := map[string]interface{}{}
	if err := decodeCBOR(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// responseInt extracts an integer-valued key from a decoded response
// map. cbor/v2 decodes CBOR integers into Go's generic numeric kinds
// depending on sign and magnitude, so accept any of them.
func responseInt(m map[string]interface{}, key string) (int64, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int64:
		return n, true
	case uint64:
		return int64(n), true
	case int:
		return int64(n), true
	case uint:
		return int64(n), true
	default:
		return 0, false
	}
}

// ImageEraseReq is the body of a Write/Image/Erase request.
type ImageEraseReq struct {
	Slot *uint32 `cbor:"slot,omitempty"`
}

// ImageStateReq is the body of a Write/Image/State request, used both
// for marking an image pending ("test") and for confirming it.
type ImageStateReq struct {
	Hash    []byte `cbor:"hash"`
	Confirm *bool  `cbor:"confirm,omitempty"`
}

// ImageUploadReq is the body of a Write/Image/Upload request. Len and
// Sha are present only for the first chunk of a transfer (Off == 0),
// per §3 and the "first-chunk metadata" invariant in §8.
type ImageUploadReq struct {
	Image   uint8   `cbor:"image"`
	Off     uint32  `cbor:"off"`
	Len     *uint32 `cbor:"len,omitempty"`
	Sha     []byte  `cbor:"sha,omitempty"`
	Upgrade *bool   `cbor:"upgrade,omitempty"`
	Data    []byte  `cbor:"data"`
}

// ImageInfo describes one flash slot's image, as returned by list().
// Bootable/Active/Permanent are restored from the richer shape the
// original mcumgr protocol exposes (see SPEC_FULL.md §4); unset
// pointers mean the device didn't report that key.
type ImageInfo struct {
	Image     *uint32 `cbor:"image,omitempty"`
	Slot      uint32  `cbor:"slot"`
	Version   string  `cbor:"version"`
	Hash      []byte  `cbor:"hash,omitempty"`
	Bootable  *bool   `cbor:"bootable,omitempty"`
	Pending   *bool   `cbor:"pending,omitempty"`
	Confirmed *bool   `cbor:"confirmed,omitempty"`
	Active    *bool   `cbor:"active,omitempty"`
	Permanent *bool   `cbor:"permanent,omitempty"`
}

// ImageStateRsp is the body of a Read/Image/State response.
type ImageStateRsp struct {
	Images      []ImageInfo `cbor:"images"`
	SplitStatus *int        `cbor:"splitStatus,omitempty"`
}
