package smp

import (
	"errors"
	"fmt"
)

// Client wraps a Transport with the sequence-id counter described in
// §3/§4.3. A Client owns its Transport for its entire lifetime; callers
// must not share a Transport between two Clients.
type Client struct {
	transport Transport
	seq       uint8
}

// NewClient wraps transport with a freshly seeded sequence counter.
func NewClient(transport Transport) *Client {
	return &Client{transport: transport, seq: randomSeq()}
}

// Transport returns the underlying transport, e.g. so a caller can
// Close() it or adjust its timeout directly.
func (c *Client) Transport() Transport {
	return c.transport
}

// Transceive performs one request/response exchange: it CBOR-encodes
// body, prepends an SMP header carrying the current sequence id, and
// hands the frame to the transport. On success the sequence counter
// advances by one (wrapping at 256); on a TooLargeChunkError it does
// not advance, since the device never observed the frame (§4.3,
// rationale in the same section).
func (c *Client) Transceive(op Op, group Group, id uint8, body interface{}) (reqHeader, rspHeader Header, rsp map[string]interface{}, err error) {
	bodyBytes, err := encodeCBOR(body)
	if err != nil {
		return Header{}, Header{}, nil, err
	}

	reqHeader = Header{Op: op, Group: group, ID: id, Seq: c.seq, Len: uint16(len(bodyBytes))}
	frame := append(reqHeader.Marshal()[:], bodyBytes...)

	rspFrame, sendErr := c.transport.TransceiveRaw(frame)

	var tooLarge *TooLargeChunkError
	if errors.As(sendErr, &tooLarge) {
		// Rejected before the wire: seq must not advance.
		return reqHeader, Header{}, nil, sendErr
	}

	c.seq++

	if sendErr != nil {
		return reqHeader, Header{}, nil, sendErr
	}

	rspHeader, err = DecodeHeader(rspFrame)
	if err != nil {
		return reqHeader, Header{}, nil, err
	}

	rsp, err = decodeResponseMap(rspFrame[headerLen:])
	if err != nil {
		return reqHeader, rspHeader, nil, err
	}

	return reqHeader, rspHeader, rsp, nil
}

// validateEnvelope checks the request/response header pairing rules of
// §4.7: matching sequence id, matching group, and the op being the Rsp
// counterpart of the request's op.
func validateEnvelope(req, rsp Header) error {
	if rsp.Seq != req.Seq {
		return fmt.Errorf("%w: seq %d != %d", ErrWrongAnswerTypes, rsp.Seq, req.Seq)
	}
	if rsp.Group != req.Group {
		return fmt.Errorf("%w: group %d != %d", ErrWrongAnswerTypes, rsp.Group, req.Group)
	}
	want, ok := req.Op.responseOp()
	if !ok || rsp.Op != want {
		return fmt.Errorf("%w: op %s, want %s", ErrWrongAnswerTypes, rsp.Op, want)
	}
	return nil
}

// rcError extracts rc from a decoded response map and returns a
// DeviceError if it is non-zero. A missing rc key is treated as success,
// matching devices that omit rc entirely on the happy path.
func rcError(rsp map[string]interface{}) error {
	rc, ok := responseInt(rsp, "rc")
	if !ok || rc == 0 {
		return nil
	}
	return &DeviceError{Rc: int(rc)}
}
