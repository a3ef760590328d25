package smp

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Erase sends an Image/Erase request for slot (nil erases the default
// inactive slot), per §4.6.
func Erase(client *Client, slot *uint32) error {
	req := ImageEraseReq{Slot: slot}

	reqHeader, rspHeader, rsp, err := client.Transceive(OpWrite, GroupImage, IDImageErase, req)
	if err != nil {
		return err
	}
	if err := validateEnvelope(reqHeader, rspHeader); err != nil {
		return err
	}
	return rcError(rsp)
}

// List sends an Image/State read request and decodes the device's
// reported image slots, per §4.6.
func List(client *Client) (ImageStateRsp, error) {
	req := struct{}{}

	reqHeader, rspHeader, rsp, err := client.Transceive(OpRead, GroupImage, IDImageState, req)
	if err != nil {
		return ImageStateRsp{}, err
	}
	if err := validateEnvelope(reqHeader, rspHeader); err != nil {
		return ImageStateRsp{}, err
	}
	if err := rcError(rsp); err != nil {
		return ImageStateRsp{}, err
	}

	body, err := encodeCBOR(rsp)
	if err != nil {
		return ImageStateRsp{}, err
	}
	var state ImageStateRsp
	if err := decodeCBOR(body, &state); err != nil {
		return ImageStateRsp{}, fmt.Errorf("%w: %s", ErrWrongAnswerTypes, err)
	}
	return state, nil
}

// Test sends an Image/State write request marking the image identified
// by hash pending (confirm == nil or false) or permanent (confirm ==
// true), per §4.6.
func Test(client *Client, hash []byte, confirm *bool) error {
	req := ImageStateReq{Hash: hash, Confirm: confirm}

	reqHeader, rspHeader, rsp, err := client.Transceive(OpWrite, GroupImage, IDImageState, req)
	if err != nil {
		return err
	}
	if err := validateEnvelope(reqHeader, rspHeader); err != nil {
		return err
	}
	return rcError(rsp)
}

// resolveSlot applies the backwards-compatible filename heuristic from
// §4.6: a filename containing "slot1" or "slot3" (case-insensitive)
// overrides the caller-supplied slot.
func resolveSlot(filename string, slot uint8) uint8 {
	lower := strings.ToLower(filename)
	switch {
	case strings.Contains(lower, "slot1"):
		return 1
	case strings.Contains(lower, "slot3"):
		return 3
	default:
		return slot
	}
}

// Upload transfers data to slot, chunking it to the transport's MTU and
// following the device's offset acknowledgments, per §4.6. filename is
// only consulted for the slot-override heuristic; progress, if
// non-nil, is invoked after every successfully acknowledged chunk.
func Upload(client *Client, filename string, data []byte, slot uint8, nbRetry uint32, progress func(offset, total int)) error {
	slot = resolveSlot(filename, slot)
	slog.Info("smp: uploading image", "filename", filename, "slot", slot, "bytes", len(data))

	sha := sha256.Sum256(data)

	offset := 0
	tryLength := client.Transport().MTU()
	sentBlocks := 0
	confirmedBlocks := 0
	start := time.Now()

	for offset < len(data) {
		retriesRemaining := nbRetry
		offsetStart := offset

		for {
			end := min(offset+tryLength, len(data))
			chunk := data[offset:end]

			req := ImageUploadReq{Image: slot, Off: uint32(offset), Data: chunk}
			if offset == 0 {
				length := uint32(len(data))
				req.Len = &length
				req.Sha = sha[:]
			}

			sentBlocks++
			_, rc, off, err := sendUploadChunk(client, req)

			tooLarge := asTooLargeChunk(err)
			switch {
			case errors.Is(err, ErrTimeout):
				if retriesRemaining == 0 {
					return fmt.Errorf("smp: upload: %w", err)
				}
				retriesRemaining--
				sentBlocks--
				slog.Warn("smp: upload chunk timed out, retrying", "offset", offset, "retries_remaining", retriesRemaining)
				continue

			case tooLarge != nil:
				if tooLarge.Reduce > tryLength {
					return fmt.Errorf("smp: upload: %w", ErrMtuTooSmall)
				}
				tryLength -= tooLarge.Reduce
				sentBlocks--
				slog.Debug("smp: upload chunk too large, shrinking", "new_try_length", tryLength)
				continue

			case err != nil:
				return fmt.Errorf("smp: upload: %w", err)
			}

			if rc != 0 {
				return fmt.Errorf("smp: upload: %w", &DeviceError{Rc: rc})
			}

			offset = off
			confirmedBlocks++
			break
		}

		if offset == offsetStart {
			return fmt.Errorf("smp: upload: %w", ErrNoProgress)
		}

		if progress != nil {
			progress(offset, len(data))
		}
	}

	elapsed := time.Since(start)
	slog.Info("smp: upload complete", "elapsed", elapsed, "sent_blocks", sentBlocks, "confirmed_blocks", confirmedBlocks)
	if confirmedBlocks < sentBlocks {
		lossPct := 100 - 100*confirmedBlocks/sentBlocks
		slog.Warn("smp: upload packet loss", "loss_pct", lossPct)
	}

	return nil
}

func asTooLargeChunk(err error) *TooLargeChunkError {
	var tooLarge *TooLargeChunkError
	if errors.As(err, &tooLarge) {
		return tooLarge
	}
	return nil
}

// sendUploadChunk performs one Image/Upload request/response exchange
// and extracts the rc/off fields a caller needs to drive the pipeline,
// without collapsing transport-level errors (timeout, too-large-chunk)
// that the upload loop must branch on.
func sendUploadChunk(client *Client, req ImageUploadReq) (rspHeader Header, rc int, off int, err error) {
	reqHeader, rspHeader, rsp, err := client.Transceive(OpWrite, GroupImage, IDImageUpload, req)
	if err != nil {
		return Header{}, 0, 0, err
	}
	if err := validateEnvelope(reqHeader, rspHeader); err != nil {
		return Header{}, 0, 0, err
	}

	rcVal, _ := responseInt(rsp, "rc")
	offVal, ok := responseInt(rsp, "off")
	if !ok && rcVal == 0 {
		return Header{}, 0, 0, fmt.Errorf("%w: response missing off", ErrWrongAnswerTypes)
	}

	return rspHeader, int(rcVal), int(offVal), nil
}
