package native

import (
	"encoding/binary"
	"io"

	"github.com/cockroachdb/errors"

	"github.com/postwing/postwing/internal/faults"
)

// Chrome caps native-messaging frames at 1MB toward the browser; the same
// bound is applied in both directions here.
const maxFrameSize = 1 << 20

// WriteFrame writes one frame: a 4-byte little-endian body length followed
// by the UTF-8 JSON body.
func WriteFrame(w io.Writer, body []byte) error {
	if len(body) > maxFrameSize {
		return errors.Wrapf(faults.ErrProtocol, "frame of %d bytes exceeds limit", len(body))
	}
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(body)))
	if _, err := w.Write(hdr[:]); err != nil {
		return errors.Wrap(err, "write frame header")
	}
	if _, err := w.Write(body); err != nil {
		return errors.Wrap(err, "write frame body")
	}
	return nil
}

// ReadFrame reads one length-prefixed frame. A stream ending cleanly on a
// frame boundary returns io.EOF. A stream truncated mid-header or mid-body
// returns io.ErrUnexpectedEOF so a partial body is never handed back as a
// complete message.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, io.ErrUnexpectedEOF
	}
	n := binary.LittleEndian.Uint32(hdr[:])
	if n > maxFrameSize {
		return nil, errors.Wrapf(faults.ErrProtocol, "declared frame length %d exceeds limit", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, io.ErrUnexpectedEOF
	}
	return body, nil
}
