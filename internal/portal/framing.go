package portal

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/mirrorx/endpoint/internal/wire"
)

// writeFrame writes a 2-byte little-endian length prefix followed by
// payload, matching the portal TCP endpoint's framing.
func writeFrame(w io.Writer, payload []byte) error {
	if len(payload) > wire.MaxPortalFrameSize {
		return fmt.Errorf("portal frame of %d bytes exceeds max %d", len(payload), wire.MaxPortalFrameSize)
	}
	var header [2]byte
	binary.LittleEndian.PutUint16(header[:], uint16(len(payload)))

	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("write portal length prefix: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write portal payload: %w", err)
	}
	return nil
}

func readFrame(r io.Reader) ([]byte, error) {
	var header [2]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("read portal length prefix: %w", err)
	}

	length := binary.LittleEndian.Uint16(header[:])
	if int(length) > wire.MaxPortalFrameSize {
		return nil, fmt.Errorf("portal frame length %d exceeds max %d", length, wire.MaxPortalFrameSize)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read portal payload: %w", err)
	}
	return payload, nil
}
