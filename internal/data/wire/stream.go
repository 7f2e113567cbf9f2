package wire

import (
	"encoding/binary"
	"io"

	"github.com/mediarun/mediarun/internal/data"
)

// WriteFrame encodes v and writes it to w as a single frame. Unlike Encode,
// which returns the frame bytes for a caller that already has its own
// transport framing (the shm ring, the IPC channel), WriteFrame is for
// byte streams with no external message boundaries, such as a socket or
// stdin/stdout: the frame's own length-prefixed structure is what lets a
// reader on the other end find the boundary.
func WriteFrame(w io.Writer, v data.RuntimeData) error {
	frame, err := Encode(v)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}

// ReadFrame reads exactly one wire frame from r and decodes it. It parses
// the header progressively (tag, stream id, timestamp, payload length)
// since the frame carries no outer length prefix of its own; the payload
// length field read along the way is what tells ReadFrame how many payload
// bytes to consume. Returns io.EOF only if zero bytes were read before the
// stream ended; a stream that ends partway through a frame returns a
// *MalformedFrameError whose reason text includes the underlying read
// error (the read error itself is not wrapped).
func ReadFrame(r io.Reader) (data.RuntimeData, error) {
	var header [1 + 2]byte
	if _, err := io.ReadFull(r, header[:1]); err != nil {
		return nil, err
	}
	tag := data.Tag(header[0])

	if _, err := io.ReadFull(r, header[1:]); err != nil {
		return nil, malformed("truncated session_id length: %v", err)
	}
	streamIDLen := binary.LittleEndian.Uint16(header[1:])

	streamID := make([]byte, streamIDLen)
	if _, err := io.ReadFull(r, streamID); err != nil {
		return nil, malformed("truncated session_id: %v", err)
	}

	var tsBuf [8]byte
	if _, err := io.ReadFull(r, tsBuf[:]); err != nil {
		return nil, malformed("truncated timestamp_ns: %v", err)
	}
	timestampNs := binary.LittleEndian.Uint64(tsBuf[:])

	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, malformed("truncated payload length: %v", err)
	}
	payloadLen := binary.LittleEndian.Uint32(lenBuf[:])
	if int(payloadLen) > DefaultMaxPayloadSize {
		return nil, malformed("payload size %d exceeds max %d", payloadLen, DefaultMaxPayloadSize)
	}

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, malformed("truncated payload: %v", err)
	}

	return decodePayload(tag, string(streamID), timestampNs, payload)
}
