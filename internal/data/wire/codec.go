// Package wire implements the self-describing, length-prefixed frame
// format used to serialize RuntimeData values across the IPC channel layer
// and shared-memory ring (spec.md §4.A/§6.2). Encoding uses stdlib
// encoding/binary throughout: no third-party serialization library in the
// pack targets a hand-rolled binary framing format, and the pack repos
// that hand-frame binary messages (the daemon heartbeat/stats wire
// formats) do the same.
package wire

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/mediarun/mediarun/internal/data"
)

// DefaultMaxPayloadSize is the default maximum encoded payload size for a
// single message (spec.md §4.D: "fixed build-time constant, default 10 MiB").
const DefaultMaxPayloadSize = 10 * 1024 * 1024

// MalformedFrameError reports any length inconsistency found while
// decoding a frame. No partial RuntimeData value is ever returned alongside
// this error.
type MalformedFrameError struct {
	Reason string
}

func (e *MalformedFrameError) Error() string {
	return fmt.Sprintf("malformed frame: %s", e.Reason)
}

func malformed(format string, args ...any) error {
	return &MalformedFrameError{Reason: fmt.Sprintf(format, args...)}
}

const (
	pixelFormatYUV420P byte = 1
	pixelFormatRGB24   byte = 2
	pixelFormatEncoded byte = 3

	dtypeF32 byte = 1
	dtypeI32 byte = 2
	dtypeI16 byte = 3
	dtypeU8  byte = 4

	controlKindCancelSpeculation byte = 1
	controlKindFlushSession      byte = 2
	controlKindReset             byte = 3
	controlKindCustom            byte = 0xFF
)

// Encode serializes v into the wire frame: a 1-byte tag, a length-prefixed
// session/stream correlation id, an 8-byte timestamp in nanoseconds, and a
// length-prefixed variant payload.
func Encode(v data.RuntimeData) ([]byte, error) {
	payload, err := encodePayload(v)
	if err != nil {
		return nil, err
	}
	if len(payload) > DefaultMaxPayloadSize {
		return nil, malformed("payload size %d exceeds max %d", len(payload), DefaultMaxPayloadSize)
	}

	streamID := frameStreamID(v)
	if len(streamID) > 0xFFFF {
		return nil, malformed("stream id length %d exceeds uint16 range", len(streamID))
	}

	buf := &bytes.Buffer{}
	buf.WriteByte(byte(data.TagOf(v)))

	writeUint16(buf, uint16(len(streamID)))
	buf.WriteString(streamID)

	writeUint64(buf, frameTimestampNs(v))

	writeUint32(buf, uint32(len(payload)))
	buf.Write(payload)

	return buf.Bytes(), nil
}

// Decode parses a wire frame back into a RuntimeData value. It never
// returns a partially-populated value: any length inconsistency yields a
// *MalformedFrameError and a nil RuntimeData.
func Decode(frame []byte) (data.RuntimeData, error) {
	r := bytes.NewReader(frame)

	tagByte, err := r.ReadByte()
	if err != nil {
		return nil, malformed("missing data_type tag")
	}
	tag := data.Tag(tagByte)

	streamIDLen, err := readUint16(r)
	if err != nil {
		return nil, malformed("truncated session_id length")
	}
	streamID := make([]byte, streamIDLen)
	if _, err := readFull(r, streamID); err != nil {
		return nil, malformed("truncated session_id: %v", err)
	}

	timestampNs, err := readUint64(r)
	if err != nil {
		return nil, malformed("truncated timestamp_ns")
	}

	payloadLen, err := readUint32(r)
	if err != nil {
		return nil, malformed("truncated payload length")
	}
	if int(payloadLen) > DefaultMaxPayloadSize {
		return nil, malformed("payload size %d exceeds max %d", payloadLen, DefaultMaxPayloadSize)
	}
	payload := make([]byte, payloadLen)
	if _, err := readFull(r, payload); err != nil {
		return nil, malformed("truncated payload: %v", err)
	}
	if r.Len() != 0 {
		return nil, malformed("%d trailing bytes after payload", r.Len())
	}

	return decodePayload(tag, string(streamID), timestampNs, payload)
}

func frameStreamID(v data.RuntimeData) string {
	switch t := v.(type) {
	case data.Audio:
		return t.StreamID
	case data.Video:
		return t.StreamID
	case data.File:
		return t.StreamID
	case data.ControlMessage:
		return t.SegmentID
	default:
		return ""
	}
}

func frameTimestampNs(v data.RuntimeData) uint64 {
	switch t := v.(type) {
	case data.Audio:
		return t.TimestampUs * 1000
	case data.Video:
		return t.TimestampUs * 1000
	case data.ControlMessage:
		return t.TimestampMs * 1_000_000
	default:
		return 0
	}
}

func encodePayload(v data.RuntimeData) ([]byte, error) {
	switch t := v.(type) {
	case data.Audio:
		return encodeAudio(t)
	case data.Video:
		return encodeVideo(t)
	case data.Text:
		return []byte(t), nil
	case data.Tensor:
		return encodeTensor(t)
	case data.ControlMessage:
		return encodeControlMessage(t)
	case data.File:
		return encodeFile(t)
	case data.Json:
		return json.Marshal(t.Value)
	case data.Binary:
		return []byte(t), nil
	default:
		return nil, fmt.Errorf("wire: unsupported RuntimeData type %T", v)
	}
}

func decodePayload(tag data.Tag, streamID string, timestampNs uint64, payload []byte) (data.RuntimeData, error) {
	switch tag {
	case data.TagAudio:
		return decodeAudio(streamID, timestampNs, payload)
	case data.TagVideo:
		return decodeVideo(streamID, timestampNs, payload)
	case data.TagText:
		return data.Text(payload), nil
	case data.TagTensor:
		return decodeTensor(payload)
	case data.TagNumpy:
		return decodeNumpyAsTensor(payload)
	case data.TagControlMessage:
		return decodeControlMessage(streamID, timestampNs, payload)
	case data.TagFile:
		return decodeFile(payload)
	case data.TagJson:
		var v any
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, malformed("invalid json payload: %v", err)
		}
		return data.Json{Value: v}, nil
	case data.TagBinary:
		out := make([]byte, len(payload))
		copy(out, payload)
		return data.Binary(out), nil
	default:
		return nil, malformed("unknown data_type tag %d", tag)
	}
}

func encodeAudio(a data.Audio) ([]byte, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	buf := &bytes.Buffer{}
	writeUint32(buf, a.SampleRate)
	writeUint16(buf, a.Channels)
	buf.Write([]byte{0, 0}) // 2 pad bytes
	writeInt64(buf, int64(a.NumSamples()))
	if err := binary.Write(buf, binary.LittleEndian, a.Samples); err != nil {
		return nil, fmt.Errorf("wire: encoding audio samples: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeAudio(streamID string, timestampNs uint64, payload []byte) (data.RuntimeData, error) {
	r := bytes.NewReader(payload)
	sampleRate, err := readUint32(r)
	if err != nil {
		return nil, malformed("audio: truncated sample_rate")
	}
	channels, err := readUint16(r)
	if err != nil {
		return nil, malformed("audio: truncated channels")
	}
	pad := make([]byte, 2)
	if _, err := readFull(r, pad); err != nil {
		return nil, malformed("audio: truncated padding")
	}
	numSamples, err := readInt64(r)
	if err != nil {
		return nil, malformed("audio: truncated num_samples")
	}
	if numSamples < 0 {
		return nil, malformed("audio: negative num_samples %d", numSamples)
	}
	total := int(numSamples) * int(channels)
	samples := make([]float32, total)
	if err := binary.Read(r, binary.LittleEndian, samples); err != nil {
		return nil, malformed("audio: truncated samples: %v", err)
	}
	if r.Len() != 0 {
		return nil, malformed("audio: %d trailing bytes", r.Len())
	}
	a := data.Audio{
		Samples:     samples,
		SampleRate:  sampleRate,
		Channels:    channels,
		StreamID:    streamID,
		TimestampUs: timestampNs / 1000,
	}
	return a, nil
}

func encodeVideo(v data.Video) ([]byte, error) {
	if err := v.Validate(); err != nil {
		return nil, err
	}
	pf, err := pixelFormatByte(v.PixelFormat)
	if err != nil {
		return nil, err
	}
	buf := &bytes.Buffer{}
	writeUint32(buf, v.Width)
	writeUint32(buf, v.Height)
	buf.WriteByte(pf)
	writeUint16(buf, uint16(len(v.Codec)))
	buf.WriteString(v.Codec)
	writeUint64(buf, v.FrameNumber)
	if v.IsKeyframe {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	writeUint32(buf, uint32(len(v.PixelData)))
	buf.Write(v.PixelData)
	return buf.Bytes(), nil
}

func decodeVideo(streamID string, timestampNs uint64, payload []byte) (data.RuntimeData, error) {
	r := bytes.NewReader(payload)
	width, err := readUint32(r)
	if err != nil {
		return nil, malformed("video: truncated width")
	}
	height, err := readUint32(r)
	if err != nil {
		return nil, malformed("video: truncated height")
	}
	pfByte, err := r.ReadByte()
	if err != nil {
		return nil, malformed("video: truncated pixel_format")
	}
	pf, err := pixelFormatFromByte(pfByte)
	if err != nil {
		return nil, err
	}
	codecLen, err := readUint16(r)
	if err != nil {
		return nil, malformed("video: truncated codec length")
	}
	codec := make([]byte, codecLen)
	if _, err := readFull(r, codec); err != nil {
		return nil, malformed("video: truncated codec")
	}
	frameNumber, err := readUint64(r)
	if err != nil {
		return nil, malformed("video: truncated frame_number")
	}
	keyframeByte, err := r.ReadByte()
	if err != nil {
		return nil, malformed("video: truncated is_keyframe")
	}
	dataLen, err := readUint32(r)
	if err != nil {
		return nil, malformed("video: truncated pixel_data length")
	}
	pixelData := make([]byte, dataLen)
	if _, err := readFull(r, pixelData); err != nil {
		return nil, malformed("video: truncated pixel_data")
	}
	if r.Len() != 0 {
		return nil, malformed("video: %d trailing bytes", r.Len())
	}
	return data.Video{
		PixelData:   pixelData,
		Width:       width,
		Height:      height,
		PixelFormat: pf,
		Codec:       string(codec),
		FrameNumber: frameNumber,
		TimestampUs: timestampNs / 1000,
		IsKeyframe:  keyframeByte != 0,
		StreamID:    streamID,
	}, nil
}

func pixelFormatByte(pf data.PixelFormat) (byte, error) {
	switch pf {
	case data.PixelFormatYUV420P:
		return pixelFormatYUV420P, nil
	case data.PixelFormatRGB24:
		return pixelFormatRGB24, nil
	case data.PixelFormatEncoded:
		return pixelFormatEncoded, nil
	default:
		return 0, fmt.Errorf("wire: unknown pixel format %q", pf)
	}
}

func pixelFormatFromByte(b byte) (data.PixelFormat, error) {
	switch b {
	case pixelFormatYUV420P:
		return data.PixelFormatYUV420P, nil
	case pixelFormatRGB24:
		return data.PixelFormatRGB24, nil
	case pixelFormatEncoded:
		return data.PixelFormatEncoded, nil
	default:
		return "", malformed("unknown pixel_format byte %d", b)
	}
}

func encodeTensor(t data.Tensor) ([]byte, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	dt, err := dtypeByte(t.DType)
	if err != nil {
		return nil, err
	}
	buf := &bytes.Buffer{}
	buf.WriteByte(dt)
	writeUint16(buf, uint16(len(t.Shape)))
	for _, dim := range t.Shape {
		writeUint32(buf, uint32(dim))
	}
	buf.Write(t.Buffer)
	return buf.Bytes(), nil
}

func decodeTensor(payload []byte) (data.RuntimeData, error) {
	r := bytes.NewReader(payload)
	dtByte, err := r.ReadByte()
	if err != nil {
		return nil, malformed("tensor: truncated dtype")
	}
	dt, err := dtypeFromByte(dtByte)
	if err != nil {
		return nil, err
	}
	ndim, err := readUint16(r)
	if err != nil {
		return nil, malformed("tensor: truncated ndim")
	}
	shape := make([]int, ndim)
	for i := range shape {
		dim, err := readUint32(r)
		if err != nil {
			return nil, malformed("tensor: truncated shape dimension %d", i)
		}
		shape[i] = int(dim)
	}
	buffer := make([]byte, r.Len())
	if _, err := readFull(r, buffer); err != nil {
		return nil, malformed("tensor: truncated buffer")
	}
	return data.Tensor{Shape: shape, DType: dt, Buffer: buffer}, nil
}

// decodeNumpyAsTensor decodes a legacy Numpy-tagged frame (dtype name
// string instead of a single byte) into a Tensor value.
func decodeNumpyAsTensor(payload []byte) (data.RuntimeData, error) {
	r := bytes.NewReader(payload)
	dtypeLen, err := readUint16(r)
	if err != nil {
		return nil, malformed("numpy: truncated dtype length")
	}
	dtypeName := make([]byte, dtypeLen)
	if _, err := readFull(r, dtypeName); err != nil {
		return nil, malformed("numpy: truncated dtype name")
	}
	dt, err := dtypeFromName(string(dtypeName))
	if err != nil {
		return nil, err
	}
	ndim, err := readUint16(r)
	if err != nil {
		return nil, malformed("numpy: truncated ndim")
	}
	shape := make([]int, ndim)
	for i := range shape {
		dim, err := readUint32(r)
		if err != nil {
			return nil, malformed("numpy: truncated shape dimension %d", i)
		}
		shape[i] = int(dim)
	}
	buffer := make([]byte, r.Len())
	if _, err := readFull(r, buffer); err != nil {
		return nil, malformed("numpy: truncated buffer")
	}
	return data.Tensor{Shape: shape, DType: dt, Buffer: buffer}, nil
}

func dtypeByte(dt data.DType) (byte, error) {
	switch dt {
	case data.DTypeF32:
		return dtypeF32, nil
	case data.DTypeI32:
		return dtypeI32, nil
	case data.DTypeI16:
		return dtypeI16, nil
	case data.DTypeU8:
		return dtypeU8, nil
	default:
		return 0, fmt.Errorf("wire: unknown dtype %q", dt)
	}
}

func dtypeFromByte(b byte) (data.DType, error) {
	switch b {
	case dtypeF32:
		return data.DTypeF32, nil
	case dtypeI32:
		return data.DTypeI32, nil
	case dtypeI16:
		return data.DTypeI16, nil
	case dtypeU8:
		return data.DTypeU8, nil
	default:
		return "", malformed("unknown dtype byte %d", b)
	}
}

func dtypeFromName(name string) (data.DType, error) {
	switch name {
	case "float32", "f32":
		return data.DTypeF32, nil
	case "int32", "i32":
		return data.DTypeI32, nil
	case "int16", "i16":
		return data.DTypeI16, nil
	case "uint8", "u8":
		return data.DTypeU8, nil
	default:
		return "", malformed("unknown numpy dtype %q", name)
	}
}

func encodeControlMessage(c data.ControlMessage) ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	metaJSON, err := json.Marshal(c.Metadata)
	if err != nil {
		return nil, fmt.Errorf("wire: encoding control message metadata: %w", err)
	}

	buf := &bytes.Buffer{}
	kindByte, customName := controlKindByte(c.Kind)
	buf.WriteByte(kindByte)
	if kindByte == controlKindCustom {
		writeUint16(buf, uint16(len(customName)))
		buf.WriteString(customName)
	}
	writeUint16(buf, uint16(len(c.SegmentID)))
	buf.WriteString(c.SegmentID)
	writeUint64(buf, c.TimestampMs)
	writeUint64(buf, c.FromTs)
	writeUint64(buf, c.ToTs)
	writeUint32(buf, uint32(len(metaJSON)))
	buf.Write(metaJSON)
	return buf.Bytes(), nil
}

func decodeControlMessage(streamID string, timestampNs uint64, payload []byte) (data.RuntimeData, error) {
	r := bytes.NewReader(payload)
	kindByte, err := r.ReadByte()
	if err != nil {
		return nil, malformed("control message: truncated kind")
	}
	kind, err := controlKindFromByte(kindByte, r)
	if err != nil {
		return nil, err
	}
	segmentIDLen, err := readUint16(r)
	if err != nil {
		return nil, malformed("control message: truncated segment_id length")
	}
	segmentID := make([]byte, segmentIDLen)
	if _, err := readFull(r, segmentID); err != nil {
		return nil, malformed("control message: truncated segment_id")
	}
	timestampMs, err := readUint64(r)
	if err != nil {
		return nil, malformed("control message: truncated timestamp_ms")
	}
	fromTs, err := readUint64(r)
	if err != nil {
		return nil, malformed("control message: truncated from_ts")
	}
	toTs, err := readUint64(r)
	if err != nil {
		return nil, malformed("control message: truncated to_ts")
	}
	metaLen, err := readUint32(r)
	if err != nil {
		return nil, malformed("control message: truncated metadata length")
	}
	metaJSON := make([]byte, metaLen)
	if _, err := readFull(r, metaJSON); err != nil {
		return nil, malformed("control message: truncated metadata")
	}
	var metadata map[string]any
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &metadata); err != nil {
			return nil, malformed("control message: invalid metadata json: %v", err)
		}
	}

	sid := string(segmentID)
	if sid == "" {
		sid = streamID
	}
	return data.ControlMessage{
		Kind:        kind,
		SegmentID:   sid,
		TimestampMs: timestampMs,
		Metadata:    metadata,
		FromTs:      fromTs,
		ToTs:        toTs,
	}, nil
}

func controlKindByte(kind data.ControlKind) (byte, string) {
	switch kind {
	case data.ControlKindCancelSpeculation:
		return controlKindCancelSpeculation, ""
	case data.ControlKindFlushSession:
		return controlKindFlushSession, ""
	case data.ControlKindReset:
		return controlKindReset, ""
	default:
		return controlKindCustom, string(kind)
	}
}

func controlKindFromByte(b byte, r *bytes.Reader) (data.ControlKind, error) {
	switch b {
	case controlKindCancelSpeculation:
		return data.ControlKindCancelSpeculation, nil
	case controlKindFlushSession:
		return data.ControlKindFlushSession, nil
	case controlKindReset:
		return data.ControlKindReset, nil
	case controlKindCustom:
		nameLen, err := readUint16(r)
		if err != nil {
			return "", malformed("control message: truncated custom kind length")
		}
		name := make([]byte, nameLen)
		if _, err := readFull(r, name); err != nil {
			return "", malformed("control message: truncated custom kind")
		}
		return data.ControlKind(name), nil
	default:
		return "", malformed("unknown control message kind byte %d", b)
	}
}

func encodeFile(f data.File) ([]byte, error) {
	buf := &bytes.Buffer{}
	writeUint16(buf, uint16(len(f.Path)))
	buf.WriteString(f.Path)
	writeUint16(buf, uint16(len(f.Filename)))
	buf.WriteString(f.Filename)
	writeUint16(buf, uint16(len(f.Mime)))
	buf.WriteString(f.Mime)
	writeUint64(buf, f.Size)
	writeUint64(buf, f.Offset)
	writeUint64(buf, f.Length)
	writeUint16(buf, uint16(len(f.StreamID)))
	buf.WriteString(f.StreamID)
	return buf.Bytes(), nil
}

func decodeFile(payload []byte) (data.RuntimeData, error) {
	r := bytes.NewReader(payload)

	path, err := readLenPrefixedString16(r)
	if err != nil {
		return nil, malformed("file: truncated path: %v", err)
	}
	filename, err := readLenPrefixedString16(r)
	if err != nil {
		return nil, malformed("file: truncated filename: %v", err)
	}
	mime, err := readLenPrefixedString16(r)
	if err != nil {
		return nil, malformed("file: truncated mime: %v", err)
	}
	size, err := readUint64(r)
	if err != nil {
		return nil, malformed("file: truncated size")
	}
	offset, err := readUint64(r)
	if err != nil {
		return nil, malformed("file: truncated offset")
	}
	length, err := readUint64(r)
	if err != nil {
		return nil, malformed("file: truncated length")
	}
	streamID, err := readLenPrefixedString16(r)
	if err != nil {
		return nil, malformed("file: truncated stream_id: %v", err)
	}
	if r.Len() != 0 {
		return nil, malformed("file: %d trailing bytes", r.Len())
	}

	return data.File{
		Path:     path,
		Filename: filename,
		Mime:     mime,
		Size:     size,
		Offset:   offset,
		Length:   length,
		StreamID: streamID,
	}, nil
}

func readLenPrefixedString16(r *bytes.Reader) (string, error) {
	n, err := readUint16(r)
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := readFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func writeUint16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeInt64(buf *bytes.Buffer, v int64) {
	writeUint64(buf, uint64(v))
}

func readUint16(r *bytes.Reader) (uint16, error) {
	var b [2]byte
	if _, err := readFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b[:]), nil
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := readFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func readUint64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := readFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func readInt64(r *bytes.Reader) (int64, error) {
	v, err := readUint64(r)
	return int64(v), err
}

func readFull(r *bytes.Reader, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	if r.Len() < len(buf) {
		return 0, fmt.Errorf("need %d bytes, have %d", len(buf), r.Len())
	}
	return r.Read(buf)
}
