// Package data defines RuntimeData, the discriminated union that flows on
// every edge of a streaming graph, and the structural invariants each
// variant must satisfy before it may be published to a channel.
package data

import (
	"fmt"
	"regexp"
)

// RuntimeData is the sealed union of values that may travel on an edge.
// The unexported method prevents types outside this package from
// satisfying the interface, the same closed-set trick tvarr's
// internal/pipeline/core package uses for its Artifact/stage result types.
type RuntimeData interface {
	runtimeDataTag() Tag
}

// Tag identifies a RuntimeData variant on the wire (see internal/data/wire).
// Values are fixed and never renumbered; only additive tags are introduced.
type Tag uint8

const (
	TagAudio          Tag = 1
	TagVideo          Tag = 2
	TagText           Tag = 3
	TagTensor         Tag = 4
	TagControlMessage Tag = 5
	// TagNumpy is a decode-only alias: frames tagged Numpy decode into a
	// Tensor value. This repo never encodes TagNumpy, only TagTensor.
	TagNumpy Tag = 6
	TagFile  Tag = 7
	// TagJson and TagBinary are additive tags not present in the frozen
	// wire table: the data model names Json/Binary variants but the wire
	// format table only enumerates seven tags. Introduced here as the
	// next two values per the wire format's "only additive variants" rule.
	TagJson   Tag = 8
	TagBinary Tag = 9
)

func (t Tag) String() string {
	switch t {
	case TagAudio:
		return "Audio"
	case TagVideo:
		return "Video"
	case TagText:
		return "Text"
	case TagTensor:
		return "Tensor"
	case TagControlMessage:
		return "ControlMessage"
	case TagNumpy:
		return "Numpy"
	case TagFile:
		return "File"
	case TagJson:
		return "Json"
	case TagBinary:
		return "Binary"
	default:
		return fmt.Sprintf("Tag(%d)", uint8(t))
	}
}

// PixelFormat identifies the layout of Video.PixelData.
type PixelFormat string

const (
	PixelFormatYUV420P PixelFormat = "YUV420P"
	PixelFormatRGB24   PixelFormat = "RGB24"
	PixelFormatEncoded PixelFormat = "Encoded"
)

// DType identifies the element type of a Tensor buffer.
type DType string

const (
	DTypeF32 DType = "F32"
	DTypeI32 DType = "I32"
	DTypeI16 DType = "I16"
	DTypeU8  DType = "U8"
)

// Size returns the byte width of a single element, or 0 for an unknown dtype.
func (d DType) Size() int {
	switch d {
	case DTypeF32, DTypeI32:
		return 4
	case DTypeI16:
		return 2
	case DTypeU8:
		return 1
	default:
		return 0
	}
}

// ControlKind identifies the purpose of a ControlMessage. Kinds outside the
// well-known set are treated as opaque and passed through untouched.
type ControlKind string

const (
	ControlKindCancelSpeculation ControlKind = "CancelSpeculation"
	ControlKindFlushSession      ControlKind = "FlushSession"
	ControlKindReset             ControlKind = "Reset"
)

// Audio is a chunk of interleaved 32-bit float PCM samples.
type Audio struct {
	Samples     []float32
	SampleRate  uint32
	Channels    uint16
	StreamID    string
	TimestampUs uint64
	ArrivalTsUs uint64
}

func (Audio) runtimeDataTag() Tag { return TagAudio }

// Validate checks Audio's structural invariants (spec.md §3.1).
func (a Audio) Validate() error {
	if a.Channels == 0 {
		return fmt.Errorf("audio: channels must be non-zero")
	}
	if len(a.Samples)%int(a.Channels) != 0 {
		return fmt.Errorf("audio: samples length %d is not a multiple of channels %d", len(a.Samples), a.Channels)
	}
	if a.StreamID != "" {
		if err := ValidateStreamID("audio", a.StreamID); err != nil {
			return err
		}
	}
	return nil
}

// NumSamples returns the per-channel sample count.
func (a Audio) NumSamples() int {
	if a.Channels == 0 {
		return 0
	}
	return len(a.Samples) / int(a.Channels)
}

// Video is a single decoded or encoded video frame.
type Video struct {
	PixelData   []byte
	Width       uint32
	Height      uint32
	PixelFormat PixelFormat
	Codec       string
	FrameNumber uint64
	TimestampUs uint64
	IsKeyframe  bool
	StreamID    string
}

func (Video) runtimeDataTag() Tag { return TagVideo }

// Validate checks Video's structural invariants (spec.md §3.1).
func (v Video) Validate() error {
	if v.PixelFormat == PixelFormatYUV420P {
		if v.Width%2 != 0 || v.Height%2 != 0 {
			return fmt.Errorf("video: YUV420P requires even dimensions, got %dx%d", v.Width, v.Height)
		}
		want := int(v.Width) * int(v.Height) * 3 / 2
		if len(v.PixelData) != want {
			return fmt.Errorf("video: YUV420P pixel_data length %d, want %d for %dx%d", len(v.PixelData), want, v.Width, v.Height)
		}
	}
	if v.StreamID != "" {
		if err := ValidateStreamID("video", v.StreamID); err != nil {
			return err
		}
	}
	return nil
}

// Tensor is an n-dimensional array with a row-major byte buffer.
type Tensor struct {
	Shape  []int
	DType  DType
	Buffer []byte
}

func (Tensor) runtimeDataTag() Tag { return TagTensor }

// Validate checks Tensor's structural invariant: product(shape)*sizeof(dtype) == len(buffer).
func (t Tensor) Validate() error {
	elemSize := t.DType.Size()
	if elemSize == 0 {
		return fmt.Errorf("tensor: unknown dtype %q", t.DType)
	}
	product := 1
	for _, dim := range t.Shape {
		if dim < 0 {
			return fmt.Errorf("tensor: negative shape dimension %d", dim)
		}
		product *= dim
	}
	want := product * elemSize
	if len(t.Buffer) != want {
		return fmt.Errorf("tensor: buffer length %d, want %d for shape %v dtype %s", len(t.Buffer), want, t.Shape, t.DType)
	}
	return nil
}

// Text is a plain UTF-8 string value.
type Text string

func (Text) runtimeDataTag() Tag { return TagText }

// Json is an arbitrary JSON-compatible value.
type Json struct {
	Value any
}

func (Json) runtimeDataTag() Tag { return TagJson }

// Binary is an opaque byte sequence with no structural invariant.
type Binary []byte

func (Binary) runtimeDataTag() Tag { return TagBinary }

// ControlMessage carries session or stream control signalling out of band
// from media payloads: speculative retraction, flush, reset, or an
// implementation-defined opaque kind.
type ControlMessage struct {
	Kind        ControlKind
	SegmentID   string
	TimestampMs uint64
	Metadata    map[string]any
	// FromTs/ToTs are populated when Kind == ControlKindCancelSpeculation;
	// they name the half-open timestamp range being retracted.
	FromTs uint64
	ToTs   uint64
}

func (ControlMessage) runtimeDataTag() Tag { return TagControlMessage }

// Validate checks ControlMessage's structural invariants.
func (c ControlMessage) Validate() error {
	if c.Kind == ControlKindCancelSpeculation && c.ToTs < c.FromTs {
		return fmt.Errorf("control message: cancel_speculation to_ts %d < from_ts %d", c.ToTs, c.FromTs)
	}
	return nil
}

// File references an external byte range rather than embedding media data
// inline.
type File struct {
	Path     string
	Filename string
	Mime     string
	Size     uint64
	Offset   uint64
	Length   uint64
	StreamID string
}

func (File) runtimeDataTag() Tag { return TagFile }

// streamIDPattern enforces the "{media_type}:{index}" convention from
// spec.md §3.1.
var streamIDPattern = regexp.MustCompile(`^[a-z]+:[0-9]+$`)

// ValidateStreamID checks that id follows the "{media_type}:{index}"
// convention and that its media_type prefix matches want.
func ValidateStreamID(want, id string) error {
	if !streamIDPattern.MatchString(id) {
		return fmt.Errorf("stream_id %q does not match \"{media_type}:{index}\"", id)
	}
	if len(id) <= len(want) || id[:len(want)] != want || id[len(want)] != ':' {
		return fmt.Errorf("stream_id %q does not start with media type %q", id, want)
	}
	return nil
}

// TagOf returns the wire tag for a RuntimeData value.
func TagOf(v RuntimeData) Tag {
	return v.runtimeDataTag()
}

// Validate dispatches to the variant's own Validate method, if it has one.
// Text, Json, and Binary have no structural invariant beyond well-formedness.
func Validate(v RuntimeData) error {
	switch t := v.(type) {
	case Audio:
		return t.Validate()
	case Video:
		return t.Validate()
	case Tensor:
		return t.Validate()
	case ControlMessage:
		return t.Validate()
	default:
		return nil
	}
}
