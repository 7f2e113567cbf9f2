package data

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTagOf(t *testing.T) {
	assert.Equal(t, TagAudio, TagOf(Audio{Channels: 1}))
	assert.Equal(t, TagVideo, TagOf(Video{}))
	assert.Equal(t, TagText, TagOf(Text("hi")))
	assert.Equal(t, TagTensor, TagOf(Tensor{}))
	assert.Equal(t, TagControlMessage, TagOf(ControlMessage{}))
	assert.Equal(t, TagFile, TagOf(File{}))
	assert.Equal(t, TagJson, TagOf(Json{}))
	assert.Equal(t, TagBinary, TagOf(Binary{}))
}

func TestAudio_Validate(t *testing.T) {
	t.Run("valid stereo chunk", func(t *testing.T) {
		a := Audio{Samples: make([]float32, 8), SampleRate: 16000, Channels: 2}
		assert.NoError(t, a.Validate())
		assert.Equal(t, 4, a.NumSamples())
	})

	t.Run("samples not a multiple of channels", func(t *testing.T) {
		a := Audio{Samples: make([]float32, 7), SampleRate: 16000, Channels: 2}
		assert.Error(t, a.Validate())
	})

	t.Run("zero channels", func(t *testing.T) {
		a := Audio{Samples: make([]float32, 4), SampleRate: 16000, Channels: 0}
		assert.Error(t, a.Validate())
	})

	t.Run("valid stream id", func(t *testing.T) {
		a := Audio{Samples: make([]float32, 2), Channels: 1, StreamID: "audio:0"}
		assert.NoError(t, a.Validate())
	})

	t.Run("stream id wrong media type", func(t *testing.T) {
		a := Audio{Samples: make([]float32, 2), Channels: 1, StreamID: "video:0"}
		assert.Error(t, a.Validate())
	})
}

func TestVideo_Validate(t *testing.T) {
	t.Run("valid YUV420P frame", func(t *testing.T) {
		v := Video{
			PixelData:   make([]byte, 4*4*3/2),
			Width:       4,
			Height:      4,
			PixelFormat: PixelFormatYUV420P,
		}
		assert.NoError(t, v.Validate())
	})

	t.Run("odd dimensions rejected", func(t *testing.T) {
		v := Video{PixelData: make([]byte, 100), Width: 3, Height: 4, PixelFormat: PixelFormatYUV420P}
		assert.Error(t, v.Validate())
	})

	t.Run("wrong buffer length rejected", func(t *testing.T) {
		v := Video{PixelData: make([]byte, 10), Width: 4, Height: 4, PixelFormat: PixelFormatYUV420P}
		assert.Error(t, v.Validate())
	})

	t.Run("encoded format skips raw layout check", func(t *testing.T) {
		v := Video{PixelData: []byte{0x00, 0x01, 0x02}, Width: 1920, Height: 1080, PixelFormat: PixelFormatEncoded}
		assert.NoError(t, v.Validate())
	})
}

func TestTensor_Validate(t *testing.T) {
	t.Run("valid F32 tensor", func(t *testing.T) {
		tns := Tensor{Shape: []int{2, 3}, DType: DTypeF32, Buffer: make([]byte, 2*3*4)}
		assert.NoError(t, tns.Validate())
	})

	t.Run("valid U8 tensor", func(t *testing.T) {
		tns := Tensor{Shape: []int{10}, DType: DTypeU8, Buffer: make([]byte, 10)}
		assert.NoError(t, tns.Validate())
	})

	t.Run("mismatched buffer length", func(t *testing.T) {
		tns := Tensor{Shape: []int{2, 3}, DType: DTypeF32, Buffer: make([]byte, 4)}
		assert.Error(t, tns.Validate())
	})

	t.Run("unknown dtype", func(t *testing.T) {
		tns := Tensor{Shape: []int{1}, DType: "weird", Buffer: make([]byte, 1)}
		assert.Error(t, tns.Validate())
	})

	t.Run("negative shape dimension", func(t *testing.T) {
		tns := Tensor{Shape: []int{-1}, DType: DTypeU8, Buffer: nil}
		assert.Error(t, tns.Validate())
	})
}

func TestControlMessage_Validate(t *testing.T) {
	t.Run("valid cancel speculation", func(t *testing.T) {
		cm := ControlMessage{Kind: ControlKindCancelSpeculation, FromTs: 100, ToTs: 200}
		assert.NoError(t, cm.Validate())
	})

	t.Run("inverted range rejected", func(t *testing.T) {
		cm := ControlMessage{Kind: ControlKindCancelSpeculation, FromTs: 200, ToTs: 100}
		assert.Error(t, cm.Validate())
	})

	t.Run("non-cancel kinds ignore ts range", func(t *testing.T) {
		cm := ControlMessage{Kind: ControlKindFlushSession, FromTs: 200, ToTs: 100}
		assert.NoError(t, cm.Validate())
	})
}

func TestValidateStreamID(t *testing.T) {
	assert.NoError(t, ValidateStreamID("audio", "audio:0"))
	assert.NoError(t, ValidateStreamID("video", "video:12"))
	assert.Error(t, ValidateStreamID("audio", "video:0"))
	assert.Error(t, ValidateStreamID("audio", "not-a-stream-id"))
	assert.Error(t, ValidateStreamID("audio", "au:0"))
}

func TestValidate_Dispatch(t *testing.T) {
	assert.Error(t, Validate(Audio{Samples: make([]float32, 3), Channels: 2}))
	assert.NoError(t, Validate(Text("hello")))
	assert.NoError(t, Validate(Binary{0x01}))
	assert.NoError(t, Validate(Json{Value: map[string]any{"a": 1}}))
}

func TestDType_Size(t *testing.T) {
	assert.Equal(t, 4, DTypeF32.Size())
	assert.Equal(t, 4, DTypeI32.Size())
	assert.Equal(t, 2, DTypeI16.Size())
	assert.Equal(t, 1, DTypeU8.Size())
	assert.Equal(t, 0, DType("unknown").Size())
}

func TestTag_String(t *testing.T) {
	assert.Equal(t, "Audio", TagAudio.String())
	assert.Equal(t, "Numpy", TagNumpy.String())
	assert.Contains(t, Tag(200).String(), "Tag(200)")
}
