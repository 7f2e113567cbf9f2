package capability

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediarun/mediarun/internal/data"
	"github.com/mediarun/mediarun/internal/node"
)

type stubNode struct {
	node.BaseNode
	nodeType string
}

func (s stubNode) NodeType() string                                 { return s.nodeType }
func (s stubNode) Traits() node.Traits                               { return node.Parallelizable }
func (s stubNode) Initialize(ctx context.Context) error              { return nil }
func (s stubNode) Cleanup(ctx context.Context) error                 { return nil }
func (s stubNode) Process(ctx context.Context, in data.RuntimeData) (data.RuntimeData, error) {
	return in, nil
}

func newStubFactory(nodeType string) Factory {
	return func() (node.Node, error) { return stubNode{nodeType: nodeType}, nil }
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	err := r.Register("vad", newStubFactory("vad"), nil, FieldConstraints{MediaType: MediaAudio}, FieldConstraints{MediaType: MediaAudio}, node.Parallelizable)
	require.NoError(t, err)

	entry, ok := r.Get("vad")
	require.True(t, ok)
	assert.Equal(t, "vad", entry.NodeType)
	assert.True(t, entry.Traits.Has(node.Parallelizable))

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestRegistry_RejectsInvalidSchemaAtRegistration(t *testing.T) {
	r := NewRegistry()
	badSchema := json.RawMessage(`{not json`)
	err := r.Register("broken", newStubFactory("broken"), badSchema, FieldConstraints{}, FieldConstraints{}, 0)
	assert.Error(t, err)
}

func TestRegistry_ValidateParams(t *testing.T) {
	r := NewRegistry()
	schema := json.RawMessage(`{
		"type": "object",
		"required": ["sample_rate"],
		"properties": {
			"sample_rate": {"type": "integer", "minimum": 8000}
		}
	}`)
	require.NoError(t, r.Register("resample", newStubFactory("resample"), schema, FieldConstraints{}, FieldConstraints{}, 0))

	assert.NoError(t, r.ValidateParams("n1", "resample", json.RawMessage(`{"sample_rate": 16000}`)))

	err := r.ValidateParams("n1", "resample", json.RawMessage(`{"sample_rate": 100}`))
	require.Error(t, err)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "n1", ve.NodeID)
	assert.Equal(t, "resample", ve.NodeType)

	err = r.ValidateParams("n2", "resample", json.RawMessage(`{}`))
	require.Error(t, err)
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, ConstraintRequired, ve.Constraint)
}

func TestRegistry_ValidateParams_NoSchemaAlwaysPasses(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("noop", newStubFactory("noop"), nil, FieldConstraints{}, FieldConstraints{}, 0))

	assert.NoError(t, r.ValidateParams("n1", "noop", json.RawMessage(`{"anything": true}`)))
}

func TestRegistry_ValidateEdge(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("src", newStubFactory("src"), nil,
		FieldConstraints{}, FieldConstraints{MediaType: MediaAudio, Fields: map[string]ConstraintValue{"sample_rate": Exact(16000)}}, 0))
	require.NoError(t, r.Register("sink", newStubFactory("sink"), nil,
		FieldConstraints{MediaType: MediaAudio, Fields: map[string]ConstraintValue{"sample_rate": Range(8000, 48000)}}, FieldConstraints{}, 0))

	assert.NoError(t, r.ValidateEdge("n1", "src", "n2", "sink"))
}

func TestRegistry_ValidateEdge_Mismatch(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("src", newStubFactory("src"), nil,
		FieldConstraints{}, FieldConstraints{MediaType: MediaVideo}, 0))
	require.NoError(t, r.Register("sink", newStubFactory("sink"), nil,
		FieldConstraints{MediaType: MediaAudio}, FieldConstraints{}, 0))

	err := r.ValidateEdge("n1", "src", "n2", "sink")
	require.Error(t, err)
	var me *MismatchError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, "n1", me.Source)
	assert.Equal(t, "n2", me.Target)
}

func TestRefines_Table(t *testing.T) {
	cases := []struct {
		name     string
		producer ConstraintValue
		consumer ConstraintValue
		want     bool
	}{
		{"exact-exact match", Exact(16000), Exact(16000), true},
		{"exact-exact mismatch", Exact(16000), Exact(8000), false},
		{"exact-range in bounds", Exact(16000), Range(8000, 48000), true},
		{"exact-range out of bounds", Exact(1000), Range(8000, 48000), false},
		{"exact-oneof member", Exact("mp4"), OneOf("mp4", "mkv"), true},
		{"exact-oneof non-member", Exact("avi"), OneOf("mp4", "mkv"), false},
		{"range-exact always no", Range(8000, 48000), Exact(16000), false},
		{"range-range subset", Range(16000, 16000), Range(8000, 48000), true},
		{"range-range not subset", Range(1000, 48000), Range(8000, 44000), false},
		{"unconstrained producer strict consumer", Unconstrained(), Exact(16000), false},
		{"anything into unconstrained consumer", Exact(16000), Unconstrained(), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Refines(tc.producer, tc.consumer))
		})
	}
}

func TestCompatible_MediaTypeMismatch(t *testing.T) {
	producer := FieldConstraints{MediaType: MediaVideo}
	consumer := FieldConstraints{MediaType: MediaAudio}
	mismatch := Compatible(producer, consumer)
	require.NotNil(t, mismatch)
	assert.Equal(t, "media_type", mismatch.ConstraintName)
}

func TestCompatible_AnyMediaTypeAlwaysCompatible(t *testing.T) {
	producer := FieldConstraints{MediaType: MediaAny}
	consumer := FieldConstraints{MediaType: MediaAudio}
	assert.Nil(t, Compatible(producer, consumer))
}

func TestCompatible_MissingProducerFieldTreatedUnconstrained(t *testing.T) {
	producer := FieldConstraints{MediaType: MediaAudio}
	consumer := FieldConstraints{MediaType: MediaAudio, Fields: map[string]ConstraintValue{"channels": Exact(2)}}
	mismatch := Compatible(producer, consumer)
	require.NotNil(t, mismatch)
	assert.Equal(t, "channels", mismatch.ConstraintName)
}
