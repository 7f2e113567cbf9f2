package capability

import "fmt"

// MediaType identifies the broad data family a constraint set describes.
type MediaType string

const (
	MediaAudio  MediaType = "audio"
	MediaVideo  MediaType = "video"
	MediaText   MediaType = "text"
	MediaTensor MediaType = "tensor"
	MediaAny    MediaType = "any"
)

// ConstraintValue is one of Exact, Range, OneOf, or Unconstrained over a
// comparable field value (spec.md §3.3).
type ConstraintValue struct {
	kind constraintKind
	// exact holds the exact value for Exact.
	exact any
	// min/max hold the bounds for Range.
	min, max float64
	// oneOf holds the accepted set for OneOf, compared by fmt.Sprint.
	oneOf []any
}

type constraintKind int

const (
	kindUnconstrained constraintKind = iota
	kindExact
	kindRange
	kindOneOf
)

// Exact constrains a field to a single value.
func Exact(v any) ConstraintValue { return ConstraintValue{kind: kindExact, exact: v} }

// Range constrains a numeric field to a closed interval.
func Range(min, max float64) ConstraintValue {
	return ConstraintValue{kind: kindRange, min: min, max: max}
}

// OneOf constrains a field to a fixed set of accepted values.
func OneOf(values ...any) ConstraintValue { return ConstraintValue{kind: kindOneOf, oneOf: values} }

// Unconstrained places no restriction on a field.
func Unconstrained() ConstraintValue { return ConstraintValue{kind: kindUnconstrained} }

func (c ConstraintValue) String() string {
	switch c.kind {
	case kindExact:
		return fmt.Sprintf("Exact(%v)", c.exact)
	case kindRange:
		return fmt.Sprintf("Range{%v,%v}", c.min, c.max)
	case kindOneOf:
		return fmt.Sprintf("OneOf(%v)", c.oneOf)
	default:
		return "Unconstrained"
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// Refines reports whether a producer's constraint is accepted by a
// consumer's constraint under spec.md §4.B's refinement table. producer
// describes what a node emits; consumer describes what the downstream
// node requires.
func Refines(producer, consumer ConstraintValue) bool {
	if consumer.kind == kindUnconstrained {
		return true
	}
	switch producer.kind {
	case kindUnconstrained:
		// "Unconstrained | anything non-Unconstrained -> no"
		return false
	case kindExact:
		switch consumer.kind {
		case kindExact:
			return fmt.Sprint(producer.exact) == fmt.Sprint(consumer.exact)
		case kindRange:
			v, ok := toFloat(producer.exact)
			return ok && v >= consumer.min && v <= consumer.max
		case kindOneOf:
			for _, want := range consumer.oneOf {
				if fmt.Sprint(want) == fmt.Sprint(producer.exact) {
					return true
				}
			}
			return false
		}
	case kindRange:
		switch consumer.kind {
		case kindExact:
			// "Range{a,b} | Exact(v) -> no (producer is unconstrained,
			// consumer is strict)"
			return false
		case kindRange:
			return producer.min >= consumer.min && producer.max <= consumer.max
		case kindOneOf:
			return false
		}
	case kindOneOf:
		switch consumer.kind {
		case kindOneOf:
			for _, v := range producer.oneOf {
				found := false
				for _, want := range consumer.oneOf {
					if fmt.Sprint(want) == fmt.Sprint(v) {
						found = true
						break
					}
				}
				if !found {
					return false
				}
			}
			return true
		case kindExact:
			return len(producer.oneOf) == 1 && fmt.Sprint(producer.oneOf[0]) == fmt.Sprint(consumer.exact)
		case kindRange:
			for _, v := range producer.oneOf {
				f, ok := toFloat(v)
				if !ok || f < consumer.min || f > consumer.max {
					return false
				}
			}
			return true
		}
	}
	return false
}

// FieldConstraints maps a named field (e.g. "sample_rate", "channels") to
// its constraint value within one side of an edge.
type FieldConstraints struct {
	MediaType MediaType
	Fields    map[string]ConstraintValue
}

// Compatible checks producer against consumer per spec.md §3.3: media
// type must match (or either side be MediaAny), and every field the
// consumer constrains must be refined by the producer's corresponding
// field (a field absent on the producer is treated as Unconstrained).
func Compatible(producer, consumer FieldConstraints) *MismatchError {
	if producer.MediaType != consumer.MediaType && producer.MediaType != MediaAny && consumer.MediaType != MediaAny {
		return &MismatchError{
			ConstraintName: "media_type",
			Expected:       string(consumer.MediaType),
			Received:       string(producer.MediaType),
		}
	}
	for name, want := range consumer.Fields {
		got, ok := producer.Fields[name]
		if !ok {
			got = Unconstrained()
		}
		if !Refines(got, want) {
			return &MismatchError{
				ConstraintName: name,
				Expected:       want.String(),
				Received:       got.String(),
			}
		}
	}
	return nil
}
