package capability

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// compiledSchema wraps a compiled JSON-Schema document so param validation
// for a node type never re-parses or re-compiles on the hot path.
type compiledSchema struct {
	schema *jsonschema.Schema
	source string
}

// compileSchema compiles a param schema for nodeType, failing fast at
// registration time rather than at first validate_params call (spec.md
// §4.B: "register_node_type(... param_schema ...)").
func compileSchema(nodeType string, rawSchema json.RawMessage) (*compiledSchema, error) {
	if len(rawSchema) == 0 {
		return nil, nil
	}
	resourceName := "mediarun://node-types/" + nodeType + ".json"

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(resourceName, bytes.NewReader(rawSchema)); err != nil {
		return nil, fmt.Errorf("capability: adding schema resource for %q: %w", nodeType, err)
	}
	schema, err := compiler.Compile(resourceName)
	if err != nil {
		return nil, fmt.Errorf("capability: compiling schema for %q: %w", nodeType, err)
	}
	return &compiledSchema{schema: schema, source: string(rawSchema)}, nil
}

// Validate validates params (a JSON document) against the compiled schema,
// translating the first validation failure into a *ValidationError keyed
// by node id/type (spec.md §4.B's validate_params contract). A node type
// with no registered schema always validates successfully.
func (c *compiledSchema) Validate(nodeID, nodeType string, params json.RawMessage) error {
	if c == nil {
		return nil
	}
	var v any
	if len(params) == 0 {
		v = map[string]any{}
	} else if err := json.Unmarshal(params, &v); err != nil {
		return &ValidationError{
			NodeID:     nodeID,
			NodeType:   nodeType,
			Path:       "",
			Constraint: ConstraintType,
			Expected:   "valid json",
			Received:   err.Error(),
		}
	}

	if err := c.schema.Validate(v); err != nil {
		return translateValidationError(nodeID, nodeType, err)
	}
	return nil
}

// translateValidationError maps the first leaf cause of a
// *jsonschema.ValidationError into this package's ValidationError shape.
func translateValidationError(nodeID, nodeType string, err error) error {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return &ValidationError{
			NodeID:     nodeID,
			NodeType:   nodeType,
			Constraint: ConstraintOther("unknown"),
			Received:   err.Error(),
		}
	}
	leaf := firstLeaf(ve)
	return &ValidationError{
		NodeID:     nodeID,
		NodeType:   nodeType,
		Path:       leaf.InstanceLocation,
		Constraint: constraintFromKeyword(leaf.KeywordLocation),
		Expected:   leaf.KeywordLocation,
		Received:   leaf.Message,
	}
}

// firstLeaf descends to the first cause with no further causes, since
// jsonschema/v5 reports failures as a tree and the deepest node usually
// names the concrete keyword that failed.
func firstLeaf(ve *jsonschema.ValidationError) *jsonschema.ValidationError {
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	return ve
}

func constraintFromKeyword(keywordLocation string) ValidationConstraint {
	switch {
	case strings.Contains(keywordLocation, "/required"):
		return ConstraintRequired
	case strings.Contains(keywordLocation, "/type"):
		return ConstraintType
	case strings.Contains(keywordLocation, "/minimum"):
		return ConstraintMinimum
	case strings.Contains(keywordLocation, "/maximum"):
		return ConstraintMaximum
	case strings.Contains(keywordLocation, "/exclusiveMinimum"):
		return ConstraintExclusiveMinimum
	case strings.Contains(keywordLocation, "/exclusiveMaximum"):
		return ConstraintExclusiveMaximum
	case strings.Contains(keywordLocation, "/enum"):
		return ConstraintEnum
	case strings.Contains(keywordLocation, "/pattern"):
		return ConstraintPattern
	case strings.Contains(keywordLocation, "/minLength"):
		return ConstraintMinLength
	case strings.Contains(keywordLocation, "/maxLength"):
		return ConstraintMaxLength
	case strings.Contains(keywordLocation, "/minItems"):
		return ConstraintMinItems
	case strings.Contains(keywordLocation, "/maxItems"):
		return ConstraintMaxItems
	case strings.Contains(keywordLocation, "/format"):
		return ConstraintFormat
	case strings.Contains(keywordLocation, "/additionalProperties"):
		return ConstraintAdditionalProperties
	default:
		return ConstraintOther(keywordLocation)
	}
}
