package capability

import "fmt"

// ValidationConstraint names the JSON-Schema rule a parameter failed,
// mirroring runtime-core/src/validation/error.rs's ValidationConstraint
// enum field-for-field.
type ValidationConstraint string

const (
	ConstraintType                ValidationConstraint = "Type"
	ConstraintRequired             ValidationConstraint = "Required"
	ConstraintMinimum              ValidationConstraint = "Minimum"
	ConstraintMaximum              ValidationConstraint = "Maximum"
	ConstraintExclusiveMinimum     ValidationConstraint = "ExclusiveMinimum"
	ConstraintExclusiveMaximum     ValidationConstraint = "ExclusiveMaximum"
	ConstraintEnum                 ValidationConstraint = "Enum"
	ConstraintPattern              ValidationConstraint = "Pattern"
	ConstraintMinLength            ValidationConstraint = "MinLength"
	ConstraintMaxLength            ValidationConstraint = "MaxLength"
	ConstraintMinItems             ValidationConstraint = "MinItems"
	ConstraintMaxItems             ValidationConstraint = "MaxItems"
	ConstraintFormat               ValidationConstraint = "Format"
	ConstraintAdditionalProperties ValidationConstraint = "AdditionalProperties"
)

// ConstraintOther wraps an arbitrary JSON-Schema keyword not covered by the
// named constants above, mirroring the original's Other(name) variant.
func ConstraintOther(name string) ValidationConstraint {
	return ValidationConstraint("Other(" + name + ")")
}

// ValidationError reports a node's params failing schema validation
// (spec.md §4.B's validate_params result).
type ValidationError struct {
	NodeID     string
	NodeType   string
	Path       string
	Constraint ValidationConstraint
	Expected   string
	Received   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: node %s (%s) path %s: constraint %s expected %s got %s",
		e.NodeID, e.NodeType, e.Path, e.Constraint, e.Expected, e.Received)
}

// MismatchError reports an edge whose producer output is not a subset of
// its consumer input under the constraint refinement lattice (spec.md
// §3.3/§4.B).
type MismatchError struct {
	Source         string
	Target         string
	ConstraintName string
	Expected       string
	Received       string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("capability mismatch %s -> %s: constraint %s expected %s got %s",
		e.Source, e.Target, e.ConstraintName, e.Expected, e.Received)
}
