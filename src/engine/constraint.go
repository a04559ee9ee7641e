package engine

import (
	"fmt"

	"refquery/src/models"

	"go.mongodb.org/mongo-driver/bson"
)

const (
	ConstraintRequired = "required"
	ConstraintUnique   = "unique"
)

// Constraint is a rule every stored document of a bundle satisfies.
type Constraint struct {
	// Name is the name of the constraint.
	Name string
	// Type is the type of the constraint (e.g., "unique", "required").
	ConstraintType string
	// Field is the top-level field the constraint applies to.
	Field string
}

// constraintsFor derives the constraints of a schema. _id is always unique.
func constraintsFor(schema *models.Schema) []Constraint {
	constraints := []Constraint{{Name: "_id_unique", ConstraintType: ConstraintUnique, Field: "_id"}}
	for _, f := range schema.Fields() {
		if f.IsRequired {
			constraints = append(constraints, Constraint{Name: f.Name + "_required", ConstraintType: ConstraintRequired, Field: f.Name})
		}
		if f.IsUnique && f.Name != "_id" {
			constraints = append(constraints, Constraint{Name: f.Name + "_unique", ConstraintType: ConstraintUnique, Field: f.Name})
		}
	}
	return constraints
}

// check validates doc against the documents already stored.
func (c Constraint) check(doc bson.M, existing []bson.M) error {
	value, present := doc[c.Field]

	switch c.ConstraintType {
	case ConstraintRequired:
		if !present || value == nil {
			return fmt.Errorf("%w: %s: field %q is required", ErrConstraintViolation, c.Name, c.Field)
		}
	case ConstraintUnique:
		if !present || value == nil {
			return nil
		}
		for _, other := range existing {
			if v, ok := other[c.Field]; ok && valuesEqual(v, value) {
				return fmt.Errorf("%w: %s: duplicate value %v for field %q", ErrConstraintViolation, c.Name, value, c.Field)
			}
		}
	}
	return nil
}

// applyDefaults fills missing fields that declare a default value.
func applyDefaults(schema *models.Schema, doc bson.M) {
	for _, f := range schema.Fields() {
		if _, ok := doc[f.Name]; !ok && f.DefaultValue != nil {
			doc[f.Name] = f.DefaultValue
		}
	}
}
