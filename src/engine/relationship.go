package engine

import "refquery/src/models"

const (
	RelationshipManyToOne  = "many-to-one"
	RelationshipManyToMany = "many-to-many"
)

// Relationship is one reference field, seen as an edge between two bundles.
type Relationship struct {
	// Name is "<source>.<field>".
	Name string
	// Source is the bundle holding the reference field.
	Source string
	Field  string
	// Target is the referenced bundle.
	Target string
	// RelationshipType is many-to-one for scalar references and many-to-many for arrays.
	RelationshipType string
}

func relationshipsOf(schema *models.Schema) []Relationship {
	var out []Relationship
	for _, f := range schema.Fields() {
		if !f.IsReference() {
			continue
		}
		kind := RelationshipManyToOne
		if f.Cardinality == models.Array {
			kind = RelationshipManyToMany
		}
		out = append(out, Relationship{
			Name:             schema.Name() + "." + f.Name,
			Source:           schema.Name(),
			Field:            f.Name,
			Target:           f.Ref,
			RelationshipType: kind,
		})
	}
	return out
}

// Relationships lists the reference fields of every bundle, by bundle name then field order.
func (db *Database) Relationships() []Relationship {
	var out []Relationship
	for _, bundle := range db.ListBundles() {
		out = append(out, relationshipsOf(bundle.Schema())...)
	}
	return out
}

// DanglingRelationships returns the relationships whose target bundle is not registered.
// Queries that resolve them fail with refquery.ErrCollectionNotRegistered.
func (db *Database) DanglingRelationships() []Relationship {
	var out []Relationship
	for _, rel := range db.Relationships() {
		if _, err := db.GetBundle(rel.Target); err != nil {
			out = append(out, rel)
		}
	}
	return out
}
