package directors

import (
	"fmt"
	"io"
	"os"

	"refquery/src/helpers"
	"refquery/src/models"

	"go.mongodb.org/mongo-driver/bson"
	"gopkg.in/yaml.v3"
)

// SchemaFile is the YAML description of a database:
//
//	bundles:
//	  - name: Author
//	    findWithinReference: true
//	    fields:
//	      - { name: name, type: string, required: true }
//	      - { name: agent, ref: Agent }
//	      - { name: books, ref: Book, array: true }
type SchemaFile struct {
	Bundles []BundleSpec `yaml:"bundles"`
}

type BundleSpec struct {
	Name string `yaml:"name"`

	// FindWithinReference installs the reference rewriting plugin on the bundle.
	FindWithinReference bool        `yaml:"findWithinReference"`
	Fields              []FieldSpec `yaml:"fields"`
}

type FieldSpec struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Required bool   `yaml:"required"`
	Unique   bool   `yaml:"unique"`
	Ref      string `yaml:"ref"`
	Array    bool   `yaml:"array"`
}

func ReadSchemaFile(path string) (*SchemaFile, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening schema file %s: %w", path, err)
	}
	defer file.Close()
	return ParseSchemaFile(file)
}

func ParseSchemaFile(r io.Reader) (*SchemaFile, error) {
	var sf SchemaFile
	if err := yaml.NewDecoder(r).Decode(&sf); err != nil {
		return nil, fmt.Errorf("error parsing schema file: %w", err)
	}

	seen := make(map[string]bool, len(sf.Bundles))
	for _, b := range sf.Bundles {
		if b.Name == "" {
			return nil, fmt.Errorf("schema file: bundle without a name")
		}
		if seen[b.Name] {
			return nil, fmt.Errorf("schema file: bundle %q declared twice", b.Name)
		}
		seen[b.Name] = true
		for _, f := range b.Fields {
			if f.Name == "" {
				return nil, fmt.Errorf("schema file: bundle %q has a field without a name", b.Name)
			}
			if f.Array && f.Ref == "" {
				return nil, fmt.Errorf("schema file: field %s.%s is an array without ref", b.Name, f.Name)
			}
		}
	}
	return &sf, nil
}

// Schema builds the immutable schema of one bundle spec.
func (b BundleSpec) Schema() *models.Schema {
	fields := make([]models.FieldDefinition, 0, len(b.Fields))
	for _, f := range b.Fields {
		def := models.FieldDefinition{
			Name:       f.Name,
			Type:       f.Type,
			IsRequired: f.Required,
			IsUnique:   f.Unique,
			Ref:        f.Ref,
		}
		if f.Array {
			def.Cardinality = models.Array
		}
		fields = append(fields, def)
	}
	return models.NewSchema(b.Name, fields...)
}

// ReadDataFile reads an extended JSON object mapping bundle names to arrays of documents.
func ReadDataFile(path string) (map[string][]bson.M, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading data file %s: %w", path, err)
	}
	return ParseData(data)
}

func ParseData(data []byte) (map[string][]bson.M, error) {
	root, err := helpers.ParseExtJSON(data)
	if err != nil {
		return nil, err
	}

	out := make(map[string][]bson.M, len(root))
	for name, raw := range root {
		list, ok := raw.(bson.A)
		if !ok {
			return nil, fmt.Errorf("data for bundle %q must be an array, got %T", name, raw)
		}
		docs := make([]bson.M, 0, len(list))
		for i, item := range list {
			doc, ok := item.(bson.M)
			if !ok {
				return nil, fmt.Errorf("document %d of bundle %q must be an object, got %T", i, name, item)
			}
			docs = append(docs, doc)
		}
		out[name] = docs
	}
	return out, nil
}
