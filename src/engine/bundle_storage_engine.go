package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"refquery/src/helpers"
	"refquery/src/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// BundleFileExtension is appended to the bundle name to form its data file name.
const BundleFileExtension = ".bnd"

/*
Each bundle is stored in its own file as a single BSON document:

	{ bundleId, name, fields: [ {name, type, isRequired, isUnique, ref, cardinality} ], documents: [ ... ] }

Readers take a shared flock on the file, writers an exclusive one.
*/
type BundleStorageEngine struct {
	DataDirectory string
	logger        *zap.SugaredLogger
}

type bundleRecord struct {
	BundleID  string        `bson:"bundleId"`
	Name      string        `bson:"name"`
	Fields    []fieldRecord `bson:"fields"`
	Documents []bson.M      `bson:"documents"`
}

type fieldRecord struct {
	Name        string `bson:"name"`
	Type        string `bson:"type"`
	IsRequired  bool   `bson:"isRequired"`
	IsUnique    bool   `bson:"isUnique"`
	Ref         string `bson:"ref,omitempty"`
	Cardinality string `bson:"cardinality,omitempty"`
}

func NewBundleStore(dataDir string, logger *zap.SugaredLogger) (*BundleStorageEngine, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	store := &BundleStorageEngine{
		DataDirectory: dataDir,
		logger:        logger,
	}

	// Ensure the data directory exists
	if err := os.MkdirAll(store.DataDirectory, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", store.DataDirectory, err)
	}

	return store, nil
}

func (s *BundleStorageEngine) bundlePath(name string) string {
	return filepath.Join(s.DataDirectory, name+BundleFileExtension)
}

func (s *BundleStorageEngine) BundleFileExists(name string) bool {
	return helpers.FileExists(s.bundlePath(name), s.logger)
}

// SaveBundle writes the bundle's schema and documents, replacing any previous file.
func (s *BundleStorageEngine) SaveBundle(bundle *Bundle) error {
	docs, err := bundle.Documents()
	if err != nil {
		return fmt.Errorf("error reading documents of bundle %s: %w", bundle.Name(), err)
	}

	record := bundleRecord{
		BundleID:  bundle.BundleID,
		Name:      bundle.Name(),
		Documents: docs,
	}
	for _, f := range bundle.Schema().Fields() {
		fr := fieldRecord{
			Name:       f.Name,
			Type:       f.Type,
			IsRequired: f.IsRequired,
			IsUnique:   f.IsUnique,
			Ref:        f.Ref,
		}
		if f.IsReference() {
			fr.Cardinality = f.Cardinality.String()
		}
		record.Fields = append(record.Fields, fr)
	}

	encoded, err := helpers.EncodeBSON(record)
	if err != nil {
		return fmt.Errorf("error encoding bundle data: %w", err)
	}

	filePath := s.bundlePath(bundle.Name())
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("error opening data file %s: %w", filePath, err)
	}
	defer file.Close()

	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("error locking data file %s: %w", filePath, err)
	}
	defer unix.Flock(int(file.Fd()), unix.LOCK_UN)

	if err := file.Truncate(0); err != nil {
		return fmt.Errorf("error truncating data file %s: %w", filePath, err)
	}
	written, err := file.WriteAt(encoded, 0)
	if err != nil {
		return fmt.Errorf("error writing to bundle data file %s: %w", filePath, err)
	}
	if written != len(encoded) {
		return fmt.Errorf("error writing to bundle data file %s: wrote %d bytes, expected %d", filePath, written, len(encoded))
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("error syncing data file %s: %w", filePath, err)
	}

	s.logger.Infow("Saved bundle file",
		"bundle", bundle.Name(),
		"documents", len(docs),
		"path", filePath)
	return nil
}

// LoadBundle reads one bundle file back into a fresh, unregistered bundle.
func (s *BundleStorageEngine) LoadBundle(name string) (*Bundle, error) {
	filePath := s.bundlePath(name)
	if !helpers.FileExists(filePath, s.logger) {
		return nil, fmt.Errorf("%w: bundle file %s does not exist", ErrBundleNotFound, filePath)
	}

	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("error opening bundle file %s: %w", filePath, err)
	}
	defer file.Close()

	if err := unix.Flock(int(file.Fd()), unix.LOCK_SH); err != nil {
		return nil, fmt.Errorf("error locking bundle file %s: %w", filePath, err)
	}
	defer unix.Flock(int(file.Fd()), unix.LOCK_UN)

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("error reading bundle file %s: %w", filePath, err)
	}

	var record bundleRecord
	if err := bson.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("error decoding bundle data from file %s: %w", filePath, err)
	}

	fields := make([]models.FieldDefinition, 0, len(record.Fields))
	for _, fr := range record.Fields {
		f := models.FieldDefinition{
			Name:       fr.Name,
			Type:       fr.Type,
			IsRequired: fr.IsRequired,
			IsUnique:   fr.IsUnique,
			Ref:        fr.Ref,
		}
		if fr.Cardinality == models.Array.String() {
			f.Cardinality = models.Array
		}
		fields = append(fields, f)
	}

	bundle := NewBundle(models.NewSchema(record.Name, fields...), s.logger)
	if record.BundleID != "" {
		bundle.BundleID = record.BundleID
	}
	if _, err := bundle.InsertMany(context.Background(), record.Documents); err != nil {
		return nil, fmt.Errorf("error restoring documents of bundle %s: %w", record.Name, err)
	}
	return bundle, nil
}

// LoadAllBundles loads every bundle file in the data directory, sorted by name.
func (s *BundleStorageEngine) LoadAllBundles() ([]*Bundle, error) {
	entries, err := os.ReadDir(s.DataDirectory)
	if err != nil {
		return nil, fmt.Errorf("error listing data directory %s: %w", s.DataDirectory, err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), BundleFileExtension) {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), BundleFileExtension))
	}
	sort.Strings(names)

	bundles := make([]*Bundle, 0, len(names))
	for _, name := range names {
		bundle, err := s.LoadBundle(name)
		if err != nil {
			return nil, err
		}
		bundles = append(bundles, bundle)
	}
	return bundles, nil
}

func (s *BundleStorageEngine) RemoveBundleFile(name string) error {
	if err := os.Remove(s.bundlePath(name)); err != nil {
		return fmt.Errorf("error removing bundle file %s: %w", name, err)
	}
	return nil
}
