package engine

import (
	"fmt"
	"sort"
	"sync"

	"refquery/src/helpers"
	"refquery/src/models"

	"go.uber.org/zap"
)

// Database is a set of bundles that can reference each other by name.
// It is the registry handed to pre-query hooks.
type Database struct {
	// DatabaseID is the unique identifier for the database.
	DatabaseID string
	// Name is the name of the database.
	Name string

	mu      sync.RWMutex
	bundles map[string]*Bundle
	logger  *zap.SugaredLogger
}

func NewDatabase(name string, logger *zap.SugaredLogger) *Database {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Database{
		DatabaseID: helpers.GenerateUUID(),
		Name:       name,
		bundles:    make(map[string]*Bundle),
		logger:     logger,
	}
}

// CreateBundle creates and registers an empty bundle for schema.
func (db *Database) CreateBundle(schema *models.Schema) (*Bundle, error) {
	bundle := NewBundle(schema, db.logger)
	if err := db.AddBundle(bundle); err != nil {
		return nil, err
	}
	return bundle, nil
}

func (db *Database) AddBundle(bundle *Bundle) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, exists := db.bundles[bundle.Name()]; exists {
		return fmt.Errorf("%w: %s", ErrBundleExists, bundle.Name())
	}
	bundle.setDatabase(db)
	db.bundles[bundle.Name()] = bundle
	db.logger.Debugw("registered bundle", "bundle", bundle.Name(), "bundleID", bundle.BundleID)
	return nil
}

func (db *Database) GetBundle(name string) (*Bundle, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	bundle, exists := db.bundles[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrBundleNotFound, name)
	}
	return bundle, nil
}

func (db *Database) RemoveBundle(name string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	bundle, exists := db.bundles[name]
	if !exists {
		return fmt.Errorf("%w: %s", ErrBundleNotFound, name)
	}
	bundle.setDatabase(nil)
	delete(db.bundles, name)
	return nil
}

// ListBundles returns the bundles sorted by name.
func (db *Database) ListBundles() []*Bundle {
	db.mu.RLock()
	defer db.mu.RUnlock()

	bundleList := make([]*Bundle, 0, len(db.bundles))
	for _, bundle := range db.bundles {
		bundleList = append(bundleList, bundle)
	}
	sort.Slice(bundleList, func(i, j int) bool {
		return bundleList[i].Name() < bundleList[j].Name()
	})
	return bundleList
}

// Collection implements models.Registry.
func (db *Database) Collection(name string) (models.Collection, error) {
	bundle, err := db.GetBundle(name)
	if err != nil {
		return nil, err
	}
	return bundle, nil
}
