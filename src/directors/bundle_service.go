package directors

import (
	"context"
	"fmt"
	"sort"

	"refquery/src/engine"
	"refquery/src/helpers"
	"refquery/src/models"
	"refquery/src/refquery"
	"refquery/src/settings"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

// BundleService owns the in-memory database the CLI queries and the plugin installed on it.
type BundleService struct {
	db       *engine.Database
	plugin   *refquery.Plugin
	settings *settings.Arguments
	logger   *zap.SugaredLogger
}

// OptionsFromSettings maps process settings onto plugin options.
func OptionsFromSettings(args *settings.Arguments) refquery.Options {
	opts := refquery.Options{
		IsActiveByDefault: args.IsActiveByDefault,
		MaxDepth:          args.MaxDepth,
		Concurrency:       args.Concurrency,
	}
	for _, m := range args.Middlewares {
		opts.Middlewares = append(opts.Middlewares, models.Operation(m))
	}
	return opts
}

func NewBundleService(args *settings.Arguments, logger *zap.SugaredLogger) (*BundleService, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	plugin, err := refquery.New(OptionsFromSettings(args), logger.Named("refquery"))
	if err != nil {
		return nil, fmt.Errorf("failed to create reference plugin: %w", err)
	}

	return &BundleService{
		db:       engine.NewDatabase("refquery", logger),
		plugin:   plugin,
		settings: args,
		logger:   logger,
	}, nil
}

func (s *BundleService) Database() *engine.Database {
	return s.db
}

func (s *BundleService) Plugin() *refquery.Plugin {
	return s.plugin
}

// CreateBundles registers one bundle per BundleSpec and installs the plugin where asked.
func (s *BundleService) CreateBundles(sf *SchemaFile) error {
	for _, spec := range sf.Bundles {
		bundle, err := s.db.CreateBundle(spec.Schema())
		if err != nil {
			return fmt.Errorf("failed to create bundle %q: %w", spec.Name, err)
		}
		if spec.FindWithinReference {
			s.plugin.Install(bundle)
		}
		if s.settings.Debug {
			s.logger.Infof("Created bundle '%s' with %d fields (plugin: %v)", spec.Name, len(spec.Fields), spec.FindWithinReference)
		}
	}
	s.warnDangling()
	return nil
}

// warnDangling logs every reference field whose target bundle does not exist.
func (s *BundleService) warnDangling() {
	for _, rel := range s.db.DanglingRelationships() {
		s.logger.Warnw("reference targets an unknown bundle", "relationship", rel.Name, "target", rel.Target)
	}
}

// LoadDocuments inserts documents keyed by bundle name. Bundles are filled in name order.
func (s *BundleService) LoadDocuments(ctx context.Context, data map[string][]bson.M) error {
	names := make([]string, 0, len(data))
	for name := range data {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		bundle, err := s.db.GetBundle(name)
		if err != nil {
			return fmt.Errorf("failed to load documents: %w", err)
		}
		if _, err := bundle.InsertMany(ctx, data[name]); err != nil {
			return fmt.Errorf("failed to insert documents into %s: %w", name, err)
		}
		s.logger.Debugf("Loaded %d documents into bundle '%s'", len(data[name]), name)
	}
	return nil
}

// LoadFiles reads the configured schema and data files.
func (s *BundleService) LoadFiles(ctx context.Context) error {
	if s.settings.SchemaFile == "" {
		return fmt.Errorf("no schema file configured")
	}
	sf, err := ReadSchemaFile(s.settings.SchemaFile)
	if err != nil {
		return err
	}
	if err := s.CreateBundles(sf); err != nil {
		return err
	}
	if s.settings.DataFile == "" {
		return nil
	}
	data, err := ReadDataFile(s.settings.DataFile)
	if err != nil {
		return err
	}
	return s.LoadDocuments(ctx, data)
}

// Find runs a find on the named bundle through its hooks.
func (s *BundleService) Find(ctx context.Context, bundleName string, filter bson.M, opts models.QueryOptions) ([]bson.M, error) {
	bundle, err := s.db.GetBundle(bundleName)
	if err != nil {
		return nil, err
	}
	return bundle.Find(ctx, filter, nil, opts)
}

// Rewrite returns a rewritten copy of filter for the named bundle without running the outer query.
// The caller's filter is left untouched.
func (s *BundleService) Rewrite(ctx context.Context, bundleName string, filter bson.M) (bson.M, int, error) {
	bundle, err := s.db.GetBundle(bundleName)
	if err != nil {
		return nil, 0, err
	}
	working, err := helpers.CloneDocument(filter)
	if err != nil {
		return nil, 0, err
	}
	if working == nil {
		working = bson.M{}
	}
	n, err := s.plugin.Rewrite(ctx, working, bundle.Schema(), s.db, 0)
	if err != nil {
		return nil, 0, err
	}
	return working, n, nil
}

// SaveAll writes every bundle to the data directory.
func (s *BundleService) SaveAll(dataDir string) error {
	store, err := engine.NewBundleStore(dataDir, s.logger)
	if err != nil {
		return err
	}
	for _, bundle := range s.db.ListBundles() {
		if err := store.SaveBundle(bundle); err != nil {
			return fmt.Errorf("failed to save bundle %s: %w", bundle.Name(), err)
		}
	}
	return nil
}

// RestoreAll registers every bundle saved in the data directory. Saved files carry no plugin flag,
// so installPlugin decides for all of them.
func (s *BundleService) RestoreAll(dataDir string, installPlugin bool) error {
	store, err := engine.NewBundleStore(dataDir, s.logger)
	if err != nil {
		return err
	}
	bundles, err := store.LoadAllBundles()
	if err != nil {
		return err
	}
	for _, bundle := range bundles {
		if err := s.db.AddBundle(bundle); err != nil {
			return err
		}
		if installPlugin {
			s.plugin.Install(bundle)
		}
	}
	s.warnDangling()
	return nil
}
