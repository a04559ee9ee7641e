package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"refquery/src/directors"
	"refquery/src/helpers"
	"refquery/src/models"
	"refquery/src/mongostore"
	"refquery/src/server"
	"refquery/src/settings"

	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

type cliFlags struct {
	configFile        string
	schemaFile        string
	dataFile          string
	dataDir           string
	debug             bool
	activeByDefault   bool
	middlewares       []string
	maxDepth          int
	concurrency       int
	mongoURI          string
	mongoDatabase     string
	bundle            string
	filter            string
	useFindWithinRefs bool
	host              string
	port              int
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	f := &cliFlags{}

	root := &cobra.Command{
		Use:           "refquery",
		Short:         "Query documents through their references",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&f.configFile, "config", "", "Path to config file")
	pf.StringVar(&f.schemaFile, "schema", "", "YAML file describing the bundles")
	pf.StringVar(&f.dataFile, "data", "", "Extended JSON file with the documents of each bundle")
	pf.BoolVar(&f.debug, "debug", false, "Enable debug mode")
	pf.BoolVar(&f.activeByDefault, "active-by-default", false, "Rewrite references on every query")
	pf.StringSliceVar(&f.middlewares, "middlewares", nil, "Operations the rewriting hooks into")
	pf.IntVar(&f.maxDepth, "max-depth", 0, "Maximum nested reference resolutions (negative disables the limit)")
	pf.IntVar(&f.concurrency, "concurrency", 0, "References resolved in parallel within one filter")

	rewrite := &cobra.Command{
		Use:   "rewrite",
		Short: "Print the filter a query would run with after reference rewriting",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRewrite(cmd, f)
		},
	}
	rewrite.Flags().StringVar(&f.bundle, "bundle", "", "Bundle the filter targets")
	rewrite.Flags().StringVar(&f.filter, "filter", "{}", "Filter as extended JSON")
	_ = rewrite.MarkFlagRequired("bundle")

	find := &cobra.Command{
		Use:   "find",
		Short: "Run a find and print the matching documents",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runFind(cmd, f)
		},
	}
	find.Flags().StringVar(&f.bundle, "bundle", "", "Bundle to query")
	find.Flags().StringVar(&f.filter, "filter", "{}", "Filter as extended JSON")
	find.Flags().BoolVar(&f.useFindWithinRefs, "use-find-within-reference", false, "Rewrite references for this query")
	find.Flags().StringVar(&f.mongoURI, "mongo-uri", "", "Query a MongoDB server instead of the data file")
	find.Flags().StringVar(&f.mongoDatabase, "mongo-db", "", "MongoDB database name")
	_ = find.MarkFlagRequired("bundle")

	dump := &cobra.Command{
		Use:   "dump",
		Short: "Save the loaded bundles as BSON files",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDump(cmd, f)
		},
	}
	dump.Flags().StringVar(&f.dataDir, "datadir", "", "Directory to store data files")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Answer rewrite and find requests over TCP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, f)
		},
	}
	serve.Flags().StringVar(&f.host, "host", "", "Host name or IP address to listen on")
	serve.Flags().IntVar(&f.port, "port", 0, "Port to listen on")

	root.AddCommand(rewrite, find, dump, serve)
	return root
}

// loadSettings merges the config file and environment with the flags the user actually set.
func loadSettings(cmd *cobra.Command, f *cliFlags) (*settings.Arguments, error) {
	args, err := settings.Load(f.configFile)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	override := func(name string, apply func()) {
		if flags.Changed(name) {
			apply()
		}
	}
	override("schema", func() { args.SchemaFile = f.schemaFile })
	override("data", func() { args.DataFile = f.dataFile })
	override("datadir", func() { args.DataDir = f.dataDir })
	override("debug", func() { args.Debug = f.debug })
	override("active-by-default", func() { args.IsActiveByDefault = f.activeByDefault })
	override("middlewares", func() { args.Middlewares = f.middlewares })
	override("max-depth", func() { args.MaxDepth = f.maxDepth })
	override("concurrency", func() { args.Concurrency = f.concurrency })
	override("mongo-uri", func() { args.MongoURI = f.mongoURI })
	override("mongo-db", func() { args.MongoDatabase = f.mongoDatabase })
	override("host", func() { args.Host = f.host })
	override("port", func() { args.Port = f.port })

	if err := args.Validate(); err != nil {
		return nil, err
	}
	settings.SetSettings(args)
	return args, nil
}

func setup(cmd *cobra.Command, f *cliFlags) (*settings.Arguments, *zap.SugaredLogger, *directors.BundleService, error) {
	args, err := loadSettings(cmd, f)
	if err != nil {
		return nil, nil, nil, err
	}
	logger, err := helpers.NewLogger(args.Debug)
	if err != nil {
		return nil, nil, nil, err
	}
	service, err := directors.NewBundleService(args, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	return args, logger, service, nil
}

func parseFilter(raw string) (bson.M, error) {
	filter, err := helpers.ParseExtJSON([]byte(helpers.StripQuotes(raw)))
	if err != nil {
		return nil, fmt.Errorf("invalid --filter: %w", err)
	}
	return filter, nil
}

func runRewrite(cmd *cobra.Command, f *cliFlags) error {
	_, logger, service, err := setup(cmd, f)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if err := service.LoadFiles(cmd.Context()); err != nil {
		return err
	}
	filter, err := parseFilter(f.filter)
	if err != nil {
		return err
	}

	rewritten, n, err := service.Rewrite(cmd.Context(), f.bundle, filter)
	if err != nil {
		return err
	}
	out, err := helpers.ToExtJSON(rewritten)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), out)
	fmt.Fprintf(cmd.OutOrStdout(), "# %d keys rewritten, fingerprint %s\n", n, helpers.FilterFingerprint(rewritten))
	return nil
}

func runFind(cmd *cobra.Command, f *cliFlags) error {
	args, logger, service, err := setup(cmd, f)
	if err != nil {
		return err
	}
	defer logger.Sync()

	filter, err := parseFilter(f.filter)
	if err != nil {
		return err
	}
	opts := models.QueryOptions{UseFindWithinReference: f.useFindWithinRefs}

	var docs []bson.M
	if args.MongoURI != "" {
		docs, err = findInMongo(cmd.Context(), args, logger, service, f.bundle, filter, opts)
	} else {
		if err := service.LoadFiles(cmd.Context()); err != nil {
			return err
		}
		docs, err = service.Find(cmd.Context(), f.bundle, filter, opts)
	}
	if err != nil {
		return err
	}

	for _, doc := range docs {
		out, err := helpers.ToExtJSON(doc)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
	}
	return nil
}

// findInMongo registers the schema file's bundles against a live database and installs the
// plugin on the same bundles the in-memory engine would.
func findInMongo(ctx context.Context, args *settings.Arguments, logger *zap.SugaredLogger, service *directors.BundleService,
	bundle string, filter bson.M, opts models.QueryOptions) ([]bson.M, error) {
	sf, err := directors.ReadSchemaFile(args.SchemaFile)
	if err != nil {
		return nil, err
	}

	store, disconnect, err := mongostore.Connect(ctx, args.MongoURI, args.MongoDatabase, logger)
	if err != nil {
		return nil, err
	}
	defer disconnect(context.Background())

	for _, spec := range sf.Bundles {
		coll := store.Register(spec.Schema())
		if spec.FindWithinReference {
			service.Plugin().Install(coll)
		}
	}

	coll, err := store.Collection(bundle)
	if err != nil {
		return nil, err
	}
	return coll.Find(ctx, filter, nil, opts)
}

func runDump(cmd *cobra.Command, f *cliFlags) error {
	args, logger, service, err := setup(cmd, f)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if err := service.LoadFiles(cmd.Context()); err != nil {
		return err
	}
	return service.SaveAll(args.DataDir)
}

func runServe(cmd *cobra.Command, f *cliFlags) error {
	args, logger, service, err := setup(cmd, f)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if err := service.LoadFiles(cmd.Context()); err != nil {
		return err
	}

	srv := server.NewServer(args.Host, args.Port, service, logger.Named("server"))
	if err := srv.Start(cmd.Context()); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "listening on %s\n", srv.Addr())

	<-cmd.Context().Done()
	logger.Info("Shutting down server...")
	return srv.Stop()
}
