package refquery

import (
	"context"
	"fmt"

	"refquery/src/helpers"
	"refquery/src/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

// DefaultMaxDepth bounds subquery recursion when Options.MaxDepth is zero.
const DefaultMaxDepth = 16

// DefaultMiddlewares are the operations a plugin hooks into when none are configured.
var DefaultMiddlewares = []models.Operation{
	models.OpFind,
	models.OpFindOne,
	models.OpDistinct,
	models.OpCount,
	models.OpCountDocuments,
}

type Options struct {
	// IsActiveByDefault rewrites every query, not only those asking for it.
	IsActiveByDefault bool

	Middlewares []models.Operation

	// MaxDepth limits nested subqueries. Zero means DefaultMaxDepth, negative means no limit.
	MaxDepth int

	// Concurrency is the number of references resolved at once within one filter.
	// Values below 2 resolve them one after another.
	Concurrency int
}

// Plugin is the pre-query hook that rewrites reference sub-filters.
type Plugin struct {
	opts   Options
	logger *zap.SugaredLogger
}

func New(opts Options, logger *zap.SugaredLogger) (*Plugin, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if len(opts.Middlewares) == 0 {
		opts.Middlewares = append([]models.Operation(nil), DefaultMiddlewares...)
	}
	for _, op := range opts.Middlewares {
		if !op.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrUnknownMiddleware, op)
		}
	}
	if opts.MaxDepth == 0 {
		opts.MaxDepth = DefaultMaxDepth
	}

	return &Plugin{
		opts:   opts,
		logger: logger,
	}, nil
}

func (p *Plugin) Options() Options {
	return p.opts
}

// Install registers the plugin on every configured operation of target.
func (p *Plugin) Install(target models.Hookable) {
	for _, op := range p.opts.Middlewares {
		target.Use(op, p.PreQuery)
	}
}

// Enabled reports whether a query with the given options gets rewritten.
func (p *Plugin) Enabled(opts models.QueryOptions) bool {
	return p.opts.IsActiveByDefault || opts.UseFindWithinReference
}

// PreQuery is the hook body. It rewrites event.Filter in place; disabled queries pass through untouched.
func (p *Plugin) PreQuery(ctx context.Context, event *models.QueryEvent) error {
	if !p.Enabled(event.Options) {
		return nil
	}
	if event.Filter == nil {
		return nil
	}

	if _, err := p.Rewrite(ctx, event.Filter, event.Schema, event.Registry, event.Options.Depth); err != nil {
		return fmt.Errorf("%s on %s: %w", event.Operation, event.Bundle, err)
	}
	return nil
}

// Rewrite resolves the reference sub-filters of filter in place, whether or not the
// plugin is enabled, and returns how many keys were replaced. depth is the number of
// subqueries above this filter.
func (p *Plugin) Rewrite(ctx context.Context, filter bson.M, schema *models.Schema, registry models.Registry, depth int) (int, error) {
	if p.opts.MaxDepth > 0 && depth > p.opts.MaxDepth {
		return 0, fmt.Errorf("%w: depth %d, limit %d", ErrMaxDepthExceeded, depth, p.opts.MaxDepth)
	}

	logger := p.logger
	if p.logger.Desugar().Core().Enabled(zap.DebugLevel) {
		logger = p.logger.With(
			"pass", helpers.GenerateUUID(),
			"bundle", schema.Name(),
			"fingerprint", helpers.FilterFingerprint(filter))
	}

	r := &rewriter{
		schema:      schema,
		registry:    registry,
		depth:       depth,
		concurrency: p.opts.Concurrency,
		logger:      logger,
	}
	n, err := r.run(ctx, filter)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logger.Debugf("rewrote %d reference keys", n)
	}
	return n, nil
}
