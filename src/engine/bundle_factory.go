package engine

import (
	"refquery/src/helpers"
	"refquery/src/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

// NewBundle creates an empty bundle named after its schema.
func NewBundle(schema *models.Schema, logger *zap.SugaredLogger) *Bundle {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Bundle{
		BundleID:    helpers.GenerateUUID(),
		name:        schema.Name(),
		schema:      schema,
		documents:   make([]bson.M, 0),
		constraints: constraintsFor(schema),
		hooks:       make(map[models.Operation][]models.PreQueryHook),
		logger:      logger.With("bundle", schema.Name()),
	}
}
