package api

import (
	"github.com/rs/zerolog"

	"github.com/memehubx/memedb/pkg/domain"
)

// Handler provides HTTP handlers for the database API
type Handler struct {
	storage domain.StorageEngine
	indexer domain.IndexEngine
	logger  zerolog.Logger
}

// NewHandler creates a new API handler with dependency injection
func NewHandler(storage domain.StorageEngine, indexer domain.IndexEngine, logger zerolog.Logger) *Handler {
	return &Handler{
		storage: storage,
		indexer: indexer,
		logger:  logger,
	}
}
