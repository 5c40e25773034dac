package store

import (
	"context"

	"github.com/jgrazian/discord-scraper/internal/models"
)

// MessageStore defines the persistence operations the scraper depends on.
// SQLiteStore is the only production implementation; tests substitute fakes.
type MessageStore interface {
	// Connection management
	Close() error
	Ping(ctx context.Context) error

	// Message operations
	UpsertMessages(ctx context.Context, msgs []models.Message) (int, error)
	CountMessages(ctx context.Context, channelID string) (int64, error)

	// Channel metadata
	UpsertChannel(ctx context.Context, ch models.Channel) error

	// Run provenance
	RecordRun(ctx context.Context, runID string, channelIDs []string) error
	FinishRun(ctx context.Context, runID string) error
}
