package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/jgrazian/discord-scraper/internal/models"
)

// SQLiteStore handles SQLite database operations.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if necessary) the database at dbPath.
// If dbPath is empty, defaults to "./data/messages.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/messages.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	// Single writer; the scraper is fully sequential.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	store := &SQLiteStore{db: db}

	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS channel (
		id        TEXT PRIMARY KEY,
		guild_id  TEXT DEFAULT '',
		name      TEXT DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS user (
		id             TEXT PRIMARY KEY,
		username       TEXT NOT NULL,
		discriminator  TEXT DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS message (
		id           TEXT PRIMARY KEY,
		channel_id   TEXT NOT NULL,
		author_id    TEXT NOT NULL,
		content      TEXT NOT NULL,
		timestamp    TEXT NOT NULL,
		attachments  TEXT DEFAULT '',
		embeds       TEXT DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS scrape_run (
		id           TEXT PRIMARY KEY,
		channel_ids  TEXT NOT NULL,
		started_at   DATETIME NOT NULL,
		finished_at  DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_message_channel ON message(channel_id);
	CREATE INDEX IF NOT EXISTS idx_message_author ON message(author_id);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// UpsertMessages writes one row per message, keyed by message ID, inside a
// single transaction. Re-storing an already-present ID overwrites the row,
// so replaying a page never duplicates. Authors are upserted alongside.
// Returns the number of message rows written.
func (s *SQLiteStore) UpsertMessages(ctx context.Context, msgs []models.Message) (int, error) {
	if len(msgs) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	msgStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO message (id, channel_id, author_id, content, timestamp, attachments, embeds)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			channel_id = excluded.channel_id,
			author_id = excluded.author_id,
			content = excluded.content,
			timestamp = excluded.timestamp,
			attachments = excluded.attachments,
			embeds = excluded.embeds
	`)
	if err != nil {
		return 0, err
	}
	defer msgStmt.Close()

	userStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO user (id, username, discriminator)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			username = excluded.username,
			discriminator = excluded.discriminator
	`)
	if err != nil {
		return 0, err
	}
	defer userStmt.Close()

	written := 0
	for _, m := range msgs {
		if m.Author.ID != "" {
			if _, err := userStmt.ExecContext(ctx, m.Author.ID, m.Author.Username, m.Author.Discriminator); err != nil {
				return 0, err
			}
		}
		if _, err := msgStmt.ExecContext(ctx,
			m.ID, m.ChannelID, m.Author.ID, m.Content, m.Timestamp,
			string(m.Attachments), string(m.Embeds),
		); err != nil {
			return 0, err
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return written, nil
}

// CountMessages returns the stored row count for a channel.
func (s *SQLiteStore) CountMessages(ctx context.Context, channelID string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM message WHERE channel_id = ?`, channelID,
	).Scan(&count)
	return count, err
}

// UpsertChannel writes or refreshes a channel metadata row.
func (s *SQLiteStore) UpsertChannel(ctx context.Context, ch models.Channel) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO channel (id, guild_id, name)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			guild_id = excluded.guild_id,
			name = excluded.name
	`, ch.ID, ch.GuildID, ch.Name)
	return err
}

// GetChannel retrieves a stored channel row, or nil if absent.
func (s *SQLiteStore) GetChannel(ctx context.Context, id string) (*models.Channel, error) {
	ch := &models.Channel{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, guild_id, name FROM channel WHERE id = ?`, id,
	).Scan(&ch.ID, &ch.GuildID, &ch.Name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// RecordRun writes the provenance row for one invocation.
func (s *SQLiteStore) RecordRun(ctx context.Context, runID string, channelIDs []string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scrape_run (id, channel_ids, started_at)
		VALUES (?, ?, ?)
	`, runID, strings.Join(channelIDs, ","), time.Now().UTC())
	return err
}

// FinishRun stamps a run's completion time.
func (s *SQLiteStore) FinishRun(ctx context.Context, runID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE scrape_run SET finished_at = ? WHERE id = ?
	`, time.Now().UTC(), runID)
	return err
}
