// Package scraper walks channel histories backwards, page by page, and
// hands each page to the store.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/jgrazian/discord-scraper/internal/discord"
	"github.com/jgrazian/discord-scraper/internal/metrics"
	"github.com/jgrazian/discord-scraper/internal/models"
	"github.com/jgrazian/discord-scraper/internal/store"
)

// Fetcher is the slice of the API client the scraper uses.
type Fetcher interface {
	Messages(ctx context.Context, channelID, before string) ([]models.Message, error)
	Channel(ctx context.Context, channelID string) (*models.Channel, error)
}

// ErrAllChannelsFailed is returned when no requested channel could be
// scraped. Partial failure is best-effort success.
var ErrAllChannelsFailed = errors.New("scraper: all requested channels failed")

// Scraper runs one channel to completion before starting the next.
// Fully sequential: the service-wide rate limit is respected for free.
type Scraper struct {
	fetcher  Fetcher
	store    store.MessageStore
	log      zerolog.Logger
	pageSize int
}

// New creates a Scraper using the standard API page size.
func New(f Fetcher, s store.MessageStore, log zerolog.Logger) *Scraper {
	return &Scraper{fetcher: f, store: s, log: log, pageSize: discord.PageSize}
}

// Run scrapes every requested channel. Authentication and storage errors
// abort the whole run; any other fetch error skips to the next channel.
func (s *Scraper) Run(ctx context.Context, channelIDs []string) error {
	succeeded := 0
	for _, id := range channelIDs {
		if err := s.scrapeChannel(ctx, id); err != nil {
			if errors.Is(err, discord.ErrAuthRejected) {
				return err
			}
			var serr *storeError
			if errors.As(err, &serr) {
				return serr.err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			metrics.ChannelsFailed.Inc()
			s.log.Error().Err(err).Str("channel", id).Msg("channel failed, moving on")
			continue
		}
		metrics.ChannelsCompleted.Inc()
		succeeded++
	}

	if succeeded == 0 && len(channelIDs) > 0 {
		return ErrAllChannelsFailed
	}
	return nil
}

// storeError marks a persistence failure so Run can tell it apart from a
// per-channel fetch failure. Storage errors are never survivable.
type storeError struct {
	err error
}

func (e *storeError) Error() string { return e.err.Error() }
func (e *storeError) Unwrap() error { return e.err }

// scrapeChannel pages backwards from the most recent message until the
// channel's beginning, upserting every page.
func (s *Scraper) scrapeChannel(ctx context.Context, channelID string) error {
	ch, err := s.fetcher.Channel(ctx, channelID)
	if err != nil {
		return fmt.Errorf("fetch channel %s: %w", channelID, err)
	}
	if err := s.store.UpsertChannel(ctx, *ch); err != nil {
		return &storeError{fmt.Errorf("store channel %s: %w", channelID, err)}
	}

	s.log.Info().Str("channel", channelID).Str("name", ch.Name).Msg("scraping channel")

	cursor := ""
	pages := 0
	total := 0
	for {
		start := time.Now()
		page, err := s.fetcher.Messages(ctx, channelID, cursor)
		if err != nil {
			return fmt.Errorf("fetch page (before=%q): %w", cursor, err)
		}
		metrics.PagesFetched.Inc()
		metrics.PageFetchDuration.Observe(time.Since(start).Seconds())
		pages++

		if len(page) == 0 {
			break
		}

		written, err := s.store.UpsertMessages(ctx, page)
		if err != nil {
			return &storeError{fmt.Errorf("store page (before=%q): %w", cursor, err)}
		}
		metrics.MessagesStored.Add(float64(written))
		total += written

		cursor = models.OldestID(page)
		s.log.Debug().
			Str("channel", channelID).
			Str("cursor", cursor).
			Time("reached", models.SnowflakeTime(cursor)).
			Int("page_size", len(page)).
			Msg("page stored")

		// A short page means the channel has no older messages.
		if len(page) < s.pageSize {
			break
		}
	}

	s.log.Info().
		Str("channel", channelID).
		Int("pages", pages).
		Int("messages", total).
		Msg("channel complete")
	return nil
}
