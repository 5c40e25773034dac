package scraper

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/jgrazian/discord-scraper/internal/discord"
	"github.com/jgrazian/discord-scraper/internal/models"
)

// fakeFetcher serves pages from an in-memory, newest-first history.
type fakeFetcher struct {
	history  map[string][]models.Message // newest-first per channel
	pageSize int

	calls   []string // "channelID/before" per Messages call
	chanErr map[string]error
	pageErr map[string]error // keyed like calls
}

func (f *fakeFetcher) Channel(ctx context.Context, channelID string) (*models.Channel, error) {
	if err := f.chanErr[channelID]; err != nil {
		return nil, err
	}
	return &models.Channel{ID: channelID, Name: "chan-" + channelID}, nil
}

func (f *fakeFetcher) Messages(ctx context.Context, channelID, before string) ([]models.Message, error) {
	key := channelID + "/" + before
	f.calls = append(f.calls, key)
	if err := f.pageErr[key]; err != nil {
		return nil, err
	}

	var page []models.Message
	for _, m := range f.history[channelID] {
		if before != "" && !models.SnowflakeLess(m.ID, before) {
			continue
		}
		page = append(page, m)
		if len(page) == f.pageSize {
			break
		}
	}
	return page, nil
}

// fakeStore keeps rows in maps keyed exactly like the SQLite tables.
type fakeStore struct {
	messages map[string]models.Message
	channels map[string]models.Channel
	failNext error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		messages: map[string]models.Message{},
		channels: map[string]models.Channel{},
	}
}

func (s *fakeStore) Close() error                   { return nil }
func (s *fakeStore) Ping(ctx context.Context) error { return nil }

func (s *fakeStore) UpsertMessages(ctx context.Context, msgs []models.Message) (int, error) {
	if s.failNext != nil {
		return 0, s.failNext
	}
	for _, m := range msgs {
		s.messages[m.ID] = m
	}
	return len(msgs), nil
}

func (s *fakeStore) CountMessages(ctx context.Context, channelID string) (int64, error) {
	var n int64
	for _, m := range s.messages {
		if m.ChannelID == channelID {
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) UpsertChannel(ctx context.Context, ch models.Channel) error {
	s.channels[ch.ID] = ch
	return nil
}

func (s *fakeStore) RecordRun(ctx context.Context, runID string, channelIDs []string) error {
	return nil
}
func (s *fakeStore) FinishRun(ctx context.Context, runID string) error { return nil }

// history builds a newest-first message list with IDs hi..lo.
func history(channelID string, hi, lo int) []models.Message {
	var msgs []models.Message
	for id := hi; id >= lo; id-- {
		msgs = append(msgs, models.Message{
			ID:        strconv.Itoa(id),
			ChannelID: channelID,
			Author:    models.User{ID: "7", Username: "ann"},
			Content:   fmt.Sprintf("message %d", id),
			Timestamp: "2023-01-01T00:00:00Z",
		})
	}
	return msgs
}

func newTestScraper(f *fakeFetcher, s *fakeStore) *Scraper {
	sc := New(f, s, zerolog.Nop())
	sc.pageSize = f.pageSize
	return sc
}

func TestEndToEndScenario(t *testing.T) {
	// Channel "123" has 26 messages with IDs 100..75 and a page size of 10:
	// pages [100..91], [90..81], [80..75].
	f := &fakeFetcher{history: map[string][]models.Message{"123": history("123", 100, 75)}, pageSize: 10}
	st := newFakeStore()

	err := newTestScraper(f, st).Run(context.Background(), []string{"123"})
	require.NoError(t, err)

	// Three calls with cursors unset, 91, 81; the short third page stops the loop.
	require.Equal(t, []string{"123/", "123/91", "123/81"}, f.calls)

	require.Len(t, st.messages, 26)
	for id := 75; id <= 100; id++ {
		require.Contains(t, st.messages, strconv.Itoa(id))
	}
	require.Contains(t, st.channels, "123")
}

func TestExactPageMultipleEndsOnEmpty(t *testing.T) {
	// 20 messages, page size 10: two full pages then one empty fetch.
	f := &fakeFetcher{history: map[string][]models.Message{"123": history("123", 20, 1)}, pageSize: 10}
	st := newFakeStore()

	err := newTestScraper(f, st).Run(context.Background(), []string{"123"})
	require.NoError(t, err)
	require.Equal(t, []string{"123/", "123/11", "123/1"}, f.calls)
	require.Len(t, st.messages, 20)
}

func TestEmptyChannel(t *testing.T) {
	f := &fakeFetcher{history: map[string][]models.Message{}, pageSize: 10}
	st := newFakeStore()

	err := newTestScraper(f, st).Run(context.Background(), []string{"123"})
	require.NoError(t, err)
	require.Equal(t, []string{"123/"}, f.calls)
	require.Empty(t, st.messages)
}

func TestRerunIsIdempotent(t *testing.T) {
	f := &fakeFetcher{history: map[string][]models.Message{"123": history("123", 100, 75)}, pageSize: 10}
	st := newFakeStore()
	sc := newTestScraper(f, st)

	require.NoError(t, sc.Run(context.Background(), []string{"123"}))
	require.NoError(t, sc.Run(context.Background(), []string{"123"}))
	require.Len(t, st.messages, 26)
}

func TestChannelFailureIsIsolated(t *testing.T) {
	f := &fakeFetcher{
		history:  map[string][]models.Message{"456": history("456", 5, 1)},
		pageSize: 10,
		chanErr:  map[string]error{"123": errors.New("boom")},
	}
	st := newFakeStore()

	// One channel fails, the other succeeds: best-effort success.
	err := newTestScraper(f, st).Run(context.Background(), []string{"123", "456"})
	require.NoError(t, err)
	require.Len(t, st.messages, 5)
}

func TestMidHistoryFailureIsIsolated(t *testing.T) {
	f := &fakeFetcher{
		history: map[string][]models.Message{
			"123": history("123", 30, 1),
			"456": history("456", 5, 1),
		},
		pageSize: 10,
		pageErr:  map[string]error{"123/21": errors.New("boom")},
	}
	st := newFakeStore()

	err := newTestScraper(f, st).Run(context.Background(), []string{"123", "456"})
	require.NoError(t, err)
	// The first channel's stored pages stay; the second channel still ran.
	require.Len(t, st.messages, 15)
}

func TestAllChannelsFailed(t *testing.T) {
	f := &fakeFetcher{
		pageSize: 10,
		chanErr:  map[string]error{"123": errors.New("boom")},
	}
	st := newFakeStore()

	err := newTestScraper(f, st).Run(context.Background(), []string{"123"})
	require.ErrorIs(t, err, ErrAllChannelsFailed)
}

func TestAuthErrorAbortsRun(t *testing.T) {
	f := &fakeFetcher{
		pageSize: 10,
		chanErr: map[string]error{
			"123": fmt.Errorf("fetch: %w", discord.ErrAuthRejected),
		},
		history: map[string][]models.Message{"456": history("456", 5, 1)},
	}
	st := newFakeStore()

	// A bad token cannot self-correct; the second channel is never tried.
	err := newTestScraper(f, st).Run(context.Background(), []string{"123", "456"})
	require.ErrorIs(t, err, discord.ErrAuthRejected)
	require.Empty(t, st.messages)
}

func TestStoreErrorAbortsRun(t *testing.T) {
	f := &fakeFetcher{
		history: map[string][]models.Message{
			"123": history("123", 5, 1),
			"456": history("456", 5, 1),
		},
		pageSize: 10,
	}
	st := newFakeStore()
	st.failNext = errors.New("disk full")

	err := newTestScraper(f, st).Run(context.Background(), []string{"123", "456"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "disk full")
	// No second channel after a storage failure.
	require.Equal(t, []string{"123/"}, f.calls)
}
