// Package models defines the records scraped from the Discord API.
package models

import (
	"encoding/json"
	"strconv"
	"time"
)

// Discord epoch: 2015-01-01T00:00:00Z in Unix milliseconds. Snowflake IDs
// carry their creation time in the upper 42 bits relative to this epoch.
const discordEpochMs = 1420070400000

// Message is a single chat message as returned by the history endpoint.
// Messages are append-only: once stored they are never mutated locally.
type Message struct {
	ID          string          `json:"id"`
	ChannelID   string          `json:"channel_id"`
	Author      User            `json:"author"`
	Content     string          `json:"content"`
	Timestamp   string          `json:"timestamp"`
	Attachments json.RawMessage `json:"attachments,omitempty"`
	Embeds      json.RawMessage `json:"embeds,omitempty"`
}

// User identifies a message author.
type User struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Discriminator string `json:"discriminator"`
}

// Channel is the metadata record for a conversation stream.
type Channel struct {
	ID      string `json:"id"`
	GuildID string `json:"guild_id,omitempty"`
	Name    string `json:"name,omitempty"`
}

// SnowflakeLess reports whether snowflake a sorts before b numerically.
// Falls back to string comparison if either ID is not a valid integer.
func SnowflakeLess(a, b string) bool {
	na, errA := strconv.ParseUint(a, 10, 64)
	nb, errB := strconv.ParseUint(b, 10, 64)
	if errA != nil || errB != nil {
		return a < b
	}
	return na < nb
}

// SnowflakeTime extracts the creation time encoded in a snowflake ID.
// Returns the zero time if the ID does not parse.
func SnowflakeTime(id string) time.Time {
	n, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return time.Time{}
	}
	ms := int64(n>>22) + discordEpochMs
	return time.UnixMilli(ms).UTC()
}

// OldestID returns the minimum message ID in a page, the exclusive upper
// bound for the next history request. Empty pages return "".
func OldestID(page []Message) string {
	if len(page) == 0 {
		return ""
	}
	oldest := page[0].ID
	for _, m := range page[1:] {
		if SnowflakeLess(m.ID, oldest) {
			oldest = m.ID
		}
	}
	return oldest
}
