package models

import (
	"time"

	"github.com/disgoorg/snowflake/v2"
)

// Message is immutable apart from Pinned and EditedAt, which change only
// through WithPinned and WithEdit.
type Message struct {
	ID        snowflake.ID
	ChannelID snowflake.ID
	// GuildID is zero for messages in DM and group channels.
	GuildID   snowflake.ID
	Author    User
	Content   string
	CreatedAt time.Time
	EditedAt  *time.Time
	Pinned    bool
}

func (m Message) Edited() bool { return m.EditedAt != nil }

func (m Message) WithPinned(pinned bool) Message {
	m = m.Clone()
	m.Pinned = pinned
	return m
}

func (m Message) WithEdit(content string, at time.Time) Message {
	m.Content = content
	at = at.UTC()
	m.EditedAt = &at
	return m
}

func (m Message) Clone() Message {
	if m.EditedAt != nil {
		at := *m.EditedAt
		m.EditedAt = &at
	}
	return m
}
