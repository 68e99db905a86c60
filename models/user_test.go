package models

import (
	"testing"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/stretchr/testify/assert"
)

func TestDisplayName(t *testing.T) {
	user := User{ID: 1, Name: "luna", Discriminator: "0001"}
	t.Run("Testing user display name is the name", func(t *testing.T) {
		assert.Equal(t, "luna", user.DisplayName())
		assert.Equal(t, "luna#0001", user.Tag())
	})
	t.Run("Testing nickname overrides the name", func(t *testing.T) {
		var identity Identity = GuildUser{User: user, Nick: "moon"}
		assert.Equal(t, "moon", identity.DisplayName())
		assert.Equal(t, "luna", identity.Username())
	})
	t.Run("Testing empty nickname falls back", func(t *testing.T) {
		assert.Equal(t, "luna", GuildUser{User: user}.DisplayName())
	})
}

func TestCreatedAtFromID(t *testing.T) {
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	user := User{ID: snowflake.New(at)}
	assert.True(t, user.CreatedAt().Equal(at), "got %s", user.CreatedAt())
}

func TestValidID(t *testing.T) {
	negative := int64(-1)
	assert.False(t, ValidID(0))
	assert.False(t, ValidID(snowflake.ID(negative)))
	assert.True(t, ValidID(1))
}

func TestMessageMutators(t *testing.T) {
	original := Message{ID: 1, ChannelID: 2, Content: "hi"}
	pinned := original.WithPinned(true)
	assert.False(t, original.Pinned)
	assert.True(t, pinned.Pinned)

	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	edited := original.WithEdit("hello", at)
	assert.False(t, original.Edited())
	assert.True(t, edited.Edited())
	assert.Equal(t, "hello", edited.Content)
	assert.Equal(t, "hi", original.Content)
}

func TestChannelValidate(t *testing.T) {
	assert.NoError(t, Channel{ID: 1, Type: ChannelTypeDM}.Validate())
	assert.Error(t, Channel{ID: 1, Type: ChannelTypeDM, GuildID: 3}.Validate())
	assert.Error(t, Channel{ID: 1, Type: ChannelTypeGuildText}.Validate())
	assert.Error(t, Channel{ID: 1, Type: ChannelType(42), GuildID: 3}.Validate())
}
