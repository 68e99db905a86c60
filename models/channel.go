package models

import (
	"fmt"
	"sort"
	"time"

	"github.com/disgoorg/snowflake/v2"
)

type ChannelType int

const (
	ChannelTypeGuildText ChannelType = iota
	ChannelTypeDM
	ChannelTypeGuildVoice
	ChannelTypeGroupDM
	ChannelTypeGuildCategory
)

func (t ChannelType) String() string {
	switch t {
	case ChannelTypeGuildText:
		return "guild-text"
	case ChannelTypeDM:
		return "dm"
	case ChannelTypeGuildVoice:
		return "guild-voice"
	case ChannelTypeGroupDM:
		return "group-dm"
	case ChannelTypeGuildCategory:
		return "guild-category"
	}
	return fmt.Sprintf("channel-type(%d)", int(t))
}

func (t ChannelType) Valid() bool {
	return t >= ChannelTypeGuildText && t <= ChannelTypeGuildCategory
}

// IsPrivate is true for channels that live outside any guild.
func (t ChannelType) IsPrivate() bool {
	return t == ChannelTypeDM || t == ChannelTypeGroupDM
}

type Channel struct {
	ID   snowflake.ID
	Type ChannelType
	// GuildID is zero for DM and group channels.
	GuildID  snowflake.ID
	ParentID snowflake.ID
	Name     string
	Position int
	// Recipients is only set for DM and group channels.
	Recipients []snowflake.ID
}

func (c Channel) CreatedAt() time.Time { return c.ID.Time() }

func (c Channel) IsPrivate() bool { return c.Type.IsPrivate() }

func (c Channel) Clone() Channel {
	c.Recipients = cloneIDs(c.Recipients)
	return c
}

// Validate checks that the guild reference agrees with the channel type.
func (c Channel) Validate() error {
	if !ValidID(c.ID) {
		return fmt.Errorf("channel: invalid id %d", c.ID)
	}
	if !c.Type.Valid() {
		return fmt.Errorf("channel %s: unknown type %d", c.ID, int(c.Type))
	}
	if c.Type.IsPrivate() && c.GuildID != 0 {
		return fmt.Errorf("channel %s: %s channel cannot belong to guild %s", c.ID, c.Type, c.GuildID)
	}
	if !c.Type.IsPrivate() && c.GuildID == 0 {
		return fmt.Errorf("channel %s: %s channel needs a guild", c.ID, c.Type)
	}
	return nil
}

// SortChannels orders channels by position, then id.
func SortChannels(channels []Channel) {
	sort.SliceStable(channels, func(i, j int) bool {
		if channels[i].Position != channels[j].Position {
			return channels[i].Position < channels[j].Position
		}
		return channels[i].ID < channels[j].ID
	})
}
