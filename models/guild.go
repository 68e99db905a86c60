package models

import (
	"time"

	"github.com/disgoorg/snowflake/v2"
)

// Guild owns its channels and roles. ChannelIDs and RoleIDs are ordered by
// position and are filled in by the cache from the entities it holds.
type Guild struct {
	ID         snowflake.ID
	Name       string
	OwnerID    snowflake.ID
	ChannelIDs []snowflake.ID
	RoleIDs    []snowflake.ID
}

func (g Guild) CreatedAt() time.Time { return g.ID.Time() }

func (g Guild) Clone() Guild {
	g.ChannelIDs = cloneIDs(g.ChannelIDs)
	g.RoleIDs = cloneIDs(g.RoleIDs)
	return g
}

func (g Guild) HasChannel(id snowflake.ID) bool {
	for _, channelID := range g.ChannelIDs {
		if channelID == id {
			return true
		}
	}
	return false
}
