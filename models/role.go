package models

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/disgoorg/snowflake/v2"
)

var (
	ErrDuplicatePosition = errors.New("role position already taken")
	ErrMultipleDefault   = errors.New("guild has more than one default role")
)

type Role struct {
	ID      snowflake.ID
	GuildID snowflake.ID
	Name    string
	Color   Color
	// Hoist roles are displayed separately from online members.
	Hoist bool
	// Position orders roles inside a guild, 0 being the lowest.
	Position    int
	Mentionable bool
	Default     bool
}

func (r Role) CreatedAt() time.Time { return r.ID.Time() }

// ValidateRoles checks per guild that positions are unique and that at most
// one role is the default role.
func ValidateRoles(roles []Role) error {
	type guildState struct {
		positions map[int]snowflake.ID
		def       snowflake.ID
	}
	guilds := make(map[snowflake.ID]*guildState)
	for _, role := range roles {
		state, ok := guilds[role.GuildID]
		if !ok {
			state = &guildState{positions: make(map[int]snowflake.ID)}
			guilds[role.GuildID] = state
		}
		if other, taken := state.positions[role.Position]; taken && other != role.ID {
			return fmt.Errorf("roles %s and %s at %d in guild %s: %w", other, role.ID, role.Position, role.GuildID, ErrDuplicatePosition)
		}
		state.positions[role.Position] = role.ID
		if role.Default {
			if state.def != 0 && state.def != role.ID {
				return fmt.Errorf("roles %s and %s in guild %s: %w", state.def, role.ID, role.GuildID, ErrMultipleDefault)
			}
			state.def = role.ID
		}
	}
	return nil
}

// SortRoles orders roles from the lowest position up.
func SortRoles(roles []Role) {
	sort.SliceStable(roles, func(i, j int) bool {
		if roles[i].Position != roles[j].Position {
			return roles[i].Position < roles[j].Position
		}
		return roles[i].ID < roles[j].ID
	})
}
