package models

import (
	"time"

	"github.com/disgoorg/snowflake/v2"
)

// Identity is the capability set shared by a plain User and a GuildUser.
type Identity interface {
	UserID() snowflake.ID
	Username() string
	DisplayName() string
}

type User struct {
	ID            snowflake.ID
	Name          string
	Discriminator string
	Bot           bool
	Status        Status
}

func (u User) UserID() snowflake.ID { return u.ID }

func (u User) Username() string { return u.Name }

func (u User) DisplayName() string { return u.Name }

func (u User) CreatedAt() time.Time { return u.ID.Time() }

// Tag is the name#discriminator pair that tells same-named users apart.
func (u User) Tag() string {
	return u.Name + "#" + u.Discriminator
}

// ClientUser is the account the client logged in with.
type ClientUser struct {
	User
	// Friends and Blocked are only populated for non-bot accounts.
	Friends []snowflake.ID
	Blocked []snowflake.ID
}

func (u ClientUser) Clone() ClientUser {
	u.Friends = cloneIDs(u.Friends)
	u.Blocked = cloneIDs(u.Blocked)
	return u
}

// MemberKey addresses a GuildUser inside the cache.
type MemberKey struct {
	GuildID snowflake.ID
	UserID  snowflake.ID
}

// GuildUser is a User seen through one guild.
type GuildUser struct {
	User
	GuildID  snowflake.ID
	Nick     string
	RoleIDs  []snowflake.ID
	JoinedAt time.Time
}

// DisplayName prefers the guild nickname over the account name.
func (m GuildUser) DisplayName() string {
	if m.Nick != "" {
		return m.Nick
	}
	return m.Name
}

func (m GuildUser) Key() MemberKey {
	return MemberKey{GuildID: m.GuildID, UserID: m.ID}
}

func (m GuildUser) HasRole(roleID snowflake.ID) bool {
	for _, id := range m.RoleIDs {
		if id == roleID {
			return true
		}
	}
	return false
}

func (m GuildUser) Clone() GuildUser {
	m.RoleIDs = cloneIDs(m.RoleIDs)
	return m
}

var (
	_ Identity = User{}
	_ Identity = GuildUser{}
	_ Identity = ClientUser{}
)
