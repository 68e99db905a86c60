package models

import (
	"fmt"
	"time"

	"github.com/disgoorg/snowflake/v2"
)

type UserPayload struct {
	ID            snowflake.ID `json:"id"`
	Username      string       `json:"username"`
	Discriminator string       `json:"discriminator"`
	Bot           bool         `json:"bot"`
	Status        string       `json:"status"`
}

func (p UserPayload) ToEntity() (User, error) {
	if !ValidID(p.ID) {
		return User{}, fmt.Errorf("user: invalid id %d", p.ID)
	}
	status := Status(p.Status)
	if !status.Valid() {
		return User{}, fmt.Errorf("user %s: unknown status %q", p.ID, p.Status)
	}
	return User{
		ID:            p.ID,
		Name:          p.Username,
		Discriminator: p.Discriminator,
		Bot:           p.Bot,
		Status:        status,
	}, nil
}

type ClientUserPayload struct {
	UserPayload
	Friends []snowflake.ID `json:"friends"`
	Blocked []snowflake.ID `json:"blocked"`
}

func (p ClientUserPayload) ToEntity() (ClientUser, error) {
	user, err := p.UserPayload.ToEntity()
	if err != nil {
		return ClientUser{}, err
	}
	return ClientUser{User: user, Friends: p.Friends, Blocked: p.Blocked}, nil
}

type MemberPayload struct {
	GuildID  snowflake.ID   `json:"guild_id"`
	User     UserPayload    `json:"user"`
	Nick     string         `json:"nick"`
	Roles    []snowflake.ID `json:"roles"`
	JoinedAt *time.Time     `json:"joined_at"`
}

// ToEntity uses guildID when the payload does not name its guild, which is
// the case for members nested in a guild object.
func (p MemberPayload) ToEntity(guildID snowflake.ID) (GuildUser, error) {
	if p.GuildID != 0 {
		guildID = p.GuildID
	}
	if !ValidID(guildID) {
		return GuildUser{}, fmt.Errorf("member: invalid guild id %d", guildID)
	}
	user, err := p.User.ToEntity()
	if err != nil {
		return GuildUser{}, err
	}
	member := GuildUser{User: user, GuildID: guildID, Nick: p.Nick, RoleIDs: p.Roles}
	if p.JoinedAt != nil {
		member.JoinedAt = p.JoinedAt.UTC()
	}
	return member, nil
}

type RolePayload struct {
	ID          snowflake.ID `json:"id"`
	GuildID     snowflake.ID `json:"guild_id"`
	Name        string       `json:"name"`
	Color       int          `json:"color"`
	Hoist       bool         `json:"hoist"`
	Position    int          `json:"position"`
	Mentionable bool         `json:"mentionable"`
	Default     bool         `json:"default"`
}

func (p RolePayload) ToEntity(guildID snowflake.ID) (Role, error) {
	if p.GuildID != 0 {
		guildID = p.GuildID
	}
	if !ValidID(p.ID) || !ValidID(guildID) {
		return Role{}, fmt.Errorf("role: invalid id %d in guild %d", p.ID, guildID)
	}
	if p.Position < 0 {
		return Role{}, fmt.Errorf("role %s: negative position %d", p.ID, p.Position)
	}
	return Role{
		ID:          p.ID,
		GuildID:     guildID,
		Name:        p.Name,
		Color:       ColorFromValue(p.Color),
		Hoist:       p.Hoist,
		Position:    p.Position,
		Mentionable: p.Mentionable,
		Default:     p.Default,
	}, nil
}

type ChannelPayload struct {
	ID         snowflake.ID  `json:"id"`
	Type       int           `json:"type"`
	GuildID    snowflake.ID  `json:"guild_id"`
	ParentID   snowflake.ID  `json:"parent_id"`
	Name       string        `json:"name"`
	Position   int           `json:"position"`
	Recipients []UserPayload `json:"recipients"`
}

func (p ChannelPayload) ToEntity(guildID snowflake.ID) (Channel, []User, error) {
	if p.GuildID != 0 {
		guildID = p.GuildID
	}
	channel := Channel{
		ID:       p.ID,
		Type:     ChannelType(p.Type),
		GuildID:  guildID,
		ParentID: p.ParentID,
		Name:     p.Name,
		Position: p.Position,
	}
	if channel.Type.IsPrivate() {
		channel.GuildID = 0
	}
	if err := channel.Validate(); err != nil {
		return Channel{}, nil, err
	}
	var recipients []User
	for _, rp := range p.Recipients {
		user, err := rp.ToEntity()
		if err != nil {
			return Channel{}, nil, err
		}
		recipients = append(recipients, user)
		channel.Recipients = append(channel.Recipients, user.ID)
	}
	return channel, recipients, nil
}

type MessagePayload struct {
	ID              snowflake.ID `json:"id"`
	ChannelID       snowflake.ID `json:"channel_id"`
	GuildID         snowflake.ID `json:"guild_id"`
	Author          UserPayload  `json:"author"`
	Content         string       `json:"content"`
	Timestamp       *time.Time   `json:"timestamp"`
	EditedTimestamp *time.Time   `json:"edited_timestamp"`
	Pinned          bool         `json:"pinned"`
}

func (p MessagePayload) ToEntity() (Message, error) {
	if !ValidID(p.ID) || !ValidID(p.ChannelID) {
		return Message{}, fmt.Errorf("message: invalid id %d in channel %d", p.ID, p.ChannelID)
	}
	author, err := p.Author.ToEntity()
	if err != nil {
		return Message{}, fmt.Errorf("message %s author: %w", p.ID, err)
	}
	message := Message{
		ID:        p.ID,
		ChannelID: p.ChannelID,
		GuildID:   p.GuildID,
		Author:    author,
		Content:   p.Content,
		CreatedAt: p.ID.Time().UTC(),
		Pinned:    p.Pinned,
	}
	if p.Timestamp != nil {
		message.CreatedAt = p.Timestamp.UTC()
	}
	if p.EditedTimestamp != nil {
		at := p.EditedTimestamp.UTC()
		message.EditedAt = &at
	}
	return message, nil
}

type GuildPayload struct {
	ID       snowflake.ID     `json:"id"`
	Name     string           `json:"name"`
	OwnerID  snowflake.ID     `json:"owner_id"`
	Channels []ChannelPayload `json:"channels"`
	Roles    []RolePayload    `json:"roles"`
	Members  []MemberPayload  `json:"members"`
}

// GuildContents is a guild together with everything it owns. A nil Channels
// or Roles slice means the payload did not list them.
type GuildContents struct {
	Guild    Guild
	Channels []Channel
	Roles    []Role
	Members  []GuildUser
}

func (p GuildPayload) ToEntity() (GuildContents, error) {
	if !ValidID(p.ID) {
		return GuildContents{}, fmt.Errorf("guild: invalid id %d", p.ID)
	}
	contents := GuildContents{Guild: Guild{ID: p.ID, Name: p.Name, OwnerID: p.OwnerID}}
	if p.Channels != nil {
		contents.Channels = make([]Channel, 0, len(p.Channels))
	}
	if p.Roles != nil {
		contents.Roles = make([]Role, 0, len(p.Roles))
	}
	for _, cp := range p.Channels {
		channel, _, err := cp.ToEntity(p.ID)
		if err != nil {
			return GuildContents{}, err
		}
		if channel.GuildID != p.ID {
			return GuildContents{}, fmt.Errorf("guild %s: channel %s belongs to guild %s", p.ID, channel.ID, channel.GuildID)
		}
		contents.Channels = append(contents.Channels, channel)
	}
	for _, rp := range p.Roles {
		role, err := rp.ToEntity(p.ID)
		if err != nil {
			return GuildContents{}, err
		}
		contents.Roles = append(contents.Roles, role)
	}
	if err := ValidateRoles(contents.Roles); err != nil {
		return GuildContents{}, err
	}
	for _, mp := range p.Members {
		member, err := mp.ToEntity(p.ID)
		if err != nil {
			return GuildContents{}, err
		}
		contents.Members = append(contents.Members, member)
	}
	SortChannels(contents.Channels)
	SortRoles(contents.Roles)
	for _, channel := range contents.Channels {
		contents.Guild.ChannelIDs = append(contents.Guild.ChannelIDs, channel.ID)
	}
	for _, role := range contents.Roles {
		contents.Guild.RoleIDs = append(contents.Guild.RoleIDs, role.ID)
	}
	return contents, nil
}
