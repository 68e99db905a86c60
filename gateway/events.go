package gateway

import (
	"github.com/disgoorg/snowflake/v2"
	"github.com/fuad-daoud/guildkit/models"
)

type EventType string

const (
	Ready           EventType = "ready"
	MessageCreated  EventType = "message-created"
	MessageUpdated  EventType = "message-updated"
	MessageDeleted  EventType = "message-deleted"
	MessagePinned   EventType = "message-pinned"
	UserUpdated     EventType = "user-updated"
	PresenceUpdated EventType = "presence-updated"
	GuildCreated    EventType = "guild-created"
	GuildUpdated    EventType = "guild-updated"
	GuildDeleted    EventType = "guild-deleted"
	ChannelCreated  EventType = "channel-created"
	ChannelUpdated  EventType = "channel-updated"
	ChannelDeleted  EventType = "channel-deleted"
	RoleCreated     EventType = "role-created"
	RoleUpdated     EventType = "role-updated"
	RoleDeleted     EventType = "role-deleted"
	MemberAdded     EventType = "member-added"
	MemberUpdated   EventType = "member-updated"
	MemberRemoved   EventType = "member-removed"
)

// Event is what handlers receive. Entity holds the state the cache ended up
// with after the event was applied; its concrete type depends on Type:
//
//	ready                          ReadyData
//	message-created/updated        models.Message
//	message-deleted                MessageDelete
//	message-pinned                 MessagePin
//	user-updated, presence-updated models.User
//	guild-created/updated          models.Guild
//	guild-deleted                  GuildDelete
//	channel-created/updated/deleted models.Channel
//	role-created/updated           models.Role
//	role-deleted                   RoleDelete
//	member-added/updated           models.GuildUser
//	member-removed                 MemberRemove
type Event struct {
	Type   EventType
	Seq    int64
	Entity any
}

type ReadyData struct {
	User   models.ClientUser
	Guilds []models.Guild
}

// MessageDelete names the removed message. Message is the last cached copy,
// nil when the message was never cached.
type MessageDelete struct {
	ID        snowflake.ID
	ChannelID snowflake.ID
	Message   *models.Message
}

// MessagePin carries the new pin state. Message is nil when the message is
// not cached.
type MessagePin struct {
	ChannelID snowflake.ID
	MessageID snowflake.ID
	Pinned    bool
	Message   *models.Message
}

type GuildDelete struct {
	ID    snowflake.ID
	Guild *models.Guild
}

type RoleDelete struct {
	ID      snowflake.ID
	GuildID snowflake.ID
}

type MemberRemove struct {
	GuildID snowflake.ID
	User    models.User
}
