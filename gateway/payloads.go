package gateway

import (
	"github.com/disgoorg/snowflake/v2"
	"github.com/fuad-daoud/guildkit/models"
)

type readyPayload struct {
	User   models.ClientUserPayload `json:"user"`
	Guilds []models.GuildPayload    `json:"guilds"`
}

type messageDeletePayload struct {
	ID        snowflake.ID `json:"id"`
	ChannelID snowflake.ID `json:"channel_id"`
}

type messagePinPayload struct {
	ChannelID snowflake.ID `json:"channel_id"`
	MessageID snowflake.ID `json:"message_id"`
	Pinned    bool         `json:"pinned"`
}

type presencePayload struct {
	UserID snowflake.ID `json:"user_id"`
	Status string       `json:"status"`
}

type guildDeletePayload struct {
	ID snowflake.ID `json:"id"`
}

type roleDeletePayload struct {
	GuildID snowflake.ID `json:"guild_id"`
	RoleID  snowflake.ID `json:"role_id"`
}

type memberRemovePayload struct {
	GuildID snowflake.ID       `json:"guild_id"`
	User    models.UserPayload `json:"user"`
}
