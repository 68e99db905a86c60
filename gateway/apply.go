package gateway

import (
	"fmt"

	"github.com/fuad-daoud/guildkit/cache"
	"github.com/fuad-daoud/guildkit/models"
)

// applier decodes payload and mutates the cache with stamp. It must not touch
// the cache before the whole payload decoded.
type applier func(c *cache.Caches, payload any, stamp uint64) (any, error)

var appliers = map[EventType]applier{
	Ready:           applyReady,
	MessageCreated:  applyMessage,
	MessageUpdated:  applyMessage,
	MessageDeleted:  applyMessageDelete,
	MessagePinned:   applyMessagePin,
	UserUpdated:     applyUser,
	PresenceUpdated: applyPresence,
	GuildCreated:    applyGuild,
	GuildUpdated:    applyGuild,
	GuildDeleted:    applyGuildDelete,
	ChannelCreated:  applyChannel,
	ChannelUpdated:  applyChannel,
	ChannelDeleted:  applyChannelDelete,
	RoleCreated:     applyRole,
	RoleUpdated:     applyRoleUpdate,
	RoleDeleted:     applyRoleDelete,
	MemberAdded:     applyMember,
	MemberUpdated:   applyMember,
	MemberRemoved:   applyMemberRemove,
}

func decodeInto[T any](payload any) (T, error) {
	var out T
	if payload == nil {
		return out, fmt.Errorf("missing payload")
	}
	err := models.DecodeValue(payload, &out)
	return out, err
}

func applyReady(c *cache.Caches, payload any, stamp uint64) (any, error) {
	p, err := decodeInto[readyPayload](payload)
	if err != nil {
		return nil, err
	}
	user, err := p.User.ToEntity()
	if err != nil {
		return nil, err
	}
	contents := make([]models.GuildContents, 0, len(p.Guilds))
	for _, gp := range p.Guilds {
		gc, err := gp.ToEntity()
		if err != nil {
			return nil, err
		}
		contents = append(contents, gc)
	}

	ready := ReadyData{User: c.SetSelfUser(user, stamp)}
	for _, gc := range contents {
		guild, _ := c.ReplaceGuild(gc, stamp)
		ready.Guilds = append(ready.Guilds, guild)
	}
	return ready, nil
}

func applyMessage(c *cache.Caches, payload any, stamp uint64) (any, error) {
	p, err := decodeInto[models.MessagePayload](payload)
	if err != nil {
		return nil, err
	}
	message, err := p.ToEntity()
	if err != nil {
		return nil, err
	}
	stored, _ := c.UpsertMessage(message, stamp)
	return stored, nil
}

func applyMessageDelete(c *cache.Caches, payload any, stamp uint64) (any, error) {
	p, err := decodeInto[messageDeletePayload](payload)
	if err != nil {
		return nil, err
	}
	if !models.ValidID(p.ID) {
		return nil, fmt.Errorf("message delete: invalid id %d", p.ID)
	}
	deleted := MessageDelete{ID: p.ID, ChannelID: p.ChannelID}
	if cached, ok := c.Message(p.ID); ok {
		deleted.Message = &cached
		if deleted.ChannelID == 0 {
			deleted.ChannelID = cached.ChannelID
		}
	}
	c.RemoveMessage(p.ID, stamp)
	return deleted, nil
}

func applyMessagePin(c *cache.Caches, payload any, stamp uint64) (any, error) {
	p, err := decodeInto[messagePinPayload](payload)
	if err != nil {
		return nil, err
	}
	if !models.ValidID(p.MessageID) {
		return nil, fmt.Errorf("message pin: invalid id %d", p.MessageID)
	}
	pin := MessagePin{ChannelID: p.ChannelID, MessageID: p.MessageID, Pinned: p.Pinned}
	if cached, ok := c.Message(p.MessageID); ok {
		stored, _ := c.UpsertMessage(cached.WithPinned(p.Pinned), stamp)
		pin.Message = &stored
	}
	return pin, nil
}

func applyUser(c *cache.Caches, payload any, stamp uint64) (any, error) {
	p, err := decodeInto[models.UserPayload](payload)
	if err != nil {
		return nil, err
	}
	user, err := p.ToEntity()
	if err != nil {
		return nil, err
	}
	if cached, ok := c.User(user.ID); ok && user.Status == "" {
		user.Status = cached.Status
	}
	stored, _ := c.UpsertUser(user, stamp)
	return stored, nil
}

// applyPresence only updates users that are already cached, since the
// payload carries no name.
func applyPresence(c *cache.Caches, payload any, stamp uint64) (any, error) {
	p, err := decodeInto[presencePayload](payload)
	if err != nil {
		return nil, err
	}
	status := models.Status(p.Status)
	if !models.ValidID(p.UserID) || !status.Valid() {
		return nil, fmt.Errorf("presence: invalid user %d or status %q", p.UserID, p.Status)
	}
	user, ok := c.User(p.UserID)
	if !ok {
		return models.User{ID: p.UserID, Status: status}, nil
	}
	user.Status = status
	stored, _ := c.UpsertUser(user, stamp)
	return stored, nil
}

func applyGuild(c *cache.Caches, payload any, stamp uint64) (any, error) {
	p, err := decodeInto[models.GuildPayload](payload)
	if err != nil {
		return nil, err
	}
	contents, err := p.ToEntity()
	if err != nil {
		return nil, err
	}
	guild, _ := c.ReplaceGuild(contents, stamp)
	return guild, nil
}

func applyGuildDelete(c *cache.Caches, payload any, stamp uint64) (any, error) {
	p, err := decodeInto[guildDeletePayload](payload)
	if err != nil {
		return nil, err
	}
	if !models.ValidID(p.ID) {
		return nil, fmt.Errorf("guild delete: invalid id %d", p.ID)
	}
	deleted := GuildDelete{ID: p.ID}
	if cached, ok := c.Guild(p.ID); ok {
		deleted.Guild = &cached
	}
	c.RemoveCascade(p.ID, stamp)
	return deleted, nil
}

func decodeChannel(payload any) (models.Channel, []models.User, error) {
	p, err := decodeInto[models.ChannelPayload](payload)
	if err != nil {
		return models.Channel{}, nil, err
	}
	return p.ToEntity(0)
}

func applyChannel(c *cache.Caches, payload any, stamp uint64) (any, error) {
	channel, recipients, err := decodeChannel(payload)
	if err != nil {
		return nil, err
	}
	for _, user := range recipients {
		c.UpsertUser(user, stamp)
	}
	stored, _ := c.UpsertChannel(channel, stamp)
	return stored, nil
}

func applyChannelDelete(c *cache.Caches, payload any, stamp uint64) (any, error) {
	channel, _, err := decodeChannel(payload)
	if err != nil {
		return nil, err
	}
	c.RemoveChannel(channel.ID, stamp)
	return channel, nil
}

// applyRole rejects a role whose position or default flag clashes with the
// other cached roles of its guild.
func applyRole(c *cache.Caches, payload any, stamp uint64) (any, error) {
	p, err := decodeInto[models.RolePayload](payload)
	if err != nil {
		return nil, err
	}
	role, err := p.ToEntity(0)
	if err != nil {
		return nil, err
	}
	roles := []models.Role{role}
	for _, other := range c.GuildRoles(role.GuildID) {
		if other.ID != role.ID {
			roles = append(roles, other)
		}
	}
	if err := models.ValidateRoles(roles); err != nil {
		return nil, err
	}
	stored, _ := c.UpsertRole(role, stamp)
	return stored, nil
}

// applyRoleUpdate lets a role move onto a taken position; the cache swaps
// the two so a reorder is never dropped halfway.
func applyRoleUpdate(c *cache.Caches, payload any, stamp uint64) (any, error) {
	p, err := decodeInto[models.RolePayload](payload)
	if err != nil {
		return nil, err
	}
	role, err := p.ToEntity(0)
	if err != nil {
		return nil, err
	}
	if role.Default {
		for _, other := range c.GuildRoles(role.GuildID) {
			if other.Default && other.ID != role.ID {
				return nil, fmt.Errorf("roles %s and %s in guild %s: %w", other.ID, role.ID, role.GuildID, models.ErrMultipleDefault)
			}
		}
	}
	stored, _, err := c.MoveRole(role, stamp)
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func applyRoleDelete(c *cache.Caches, payload any, stamp uint64) (any, error) {
	p, err := decodeInto[roleDeletePayload](payload)
	if err != nil {
		return nil, err
	}
	if !models.ValidID(p.RoleID) {
		return nil, fmt.Errorf("role delete: invalid id %d", p.RoleID)
	}
	c.RemoveRole(p.RoleID, stamp)
	return RoleDelete{ID: p.RoleID, GuildID: p.GuildID}, nil
}

func applyMember(c *cache.Caches, payload any, stamp uint64) (any, error) {
	p, err := decodeInto[models.MemberPayload](payload)
	if err != nil {
		return nil, err
	}
	member, err := p.ToEntity(0)
	if err != nil {
		return nil, err
	}
	stored, _ := c.UpsertMember(member, stamp)
	return stored, nil
}

func applyMemberRemove(c *cache.Caches, payload any, stamp uint64) (any, error) {
	p, err := decodeInto[memberRemovePayload](payload)
	if err != nil {
		return nil, err
	}
	user, err := p.User.ToEntity()
	if err != nil {
		return nil, err
	}
	if !models.ValidID(p.GuildID) {
		return nil, fmt.Errorf("member remove: invalid guild id %d", p.GuildID)
	}
	c.RemoveMember(p.GuildID, user.ID, stamp)
	return MemberRemove{GuildID: p.GuildID, User: user}, nil
}
