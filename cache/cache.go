// Package cache is the single owner of canonical entity state.
//
// Every entity type lives in its own bucket with its own lock, so readers of
// one type never wait on writers of another. Writes carry a stamp taken from
// the cache's sequence clock: the event dispatcher calls Tick for each event
// and the request gateway reads Sequence before going to the network. A
// write older than what is stored, or older than a delete of the same key,
// is dropped, so a slow fetch never undoes a newer event.
//
// Operations that touch several buckets take their locks in a fixed order:
// guilds, channels, roles, members, messages, users.
package cache

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/disgoorg/snowflake/v2"
	"github.com/fuad-daoud/guildkit/models"
)

type Caches struct {
	clock atomic.Uint64

	guilds   *bucket[snowflake.ID, models.Guild]
	channels *bucket[snowflake.ID, models.Channel]
	roles    *bucket[snowflake.ID, models.Role]
	members  *bucket[models.MemberKey, models.GuildUser]
	messages *bucket[snowflake.ID, models.Message]
	users    *bucket[snowflake.ID, models.User]

	selfMu sync.RWMutex
	self   *models.ClientUser
}

type Stats struct {
	Guilds   int `json:"guilds"`
	Channels int `json:"channels"`
	Roles    int `json:"roles"`
	Members  int `json:"members"`
	Messages int `json:"messages"`
	Users    int `json:"users"`
}

func New() *Caches {
	return &Caches{
		guilds:   newBucket[snowflake.ID, models.Guild](nil),
		channels: newBucket[snowflake.ID](func(c models.Channel) snowflake.ID { return c.GuildID }),
		roles:    newBucket[snowflake.ID](func(r models.Role) snowflake.ID { return r.GuildID }),
		members:  newBucket[models.MemberKey](func(m models.GuildUser) snowflake.ID { return m.GuildID }),
		messages: newBucket[snowflake.ID](func(m models.Message) snowflake.ID { return m.ChannelID }),
		users:    newBucket[snowflake.ID, models.User](nil),
	}
}

// Sequence returns the current stamp without advancing the clock.
func (c *Caches) Sequence() uint64 {
	return c.clock.Load()
}

// Tick advances the clock and returns a stamp newer than every stamp handed
// out before.
func (c *Caches) Tick() uint64 {
	return c.clock.Add(1)
}

func (c *Caches) Stats() Stats {
	return Stats{
		Guilds:   c.guilds.len(),
		Channels: c.channels.len(),
		Roles:    c.roles.len(),
		Members:  c.members.len(),
		Messages: c.messages.len(),
		Users:    c.users.len(),
	}
}

// Reset drops every entity and tombstone. The clock keeps running so stamps
// taken before the reset stay comparable.
func (c *Caches) Reset() {
	c.lockAll()
	defer c.unlockAll()
	c.guilds.resetLocked()
	c.channels.resetLocked()
	c.roles.resetLocked()
	c.members.resetLocked()
	c.messages.resetLocked()
	c.users.resetLocked()

	c.selfMu.Lock()
	c.self = nil
	c.selfMu.Unlock()
}

func (c *Caches) lockAll() {
	c.guilds.mu.Lock()
	c.channels.mu.Lock()
	c.roles.mu.Lock()
	c.members.mu.Lock()
	c.messages.mu.Lock()
	c.users.mu.Lock()
}

func (c *Caches) unlockAll() {
	c.users.mu.Unlock()
	c.messages.mu.Unlock()
	c.members.mu.Unlock()
	c.roles.mu.Unlock()
	c.channels.mu.Unlock()
	c.guilds.mu.Unlock()
}

// Users

func (c *Caches) UpsertUser(user models.User, stamp uint64) (models.User, bool) {
	c.users.mu.Lock()
	defer c.users.mu.Unlock()
	return c.users.putLocked(user.ID, user, stamp)
}

func (c *Caches) User(id snowflake.ID) (models.User, bool) {
	return c.users.get(id)
}

func (c *Caches) RemoveUser(id snowflake.ID, stamp uint64) bool {
	c.users.mu.Lock()
	defer c.users.mu.Unlock()
	_, ok := c.users.removeLocked(id, stamp)
	return ok
}

func (c *Caches) Users() []models.User {
	c.users.mu.RLock()
	users := c.users.valuesLocked()
	c.users.mu.RUnlock()
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users
}

// SetSelfUser records the logged in account and stores it as a user.
func (c *Caches) SetSelfUser(user models.ClientUser, stamp uint64) models.ClientUser {
	stored, _ := c.UpsertUser(user.User, stamp)
	user = user.Clone()
	user.User = stored

	c.selfMu.Lock()
	c.self = &user
	c.selfMu.Unlock()
	return user.Clone()
}

func (c *Caches) ClearSelfUser() {
	c.selfMu.Lock()
	c.self = nil
	c.selfMu.Unlock()
}

// SelfUser returns the logged in account with the latest user fields.
func (c *Caches) SelfUser() (models.ClientUser, bool) {
	c.selfMu.RLock()
	if c.self == nil {
		c.selfMu.RUnlock()
		return models.ClientUser{}, false
	}
	self := c.self.Clone()
	c.selfMu.RUnlock()

	if user, ok := c.users.get(self.ID); ok {
		self.User = user
	}
	return self, true
}

// Guilds

func (c *Caches) guildViewLocked(guild models.Guild) models.Guild {
	channels := c.channels.ownedValuesLocked(guild.ID)
	models.SortChannels(channels)
	roles := c.roles.ownedValuesLocked(guild.ID)
	models.SortRoles(roles)

	guild.ChannelIDs = make([]snowflake.ID, 0, len(channels))
	for _, channel := range channels {
		guild.ChannelIDs = append(guild.ChannelIDs, channel.ID)
	}
	guild.RoleIDs = make([]snowflake.ID, 0, len(roles))
	for _, role := range roles {
		guild.RoleIDs = append(guild.RoleIDs, role.ID)
	}
	return guild
}

func (c *Caches) rlockGuildView() {
	c.guilds.mu.RLock()
	c.channels.mu.RLock()
	c.roles.mu.RLock()
}

func (c *Caches) runlockGuildView() {
	c.roles.mu.RUnlock()
	c.channels.mu.RUnlock()
	c.guilds.mu.RUnlock()
}

// UpsertGuild stores the guild's own fields. Its channel and role lists are
// always derived from the cached channels and roles.
func (c *Caches) UpsertGuild(guild models.Guild, stamp uint64) (models.Guild, bool) {
	c.guilds.mu.Lock()
	defer c.guilds.mu.Unlock()
	c.channels.mu.RLock()
	defer c.channels.mu.RUnlock()
	c.roles.mu.RLock()
	defer c.roles.mu.RUnlock()

	guild.ChannelIDs, guild.RoleIDs = nil, nil
	stored, applied := c.guilds.putLocked(guild.ID, guild, stamp)
	return c.guildViewLocked(stored), applied
}

// InsertGuild stores the guild only if no entry exists for its id. Existing
// entries are returned untouched.
func (c *Caches) InsertGuild(guild models.Guild, stamp uint64) (models.Guild, bool) {
	c.guilds.mu.Lock()
	defer c.guilds.mu.Unlock()
	c.channels.mu.RLock()
	defer c.channels.mu.RUnlock()
	c.roles.mu.RLock()
	defer c.roles.mu.RUnlock()

	if existing, ok := c.guilds.getLocked(guild.ID); ok {
		return c.guildViewLocked(existing), false
	}
	guild.ChannelIDs, guild.RoleIDs = nil, nil
	stored, applied := c.guilds.putLocked(guild.ID, guild, stamp)
	return c.guildViewLocked(stored), applied
}

// ReplaceGuild stores a guild with everything it owns in one step. Cached
// channels and roles of the guild that are not in contents are removed,
// unless contents leaves that list nil.
// Members are added or updated but never removed, since listings of members
// are usually partial.
func (c *Caches) ReplaceGuild(contents models.GuildContents, stamp uint64) (models.Guild, bool) {
	c.lockAll()
	defer c.unlockAll()

	guild := contents.Guild
	guild.ChannelIDs, guild.RoleIDs = nil, nil
	stored, applied := c.guilds.putLocked(guild.ID, guild, stamp)
	if !applied {
		return c.guildViewLocked(stored), false
	}

	keepChannels := make(map[snowflake.ID]struct{}, len(contents.Channels))
	for _, channel := range contents.Channels {
		keepChannels[channel.ID] = struct{}{}
		c.channels.putLocked(channel.ID, channel.Clone(), stamp)
	}
	for _, id := range c.channels.ownedLocked(guild.ID) {
		if _, keep := keepChannels[id]; !keep && contents.Channels != nil {
			c.removeChannelLocked(id, stamp, false)
		}
	}

	keepRoles := make(map[snowflake.ID]struct{}, len(contents.Roles))
	for _, role := range contents.Roles {
		keepRoles[role.ID] = struct{}{}
		c.roles.putLocked(role.ID, role, stamp)
	}
	for _, id := range c.roles.ownedLocked(guild.ID) {
		if _, keep := keepRoles[id]; !keep && contents.Roles != nil {
			c.removeRoleLocked(id, stamp, false)
		}
	}

	for _, member := range contents.Members {
		c.users.putLocked(member.ID, member.User, stamp)
		c.members.putLocked(member.Key(), member.Clone(), stamp)
	}
	return c.guildViewLocked(stored), true
}

func (c *Caches) Guild(id snowflake.ID) (models.Guild, bool) {
	c.rlockGuildView()
	defer c.runlockGuildView()
	guild, ok := c.guilds.getLocked(id)
	if !ok {
		return models.Guild{}, false
	}
	return c.guildViewLocked(guild), true
}

func (c *Caches) Guilds() []models.Guild {
	c.rlockGuildView()
	defer c.runlockGuildView()
	guilds := c.guilds.valuesLocked()
	for i := range guilds {
		guilds[i] = c.guildViewLocked(guilds[i])
	}
	sort.Slice(guilds, func(i, j int) bool { return guilds[i].ID < guilds[j].ID })
	return guilds
}

// RemoveCascade removes a guild with its channels, their messages, its roles
// and its members. Readers see either all of it or none of it. Owned
// entities are swept even when the guild itself is not cached; they then
// follow the stamp rule one by one. Nothing is removed when the cached guild
// was written after stamp. It reports whether anything was removed.
func (c *Caches) RemoveCascade(guildID snowflake.ID, stamp uint64) bool {
	c.lockAll()
	defer c.unlockAll()

	if current, ok := c.guilds.entries[guildID]; ok && stamp < current.stamp {
		return false
	}
	_, owned := c.guilds.forceRemoveLocked(guildID, stamp)
	removed := owned

	for _, id := range c.channels.ownedLocked(guildID) {
		if c.removeChannelLocked(id, stamp, owned) {
			removed = true
		}
	}
	for _, id := range c.roles.ownedLocked(guildID) {
		if c.removeRoleLocked(id, stamp, owned) {
			removed = true
		}
	}
	for _, key := range c.members.ownedLocked(guildID) {
		if removeOwned(c.members, key, stamp, owned) {
			removed = true
		}
	}
	return removed
}

// Channels

func (c *Caches) UpsertChannel(channel models.Channel, stamp uint64) (models.Channel, bool) {
	c.channels.mu.Lock()
	defer c.channels.mu.Unlock()
	stored, applied := c.channels.putLocked(channel.ID, channel.Clone(), stamp)
	return stored.Clone(), applied
}

func (c *Caches) Channel(id snowflake.ID) (models.Channel, bool) {
	channel, ok := c.channels.get(id)
	return channel.Clone(), ok
}

// RemoveChannel removes a channel and every cached message in it.
func (c *Caches) RemoveChannel(id snowflake.ID, stamp uint64) bool {
	c.channels.mu.Lock()
	defer c.channels.mu.Unlock()
	c.messages.mu.Lock()
	defer c.messages.mu.Unlock()
	return c.removeChannelLocked(id, stamp, false)
}

func (c *Caches) removeChannelLocked(id snowflake.ID, stamp uint64, force bool) bool {
	var ok bool
	if force {
		_, ok = c.channels.forceRemoveLocked(id, stamp)
	} else {
		_, ok = c.channels.removeLocked(id, stamp)
	}
	if !ok {
		return false
	}
	for _, messageID := range c.messages.ownedLocked(id) {
		c.messages.forceRemoveLocked(messageID, stamp)
	}
	return true
}

// GuildChannels lists a guild's channels by position.
func (c *Caches) GuildChannels(guildID snowflake.ID) []models.Channel {
	c.channels.mu.RLock()
	channels := c.channels.ownedValuesLocked(guildID)
	c.channels.mu.RUnlock()
	for i := range channels {
		channels[i] = channels[i].Clone()
	}
	models.SortChannels(channels)
	return channels
}

// Roles

func (c *Caches) UpsertRole(role models.Role, stamp uint64) (models.Role, bool) {
	c.roles.mu.Lock()
	defer c.roles.mu.Unlock()
	return c.roles.putLocked(role.ID, role, stamp)
}

// MoveRole stores an updated role. When another role of the guild holds the
// new position, that role takes the old position of the moved one, so
// positions stay unique while a reorder arrives one role at a time. A role
// that is not cached in the same guild cannot swap and is refused with
// models.ErrDuplicatePosition.
func (c *Caches) MoveRole(role models.Role, stamp uint64) (models.Role, bool, error) {
	c.roles.mu.Lock()
	defer c.roles.mu.Unlock()

	var holder models.Role
	taken := false
	for _, other := range c.roles.ownedValuesLocked(role.GuildID) {
		if other.ID != role.ID && other.Position == role.Position {
			holder, taken = other, true
			break
		}
	}
	if !taken {
		stored, applied := c.roles.putLocked(role.ID, role, stamp)
		return stored, applied, nil
	}

	previous, ok := c.roles.getLocked(role.ID)
	if !ok || previous.GuildID != role.GuildID {
		return role, false, fmt.Errorf("role %s at %d in guild %s held by %s: %w",
			role.ID, role.Position, role.GuildID, holder.ID, models.ErrDuplicatePosition)
	}
	stored, applied := c.roles.putLocked(role.ID, role, stamp)
	if applied {
		holder.Position = previous.Position
		c.roles.replaceLocked(holder.ID, holder)
	}
	return stored, applied, nil
}

func (c *Caches) Role(id snowflake.ID) (models.Role, bool) {
	return c.roles.get(id)
}

// RemoveRole removes a role and takes it away from every member holding it.
func (c *Caches) RemoveRole(id snowflake.ID, stamp uint64) bool {
	c.roles.mu.Lock()
	defer c.roles.mu.Unlock()
	c.members.mu.Lock()
	defer c.members.mu.Unlock()
	return c.removeRoleLocked(id, stamp, false)
}

func (c *Caches) removeRoleLocked(id snowflake.ID, stamp uint64, force bool) bool {
	var (
		role models.Role
		ok   bool
	)
	if force {
		role, ok = c.roles.forceRemoveLocked(id, stamp)
	} else {
		role, ok = c.roles.removeLocked(id, stamp)
	}
	if !ok {
		return false
	}
	for _, key := range c.members.ownedLocked(role.GuildID) {
		member, _ := c.members.getLocked(key)
		if !member.HasRole(id) {
			continue
		}
		member = member.Clone()
		kept := member.RoleIDs[:0]
		for _, roleID := range member.RoleIDs {
			if roleID != id {
				kept = append(kept, roleID)
			}
		}
		member.RoleIDs = kept
		c.members.replaceLocked(key, member)
	}
	return true
}

// GuildRoles lists a guild's roles from the lowest position up.
func (c *Caches) GuildRoles(guildID snowflake.ID) []models.Role {
	c.roles.mu.RLock()
	roles := c.roles.ownedValuesLocked(guildID)
	c.roles.mu.RUnlock()
	models.SortRoles(roles)
	return roles
}

// Members

// UpsertMember stores the member and its base user.
func (c *Caches) UpsertMember(member models.GuildUser, stamp uint64) (models.GuildUser, bool) {
	c.members.mu.Lock()
	defer c.members.mu.Unlock()
	c.users.mu.Lock()
	defer c.users.mu.Unlock()

	user, _ := c.users.putLocked(member.ID, member.User, stamp)
	stored, applied := c.members.putLocked(member.Key(), member.Clone(), stamp)
	stored = stored.Clone()
	stored.User = user
	return stored, applied
}

// Member returns the member with the latest fields of its base user.
func (c *Caches) Member(guildID, userID snowflake.ID) (models.GuildUser, bool) {
	c.members.mu.RLock()
	defer c.members.mu.RUnlock()
	c.users.mu.RLock()
	defer c.users.mu.RUnlock()

	member, ok := c.members.getLocked(models.MemberKey{GuildID: guildID, UserID: userID})
	if !ok {
		return models.GuildUser{}, false
	}
	member = member.Clone()
	if user, ok := c.users.getLocked(userID); ok {
		member.User = user
	}
	return member, true
}

func (c *Caches) RemoveMember(guildID, userID snowflake.ID, stamp uint64) bool {
	c.members.mu.Lock()
	defer c.members.mu.Unlock()
	_, ok := c.members.removeLocked(models.MemberKey{GuildID: guildID, UserID: userID}, stamp)
	return ok
}

func (c *Caches) Members(guildID snowflake.ID) []models.GuildUser {
	c.members.mu.RLock()
	defer c.members.mu.RUnlock()
	c.users.mu.RLock()
	defer c.users.mu.RUnlock()

	members := c.members.ownedValuesLocked(guildID)
	for i := range members {
		members[i] = members[i].Clone()
		if user, ok := c.users.getLocked(members[i].ID); ok {
			members[i].User = user
		}
	}
	sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })
	return members
}

// MemberGuilds lists the guilds in which userID is a cached member.
func (c *Caches) MemberGuilds(userID snowflake.ID) []snowflake.ID {
	c.members.mu.RLock()
	var guilds []snowflake.ID
	for _, member := range c.members.valuesLocked() {
		if member.ID == userID {
			guilds = append(guilds, member.GuildID)
		}
	}
	c.members.mu.RUnlock()
	sort.Slice(guilds, func(i, j int) bool { return guilds[i] < guilds[j] })
	return guilds
}

// Messages

// UpsertMessage stores the message and its author.
func (c *Caches) UpsertMessage(message models.Message, stamp uint64) (models.Message, bool) {
	c.messages.mu.Lock()
	defer c.messages.mu.Unlock()
	c.users.mu.Lock()
	defer c.users.mu.Unlock()

	if models.ValidID(message.Author.ID) {
		c.users.putLocked(message.Author.ID, message.Author, stamp)
	}
	stored, applied := c.messages.putLocked(message.ID, message.Clone(), stamp)
	return stored.Clone(), applied
}

func (c *Caches) Message(id snowflake.ID) (models.Message, bool) {
	message, ok := c.messages.get(id)
	return message.Clone(), ok
}

func (c *Caches) RemoveMessage(id snowflake.ID, stamp uint64) bool {
	c.messages.mu.Lock()
	defer c.messages.mu.Unlock()
	_, ok := c.messages.removeLocked(id, stamp)
	return ok
}

// ChannelMessages lists the cached messages of a channel, oldest first.
func (c *Caches) ChannelMessages(channelID snowflake.ID) []models.Message {
	c.messages.mu.RLock()
	messages := c.messages.ownedValuesLocked(channelID)
	c.messages.mu.RUnlock()
	for i := range messages {
		messages[i] = messages[i].Clone()
	}
	sort.Slice(messages, func(i, j int) bool { return messages[i].ID < messages[j].ID })
	return messages
}
