// Package client is the entry point of guildkit. A Client owns one cache,
// one request gateway and, while logged in, one event dispatcher. It is the
// only place that decides between serving from the cache and going to the
// network.
package client

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/fuad-daoud/guildkit/apierr"
	"github.com/fuad-daoud/guildkit/cache"
	"github.com/fuad-daoud/guildkit/config"
	"github.com/fuad-daoud/guildkit/gateway"
	"github.com/fuad-daoud/guildkit/logger/dlog"
	"github.com/fuad-daoud/guildkit/metrics"
	"github.com/fuad-daoud/guildkit/models"
	"github.com/fuad-daoud/guildkit/rest"
	"github.com/robfig/cron/v3"
	"golang.org/x/net/context"
	"golang.org/x/sync/errgroup"
)

const scheduledResyncTimeout = 5 * time.Minute

type Client struct {
	cfg      config.Config
	caches   *cache.Caches
	rest     *rest.Client
	registry *gateway.Registry
	dialer   gateway.Dialer
	logger   *slog.Logger
	onError  func(error)
	resync   bool

	gatewayOpts []gateway.ConfigOpt

	// session serializes Login and Logout.
	session    sync.Mutex
	mu         sync.Mutex
	dispatcher *gateway.Dispatcher
	scheduler  *cron.Cron
}

type options struct {
	requester rest.Requester
	dialer    gateway.Dialer
	noGateway bool
	logger    *slog.Logger
	metrics   *metrics.Metrics
	onError   func(error)
	noResync  bool
	restOpts  []rest.ConfigOpt
	gwOpts    []gateway.ConfigOpt
}

type ConfigOpt func(o *options)

func WithRequester(requester rest.Requester) ConfigOpt {
	return func(o *options) {
		o.requester = requester
	}
}

func WithDialer(dialer gateway.Dialer) ConfigOpt {
	return func(o *options) {
		o.dialer = dialer
	}
}

// WithoutGateway makes the client REST only: Login never opens an event
// stream and no handler ever fires.
func WithoutGateway() ConfigOpt {
	return func(o *options) {
		o.noGateway = true
	}
}

func WithLogger(logger *slog.Logger) ConfigOpt {
	return func(o *options) {
		o.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) ConfigOpt {
	return func(o *options) {
		o.metrics = m
	}
}

func WithErrorObserver(observer func(error)) ConfigOpt {
	return func(o *options) {
		o.onError = observer
	}
}

// WithoutResync skips the full resync after a reconnect.
func WithoutResync() ConfigOpt {
	return func(o *options) {
		o.noResync = true
	}
}

// WithRestOptions passes extra options to the request gateway.
func WithRestOptions(opts ...rest.ConfigOpt) ConfigOpt {
	return func(o *options) {
		o.restOpts = append(o.restOpts, opts...)
	}
}

// WithGatewayOptions passes extra options to every dispatcher.
func WithGatewayOptions(opts ...gateway.ConfigOpt) ConfigOpt {
	return func(o *options) {
		o.gwOpts = append(o.gwOpts, opts...)
	}
}

func New(cfg config.Config, opts ...ConfigOpt) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, apierr.InvalidArgument("client.New", "config: %v", err)
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	logger := o.logger
	if logger == nil {
		logger = dlog.Logger()
	}
	requester := o.requester
	if requester == nil {
		requester = rest.NewHTTPRequester(cfg.APIURL, cfg.RequestsPerSecond)
	}
	dialer := o.dialer
	if dialer == nil && cfg.GatewayURL != "" {
		dialer = gateway.NewWebsocketDialer(cfg.GatewayURL)
	}
	if o.noGateway {
		dialer = nil
	}

	caches := cache.New()
	restOpts := append([]rest.ConfigOpt{
		rest.WithTimeout(cfg.Timeout),
		rest.WithMaxRetries(cfg.MaxRetries),
		rest.WithMaxRetryDelay(cfg.MaxRetryDelay),
		rest.WithLogger(logger),
		rest.WithMetrics(o.metrics),
	}, o.restOpts...)

	c := &Client{
		cfg:      cfg,
		caches:   caches,
		rest:     rest.New(requester, caches, restOpts...),
		registry: gateway.NewRegistry(),
		dialer:   dialer,
		logger:   logger.With("component", "client"),
		onError:  o.onError,
		resync:   cfg.ResyncOnReconnect && !o.noResync,
	}
	c.gatewayOpts = append([]gateway.ConfigOpt{
		gateway.WithLogger(logger),
		gateway.WithMetrics(o.metrics),
		gateway.WithReconnectDelays(cfg.ReconnectInitial, cfg.ReconnectMax),
	}, o.gwOpts...)
	if c.resync {
		c.gatewayOpts = append(c.gatewayOpts, gateway.WithResync(c.Resync))
	}
	return c, nil
}

// Caches exposes the entity cache for read access.
func (c *Client) Caches() *cache.Caches { return c.caches }

func (c *Client) report(err error) {
	if c.onError != nil {
		c.onError(err)
	}
}

// Login validates token and, unless the client is REST only, opens the
// event stream. Either both succeed or the client ends up logged out. A
// previous session is closed first. Concurrent calls run one after the
// other.
func (c *Client) Login(ctx context.Context, token string) (models.ClientUser, error) {
	c.session.Lock()
	defer c.session.Unlock()
	c.logoutLocked()

	user, err := c.rest.Login(ctx, token)
	if err != nil {
		return models.ClientUser{}, err
	}

	if c.dialer != nil {
		credential := c.rest.Token()
		var d *gateway.Dispatcher
		opts := append(c.gatewayOpts[:len(c.gatewayOpts):len(c.gatewayOpts)],
			gateway.WithErrorObserver(func(err error) { c.streamFailed(d, credential, err) }))
		d = gateway.New(c.caches, c.registry, c.dialer, opts...)
		c.mu.Lock()
		c.dispatcher = d
		c.mu.Unlock()
		if err := d.Connect(ctx, credential); err != nil {
			c.logoutLocked()
			return models.ClientUser{}, err
		}
	}

	if err := c.startSchedule(); err != nil {
		c.logoutLocked()
		return models.ClientUser{}, err
	}
	return user, nil
}

// streamFailed handles errors reported by dispatcher d. An authentication
// failure ends the session that opened d, and only that one.
func (c *Client) streamFailed(d *gateway.Dispatcher, credential rest.Token, err error) {
	c.report(err)
	var handlerErr *gateway.HandlerError
	if errors.As(err, &handlerErr) || !errors.Is(err, apierr.ErrAuthenticationFailed) {
		return
	}

	c.mu.Lock()
	current := c.dispatcher == d
	var s *cron.Cron
	if current {
		s = c.scheduler
		c.dispatcher, c.scheduler = nil, nil
	}
	c.mu.Unlock()
	if !current {
		return
	}
	if s != nil {
		s.Stop()
	}
	if c.rest.Revoke(credential) {
		c.caches.ClearSelfUser()
	}
	c.logger.Warn("Event stream credential rejected, session ended", "err", err)
}

func (c *Client) stopSession() {
	c.mu.Lock()
	d, s := c.dispatcher, c.scheduler
	c.dispatcher, c.scheduler = nil, nil
	c.mu.Unlock()
	if d != nil {
		d.Disconnect()
	}
	if s != nil {
		s.Stop()
	}
}

// Logout closes the event stream and forgets the credential. Cached
// entities stay.
func (c *Client) Logout() {
	c.session.Lock()
	defer c.session.Unlock()
	c.logoutLocked()
}

func (c *Client) logoutLocked() {
	c.stopSession()
	c.rest.Logout()
}

// Close logs out and empties the cache.
func (c *Client) Close() error {
	c.Logout()
	c.caches.Reset()
	return nil
}

func (c *Client) LoggedIn() bool { return c.rest.LoggedIn() }

func (c *Client) State() gateway.State {
	c.mu.Lock()
	d := c.dispatcher
	c.mu.Unlock()
	if d == nil {
		return gateway.Disconnected
	}
	return d.State()
}

type Status struct {
	State    string      `json:"state"`
	LoggedIn bool        `json:"logged_in"`
	Cache    cache.Stats `json:"cache"`
}

func (c *Client) Status() Status {
	return Status{State: c.State().String(), LoggedIn: c.LoggedIn(), Cache: c.caches.Stats()}
}

func (c *Client) startSchedule() error {
	if c.cfg.ResyncSchedule == "" {
		return nil
	}
	s := cron.New()
	_, err := s.AddFunc(c.cfg.ResyncSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), scheduledResyncTimeout)
		defer cancel()
		if err := c.Resync(ctx); err != nil {
			c.logger.Error("Scheduled resync failed", "err", err)
			c.report(err)
		}
	})
	if err != nil {
		return apierr.InvalidArgument("client.Login", "resync schedule: %v", err)
	}
	s.Start()
	c.mu.Lock()
	c.scheduler = s
	c.mu.Unlock()
	return nil
}

// Resync refetches the current user and the guild listing, treating the
// listing as authoritative, then refetches every listed guild with bounded
// concurrency.
func (c *Client) Resync(ctx context.Context) error {
	started := time.Now()
	if _, err := c.rest.FetchCurrentUser(ctx); err != nil {
		return err
	}
	guilds, err := c.GetCurrentUserGuilds(ctx, Authoritative())
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.ResyncConcurrency)
	for _, guild := range guilds {
		id := guild.ID
		g.Go(func() error {
			_, err := c.rest.FetchGuild(gctx, id)
			if errors.Is(err, apierr.ErrNotFound) {
				c.logger.Warn("Listed guild vanished during resync", "guild", id)
				return nil
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	c.logger.Info("Resynced", "guilds", len(guilds), "took", time.Since(started))
	return nil
}

type getOptions struct {
	refresh       bool
	authoritative bool
}

type GetOpt func(o *getOptions)

// Refresh bypasses the cache and always fetches.
func Refresh() GetOpt {
	return func(o *getOptions) {
		o.refresh = true
	}
}

// Authoritative makes GetCurrentUserGuilds drop cached guilds that are
// missing from the listing.
func Authoritative() GetOpt {
	return func(o *getOptions) {
		o.authoritative = true
	}
}

func collect(opts []GetOpt) getOptions {
	var o getOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func validateID(op, kind string, id snowflake.ID) error {
	if !models.ValidID(id) {
		return apierr.InvalidArgument(op, "invalid %s id %d", kind, int64(id))
	}
	return nil
}

func (c *Client) GetGuild(ctx context.Context, id snowflake.ID, opts ...GetOpt) (models.Guild, error) {
	if err := validateID("client.GetGuild", "guild", id); err != nil {
		return models.Guild{}, err
	}
	if !collect(opts).refresh {
		if guild, ok := c.caches.Guild(id); ok {
			return guild, nil
		}
	}
	return c.rest.FetchGuild(ctx, id)
}

func (c *Client) GetChannel(ctx context.Context, id snowflake.ID, opts ...GetOpt) (models.Channel, error) {
	if err := validateID("client.GetChannel", "channel", id); err != nil {
		return models.Channel{}, err
	}
	if !collect(opts).refresh {
		if channel, ok := c.caches.Channel(id); ok {
			return channel, nil
		}
	}
	return c.rest.FetchChannel(ctx, id)
}

func (c *Client) GetUser(ctx context.Context, id snowflake.ID, opts ...GetOpt) (models.User, error) {
	if err := validateID("client.GetUser", "user", id); err != nil {
		return models.User{}, err
	}
	if !collect(opts).refresh {
		if user, ok := c.caches.User(id); ok {
			return user, nil
		}
	}
	return c.rest.FetchUser(ctx, id)
}

func (c *Client) GetMessage(ctx context.Context, channelID, id snowflake.ID, opts ...GetOpt) (models.Message, error) {
	if err := validateID("client.GetMessage", "message", id); err != nil {
		return models.Message{}, err
	}
	if !collect(opts).refresh {
		if message, ok := c.caches.Message(id); ok && message.ChannelID == channelID {
			return message, nil
		}
	}
	return c.rest.FetchMessage(ctx, channelID, id)
}

func (c *Client) GetMember(ctx context.Context, guildID, userID snowflake.ID, opts ...GetOpt) (models.GuildUser, error) {
	if err := validateID("client.GetMember", "user", userID); err != nil {
		return models.GuildUser{}, err
	}
	if !collect(opts).refresh {
		if member, ok := c.caches.Member(guildID, userID); ok {
			return member, nil
		}
	}
	return c.rest.FetchMember(ctx, guildID, userID)
}

func (c *Client) GetCurrentUser(ctx context.Context, opts ...GetOpt) (models.ClientUser, error) {
	if !collect(opts).refresh {
		if self, ok := c.caches.SelfUser(); ok {
			return self, nil
		}
	}
	return c.rest.FetchCurrentUser(ctx)
}

// GetCurrentUserGuilds always lists remotely. New guilds are cached,
// cached ones are left as they are. With Authoritative, cached guilds that
// were not listed are removed with everything they own, unless an event
// touched them after the listing started.
func (c *Client) GetCurrentUserGuilds(ctx context.Context, opts ...GetOpt) ([]models.Guild, error) {
	o := collect(opts)
	stamp := c.caches.Sequence()
	guilds, err := c.rest.FetchCurrentUserGuilds(ctx)
	if err != nil {
		return nil, err
	}
	if !o.authoritative {
		return guilds, nil
	}

	listed := make(map[snowflake.ID]struct{}, len(guilds))
	for _, guild := range guilds {
		listed[guild.ID] = struct{}{}
	}
	for _, cached := range c.caches.Guilds() {
		if _, ok := listed[cached.ID]; ok {
			continue
		}
		if c.caches.RemoveCascade(cached.ID, stamp) {
			c.logger.Info("Dropped unlisted guild", "guild", cached.ID, "name", cached.Name)
		}
	}
	return guilds, nil
}

// ChannelMessages lists the cached messages of a channel, oldest first.
func (c *Client) ChannelMessages(channelID snowflake.ID) []models.Message {
	return c.caches.ChannelMessages(channelID)
}

// FetchChannelMessages fetches the latest limit messages of a channel.
func (c *Client) FetchChannelMessages(ctx context.Context, channelID snowflake.ID, limit int) ([]models.Message, error) {
	return c.rest.FetchMessages(ctx, channelID, limit)
}

// GuildChannel returns a cached channel only if it belongs to guildID.
func (c *Client) GuildChannel(guildID, channelID snowflake.ID) (models.Channel, bool) {
	channel, ok := c.caches.Channel(channelID)
	if !ok || channel.GuildID != guildID {
		return models.Channel{}, false
	}
	return channel, true
}

func (c *Client) GuildChannels(guildID snowflake.ID) []models.Channel {
	return c.caches.GuildChannels(guildID)
}

func (c *Client) GuildRoles(guildID snowflake.ID) []models.Role {
	return c.caches.GuildRoles(guildID)
}

func (c *Client) GuildMembers(guildID snowflake.ID) []models.GuildUser {
	return c.caches.Members(guildID)
}

// MutualGuilds lists the cached guilds in which userID is a cached member.
func (c *Client) MutualGuilds(userID snowflake.ID) []models.Guild {
	var guilds []models.Guild
	for _, id := range c.caches.MemberGuilds(userID) {
		if guild, ok := c.caches.Guild(id); ok {
			guilds = append(guilds, guild)
		}
	}
	return guilds
}

func (c *Client) Pin(ctx context.Context, channelID, messageID snowflake.ID) (models.Message, error) {
	return c.rest.PinMessage(ctx, channelID, messageID)
}

func (c *Client) Unpin(ctx context.Context, channelID, messageID snowflake.ID) (models.Message, error) {
	return c.rest.UnpinMessage(ctx, channelID, messageID)
}

func (c *Client) EditMessage(ctx context.Context, channelID, messageID snowflake.ID, content string) (models.Message, error) {
	return c.rest.EditMessage(ctx, channelID, messageID, content)
}

func (c *Client) On(eventType gateway.EventType, fn gateway.Handler) *gateway.Subscription {
	return c.registry.On(eventType, fn)
}

func (c *Client) OnReady(fn func(gateway.ReadyData)) *gateway.Subscription {
	return c.registry.OnReady(fn)
}

func (c *Client) OnMessageCreated(fn func(models.Message)) *gateway.Subscription {
	return c.registry.OnMessageCreated(fn)
}

func (c *Client) OnMessageUpdated(fn func(models.Message)) *gateway.Subscription {
	return c.registry.OnMessageUpdated(fn)
}

func (c *Client) OnMessageDeleted(fn func(gateway.MessageDelete)) *gateway.Subscription {
	return c.registry.OnMessageDeleted(fn)
}

func (c *Client) OnUserUpdated(fn func(models.User)) *gateway.Subscription {
	return c.registry.OnUserUpdated(fn)
}

func (c *Client) OnGuildCreated(fn func(models.Guild)) *gateway.Subscription {
	return c.registry.OnGuildCreated(fn)
}

func (c *Client) OnGuildDeleted(fn func(gateway.GuildDelete)) *gateway.Subscription {
	return c.registry.OnGuildDeleted(fn)
}
