// Package rest is the request gateway: one method per remote call. Every
// fetch validates its input before touching the network, decodes the
// response into entities and stores them in the cache before returning.
package rest

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bitly/go-simplejson"
	"github.com/disgoorg/snowflake/v2"
	"github.com/fuad-daoud/guildkit/apierr"
	"github.com/fuad-daoud/guildkit/cache"
	"github.com/fuad-daoud/guildkit/logger/dlog"
	"github.com/fuad-daoud/guildkit/metrics"
	"github.com/fuad-daoud/guildkit/models"
	"golang.org/x/net/context"
)

const (
	DefaultTimeout       = 10 * time.Second
	DefaultMaxRetries    = 3
	DefaultMaxRetryDelay = 30 * time.Second

	defaultRetryAfter = time.Second
	maxMessageLimit   = 100
)

var errNoCredential = errors.New("not logged in")

type Client struct {
	requester     Requester
	caches        *cache.Caches
	logger        *slog.Logger
	metrics       *metrics.Metrics
	timeout       time.Duration
	maxRetries    int
	maxRetryDelay time.Duration
	sleep         func(ctx context.Context, d time.Duration) error

	mu    sync.RWMutex
	token Token
}

type ConfigOpt func(c *Client)

// WithTimeout bounds each network round trip. Expiry is a transport error.
func WithTimeout(timeout time.Duration) ConfigOpt {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithMaxRetries bounds how often a rate limited call is retried.
func WithMaxRetries(n int) ConfigOpt {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithMaxRetryDelay caps the advertised retry delay.
func WithMaxRetryDelay(d time.Duration) ConfigOpt {
	return func(c *Client) {
		if d > 0 {
			c.maxRetryDelay = d
		}
	}
}

func WithLogger(logger *slog.Logger) ConfigOpt {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) ConfigOpt {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithSleep replaces the wait between retries.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) ConfigOpt {
	return func(c *Client) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

func New(requester Requester, caches *cache.Caches, opts ...ConfigOpt) *Client {
	c := &Client{
		requester:     requester,
		caches:        caches,
		logger:        dlog.Logger(),
		timeout:       DefaultTimeout,
		maxRetries:    DefaultMaxRetries,
		maxRetryDelay: DefaultMaxRetryDelay,
		sleep:         sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "rest")
	return c
}

func (c *Client) Token() Token {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) LoggedIn() bool {
	return !c.Token().IsEmpty()
}

// Login checks token against the remote API and keeps it for every later
// call. The credential stays unset when the check fails.
func (c *Client) Login(ctx context.Context, token string) (models.ClientUser, error) {
	const op = "rest.Login"
	if strings.TrimSpace(token) == "" {
		return models.ClientUser{}, apierr.InvalidArgument(op, "empty token")
	}
	candidate := NewToken(token)
	stamp := c.caches.Sequence()

	resp, err := c.call(ctx, op, http.MethodGet, "/users/@me", nil, candidate)
	if err != nil {
		return models.ClientUser{}, err
	}
	user, err := decodeClientUser(op, resp)
	if err != nil {
		return models.ClientUser{}, err
	}
	if err := ctx.Err(); err != nil {
		return models.ClientUser{}, err
	}

	c.mu.Lock()
	c.token = candidate
	c.mu.Unlock()

	self := c.caches.SetSelfUser(user, stamp)
	c.logger.Info("Logged in", "user", self.Tag(), "id", self.ID, "token", candidate)
	return self, nil
}

// Logout forgets the credential and the logged in user.
func (c *Client) Logout() {
	c.mu.Lock()
	c.token = Token{}
	c.mu.Unlock()
	c.caches.ClearSelfUser()
	c.logger.Info("Logged out")
}

func (c *Client) FetchCurrentUser(ctx context.Context) (models.ClientUser, error) {
	const op = "rest.FetchCurrentUser"
	token, err := c.credential(op)
	if err != nil {
		return models.ClientUser{}, err
	}
	stamp := c.caches.Sequence()
	resp, err := c.call(ctx, op, http.MethodGet, "/users/@me", nil, token)
	if err != nil {
		return models.ClientUser{}, err
	}
	user, err := decodeClientUser(op, resp)
	if err != nil {
		return models.ClientUser{}, err
	}
	if err := ctx.Err(); err != nil {
		return models.ClientUser{}, err
	}
	return c.caches.SetSelfUser(user, stamp), nil
}

// FetchCurrentUserGuilds lists the guilds of the logged in user. Guilds not
// cached yet are inserted; cached ones are returned as they are.
func (c *Client) FetchCurrentUserGuilds(ctx context.Context) ([]models.Guild, error) {
	const op = "rest.FetchCurrentUserGuilds"
	token, err := c.credential(op)
	if err != nil {
		return nil, err
	}
	stamp := c.caches.Sequence()
	resp, err := c.call(ctx, op, http.MethodGet, "/users/@me/guilds", nil, token)
	if err != nil {
		return nil, err
	}
	payloads, err := decode[[]models.GuildPayload](op, resp)
	if err != nil {
		return nil, err
	}
	listed := make([]models.Guild, 0, len(payloads))
	for _, payload := range payloads {
		payload.Channels, payload.Roles, payload.Members = nil, nil, nil
		contents, err := payload.ToEntity()
		if err != nil {
			return nil, apierr.Decode(op, err)
		}
		listed = append(listed, contents.Guild)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	guilds := make([]models.Guild, 0, len(listed))
	for _, guild := range listed {
		stored, _ := c.caches.InsertGuild(guild, stamp)
		guilds = append(guilds, stored)
	}
	return guilds, nil
}

// FetchGuild fetches a guild with its channels and roles.
func (c *Client) FetchGuild(ctx context.Context, id snowflake.ID) (models.Guild, error) {
	const op = "rest.FetchGuild"
	if err := validateID(op, "guild", id); err != nil {
		return models.Guild{}, err
	}
	token, err := c.credential(op)
	if err != nil {
		return models.Guild{}, err
	}
	stamp := c.caches.Sequence()
	resp, err := c.call(ctx, op, http.MethodGet, fmt.Sprintf("/guilds/%s", id), nil, token)
	if err != nil {
		return models.Guild{}, err
	}
	payload, err := decode[models.GuildPayload](op, resp)
	if err != nil {
		return models.Guild{}, err
	}
	contents, err := payload.ToEntity()
	if err != nil {
		return models.Guild{}, apierr.Decode(op, err)
	}
	if contents.Guild.ID != id {
		return models.Guild{}, apierr.Decode(op, fmt.Errorf("asked for guild %s, got %s", id, contents.Guild.ID))
	}
	if err := ctx.Err(); err != nil {
		return models.Guild{}, err
	}
	guild, _ := c.caches.ReplaceGuild(contents, stamp)
	return guild, nil
}

func (c *Client) FetchChannel(ctx context.Context, id snowflake.ID) (models.Channel, error) {
	const op = "rest.FetchChannel"
	if err := validateID(op, "channel", id); err != nil {
		return models.Channel{}, err
	}
	token, err := c.credential(op)
	if err != nil {
		return models.Channel{}, err
	}
	stamp := c.caches.Sequence()
	resp, err := c.call(ctx, op, http.MethodGet, fmt.Sprintf("/channels/%s", id), nil, token)
	if err != nil {
		return models.Channel{}, err
	}
	payload, err := decode[models.ChannelPayload](op, resp)
	if err != nil {
		return models.Channel{}, err
	}
	channel, recipients, err := payload.ToEntity(0)
	if err != nil {
		return models.Channel{}, apierr.Decode(op, err)
	}
	if err := ctx.Err(); err != nil {
		return models.Channel{}, err
	}
	for _, user := range recipients {
		c.caches.UpsertUser(user, stamp)
	}
	stored, _ := c.caches.UpsertChannel(channel, stamp)
	return stored, nil
}

func (c *Client) FetchMessage(ctx context.Context, channelID, id snowflake.ID) (models.Message, error) {
	const op = "rest.FetchMessage"
	if err := validateID(op, "channel", channelID); err != nil {
		return models.Message{}, err
	}
	if err := validateID(op, "message", id); err != nil {
		return models.Message{}, err
	}
	token, err := c.credential(op)
	if err != nil {
		return models.Message{}, err
	}
	stamp := c.caches.Sequence()
	resp, err := c.call(ctx, op, http.MethodGet, fmt.Sprintf("/channels/%s/messages/%s", channelID, id), nil, token)
	if err != nil {
		return models.Message{}, err
	}
	message, err := decodeMessage(op, channelID, resp)
	if err != nil {
		return models.Message{}, err
	}
	if err := ctx.Err(); err != nil {
		return models.Message{}, err
	}
	stored, _ := c.caches.UpsertMessage(message, stamp)
	return stored, nil
}

// FetchMessages fetches the latest limit messages of a channel, oldest first.
func (c *Client) FetchMessages(ctx context.Context, channelID snowflake.ID, limit int) ([]models.Message, error) {
	const op = "rest.FetchMessages"
	if err := validateID(op, "channel", channelID); err != nil {
		return nil, err
	}
	if limit < 1 || limit > maxMessageLimit {
		return nil, apierr.InvalidArgument(op, "limit %d outside 1..%d", limit, maxMessageLimit)
	}
	token, err := c.credential(op)
	if err != nil {
		return nil, err
	}
	stamp := c.caches.Sequence()
	resp, err := c.call(ctx, op, http.MethodGet, fmt.Sprintf("/channels/%s/messages?limit=%d", channelID, limit), nil, token)
	if err != nil {
		return nil, err
	}
	payloads, err := decode[[]models.MessagePayload](op, resp)
	if err != nil {
		return nil, err
	}
	messages := make([]models.Message, 0, len(payloads))
	for _, payload := range payloads {
		if payload.ChannelID == 0 {
			payload.ChannelID = channelID
		}
		message, err := payload.ToEntity()
		if err != nil {
			return nil, apierr.Decode(op, err)
		}
		messages = append(messages, message)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for i, message := range messages {
		messages[i], _ = c.caches.UpsertMessage(message, stamp)
	}
	return messages, nil
}

func (c *Client) FetchUser(ctx context.Context, id snowflake.ID) (models.User, error) {
	const op = "rest.FetchUser"
	if err := validateID(op, "user", id); err != nil {
		return models.User{}, err
	}
	token, err := c.credential(op)
	if err != nil {
		return models.User{}, err
	}
	stamp := c.caches.Sequence()
	resp, err := c.call(ctx, op, http.MethodGet, fmt.Sprintf("/users/%s", id), nil, token)
	if err != nil {
		return models.User{}, err
	}
	payload, err := decode[models.UserPayload](op, resp)
	if err != nil {
		return models.User{}, err
	}
	user, err := payload.ToEntity()
	if err != nil {
		return models.User{}, apierr.Decode(op, err)
	}
	if err := ctx.Err(); err != nil {
		return models.User{}, err
	}
	stored, _ := c.caches.UpsertUser(user, stamp)
	return stored, nil
}

func (c *Client) FetchMember(ctx context.Context, guildID, userID snowflake.ID) (models.GuildUser, error) {
	const op = "rest.FetchMember"
	if err := validateID(op, "guild", guildID); err != nil {
		return models.GuildUser{}, err
	}
	if err := validateID(op, "user", userID); err != nil {
		return models.GuildUser{}, err
	}
	token, err := c.credential(op)
	if err != nil {
		return models.GuildUser{}, err
	}
	stamp := c.caches.Sequence()
	resp, err := c.call(ctx, op, http.MethodGet, fmt.Sprintf("/guilds/%s/members/%s", guildID, userID), nil, token)
	if err != nil {
		return models.GuildUser{}, err
	}
	payload, err := decode[models.MemberPayload](op, resp)
	if err != nil {
		return models.GuildUser{}, err
	}
	member, err := payload.ToEntity(guildID)
	if err != nil {
		return models.GuildUser{}, apierr.Decode(op, err)
	}
	if err := ctx.Err(); err != nil {
		return models.GuildUser{}, err
	}
	stored, _ := c.caches.UpsertMember(member, stamp)
	return stored, nil
}

func (c *Client) PinMessage(ctx context.Context, channelID, id snowflake.ID) (models.Message, error) {
	return c.setPinned(ctx, "rest.PinMessage", http.MethodPut, channelID, id, true)
}

func (c *Client) UnpinMessage(ctx context.Context, channelID, id snowflake.ID) (models.Message, error) {
	return c.setPinned(ctx, "rest.UnpinMessage", http.MethodDelete, channelID, id, false)
}

func (c *Client) setPinned(ctx context.Context, op, method string, channelID, id snowflake.ID, pinned bool) (models.Message, error) {
	if err := validateID(op, "channel", channelID); err != nil {
		return models.Message{}, err
	}
	if err := validateID(op, "message", id); err != nil {
		return models.Message{}, err
	}
	token, err := c.credential(op)
	if err != nil {
		return models.Message{}, err
	}
	stamp := c.caches.Sequence()
	if _, err := c.call(ctx, op, method, fmt.Sprintf("/channels/%s/pins/%s", channelID, id), nil, token); err != nil {
		return models.Message{}, err
	}
	if err := ctx.Err(); err != nil {
		return models.Message{}, err
	}
	if cached, ok := c.caches.Message(id); ok {
		stored, _ := c.caches.UpsertMessage(cached.WithPinned(pinned), stamp)
		return stored, nil
	}
	return c.FetchMessage(ctx, channelID, id)
}

func (c *Client) EditMessage(ctx context.Context, channelID, id snowflake.ID, content string) (models.Message, error) {
	const op = "rest.EditMessage"
	if err := validateID(op, "channel", channelID); err != nil {
		return models.Message{}, err
	}
	if err := validateID(op, "message", id); err != nil {
		return models.Message{}, err
	}
	if strings.TrimSpace(content) == "" {
		return models.Message{}, apierr.InvalidArgument(op, "empty content")
	}
	token, err := c.credential(op)
	if err != nil {
		return models.Message{}, err
	}
	js := simplejson.New()
	js.Set("content", content)
	body, err := js.MarshalJSON()
	if err != nil {
		return models.Message{}, apierr.InvalidArgument(op, "encode content: %v", err)
	}

	stamp := c.caches.Sequence()
	resp, err := c.call(ctx, op, http.MethodPatch, fmt.Sprintf("/channels/%s/messages/%s", channelID, id), body, token)
	if err != nil {
		return models.Message{}, err
	}
	message, err := decodeMessage(op, channelID, resp)
	if err != nil {
		return models.Message{}, err
	}
	if err := ctx.Err(); err != nil {
		return models.Message{}, err
	}
	stored, _ := c.caches.UpsertMessage(message, stamp)
	return stored, nil
}

func (c *Client) credential(op string) (Token, error) {
	token := c.Token()
	if token.IsEmpty() {
		return Token{}, apierr.AuthenticationFailed(op, 0, errNoCredential)
	}
	return token, nil
}

// call performs the round trip, retrying while the remote side rate limits.
func (c *Client) call(ctx context.Context, op, method, path string, body []byte, token Token) (*Response, error) {
	req := &Request{Method: method, Path: path, Body: body, Token: token}
	for attempt := 0; ; attempt++ {
		resp, err := c.roundTrip(ctx, op, req)
		if err == nil {
			c.metrics.Request(op, "ok")
			return resp, nil
		}
		retryAfter, limited := apierr.RetryAfter(err)
		if !limited || attempt >= c.maxRetries {
			c.metrics.Request(op, outcome(err))
			c.logger.Debug("Call failed", "op", op, "path", path, "err", err)
			return nil, err
		}
		delay := retryAfter
		if delay > c.maxRetryDelay {
			delay = c.maxRetryDelay
		}
		c.metrics.Retry(op)
		c.logger.Warn("Rate limited, retrying", "op", op, "attempt", attempt+1, "delay", delay)
		if err := c.sleep(ctx, delay); err != nil {
			c.metrics.Request(op, "canceled")
			return nil, err
		}
	}
}

func (c *Client) roundTrip(ctx context.Context, op string, req *Request) (*Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.requester.Do(callCtx, req)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, ctx.Err()
		}
		return nil, apierr.Transport(op, 0, err)
	}
	if resp == nil {
		return nil, apierr.Transport(op, 0, errors.New("no response"))
	}
	return resp, c.checkStatus(op, req, resp)
}

func (c *Client) checkStatus(op string, req *Request, resp *Response) error {
	switch {
	case resp.Status >= 200 && resp.Status < 300:
		return nil
	case resp.Status == http.StatusUnauthorized:
		c.dropCredential(req.Token)
		return apierr.AuthenticationFailed(op, resp.Status, remoteError(resp))
	case resp.Status == http.StatusForbidden:
		return apierr.AuthenticationFailed(op, resp.Status, remoteError(resp))
	case resp.Status == http.StatusNotFound:
		return apierr.NotFound(op, req.Path)
	case resp.Status == http.StatusTooManyRequests:
		return apierr.RateLimited(op, retryAfter(resp))
	}
	return apierr.Transport(op, resp.Status, remoteError(resp))
}

// Revoke clears the stored token if it equals rejected, for credentials
// refused outside the request gateway. A newer credential is kept.
func (c *Client) Revoke(rejected Token) bool {
	return c.dropCredential(rejected)
}

// dropCredential clears the stored token if it is the one that was rejected.
func (c *Client) dropCredential(rejected Token) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token.IsEmpty() || c.token != rejected {
		return false
	}
	c.token = Token{}
	c.logger.Warn("Credential rejected, logged out")
	return true
}

func validateID(op, kind string, id snowflake.ID) error {
	if !models.ValidID(id) {
		return apierr.InvalidArgument(op, "invalid %s id %d", kind, int64(id))
	}
	return nil
}

func decode[T any](op string, resp *Response) (T, error) {
	var payload T
	if err := models.Decode(resp.Body, &payload); err != nil {
		return payload, apierr.Decode(op, err)
	}
	return payload, nil
}

func decodeClientUser(op string, resp *Response) (models.ClientUser, error) {
	payload, err := decode[models.ClientUserPayload](op, resp)
	if err != nil {
		return models.ClientUser{}, err
	}
	user, err := payload.ToEntity()
	if err != nil {
		return models.ClientUser{}, apierr.Decode(op, err)
	}
	return user, nil
}

func decodeMessage(op string, channelID snowflake.ID, resp *Response) (models.Message, error) {
	payload, err := decode[models.MessagePayload](op, resp)
	if err != nil {
		return models.Message{}, err
	}
	if payload.ChannelID == 0 {
		payload.ChannelID = channelID
	}
	message, err := payload.ToEntity()
	if err != nil {
		return models.Message{}, apierr.Decode(op, err)
	}
	return message, nil
}

// retryAfter reads the advertised delay from the Retry-After header, then
// from a retry_after field in the body, in seconds.
func retryAfter(resp *Response) time.Duration {
	if raw := resp.Header.Get("Retry-After"); raw != "" {
		if seconds, err := strconv.ParseFloat(raw, 64); err == nil && seconds >= 0 {
			return time.Duration(seconds * float64(time.Second))
		}
	}
	if js, err := simplejson.NewJson(resp.Body); err == nil {
		if seconds, err := js.Get("retry_after").Float64(); err == nil && seconds >= 0 {
			return time.Duration(seconds * float64(time.Second))
		}
	}
	return defaultRetryAfter
}

func remoteError(resp *Response) error {
	if len(resp.Body) == 0 {
		return nil
	}
	js, err := simplejson.NewJson(resp.Body)
	if err != nil {
		return nil
	}
	if message, err := js.Get("message").String(); err == nil && message != "" {
		return errors.New(message)
	}
	return nil
}

func outcome(err error) string {
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return strings.ReplaceAll(apierr.KindOf(err).String(), " ", "_")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
