package rest

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/fuad-daoud/guildkit/apierr"
	"github.com/fuad-daoud/guildkit/cache"
	"github.com/fuad-daoud/guildkit/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/context"
)

const selfJSON = `{"id": "1", "username": "bot", "discriminator": "0001", "bot": true, "status": "online", "friends": ["5"]}`

type mockRequester struct {
	mock.Mock
}

func (m *mockRequester) Do(ctx context.Context, req *Request) (*Response, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*Response)
	return resp, args.Error(1)
}

func path(p string) any {
	return mock.MatchedBy(func(req *Request) bool { return req.Path == p })
}

func respond(status int, body string) *Response {
	return &Response{Status: status, Header: http.Header{}, Body: []byte(body)}
}

type sleeper struct {
	delays []time.Duration
}

func (s *sleeper) sleep(ctx context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func newClient(t *testing.T, opts ...ConfigOpt) (*Client, *mockRequester, *cache.Caches) {
	t.Helper()
	requester := &mockRequester{}
	caches := cache.New()
	return New(requester, caches, opts...), requester, caches
}

func login(t *testing.T, c *Client, requester *mockRequester) {
	t.Helper()
	requester.On("Do", mock.Anything, path("/users/@me")).Return(respond(200, selfJSON), nil).Once()
	_, err := c.Login(context.Background(), "secret")
	require.NoError(t, err)
}

func TestLogin(t *testing.T) {
	c, requester, caches := newClient(t)

	t.Run("Testing calls before login fail without reaching the network", func(t *testing.T) {
		_, err := c.FetchUser(context.Background(), 5)
		assert.ErrorIs(t, err, apierr.ErrAuthenticationFailed)
		requester.AssertNotCalled(t, "Do", mock.Anything, mock.Anything)
	})

	t.Run("Testing an empty token is rejected", func(t *testing.T) {
		_, err := c.Login(context.Background(), "  ")
		assert.ErrorIs(t, err, apierr.ErrInvalidArgument)
		assert.False(t, c.LoggedIn())
	})

	t.Run("Testing login stores the token and the current user", func(t *testing.T) {
		requester.On("Do", mock.Anything, mock.MatchedBy(func(req *Request) bool {
			return req.Path == "/users/@me" && req.Token.Expose() == "secret"
		})).Return(respond(200, selfJSON), nil).Once()

		self, err := c.Login(context.Background(), "secret")
		require.NoError(t, err)
		assert.Equal(t, "bot#0001", self.Tag())
		assert.Equal(t, []snowflake.ID{5}, self.Friends)
		assert.True(t, c.LoggedIn())

		cached, ok := caches.SelfUser()
		require.True(t, ok)
		assert.Equal(t, snowflake.ID(1), cached.ID)
	})

	t.Run("Testing logout forgets the token", func(t *testing.T) {
		c.Logout()
		assert.False(t, c.LoggedIn())
		_, ok := caches.SelfUser()
		assert.False(t, ok)
	})

	t.Run("Testing a rejected login leaves the client logged out", func(t *testing.T) {
		requester.On("Do", mock.Anything, path("/users/@me")).Return(respond(401, `{"message": "401: Unauthorized"}`), nil).Once()
		_, err := c.Login(context.Background(), "wrong")
		assert.ErrorIs(t, err, apierr.ErrAuthenticationFailed)
		assert.Contains(t, err.Error(), "401: Unauthorized")
		assert.False(t, c.LoggedIn())
	})
}

func TestInvalidIDs(t *testing.T) {
	c, requester, _ := newClient(t)
	login(t, c, requester)
	ctx := context.Background()
	negative := int64(-1)

	_, err := c.FetchGuild(ctx, snowflake.ID(negative))
	assert.ErrorIs(t, err, apierr.ErrInvalidArgument)
	_, err = c.FetchGuild(ctx, 0)
	assert.ErrorIs(t, err, apierr.ErrInvalidArgument)
	_, err = c.FetchChannel(ctx, 0)
	assert.ErrorIs(t, err, apierr.ErrInvalidArgument)
	_, err = c.FetchMessage(ctx, 7, 0)
	assert.ErrorIs(t, err, apierr.ErrInvalidArgument)
	_, err = c.FetchMember(ctx, 0, 3)
	assert.ErrorIs(t, err, apierr.ErrInvalidArgument)
	_, err = c.FetchMessages(ctx, 7, 0)
	assert.ErrorIs(t, err, apierr.ErrInvalidArgument)
	_, err = c.FetchMessages(ctx, 7, 101)
	assert.ErrorIs(t, err, apierr.ErrInvalidArgument)
	_, err = c.EditMessage(ctx, 7, 42, "")
	assert.ErrorIs(t, err, apierr.ErrInvalidArgument)

	requester.AssertNumberOfCalls(t, "Do", 1)
}

func TestStatusMapping(t *testing.T) {
	ctx := context.Background()

	t.Run("Testing 404 is not found", func(t *testing.T) {
		c, requester, _ := newClient(t)
		login(t, c, requester)
		requester.On("Do", mock.Anything, path("/users/9")).Return(respond(404, `{"message": "Unknown User"}`), nil)

		_, err := c.FetchUser(ctx, 9)
		assert.ErrorIs(t, err, apierr.ErrNotFound)
		assert.True(t, c.LoggedIn())
	})

	t.Run("Testing 401 clears the token", func(t *testing.T) {
		c, requester, _ := newClient(t)
		login(t, c, requester)
		requester.On("Do", mock.Anything, path("/users/9")).Return(respond(401, ""), nil)

		_, err := c.FetchUser(ctx, 9)
		assert.ErrorIs(t, err, apierr.ErrAuthenticationFailed)
		assert.False(t, c.LoggedIn())
	})

	t.Run("Testing revoke only drops the rejected token", func(t *testing.T) {
		c, requester, _ := newClient(t)
		login(t, c, requester)
		assert.False(t, c.Revoke(NewToken("older")))
		assert.True(t, c.LoggedIn())
		assert.True(t, c.Revoke(NewToken("secret")))
		assert.False(t, c.LoggedIn())
		assert.False(t, c.Revoke(NewToken("secret")))
	})

	t.Run("Testing 403 keeps the token", func(t *testing.T) {
		c, requester, _ := newClient(t)
		login(t, c, requester)
		requester.On("Do", mock.Anything, path("/guilds/2")).Return(respond(403, `{"message": "Missing Access"}`), nil)

		_, err := c.FetchGuild(ctx, 2)
		assert.ErrorIs(t, err, apierr.ErrAuthenticationFailed)
		assert.True(t, c.LoggedIn())
	})

	t.Run("Testing server errors are transport errors", func(t *testing.T) {
		c, requester, _ := newClient(t)
		login(t, c, requester)
		requester.On("Do", mock.Anything, path("/users/9")).Return(respond(502, "bad gateway"), nil)

		_, err := c.FetchUser(ctx, 9)
		assert.ErrorIs(t, err, apierr.ErrTransport)
		var apiErr *apierr.Error
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, 502, apiErr.Status)
	})

	t.Run("Testing a network failure is a transport error", func(t *testing.T) {
		c, requester, _ := newClient(t)
		login(t, c, requester)
		requester.On("Do", mock.Anything, path("/users/9")).Return(nil, errors.New("connection refused"))

		_, err := c.FetchUser(ctx, 9)
		assert.ErrorIs(t, err, apierr.ErrTransport)
	})

	t.Run("Testing a malformed body is a decode error and caches nothing", func(t *testing.T) {
		c, requester, caches := newClient(t)
		login(t, c, requester)
		requester.On("Do", mock.Anything, path("/users/9")).Return(respond(200, `{"id": "9", "username": `), nil)

		_, err := c.FetchUser(ctx, 9)
		assert.ErrorIs(t, err, apierr.ErrDecode)
		_, ok := caches.User(9)
		assert.False(t, ok)
	})
}

func TestRateLimit(t *testing.T) {
	ctx := context.Background()

	t.Run("Testing a rate limited call is retried after the advertised delay", func(t *testing.T) {
		s := &sleeper{}
		c, requester, caches := newClient(t, WithSleep(s.sleep))
		login(t, c, requester)

		limited := respond(429, `{"retry_after": 1.5}`)
		requester.On("Do", mock.Anything, path("/users/9")).Return(limited, nil).Once()
		requester.On("Do", mock.Anything, path("/users/9")).Return(respond(200, `{"id": "9", "username": "luna"}`), nil).Once()

		user, err := c.FetchUser(ctx, 9)
		require.NoError(t, err)
		assert.Equal(t, "luna", user.Name)
		assert.Equal(t, []time.Duration{1500 * time.Millisecond}, s.delays)
		_, ok := caches.User(9)
		assert.True(t, ok)
	})

	t.Run("Testing the header wins and the delay is capped", func(t *testing.T) {
		s := &sleeper{}
		c, requester, _ := newClient(t, WithSleep(s.sleep), WithMaxRetryDelay(2*time.Second))
		login(t, c, requester)

		limited := respond(429, `{"retry_after": 1}`)
		limited.Header.Set("Retry-After", "60")
		requester.On("Do", mock.Anything, path("/users/9")).Return(limited, nil).Once()
		requester.On("Do", mock.Anything, path("/users/9")).Return(respond(200, `{"id": "9", "username": "luna"}`), nil).Once()

		_, err := c.FetchUser(ctx, 9)
		require.NoError(t, err)
		assert.Equal(t, []time.Duration{2 * time.Second}, s.delays)
	})

	t.Run("Testing retries are bounded", func(t *testing.T) {
		s := &sleeper{}
		c, requester, _ := newClient(t, WithSleep(s.sleep), WithMaxRetries(2))
		login(t, c, requester)
		requester.On("Do", mock.Anything, path("/users/9")).Return(respond(429, `{"retry_after": 0.25}`), nil)

		_, err := c.FetchUser(ctx, 9)
		assert.ErrorIs(t, err, apierr.ErrRateLimited)
		retryAfter, ok := apierr.RetryAfter(err)
		require.True(t, ok)
		assert.Equal(t, 250*time.Millisecond, retryAfter)
		assert.Len(t, s.delays, 2)
		requester.AssertNumberOfCalls(t, "Do", 4)
	})
}

func TestTimeoutAndCancellation(t *testing.T) {
	t.Run("Testing a call that outlives the timeout is a transport error", func(t *testing.T) {
		c, requester, _ := newClient(t, WithTimeout(10*time.Millisecond))
		login(t, c, requester)
		requester.On("Do", mock.Anything, path("/users/9")).
			Run(func(args mock.Arguments) {
				<-args.Get(0).(context.Context).Done()
			}).
			Return(nil, context.DeadlineExceeded)

		_, err := c.FetchUser(context.Background(), 9)
		assert.ErrorIs(t, err, apierr.ErrTransport)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("Testing a cancelled call leaves the cache untouched", func(t *testing.T) {
		c, requester, caches := newClient(t)
		login(t, c, requester)
		ctx, cancel := context.WithCancel(context.Background())
		requester.On("Do", mock.Anything, path("/users/9")).
			Run(func(mock.Arguments) { cancel() }).
			Return(respond(200, `{"id": "9", "username": "luna"}`), nil)

		_, err := c.FetchUser(ctx, 9)
		assert.ErrorIs(t, err, context.Canceled)
		_, ok := caches.User(9)
		assert.False(t, ok)
	})
}

func TestStaleFetch(t *testing.T) {
	c, requester, caches := newClient(t)
	login(t, c, requester)

	requester.On("Do", mock.Anything, path("/users/9")).
		Run(func(mock.Arguments) {
			caches.UpsertUser(models.User{ID: 9, Name: "renamed"}, caches.Tick())
		}).
		Return(respond(200, `{"id": "9", "username": "luna"}`), nil)

	user, err := c.FetchUser(context.Background(), 9)
	require.NoError(t, err)
	assert.Equal(t, "renamed", user.Name)
	cached, _ := caches.User(9)
	assert.Equal(t, "renamed", cached.Name)
}

func TestFetchGuilds(t *testing.T) {
	ctx := context.Background()
	c, requester, caches := newClient(t)
	login(t, c, requester)

	caches.UpsertGuild(models.Guild{ID: 2, Name: "cached"}, caches.Tick())
	requester.On("Do", mock.Anything, path("/users/@me/guilds")).
		Return(respond(200, `[{"id": "2", "name": "listed"}, {"id": "3", "name": "new"}]`), nil)

	guilds, err := c.FetchCurrentUserGuilds(ctx)
	require.NoError(t, err)
	require.Len(t, guilds, 2)
	assert.Equal(t, "cached", guilds[0].Name)
	assert.Equal(t, "new", guilds[1].Name)

	requester.On("Do", mock.Anything, path("/guilds/2")).Return(respond(200, `{
		"id": "2", "name": "fetched",
		"channels": [{"id": "11", "type": 0, "name": "general"}],
		"roles": [{"id": "2", "name": "everyone", "default": true}]
	}`), nil)

	guild, err := c.FetchGuild(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "fetched", guild.Name)
	assert.Equal(t, []snowflake.ID{11}, guild.ChannelIDs)

	channel, ok := caches.Channel(11)
	require.True(t, ok)
	assert.Equal(t, snowflake.ID(2), channel.GuildID)

	t.Run("Testing a guild with clashing role positions is a decode error", func(t *testing.T) {
		requester.On("Do", mock.Anything, path("/guilds/4")).Return(respond(200, `{
			"id": "4", "roles": [{"id": "41", "position": 1}, {"id": "42", "position": 1}]
		}`), nil)
		_, err := c.FetchGuild(ctx, 4)
		assert.ErrorIs(t, err, apierr.ErrDecode)
		_, ok := caches.Guild(4)
		assert.False(t, ok)
	})
}

func TestFetchChannelAndMessages(t *testing.T) {
	ctx := context.Background()
	c, requester, caches := newClient(t)
	login(t, c, requester)

	requester.On("Do", mock.Anything, path("/channels/8")).Return(respond(200, `{
		"id": "8", "type": 1, "recipients": [{"id": "5", "username": "friend"}]
	}`), nil)
	channel, err := c.FetchChannel(ctx, 8)
	require.NoError(t, err)
	assert.True(t, channel.IsPrivate())
	assert.Equal(t, []snowflake.ID{5}, channel.Recipients)
	_, ok := caches.User(5)
	assert.True(t, ok)

	requester.On("Do", mock.Anything, path("/channels/8/messages?limit=2")).Return(respond(200, `[
		{"id": "41", "author": {"id": "5", "username": "friend"}, "content": "hi"},
		{"id": "42", "author": {"id": "1", "username": "bot"}, "content": "hello"}
	]`), nil)
	messages, err := c.FetchMessages(ctx, 8, 2)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, snowflake.ID(8), messages[0].ChannelID)
	assert.Len(t, caches.ChannelMessages(8), 2)

	requester.On("Do", mock.Anything, path("/guilds/2/members/5")).Return(respond(200, `{
		"user": {"id": "5", "username": "friend"}, "nick": "pal", "roles": ["21"]
	}`), nil)
	member, err := c.FetchMember(ctx, 2, 5)
	require.NoError(t, err)
	assert.Equal(t, "pal", member.DisplayName())
	assert.Equal(t, snowflake.ID(2), member.GuildID)
}

func TestPinAndEdit(t *testing.T) {
	ctx := context.Background()
	c, requester, caches := newClient(t)
	login(t, c, requester)

	t.Run("Testing pinning a cached message updates it in place", func(t *testing.T) {
		caches.UpsertMessage(models.Message{ID: 42, ChannelID: 7, Content: "hello"}, caches.Tick())
		requester.On("Do", mock.Anything, mock.MatchedBy(func(req *Request) bool {
			return req.Method == http.MethodPut && req.Path == "/channels/7/pins/42"
		})).Return(respond(204, ""), nil).Once()

		message, err := c.PinMessage(ctx, 7, 42)
		require.NoError(t, err)
		assert.True(t, message.Pinned)
		cached, _ := caches.Message(42)
		assert.True(t, cached.Pinned)
	})

	t.Run("Testing unpinning an uncached message fetches it", func(t *testing.T) {
		requester.On("Do", mock.Anything, mock.MatchedBy(func(req *Request) bool {
			return req.Method == http.MethodDelete && req.Path == "/channels/7/pins/43"
		})).Return(respond(204, ""), nil).Once()
		requester.On("Do", mock.Anything, path("/channels/7/messages/43")).
			Return(respond(200, `{"id": "43", "channel_id": "7", "author": {"id": "5"}, "pinned": false}`), nil).Once()

		message, err := c.UnpinMessage(ctx, 7, 43)
		require.NoError(t, err)
		assert.False(t, message.Pinned)
		_, ok := caches.Message(43)
		assert.True(t, ok)
	})

	t.Run("Testing an edit sends the new content", func(t *testing.T) {
		requester.On("Do", mock.Anything, mock.MatchedBy(func(req *Request) bool {
			return req.Method == http.MethodPatch && string(req.Body) == `{"content":"edited"}`
		})).Return(respond(200, `{
			"id": "42", "channel_id": "7", "author": {"id": "1"}, "content": "edited",
			"edited_timestamp": "2024-05-05T10:00:00Z", "pinned": true
		}`), nil).Once()

		message, err := c.EditMessage(ctx, 7, 42, "edited")
		require.NoError(t, err)
		assert.Equal(t, "edited", message.Content)
		assert.True(t, message.Edited())
	})
}
