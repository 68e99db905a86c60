package gateway

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bitly/go-simplejson"
	"github.com/fuad-daoud/guildkit/apierr"
	"github.com/fuad-daoud/guildkit/cache"
	"github.com/fuad-daoud/guildkit/models"
	"github.com/fuad-daoud/guildkit/rest"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/context"
)

func eventServer(t *testing.T, frames ...[]byte) *httptest.Server {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, identify, err := conn.ReadMessage()
		if err != nil {
			return
		}
		js, err := simplejson.NewJson(identify)
		if !assert.NoError(t, err) {
			return
		}
		token, _ := js.GetPath("payload", "token").String()
		if token != "secret" {
			conn.WriteMessage(websocket.TextMessage, []byte(`{"type": "invalid-session"}`))
			return
		}

		conn.WriteMessage(websocket.TextMessage, frame(Ready, 1, readyPayloadJSON))
		for _, f := range frames {
			conn.WriteMessage(websocket.TextMessage, f)
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestWebsocketDispatcher(t *testing.T) {
	server := eventServer(t, frame(MessageCreated, 2, messageJSON(42, 7, "over the wire")))

	caches := cache.New()
	registry := NewRegistry()
	received := make(chan models.Message, 1)
	registry.OnMessageCreated(func(m models.Message) { received <- m })

	d := New(caches, registry, NewWebsocketDialer(wsURL(server)), WithBackOff(zeroBackOff))
	require.NoError(t, d.Connect(context.Background(), rest.NewToken("secret")))
	defer d.Disconnect()

	select {
	case m := <-received:
		assert.Equal(t, "over the wire", m.Content)
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
	self, ok := caches.SelfUser()
	require.True(t, ok)
	assert.Equal(t, "bot", self.Name)
}

func TestWebsocketDialRejected(t *testing.T) {
	server := eventServer(t)

	_, err := NewWebsocketDialer(wsURL(server)).Dial(context.Background(), rest.NewToken("wrong"))
	assert.ErrorIs(t, err, apierr.ErrAuthenticationFailed)

	_, err = NewWebsocketDialer("ws://127.0.0.1:1").Dial(context.Background(), rest.NewToken("secret"))
	assert.ErrorIs(t, err, apierr.ErrTransport)
}
