package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bitly/go-simplejson"
	"github.com/fuad-daoud/guildkit/apierr"
	"github.com/fuad-daoud/guildkit/rest"
	"github.com/gorilla/websocket"
	"golang.org/x/net/context"
)

const (
	identifyType       = "identify"
	invalidSessionType = "invalid-session"
)

// WebsocketDialer opens the event stream over a websocket. After the
// upgrade it sends {"type": "identify", "payload": {"token": ...}} and
// expects a ready event back.
type WebsocketDialer struct {
	URL              string
	Dialer           *websocket.Dialer
	HandshakeTimeout time.Duration
}

func NewWebsocketDialer(url string) *WebsocketDialer {
	return &WebsocketDialer{
		URL:              url,
		Dialer:           websocket.DefaultDialer,
		HandshakeTimeout: 10 * time.Second,
	}
}

func (wd *WebsocketDialer) Dial(ctx context.Context, token rest.Token) (Stream, error) {
	const op = "gateway.Dial"
	dialer := wd.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, wd.URL, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		if status == http.StatusUnauthorized || status == http.StatusForbidden {
			return nil, apierr.AuthenticationFailed(op, status, err)
		}
		return nil, apierr.Transport(op, status, err)
	}

	identify := simplejson.New()
	identify.Set("type", identifyType)
	identify.SetPath([]string{"payload", "token"}, token.Expose())
	body, err := identify.MarshalJSON()
	if err != nil {
		conn.Close()
		return nil, apierr.Transport(op, 0, err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, body); err != nil {
		conn.Close()
		return nil, apierr.Transport(op, 0, err)
	}

	if wd.HandshakeTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(wd.HandshakeTimeout))
	}
	_, first, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, apierr.Transport(op, 0, fmt.Errorf("waiting for ready: %w", err))
	}
	conn.SetReadDeadline(time.Time{})

	js, err := simplejson.NewJson(first)
	if err != nil {
		conn.Close()
		return nil, apierr.Decode(op, err)
	}
	switch typ, _ := js.Get("type").String(); EventType(typ) {
	case Ready:
		return &websocketStream{conn: conn, pending: first}, nil
	case invalidSessionType:
		conn.Close()
		return nil, apierr.AuthenticationFailed(op, 0, errors.New("session rejected"))
	default:
		conn.Close()
		return nil, apierr.Decode(op, fmt.Errorf("expected ready, got %q", typ))
	}
}

type websocketStream struct {
	conn      *websocket.Conn
	pending   []byte
	closeOnce sync.Once
	closeErr  error
}

func (s *websocketStream) Read(ctx context.Context) ([]byte, error) {
	if s.pending != nil {
		first := s.pending
		s.pending = nil
		return first, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, data, err := s.conn.ReadMessage()
	return data, err
}

func (s *websocketStream) Close() error {
	s.closeOnce.Do(func() {
		deadline := time.Now().Add(time.Second)
		s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}
