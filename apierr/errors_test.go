package apierr

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestErrorsIs(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
	}{
		{"invalid argument", InvalidArgument("rest.FetchGuild", "bad id %d", -1), ErrInvalidArgument},
		{"auth", AuthenticationFailed("rest.Login", 401, nil), ErrAuthenticationFailed},
		{"not found", NotFound("rest.FetchGuild", "guild 1"), ErrNotFound},
		{"rate limited", RateLimited("rest.FetchGuild", time.Second), ErrRateLimited},
		{"transport", Transport("rest.FetchGuild", 0, context.DeadlineExceeded), ErrTransport},
		{"decode", Decode("rest.FetchGuild", errors.New("bad json")), ErrDecode},
		{"wrapped", fmt.Errorf("client: %w", NotFound("rest.FetchChannel", "")), ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.err, tt.target)
			for _, other := range []error{ErrInvalidArgument, ErrAuthenticationFailed, ErrNotFound, ErrRateLimited, ErrTransport, ErrDecode} {
				if other != tt.target {
					assert.NotErrorIs(t, tt.err, other)
				}
			}
		})
	}
}

func TestTransportUnwrapsCause(t *testing.T) {
	err := Transport("rest.FetchUser", 0, context.DeadlineExceeded)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, KindTransport, KindOf(err))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
}

func TestRetryAfter(t *testing.T) {
	d, ok := RetryAfter(fmt.Errorf("wrap: %w", RateLimited("op", 2*time.Second)))
	assert.True(t, ok)
	assert.Equal(t, 2*time.Second, d)

	_, ok = RetryAfter(NotFound("op", ""))
	assert.False(t, ok)
}

func TestErrorMessage(t *testing.T) {
	err := RateLimited("rest.FetchGuild", 1500*time.Millisecond)
	assert.Equal(t, "rest.FetchGuild: rate limited (status=429) (retry_after=1.5s)", err.Error())
}
