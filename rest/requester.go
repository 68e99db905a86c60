package rest

import (
	"net/http"

	"golang.org/x/net/context"
)

type Request struct {
	Method string
	Path   string
	Body   []byte
	Token  Token
}

type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Requester performs one round trip against the remote API. Failures to get
// any response at all are returned as errors; remote error statuses are not.
type Requester interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}
