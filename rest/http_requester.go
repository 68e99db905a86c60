package rest

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/net/context"
	"golang.org/x/time/rate"
)

// HTTPRequester is the default Requester over net/http.
type HTTPRequester struct {
	Client  *http.Client
	BaseURL string
	Headers map[string]string
	// Limiter paces outbound calls when set.
	Limiter *rate.Limiter
}

// NewHTTPRequester paces calls at requestsPerSecond when it is positive.
func NewHTTPRequester(baseURL string, requestsPerSecond float64) *HTTPRequester {
	hr := &HTTPRequester{
		Client:  &http.Client{},
		BaseURL: strings.TrimRight(baseURL, "/"),
		Headers: map[string]string{
			"Content-Type": "application/json",
			"Accept":       "application/json",
			"User-Agent":   "guildkit (https://github.com/fuad-daoud/guildkit)",
		},
	}
	if requestsPerSecond > 0 {
		burst := int(requestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		hr.Limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	}
	return hr
}

func (hr *HTTPRequester) Do(ctx context.Context, req *Request) (*Response, error) {
	if hr.Limiter != nil {
		if err := hr.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	httpReq, err := hr.makeRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	client := hr.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body of %s %s: %w", req.Method, req.Path, err)
	}
	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

func (hr *HTTPRequester) makeRequest(ctx context.Context, req *Request) (*http.Request, error) {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, hr.BaseURL+req.Path, body)
	if err != nil {
		return nil, err
	}
	hr.setHeaders(httpReq)
	if !req.Token.IsEmpty() {
		httpReq.Header.Set("Authorization", "Bot "+req.Token.Expose())
	}
	return httpReq, nil
}

func (hr *HTTPRequester) setHeaders(req *http.Request) {
	for k, v := range hr.Headers {
		req.Header.Set(k, v)
	}
}
