package client

import (
	"net/http"
	"time"
)

// Option configures the dispatcher client.
type Option func(*options)

type options struct {
	apiKey     string
	bearer     string
	httpClient *http.Client
	headers    map[string]string
}

func defaultOptions() *options {
	return &options{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		headers: make(map[string]string),
	}
}

// WithAPIKey sets the API key for authentication.
func WithAPIKey(key string) Option {
	return func(o *options) {
		o.apiKey = key
	}
}

// WithBearerToken sets a JWT bearer token for authentication.
func WithBearerToken(token string) Option {
	return func(o *options) {
		o.bearer = token
	}
}

// WithHTTPClient allows providing a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

// WithTimeout sets the default timeout for HTTP requests.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if o.httpClient != nil {
			o.httpClient.Timeout = d
		}
	}
}

// WithHeader adds a custom header to all requests.
func WithHeader(key, value string) Option {
	return func(o *options) {
		o.headers[key] = value
	}
}

func (o *options) applyHeaders(req *http.Request) {
	if o.apiKey != "" {
		req.Header.Set("X-API-Key", o.apiKey)
	}
	if o.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+o.bearer)
	}
	for k, v := range o.headers {
		req.Header.Set(k, v)
	}
}
