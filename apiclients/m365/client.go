// Package m365 is the HTTP adapter for the Microsoft Graph and SharePoint REST APIs.
//
// Each request is authorised with a bearer token for the resource the url points at,
// so that a single Client can call https://graph.microsoft.com and any number of
// https://<tenant>.sharepoint.com sites.
package m365

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"

	"golang.org/x/time/rate"
)

const userAgent = "m365cli"

// TokenProvider provides access tokens for a resource, such as
// https://graph.microsoft.com.
type TokenProvider interface {
	AccessToken(ctx context.Context, resource string) (string, error)
}

// Request describes a single API call.
type Request struct {
	URL     string
	Headers map[string]string
	// Body is sent verbatim when a []byte, otherwise it is encoded as JSON.
	Body any
	// ResponseType "json" (the default) decodes the response into the target value;
	// "raw" copies the response body into a *[]byte target.
	ResponseType string
}

// ResponseError is returned for non-2xx responses. The body is kept so that error
// envelopes returned by the API can be reported to the user.
type ResponseError struct {
	StatusCode int
	Body       []byte
}

// Error meets the error interface.
func (e *ResponseError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, string(e.Body))
}

// Client is a wrapper for making authenticated calls to the Microsoft 365 APIs.
type Client struct {
	httpClient *http.Client
	tokens     TokenProvider
	limiter    *rate.Limiter
	log        *slog.Logger
}

// NewClient creates a new Client. If no httpClient is provided http.DefaultClient is
// used. A nil limiter disables request pacing.
func NewClient(
	tokens TokenProvider,
	httpClient *http.Client,
	limiter *rate.Limiter,
	logger *slog.Logger,
) *Client {

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(
			os.Stderr,
			&slog.HandlerOptions{Level: slog.LevelInfo},
		))
	}

	return &Client{
		httpClient: httpClient,
		tokens:     tokens,
		limiter:    limiter,
		log:        logger,
	}
}

// Get performs a GET request, decoding the response into v.
func (c *Client) Get(ctx context.Context, r Request, v any) error {
	return c.Execute(ctx, http.MethodGet, r, v)
}

// Post performs a POST request, decoding the response into v.
func (c *Client) Post(ctx context.Context, r Request, v any) error {
	return c.Execute(ctx, http.MethodPost, r, v)
}

// Put performs a PUT request, decoding the response into v.
func (c *Client) Put(ctx context.Context, r Request, v any) error {
	return c.Execute(ctx, http.MethodPut, r, v)
}

// Patch performs a PATCH request, decoding the response into v.
func (c *Client) Patch(ctx context.Context, r Request, v any) error {
	return c.Execute(ctx, http.MethodPatch, r, v)
}

// Delete performs a DELETE request. v is usually nil.
func (c *Client) Delete(ctx context.Context, r Request, v any) error {
	return c.Execute(ctx, http.MethodDelete, r, v)
}

// Execute performs a request with the given method. A nil v discards the response body.
func (c *Client) Execute(ctx context.Context, method string, r Request, v any) error {
	req, err := c.newRequest(ctx, method, r)
	if err != nil {
		c.log.Error(fmt.Sprintf("Execute: %s %s: request error: %v", method, r.URL, err))
		return err
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter wait: %w", err)
		}
	}

	c.log.Debug(fmt.Sprintf("Execute: %s %s", method, r.URL))

	if _, err := c.do(req, r.ResponseType, v); err != nil {
		c.log.Debug(fmt.Sprintf("Execute: %s %s failed: %v", method, r.URL, err))
		return err
	}
	return nil
}

// Resource returns the scheme and host of a url, which identifies the resource an
// access token is requested for.
func Resource(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q is not absolute", rawURL)
	}
	return u.Scheme + "://" + u.Host, nil
}

// newRequest is a helper to create a new HTTP request with common headers.
func (c *Client) newRequest(ctx context.Context, method string, r Request) (*http.Request, error) {
	var bodyReader io.Reader
	contentType := ""
	switch body := r.Body.(type) {
	case nil:
	case []byte:
		bodyReader = bytes.NewReader(body)
		contentType = "application/octet-stream"
	case json.RawMessage:
		bodyReader = bytes.NewReader(body)
		contentType = "application/json"
	default:
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(b)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, method, r.URL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}

	if c.tokens != nil && req.Header.Get("Authorization") == "" {
		resource, err := Resource(r.URL)
		if err != nil {
			return nil, err
		}
		accessToken, err := c.tokens.AccessToken(ctx, resource)
		if err != nil {
			return nil, fmt.Errorf("failed to obtain access token for %s: %w", resource, err)
		}
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	return req, nil
}

// do is a helper to execute an HTTP request and decode the JSON response. A nil `v`
// is supported for API calls not providing a response, such as DELETE calls.
func (c *Client) do(req *http.Request, responseType string, v any) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ResponseError{StatusCode: resp.StatusCode, Body: body}
	}

	if v == nil {
		return resp, nil
	}

	if strings.EqualFold(responseType, "raw") {
		raw, ok := v.(*[]byte)
		if !ok {
			return nil, errors.New("raw responses need a *[]byte target")
		}
		*raw = body
		return resp, nil
	}

	if len(bytes.TrimSpace(body)) == 0 {
		return resp, nil
	}
	if raw, ok := v.(*json.RawMessage); ok {
		*raw = append((*raw)[:0], body...)
		return resp, nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp, nil
}
