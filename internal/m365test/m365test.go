// Package m365test runs commands against a local test server standing in for
// Microsoft Graph and SharePoint.
package m365test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"m365cli/apiclients/m365"
	"m365cli/command"
)

// GraphURL is the Graph root used by the harness.
const GraphURL = "https://graph.microsoft.com"

// Request is a request received by the test server.
type Request struct {
	Method string
	Host   string // the host the command addressed
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
}

// JSON decodes the request body.
func (r Request) JSON(t *testing.T, v any) {
	t.Helper()
	if err := json.Unmarshal(r.Body, v); err != nil {
		t.Fatalf("could not decode body of %s %s: %v", r.Method, r.Path, err)
	}
}

// Auth meets command.Auth.
type Auth struct {
	Disconnected bool
	Token        string
}

// Connected meets command.Auth.
func (a *Auth) Connected() bool { return !a.Disconnected }

// AccessToken meets command.Auth.
func (a *Auth) AccessToken(ctx context.Context, resource string) (string, error) {
	return a.Token, nil
}

// Harness is a test environment for running commands.
type Harness struct {
	t    *testing.T
	Env  *command.Env
	Auth *Auth

	mu       sync.Mutex
	routes   map[string]http.HandlerFunc
	requests []Request
}

// New returns a Harness with cmds registered. Every request made by a command is sent
// to a local test server, whatever host it addresses.
func New(t *testing.T, cmds ...*command.Command) *Harness {
	t.Helper()

	h := &Harness{
		t:      t,
		Auth:   &Auth{Token: DelegatedToken(t)},
		routes: map[string]http.HandlerFunc{},
	}

	server := httptest.NewServer(http.HandlerFunc(h.serve))
	t.Cleanup(server.Close)
	target, err := url.Parse(server.URL)
	if err != nil {
		t.Fatal(err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	httpClient := &http.Client{Transport: rewriteTransport{target: target, base: server.Client().Transport}}

	registry := command.NewRegistry()
	if err := registry.Register(cmds...); err != nil {
		t.Fatal(err)
	}

	h.Env = &command.Env{
		Auth:        h.Auth,
		Client:      m365.NewClient(h.Auth, httpClient, nil, logger),
		Registry:    registry,
		Hooks:       command.NewHooks(logger),
		Log:         logger,
		GraphURL:    GraphURL,
		Concurrency: 4,
	}
	return h
}

// Handle registers fn for requests with method and (unescaped) path.
func (h *Harness) Handle(method, path string, fn http.HandlerFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.routes[method+" "+path] = fn
}

// Requests returns the requests received so far.
func (h *Harness) Requests() []Request {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Request(nil), h.requests...)
}

// RequestsTo returns the received requests with method and path.
func (h *Harness) RequestsTo(method, path string) []Request {
	var rs []Request
	for _, r := range h.Requests() {
		if r.Method == method && r.Path == path {
			rs = append(rs, r)
		}
	}
	return rs
}

// Run executes the named command, returning what it wrote to stdout and stderr.
func (h *Harness) Run(name string, opts command.Options) (stdout, stderr string, err error) {
	h.t.Helper()
	cmd, ok := h.Env.Registry.Lookup(name)
	if !ok {
		h.t.Fatalf("command %q not registered", name)
	}
	if !opts.IsSet("output") {
		opts = opts.Clone()
		opts["output"] = "json"
	}
	var out, errOut bytes.Buffer
	logger := command.NewStreamLogger(&out, &errOut, opts.String("output"), cmd.DefaultProperties)
	err = command.Execute(context.Background(), h.Env, cmd, opts, logger)
	return out.String(), errOut.String(), err
}

func (h *Harness) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	req := Request{
		Method: r.Method,
		Host:   r.Host,
		Path:   r.URL.Path,
		Query:  r.URL.Query(),
		Header: r.Header.Clone(),
		Body:   body,
	}

	h.mu.Lock()
	h.requests = append(h.requests, req)
	fn, ok := h.routes[r.Method+" "+r.URL.Path]
	h.mu.Unlock()

	if !ok {
		h.t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":"NotFound","message":"no test route"}}`))
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	fn(w, r)
}

// rewriteTransport sends every request to target, keeping the original host in the
// Host header.
type rewriteTransport struct {
	target *url.URL
	base   http.RoundTripper
}

func (rt rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.Host = req.URL.Host
	r.URL.Scheme = rt.target.Scheme
	r.URL.Host = rt.target.Host
	return rt.base.RoundTrip(r)
}

// JSON writes v as a JSON response with status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	switch t := v.(type) {
	case string:
		_, _ = w.Write([]byte(t))
	default:
		_ = json.NewEncoder(w).Encode(v)
	}
}

func fakeJWT(t *testing.T, claims map[string]any) string {
	t.Helper()
	b, err := json.Marshal(claims)
	if err != nil {
		t.Fatal(err)
	}
	enc := base64.RawURLEncoding
	return enc.EncodeToString([]byte(`{"alg":"none"}`)) + "." + enc.EncodeToString(b) + ".sig"
}

// DelegatedToken returns an access token issued to a signed in user.
func DelegatedToken(t *testing.T) string {
	return fakeJWT(t, map[string]any{"idtyp": "user", "scp": "Group.ReadWrite.All Tasks.ReadWrite"})
}

// AppOnlyToken returns an access token issued to an application.
func AppOnlyToken(t *testing.T) string {
	return fakeJWT(t, map[string]any{"idtyp": "app", "roles": []string{"Group.ReadWrite.All"}})
}
