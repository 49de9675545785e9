package m365

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// staticTokens meets TokenProvider, recording the resources asked for.
type staticTokens struct {
	resources []string
}

func (s *staticTokens) AccessToken(ctx context.Context, resource string) (string, error) {
	s.resources = append(s.resources, resource)
	return "token-for-" + resource, nil
}

// setup creates a test environment for running API client tests. It returns a request
// multiplexer for registering handlers, the Client configured to use the test server,
// the server url and a teardown function to close the server.
func setup(t *testing.T) (mux *http.ServeMux, client *Client, serverURL string, teardown func()) {

	t.Helper()

	mux = http.NewServeMux()
	server := httptest.NewServer(mux)

	logger := slog.New(slog.NewTextHandler(
		os.Stdout,
		&slog.HandlerOptions{Level: slog.LevelDebug},
	))

	client = NewClient(&staticTokens{}, server.Client(), nil, logger)

	teardown = func() {
		server.Close()
	}

	return mux, client, server.URL, teardown
}

func TestGetDecodes(t *testing.T) {
	mux, client, serverURL, teardown := setup(t)
	defer teardown()

	mux.HandleFunc("/v1.0/users/abc", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected method GET, got %s", r.Method)
		}
		if got, want := r.Header.Get("Authorization"), "Bearer token-for-"+serverURL; got != want {
			t.Errorf("authorization got %q want %q", got, want)
		}
		if got, want := r.Header.Get("Accept"), "application/json;odata.metadata=none"; got != want {
			t.Errorf("accept got %q want %q", got, want)
		}
		_, _ = w.Write([]byte(`{"id":"abc","userPrincipalName":"user1@contoso.com"}`))
	})

	var user struct {
		ID  string `json:"id"`
		UPN string `json:"userPrincipalName"`
	}
	err := client.Get(context.Background(), Request{
		URL:     serverURL + "/v1.0/users/abc",
		Headers: map[string]string{"accept": "application/json;odata.metadata=none"},
	}, &user)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := user.UPN, "user1@contoso.com"; got != want {
		t.Errorf("got %s want %s", got, want)
	}
}

func TestPostBodies(t *testing.T) {
	mux, client, serverURL, teardown := setup(t)
	defer teardown()

	mux.HandleFunc("/json", func(w http.ResponseWriter, r *http.Request) {
		if got, want := r.Header.Get("Content-Type"), "application/json"; got != want {
			t.Errorf("content type got %q want %q", got, want)
		}
		b, _ := io.ReadAll(r.Body)
		if got, want := string(b), `{"displayName":"Finance"}`; got != want {
			t.Errorf("body got %s want %s", got, want)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"1"}`))
	})
	mux.HandleFunc("/bytes", func(w http.ResponseWriter, r *http.Request) {
		if got, want := r.Header.Get("Content-Type"), "image/png"; got != want {
			t.Errorf("content type got %q want %q", got, want)
		}
		b, _ := io.ReadAll(r.Body)
		if got, want := string(b), "PNG"; got != want {
			t.Errorf("body got %s want %s", got, want)
		}
		w.WriteHeader(http.StatusNoContent)
	})

	var raw json.RawMessage
	err := client.Post(context.Background(), Request{
		URL:  serverURL + "/json",
		Body: struct {
			DisplayName string `json:"displayName"`
		}{"Finance"},
	}, &raw)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(raw), `{"id":"1"}`; got != want {
		t.Errorf("raw got %s want %s", got, want)
	}

	err = client.Put(context.Background(), Request{
		URL:     serverURL + "/bytes",
		Headers: map[string]string{"content-type": "image/png"},
		Body:    []byte("PNG"),
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
}

func TestResponseError(t *testing.T) {
	mux, client, serverURL, teardown := setup(t)
	defer teardown()

	const envelope = `{"error":{"code":"Request_ResourceNotFound","message":"Resource not found"}}`
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(envelope))
	})

	err := client.Delete(context.Background(), Request{URL: serverURL + "/missing"}, nil)
	var re *ResponseError
	if !errors.As(err, &re) {
		t.Fatalf("expected ResponseError, got %T %v", err, err)
	}
	if got, want := re.StatusCode, http.StatusNotFound; got != want {
		t.Errorf("status got %d want %d", got, want)
	}
	if got, want := string(re.Body), envelope; got != want {
		t.Errorf("body got %s want %s", got, want)
	}
}

func TestRawResponse(t *testing.T) {
	mux, client, serverURL, teardown := setup(t)
	defer teardown()

	mux.HandleFunc("/photo", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte{0x89, 0x50})
	})

	var b []byte
	if err := client.Get(context.Background(), Request{URL: serverURL + "/photo", ResponseType: "raw"}, &b); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]byte{0x89, 0x50}, b); diff != "" {
		t.Errorf("raw mismatch (-want +got):\n%s", diff)
	}
}

func TestGetAllPagination(t *testing.T) {
	mux, client, serverURL, teardown := setup(t)
	defer teardown()

	var callCount int
	mux.HandleFunc("/v1.0/groups", func(w http.ResponseWriter, r *http.Request) {
		callCount++
		switch r.URL.Query().Get("$skiptoken") {
		case "":
			_, _ = fmt.Fprintf(w, `{"value":[{"id":"1"},{"id":"2"}],"@odata.nextLink":"%s/v1.0/groups?$skiptoken=p2"}`, serverURL)
		case "p2":
			_, _ = w.Write([]byte(`{"value":[{"id":"3"}]}`))
		default:
			t.Errorf("unexpected skiptoken %q", r.URL.Query().Get("$skiptoken"))
		}
	})

	type group struct {
		ID string `json:"id"`
	}
	groups, err := GetAll[group](context.Background(), client, Request{URL: serverURL + "/v1.0/groups"})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]group{{"1"}, {"2"}, {"3"}}, groups); diff != "" {
		t.Errorf("groups mismatch (-want +got):\n%s", diff)
	}
	if got, want := callCount, 2; got != want {
		t.Errorf("call count got %d want %d", got, want)
	}
}

func TestResource(t *testing.T) {
	tests := []struct {
		url     string
		want    string
		wantErr bool
	}{
		{"https://graph.microsoft.com/v1.0/me", "https://graph.microsoft.com", false},
		{"https://contoso.sharepoint.com/sites/team/_api/web", "https://contoso.sharepoint.com", false},
		{"/v1.0/me", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			got, err := Resource(tt.url)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error got %v wantErr %t", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %q want %q", got, tt.want)
			}
		})
	}
}

func TestWithQuery(t *testing.T) {
	got, err := WithQuery("https://graph.microsoft.com/v1.0/users", ODataQuery{
		Filter: "userPrincipalName eq 'o''neil@contoso.com'",
		Select: "id,userPrincipalName",
	})
	if err != nil {
		t.Fatal(err)
	}
	want := "https://graph.microsoft.com/v1.0/users?%24filter=userPrincipalName+eq+%27o%27%27neil%40contoso.com%27&%24select=id%2CuserPrincipalName"
	if got != want {
		t.Errorf("got %s\nwant %s", got, want)
	}

	got, err = WithQuery("https://graph.microsoft.com/v1.0/me", ODataQuery{})
	if err != nil {
		t.Fatal(err)
	}
	if want := "https://graph.microsoft.com/v1.0/me"; got != want {
		t.Errorf("got %s want %s", got, want)
	}
}
