package token

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/oauth2"
)

// duration generates a time.Duration for test purposes.
func duration(t *testing.T, s string) time.Duration {
	t.Helper()
	d, err := time.ParseDuration(s)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

// tokenPrinter prints out a token, helpful for debugging.
func tokenPrinter(t *oauth2.Token) string {
	if t == nil {
		return ""
	}
	return fmt.Sprintf("type: %s\nexpiry: %v\nrefresh: %v\n",
		t.Type(),
		t.Expiry,
		t.RefreshToken,
	)
}

// fakeJWT builds an unsigned JWT carrying claims.
func fakeJWT(t *testing.T, claims map[string]any) string {
	t.Helper()
	payload, err := json.Marshal(claims)
	if err != nil {
		t.Fatal(err)
	}
	enc := base64.RawURLEncoding
	return enc.EncodeToString([]byte(`{"alg":"none"}`)) + "." + enc.EncodeToString(payload) + ".sig"
}

// createOAuth2Config creates an identity platform configuration for tests.
func createOAuth2Config(t *testing.T, callbackURL, serverURL string) *oauth2.Config {
	t.Helper()
	return &oauth2.Config{
		ClientID:     "my-client-id",
		ClientSecret: "my-client-secret",
		RedirectURL:  callbackURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:  fmt.Sprintf("%s/oauth2/v2.0/authorize", serverURL),
			TokenURL: fmt.Sprintf("%s/oauth2/v2.0/token", serverURL),
		},
		Scopes: []string{"https://graph.microsoft.com/.default", "offline_access"},
	}
}

// TestTokenNotExpired tests that a valid, non-expired token does not trigger a token
// refresh.
func TestTokenNotExpired(t *testing.T) {

	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/oauth2/v2.0/token", func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("token refresh endpoint was called unexpectedly")
	})

	validToken := &ExtendedToken{
		Type:     DelegatedToken,
		Resource: "https://graph.microsoft.com",
		Token: &oauth2.Token{
			AccessToken: "valid-token-123",
			Expiry:      time.Now().Add(1 * time.Hour), // not expired
		},
	}

	if !validToken.IsValid(duration(t, "8h")) {
		t.Fatalf("token in %#v should be valid", validToken)
	}

	refreshed, err := validToken.ReuseOrRefresh(context.Background(), createOAuth2Config(t, "/callback", server.URL))
	if err != nil {
		t.Fatalf("ReuseOrRefresh returned an error: %v", err)
	}
	if refreshed == true {
		t.Fatal("refresh unexpectedly returned true")
	}
	if got, want := validToken.Type.String(), "delegated"; got != want {
		t.Errorf("type got %s want %s", got, want)
	}
}

// TestTokenRefresh tests that an expired token is automatically refreshed and the new
// token returned.
func TestTokenRefresh(t *testing.T) {

	const newAccessToken = "new-token-456"

	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	var refreshCalled bool
	mux.HandleFunc("/oauth2/v2.0/token", func(w http.ResponseWriter, r *http.Request) {
		refreshCalled = true

		if err := r.ParseForm(); err != nil {
			t.Fatalf("Failed to parse form: %v", err)
		}
		if got := r.FormValue("grant_type"); got != "refresh_token" {
			t.Errorf("expected grant_type refresh_token, got %s", got)
		}
		if got := r.FormValue("refresh_token"); got != "my-refresh-token" {
			t.Errorf("expected refresh_token my-refresh-token, got %s", got)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  newAccessToken,
			"token_type":    "Bearer",
			"refresh_token": "new-refresh-token",
			"expires_in":    3600,
		})
	})

	thisToken := &ExtendedToken{
		Type:     DelegatedToken,
		Resource: "https://graph.microsoft.com",
		Token: &oauth2.Token{
			AccessToken:  "expired-token-000",
			RefreshToken: "my-refresh-token",
			Expiry:       time.Now().Add(-1 * time.Hour), // expired
		},
	}

	if thisToken.IsValid(duration(t, "30m")) {
		t.Fatalf("token %#v should be invalid", thisToken)
	}

	refreshed, err := thisToken.ReuseOrRefresh(context.Background(), createOAuth2Config(t, "/callback", server.URL))
	if err != nil {
		t.Fatalf("ReuseOrRefresh returned an error: %v", err)
	}
	if refreshed != true {
		t.Error("expected refresh to be true")
	}
	if !refreshCalled {
		t.Error("expected token refresh endpoint to be called, but it wasn't")
	}
	if got, want := thisToken.Token.AccessToken, newAccessToken; got != want {
		t.Errorf("access token got %q want %q", got, want)
	}
	if !thisToken.IsValid(duration(t, "1m")) {
		t.Errorf("token in %#v should be valid", thisToken)
	}
}

// TestOAuth2TokenValidity checks if the token (with or without refresh token) is still
// valid based on the specified validity period. All tests run with an expected 1 hour
// token validity.
func TestOAuth2TokenValidity(t *testing.T) {

	tests := []struct {
		accessToken  string
		refreshToken string
		expiry       time.Time
		expectedOK   bool
	}{
		{"001-ok-token", "", time.Now().UTC().Add(1 * time.Minute), true},
		{"002-expired-token", "", time.Now().UTC().Add(-1 * time.Minute), false},
		{"003-ok-token-refresh", "refresh-token", time.Now().UTC().Add(1 * time.Minute), true},
		{"004-ok-expired-with-refresh", "refresh-token", time.Now().UTC().Add(-59 * time.Minute), true},
		{"005-expired-with-refresh", "refresh-token", time.Now().UTC().Add(-61 * time.Minute), false},
	}

	for ii, tt := range tests {
		t.Run(fmt.Sprintf("%d_%s", ii, tt.accessToken), func(t *testing.T) {
			thisToken := &ExtendedToken{
				Resource: "https://graph.microsoft.com",
				Token: &oauth2.Token{
					AccessToken:  tt.accessToken,
					RefreshToken: tt.refreshToken,
					Expiry:       tt.expiry,
				},
			}
			if got, want := thisToken.IsValid(duration(t, "1h")), tt.expectedOK; got != want {
				t.Errorf("validity check expected got %t want %t\ntoken details %v",
					got,
					want,
					tokenPrinter(thisToken.Token))
			}
		})
	}
}

func TestNewExtendedToken(t *testing.T) {
	if _, err := NewExtendedToken(DelegatedToken, "https://graph.microsoft.com", nil); err == nil {
		t.Error("expected error for nil token")
	}
	if _, err := NewExtendedToken(NoneToken, "https://graph.microsoft.com", &oauth2.Token{}); err == nil {
		t.Error("expected error for invalid type")
	}
	if _, err := NewExtendedToken(AppOnlyToken, "", &oauth2.Token{}); err == nil {
		t.Error("expected error for empty resource")
	}
	et, err := NewExtendedToken(AppOnlyToken, "https://contoso.sharepoint.com/", &oauth2.Token{})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := et.Resource, "https://contoso.sharepoint.com"; got != want {
		t.Errorf("got %q want %q", got, want)
	}
}

func TestIsAppOnly(t *testing.T) {

	tests := []struct {
		name   string
		token  string
		wantOK bool
	}{
		{"app idtyp", fakeJWT(t, map[string]any{"idtyp": "app", "roles": []string{"Group.ReadWrite.All"}}), true},
		{"user idtyp", fakeJWT(t, map[string]any{"idtyp": "user", "scp": "Group.ReadWrite.All"}), false},
		{"roles without scp", fakeJWT(t, map[string]any{"roles": []string{"Sites.Read.All"}}), true},
		{"scp without idtyp", fakeJWT(t, map[string]any{"scp": "User.Read"}), false},
		{"not a jwt", "opaque-token", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			et := &ExtendedToken{Token: &oauth2.Token{AccessToken: tt.token}}
			if got, want := et.IsAppOnly(), tt.wantOK; got != want {
				t.Errorf("got %t want %t", got, want)
			}
		})
	}
}

func TestClaims(t *testing.T) {
	enc := base64.RawURLEncoding
	tests := []struct {
		name    string
		token   string
		want    map[string]any
		wantErr bool
	}{
		{"unsigned", fakeJWT(t, map[string]any{"upn": "john@contoso.com"}), map[string]any{"upn": "john@contoso.com"}, false},
		{
			"unknown algorithm",
			enc.EncodeToString([]byte(`{"alg":"XY512"}`)) + "." + enc.EncodeToString([]byte(`{"appid":"31359c7f"}`)) + ".sig",
			map[string]any{"appid": "31359c7f"},
			false,
		},
		{"padded payload", enc.EncodeToString([]byte(`{"alg":"none"}`)) + "." + base64.URLEncoding.EncodeToString([]byte(`{"oid":"1"}`)) + ".sig", map[string]any{"oid": "1"}, false},
		{"opaque", "opaque-token", nil, true},
		{"bad payload", "e30.bm90LWpzb24.sig", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Claims(tt.token)
			if (err != nil) != tt.wantErr {
				t.Fatalf("got error %v wantErr %t", err, tt.wantErr)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("claims mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTokenNames(t *testing.T) {
	if got, want := AppOnlyToken.String(), "app-only"; got != want {
		t.Errorf("unexepected token name got %q want %q", got, want)
	}
	if got, want := NoneToken.String(), "invalid"; got != want {
		t.Errorf("unexepected token name got %q want %q", got, want)
	}
}
