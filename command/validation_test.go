package command

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestValidationHelpers(t *testing.T) {

	tests := []struct {
		name string
		fn   func(string) bool
		in   string
		want bool
	}{
		{"guid", IsValidGUID, "6799fd1a-723b-4eb7-8e52-41ae530274ca", true},
		{"guid braces", IsValidGUID, "{6799fd1a-723b-4eb7-8e52-41ae530274ca}", false},
		{"guid short", IsValidGUID, "6799fd1a", false},
		{"guid urn", IsValidGUID, "urn:uuid:6799fd1a-723b-4eb7-8e52-41ae530274ca", false},
		{"upn", IsValidUserPrincipalName, "john.doe@contoso.onmicrosoft.com", true},
		{"upn missing domain", IsValidUserPrincipalName, "john.doe", false},
		{"upn missing tld", IsValidUserPrincipalName, "john@contoso", false},
		{"spo url", IsValidSharePointURL, "https://contoso.sharepoint.com/sites/team", true},
		{"spo url http", IsValidSharePointURL, "http://contoso.sharepoint.com", false},
		{"spo url other host", IsValidSharePointURL, "https://contoso.com", false},
		{"iso date", IsValidISODate, "2023-04-01", true},
		{"iso date time", IsValidISODate, "2023-04-01T10:00:00Z", true},
		{"iso date time offset", IsValidISODate, "2023-04-01T10:00:00.123+02:00", true},
		{"iso invalid", IsValidISODate, "01/04/2023", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.fn(tt.in); got != tt.want {
				t.Errorf("%q got %t want %t", tt.in, got, tt.want)
			}
		})
	}
}

func TestValidateFilePath(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "logo.png")
	if err := os.WriteFile(file, []byte("png"), 0600); err != nil {
		t.Fatal(err)
	}

	if got := ValidateFilePath(file); got != "" {
		t.Errorf("got %q want valid", got)
	}
	missing := filepath.Join(dir, "missing.png")
	if got, want := ValidateFilePath(missing), "File '"+missing+"' not found"; got != want {
		t.Errorf("got %q want %q", got, want)
	}
	if got, want := ValidateFilePath(dir), "Path '"+dir+"' points to a folder"; got != want {
		t.Errorf("got %q want %q", got, want)
	}
}

func TestSplitList(t *testing.T) {
	got := SplitList(" a@x.com, b@x.com,,c@x.com ")
	if diff := cmp.Diff([]string{"a@x.com", "b@x.com", "c@x.com"}, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
	if got := SplitList(""); got != nil {
		t.Errorf("got %v want nil", got)
	}
}

func TestEncodeQueryParameter(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Team Site Members", "Team%20Site%20Members"},
		{"O'Neil & Co", "O''Neil%20%26%20Co"},
		{"a/b?c=d", "a%2Fb%3Fc%3Dd"},
		{"ümlaut", "%C3%BCmlaut"},
	}
	for _, tt := range tests {
		if got := EncodeQueryParameter(tt.in); got != tt.want {
			t.Errorf("%q got %q want %q", tt.in, got, tt.want)
		}
	}
	if got, want := EscapeODataString("it's"), "it''s"; got != want {
		t.Errorf("got %q want %q", got, want)
	}
}
