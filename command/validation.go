package command

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

var upnRegexp = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// IsValidGUID reports whether s is a GUID in the canonical 36 character form.
func IsValidGUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

// IsValidUserPrincipalName reports whether s looks like a user principal name.
func IsValidUserPrincipalName(s string) bool {
	return upnRegexp.MatchString(s)
}

// IsValidSharePointURL reports whether s is an absolute https url on a sharepoint.com
// host.
func IsValidSharePointURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return u.Scheme == "https" && strings.HasSuffix(strings.ToLower(u.Hostname()), ".sharepoint.com")
}

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseISODate parses an ISO 8601 date or date time. Times without a zone are UTC.
func ParseISODate(s string) (time.Time, bool) {
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// IsValidISODate reports whether s is an ISO 8601 date or date time.
func IsValidISODate(s string) bool {
	_, ok := ParseISODate(s)
	return ok
}

// ValidateFilePath returns a rejection message if path does not exist or is a folder.
func ValidateFilePath(path string) string {
	fi, err := os.Stat(path)
	if err != nil {
		return fmt.Sprintf("File '%s' not found", path)
	}
	if fi.IsDir() {
		return fmt.Sprintf("Path '%s' points to a folder", path)
	}
	return ""
}

// SplitList splits a comma separated option value, trimming the items and dropping
// empty ones.
func SplitList(s string) []string {
	var items []string
	for _, it := range strings.Split(s, ",") {
		if it = strings.TrimSpace(it); it != "" {
			items = append(items, it)
		}
	}
	return items
}

// EscapeODataString doubles single quotes for use inside an OData string literal.
func EscapeODataString(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// EncodeQueryParameter encodes s for use inside an OData string literal in a url
// path, such as GetByName('...').
func EncodeQueryParameter(s string) string {
	return encodeURIComponent(EscapeODataString(s))
}

// encodeURIComponent escapes everything except A-Z a-z 0-9 - _ . ! ~ * ' ( ).
func encodeURIComponent(s string) string {
	const unreserved = "-_.!~*'()"
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9') || strings.IndexByte(unreserved, c) >= 0 {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "%%%02X", c)
	}
	return b.String()
}
