package teams

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"m365cli/command"
	"m365cli/internal/m365test"

	"github.com/google/go-cmp/cmp"
)

const appID = "e3e29acb-8c79-412b-b746-e6c39ff4cd22"

func commandError(t *testing.T, err error) *command.Error {
	t.Helper()
	var ce *command.Error
	if !errors.As(err, &ce) {
		t.Fatalf("got %v (%T) want a *command.Error", err, err)
	}
	return ce
}

func appPackage(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "teamsapp.zip")
	if err := os.WriteFile(path, []byte("PK\x03\x04"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func catalog(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m365test.JSON(w, http.StatusOK, body)
	}
}

func TestAppUpdateByID(t *testing.T) {
	h := m365test.New(t, Commands()...)
	h.Handle(http.MethodPut, "/v1.0/appCatalogs/teamsApps/"+appID, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	stdout, _, err := h.Run("teams app update", command.Options{"id": appID, "filePath": appPackage(t)})
	if err != nil {
		t.Fatal(err)
	}
	if stdout != "" {
		t.Errorf("unexpected output %q", stdout)
	}
	put := h.RequestsTo(http.MethodPut, "/v1.0/appCatalogs/teamsApps/"+appID)[0]
	if got, want := put.Header.Get("Content-Type"), "application/zip"; got != want {
		t.Errorf("content type got %s want %s", got, want)
	}
	if got, want := string(put.Body), "PK\x03\x04"; got != want {
		t.Errorf("body got %q want %q", got, want)
	}
}

func TestAppUpdateByName(t *testing.T) {
	h := m365test.New(t, Commands()...)
	h.Handle(http.MethodGet, "/v1.0/appCatalogs/teamsApps", func(w http.ResponseWriter, r *http.Request) {
		if got, want := r.URL.Query().Get("$filter"), "displayName eq 'Test app'"; got != want {
			t.Errorf("$filter got %q want %q", got, want)
		}
		m365test.JSON(w, http.StatusOK, `{"value":[{"id":"`+appID+`","displayName":"Test app"}]}`)
	})
	h.Handle(http.MethodPut, "/v1.0/appCatalogs/teamsApps/"+appID, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	if _, _, err := h.Run("teams app update", command.Options{"name": "Test app", "filePath": appPackage(t)}); err != nil {
		t.Fatal(err)
	}
	if got, want := len(h.RequestsTo(http.MethodPut, "/v1.0/appCatalogs/teamsApps/"+appID)), 1; got != want {
		t.Errorf("updates got %d want %d", got, want)
	}
}

func TestAppUpdateResolution(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "not found",
			body: `{"value":[]}`,
			want: "The specified Teams app does not exist",
		},
		{
			name: "ambiguous",
			body: `{"value":[{"id":"e3e29acb-8c79-412b-b746-e6c39ff4cd22","displayName":"Test app"},{"id":"5b31c38c-2584-42f0-aa47-657fb3a84230","displayName":"Test app"}]}`,
			want: "Multiple Teams apps with name Test app found. Please choose one of these ids: e3e29acb-8c79-412b-b746-e6c39ff4cd22, 5b31c38c-2584-42f0-aa47-657fb3a84230",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := m365test.New(t, Commands()...)
			h.Handle(http.MethodGet, "/v1.0/appCatalogs/teamsApps", catalog(tt.body))

			_, _, err := h.Run("teams app update", command.Options{"name": "Test app", "filePath": appPackage(t)})
			ce := commandError(t, err)
			if got, want := ce.Kind, command.KindResolution; got != want {
				t.Errorf("kind got %s want %s", got, want)
			}
			if got := ce.Error(); got != tt.want {
				t.Errorf("got %q want %q", got, tt.want)
			}
		})
	}
}

func TestAppUpdateError(t *testing.T) {
	h := m365test.New(t, Commands()...)
	h.Handle(http.MethodPut, "/v1.0/appCatalogs/teamsApps/"+appID, func(w http.ResponseWriter, r *http.Request) {
		m365test.JSON(w, http.StatusBadRequest, `{"error":{"code":"BadRequest","message":"An error has occurred"}}`)
	})

	_, _, err := h.Run("teams app update", command.Options{"id": appID, "filePath": appPackage(t)})
	if got, want := commandError(t, err).Error(), "An error has occurred"; got != want {
		t.Errorf("got %q want %q", got, want)
	}
}

func TestAppUpdateValidation(t *testing.T) {
	cmd := appUpdate()
	pkg := appPackage(t)
	tests := []struct {
		name string
		opts command.Options
		want string
	}{
		{"valid", command.Options{"id": appID, "filePath": pkg}, ""},
		{"id and name", command.Options{"id": appID, "name": "Test app", "filePath": pkg}, "Specify one of the following options: id, name, but not multiple."},
		{"neither", command.Options{"filePath": pkg}, "Specify one of the following options: id, name."},
		{"bad id", command.Options{"id": "invalid", "filePath": pkg}, "invalid is not a valid GUID"},
		{"folder", command.Options{"id": appID, "filePath": filepath.Dir(pkg)}, "Path '" + filepath.Dir(pkg) + "' points to a folder"},
	}
	for _, tt := range tests {
		if got := command.Validate(cmd, tt.opts); got != tt.want {
			t.Errorf("%s: got %q want %q", tt.name, got, tt.want)
		}
	}
}

const pstnCalls = `{"@odata.count":1,"value":[{"id":"9c4984c7-6c3c-427d-a30c-bd0b2eacee90","callId":"1835317186_112562680@61.221.3.176","userPrincipalName":"richard.malk@contoso.com","startDateTime":"2019-11-01T00:00:08.2589935Z","callerNumber":"+12345678***","calleeNumber":"+12345678***"}]}`

const pstnPath = "/v1.0/communications/callRecords/getPstnCalls(fromDateTime=2019-11-01,toDateTime=2019-12-01)"

func TestReportPstnCalls(t *testing.T) {
	h := m365test.New(t, Commands()...)
	h.Handle(http.MethodGet, pstnPath, catalog(pstnCalls))

	stdout, _, err := h.Run("teams report pstncalls", command.Options{"fromDateTime": "2019-11-01", "toDateTime": "2019-12-01"})
	if err != nil {
		t.Fatal(err)
	}
	var got []map[string]any
	if err := json.Unmarshal([]byte(stdout), &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0]["callerNumber"] != "+12345678***" {
		t.Errorf("unexpected output %v", got)
	}
	if got, want := h.Requests()[0].Header.Get("Accept"), "application/json;odata.metadata=none"; got != want {
		t.Errorf("accept got %s want %s", got, want)
	}
}

func TestReportPstnCallsDefaultsToNow(t *testing.T) {
	h := m365test.New(t, Commands()...)
	h.Env.Now = func() time.Time { return time.Date(2019, 11, 20, 8, 30, 0, 0, time.UTC) }
	now = h.Env.Now
	t.Cleanup(func() { now = time.Now })
	h.Handle(http.MethodGet, "/v1.0/communications/callRecords/getPstnCalls(fromDateTime=2019-11-01,toDateTime=2019-11-20T08:30:00.000Z)", catalog(`{"value":[]}`))

	stdout, _, err := h.Run("teams report pstncalls", command.Options{"fromDateTime": "2019-11-01"})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := stdout, "[]\n"; got != want {
		t.Errorf("got %q want %q", got, want)
	}
}

func TestReportPstnCallsTextOutput(t *testing.T) {
	h := m365test.New(t, Commands()...)
	h.Handle(http.MethodGet, pstnPath, catalog(pstnCalls))

	stdout, _, err := h.Run("teams report pstncalls", command.Options{"fromDateTime": "2019-11-01", "toDateTime": "2019-12-01", "output": "text"})
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range []string{"calleeNumber", "9c4984c7-6c3c-427d-a30c-bd0b2eacee90"} {
		if !strings.Contains(stdout, s) {
			t.Errorf("text output missing %q:\n%s", s, stdout)
		}
	}
	if strings.Contains(stdout, "richard.malk@contoso.com") {
		t.Errorf("text output shows a property outside the defaults:\n%s", stdout)
	}
}

func TestReportPeriodValidation(t *testing.T) {
	now = func() time.Time { return time.Date(2020, 12, 1, 12, 0, 0, 0, time.UTC) }
	t.Cleanup(func() { now = time.Now })

	cmd := reportPstnCalls()
	tests := []struct {
		opts command.Options
		want string
	}{
		{command.Options{"fromDateTime": "abc"}, "abc is not a valid ISO date string for fromDateTime"},
		{command.Options{"fromDateTime": "2020-12-01", "toDateTime": "abc"}, "abc is not a valid ISO date string for toDateTime"},
		{command.Options{"fromDateTime": "2020-08-01", "toDateTime": "2020-12-01"}, "The maximum number of days between fromDateTime and toDateTime cannot exceed 90"},
		{command.Options{"fromDateTime": "2020-11-01"}, ""},
		{command.Options{"fromDateTime": "2019-01-01"}, "The maximum number of days between fromDateTime and toDateTime cannot exceed 90"},
		{command.Options{"fromDateTime": "2020-11-01", "toDateTime": "2020-12-01T10:00:00Z"}, ""},
	}
	for i, tt := range tests {
		if got := command.Validate(cmd, tt.opts); got != tt.want {
			t.Errorf("%d: got %q want %q", i, got, tt.want)
		}
	}
	if diff := cmp.Diff([]string{"id", "calleeNumber", "callerNumber", "startDateTime"}, cmd.DefaultProperties); diff != "" {
		t.Errorf("default properties mismatch (-want +got):\n%s", diff)
	}
}
