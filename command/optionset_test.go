package command

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestOptionSetCheck(t *testing.T) {

	set := OptionSet{Options: []string{"id", "name"}}

	tests := []struct {
		name string
		opts Options
		want string
	}{
		{"none", Options{"filePath": "app.zip"}, "Specify one of the following options: id, name."},
		{"nil value is absent", Options{"id": nil}, "Specify one of the following options: id, name."},
		{"both", Options{"id": "1", "name": "App"}, "Specify one of the following options: id, name, but not multiple."},
		{"one", Options{"name": "App"}, ""},
		{"false bool is present", Options{"id": false}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first := set.Check(tt.opts)
			if got, want := first, tt.want; got != want {
				t.Errorf("got %q want %q", got, want)
			}
			if second := set.Check(tt.opts); second != first {
				t.Errorf("second check got %q first %q", second, first)
			}
		})
	}
}

func TestOptionSetsFirstFailure(t *testing.T) {
	sets := []OptionSet{
		{Options: []string{"groupId", "groupName"}},
		{Options: []string{"userName", "email"}},
	}
	got := checkOptionSets(sets, Options{"groupId": 1})
	if want := "Specify one of the following options: userName, email."; got != want {
		t.Errorf("got %q want %q", got, want)
	}
	if got := checkOptionSets(sets, Options{"groupId": 1, "email": "a@b.com"}); got != "" {
		t.Errorf("got %q want no failure", got)
	}
}

func TestOptionsAccessors(t *testing.T) {
	opts := Options{
		"rowLimit": "10",
		"top":      float64(5),
		"half":     2.5,
		"personal": true,
		"paged":    "true",
		"title":    "All items",
		"missing":  nil,
	}

	if n, ok := opts.Int("rowLimit"); !ok || n != 10 {
		t.Errorf("rowLimit got %d %t", n, ok)
	}
	if n, ok := opts.Int("top"); !ok || n != 5 {
		t.Errorf("top got %d %t", n, ok)
	}
	if _, ok := opts.Int("half"); ok {
		t.Error("half should not be a whole number")
	}
	if _, ok := opts.Int("title"); ok {
		t.Error("title should not be a number")
	}
	if !opts.Bool("personal") || !opts.Bool("paged") || opts.Bool("title") {
		t.Error("unexpected bool values")
	}
	if got, want := opts.String("half"), "2.5"; got != want {
		t.Errorf("got %q want %q", got, want)
	}
	if opts.IsSet("missing") {
		t.Error("nil value reported as set")
	}
	if diff := cmp.Diff([]string{"half", "paged", "personal", "rowLimit", "title", "top"}, opts.Names()); diff != "" {
		t.Errorf("names mismatch (-want +got):\n%s", diff)
	}

	clone := opts.Clone()
	clone["title"] = "changed"
	if got, want := opts.String("title"), "All items"; got != want {
		t.Errorf("clone altered original: got %q", got)
	}
}

func TestOptionsDecode(t *testing.T) {
	type viewOptions struct {
		WebURL   string `opt:"webUrl"`
		Title    string `opt:"title"`
		Personal bool   `opt:"personal"`
		RowLimit *int   `opt:"rowLimit"`
	}

	var got viewOptions
	err := Options{
		"webUrl":   "https://contoso.sharepoint.com",
		"title":    "Dashboard",
		"personal": true,
		"rowLimit": 100,
		"debug":    true,
	}.Decode(&got)
	if err != nil {
		t.Fatal(err)
	}
	limit := 100
	want := viewOptions{WebURL: "https://contoso.sharepoint.com", Title: "Dashboard", Personal: true, RowLimit: &limit}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("decode mismatch (-want +got):\n%s", diff)
	}

	var noLimit viewOptions
	if err := (Options{"title": "x"}).Decode(&noLimit); err != nil {
		t.Fatal(err)
	}
	if noLimit.RowLimit != nil {
		t.Errorf("rowLimit got %v want nil", *noLimit.RowLimit)
	}
}
