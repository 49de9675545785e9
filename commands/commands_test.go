package commands

import (
	"testing"

	"m365cli/command"

	"github.com/google/go-cmp/cmp"
)

func TestRegister(t *testing.T) {
	r := command.NewRegistry()
	if err := Register(r); err != nil {
		t.Fatal(err)
	}

	var got []string
	for _, c := range r.Commands() {
		got = append(got, c.Name)
	}
	want := []string{
		"aad o365group add",
		"aad user get",
		"planner task list",
		"spo group member add",
		"spo list view add",
		"teams app update",
		"teams report pstncalls",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("commands mismatch (-want +got):\n%s", diff)
	}

	// registering twice is refused
	if err := Register(r); err == nil {
		t.Error("expected an error registering the commands twice")
	}
}

func TestFlagsAreUnique(t *testing.T) {
	for _, c := range All() {
		seen := map[string]bool{}
		for _, f := range c.Flags {
			for _, n := range []string{f.Name, f.Short} {
				if n == "" {
					continue
				}
				if seen[n] {
					t.Errorf("%s: flag %s defined twice", c.Name, n)
				}
				seen[n] = true
			}
		}
		for _, set := range c.OptionSets {
			for _, o := range set.Options {
				if !seen[o] {
					t.Errorf("%s: option set refers to unknown flag %s", c.Name, o)
				}
			}
		}
	}
}
