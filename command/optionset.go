package command

import (
	"fmt"
	"strings"
)

// OptionSet is a group of options of which exactly one must be present.
type OptionSet struct {
	Options []string
}

// Check returns a rejection message if the number of present options in the set is
// not exactly one, and "" otherwise.
func (s OptionSet) Check(opts Options) string {
	present := 0
	for _, name := range s.Options {
		if opts.IsSet(name) {
			present++
		}
	}
	switch {
	case present == 0:
		return fmt.Sprintf("Specify one of the following options: %s.", strings.Join(s.Options, ", "))
	case present > 1:
		return fmt.Sprintf("Specify one of the following options: %s, but not multiple.", strings.Join(s.Options, ", "))
	}
	return ""
}

// checkOptionSets checks every set in declaration order and returns the first
// rejection message.
func checkOptionSets(sets []OptionSet, opts Options) string {
	for _, s := range sets {
		if msg := s.Check(opts); msg != "" {
			return msg
		}
	}
	return ""
}
