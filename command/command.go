// Package command runs commands: option checks, validation, telemetry, the
// authentication gate and the action body, with every failure normalized into one
// *Error. Commands may run other registered commands and capture their output.
package command

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// FlagType is the value type of a flag.
type FlagType int

const (
	StringFlag FlagType = iota
	BoolFlag
	IntFlag
)

// Flag describes a command line option.
type Flag struct {
	Name     string
	Short    string
	Usage    string
	Type     FlagType
	Required bool
}

// Info is the invocation metadata handed to validators.
type Info struct {
	Name       string
	OptionSets []OptionSet
	Output     string
}

// Validator returns a rejection message, or "" if the options are valid.
type Validator func(opts Options, info Info) string

// Action is the body of a command.
type Action func(ctx context.Context, env *Env, logger Logger, opts Options) error

// Command declares a command.
type Command struct {
	Name              string // space separated, eg "aad o365group add"
	Description       string
	Flags             []Flag
	OptionSets        []OptionSet
	Validators        []Validator
	Telemetry         []TelemetryFunc
	DefaultProperties []string
	Anonymous         bool // runs without a login
	Action            Action
}

// Path returns the name split into its words.
func (c *Command) Path() []string {
	return strings.Fields(c.Name)
}

// Registry holds the commands available to the CLI and to nested invocation.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]*Command
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{commands: map[string]*Command{}}
}

// Register adds commands. Names must be unique and each command needs an action.
func (r *Registry) Register(cmds ...*Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range cmds {
		name := strings.Join(c.Path(), " ")
		if name == "" {
			return fmt.Errorf("command without a name")
		}
		if c.Action == nil {
			return fmt.Errorf("command %q has no action", name)
		}
		if _, ok := r.commands[name]; ok {
			return fmt.Errorf("command %q registered twice", name)
		}
		r.commands[name] = c
	}
	return nil
}

// Lookup returns the named command.
func (r *Registry) Lookup(name string) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.commands[strings.Join(strings.Fields(name), " ")]
	return c, ok
}

// Commands returns all commands sorted by name.
func (r *Registry) Commands() []*Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmds := make([]*Command, 0, len(r.commands))
	for _, c := range r.commands {
		cmds = append(cmds, c)
	}
	sort.Slice(cmds, func(i, j int) bool { return cmds[i].Name < cmds[j].Name })
	return cmds
}
