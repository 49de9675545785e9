package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"m365cli/apiclients/m365"
	"m365cli/internal/token"
	"m365cli/output"
)

// Auth is the session collaborator: a connection flag and per resource access tokens.
type Auth interface {
	Connected() bool
	AccessToken(ctx context.Context, resource string) (string, error)
}

// Env is the explicit context threaded through every invocation of one process run.
type Env struct {
	Auth        Auth
	Client      *m365.Client
	Registry    *Registry
	Hooks       *Hooks
	Log         *slog.Logger
	GraphURL    string // eg https://graph.microsoft.com
	Concurrency int    // bound on concurrent requests in a batch
	Now         func() time.Time
}

// Graph returns the Graph url for path, eg Graph("/v1.0/me").
func (e *Env) Graph(path string) string {
	return strings.TrimRight(e.GraphURL, "/") + path
}

// Time returns the current time.
func (e *Env) Time() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// IsAppOnly reports whether the Graph access token carries application permissions.
func (e *Env) IsAppOnly(ctx context.Context) (bool, error) {
	if e.Auth == nil {
		return false, errors.New("no session")
	}
	tok, err := e.Auth.AccessToken(ctx, e.GraphURL)
	if err != nil {
		return false, err
	}
	return token.IsAppOnlyAccessToken(tok), nil
}

// Slog returns the diagnostic logger.
func (e *Env) Slog() *slog.Logger {
	if e.Log == nil {
		return slog.Default()
	}
	return e.Log
}

// Output is the captured output of a nested invocation.
type Output struct {
	Stdout string
	Stderr string
}

// Decode unmarshals the captured stdout.
func (o Output) Decode(v any) error {
	if err := json.Unmarshal([]byte(o.Stdout), v); err != nil {
		return fmt.Errorf("could not decode command output: %w", err)
	}
	return nil
}

// OutputError is the failure of a nested invocation, carrying whatever the command
// wrote before it failed.
type OutputError struct {
	Err *Error
	Output
}

// Error meets the error interface.
func (e *OutputError) Error() string {
	return e.Err.Error()
}

// Unwrap returns the normalized error.
func (e *OutputError) Unwrap() error {
	return e.Err
}

// Validate runs the output mode, required option, option set and validator checks in
// that order, returning the first rejection message or "".
func Validate(cmd *Command, opts Options) string {
	switch mode := opts.String("output"); mode {
	case "", output.JSON, output.Text:
	default:
		return fmt.Sprintf("%s is not a valid output type. Allowed values are %s, %s", mode, output.JSON, output.Text)
	}
	for _, f := range cmd.Flags {
		if f.Required && !opts.IsSet(f.Name) {
			return fmt.Sprintf("Required option %s not specified", f.Name)
		}
	}
	if msg := checkOptionSets(cmd.OptionSets, opts); msg != "" {
		return msg
	}
	info := Info{
		Name:       cmd.Name,
		OptionSets: cmd.OptionSets,
		Output:     opts.String("output"),
	}
	for _, v := range cmd.Validators {
		if msg := v(opts, info); msg != "" {
			return msg
		}
	}
	return ""
}

// Execute runs cmd with opts. Output is written only through logger. The returned
// error, if any, is an *Error.
func Execute(ctx context.Context, env *Env, cmd *Command, opts Options, logger Logger) error {
	if opts == nil {
		opts = Options{}
	}

	if opts.Bool("debug") {
		b, _ := json.Marshal(opts)
		logger.LogToStderr(fmt.Sprintf("Executing command %s with options %s", cmd.Name, b))
	}

	if msg := Validate(cmd, opts); msg != "" {
		return &Error{Kind: KindValidation, Message: msg}
	}

	env.Hooks.Fire(ctx, cmd, opts)

	if !cmd.Anonymous && (env.Auth == nil || !env.Auth.Connected()) {
		return &Error{Kind: KindValidation, Message: "Log in to Microsoft 365 first"}
	}

	if err := runAction(ctx, env, cmd, opts, logger); err != nil {
		env.Slog().Debug(fmt.Sprintf("Execute: %s failed: %v", cmd.Name, err))
		return err
	}
	return nil
}

// runAction runs the action body, turning a panic into an error.
func runAction(ctx context.Context, env *Env, cmd *Command, opts Options, logger Logger) (e *Error) {
	defer func() {
		if r := recover(); r != nil {
			e = Normalize(fmt.Errorf("%s: %v", cmd.Name, r))
		}
	}()
	if err := cmd.Action(ctx, env, logger, opts); err != nil {
		return Normalize(err)
	}
	return nil
}

// ExecuteWithOutput runs cmd capturing its output. json output is forced so the
// caller can decode the result. On failure an *OutputError is returned.
func ExecuteWithOutput(ctx context.Context, env *Env, cmd *Command, opts Options) (Output, error) {
	opts = opts.Clone()
	opts["output"] = output.JSON

	capture := NewCapture()
	err := Execute(ctx, env, cmd, opts, capture)
	out := capture.Output()
	if err != nil {
		return out, &OutputError{Err: Normalize(err), Output: out}
	}
	return out, nil
}

// Run runs the registered command name through ExecuteWithOutput.
func (e *Env) Run(ctx context.Context, name string, opts Options) (Output, error) {
	if e.Registry == nil {
		return Output{}, &OutputError{Err: Normalize("no command registry")}
	}
	cmd, ok := e.Registry.Lookup(name)
	if !ok {
		return Output{}, &OutputError{Err: Normalize(fmt.Sprintf("Command %s not found", name))}
	}
	return ExecuteWithOutput(ctx, e, cmd, opts)
}
