// Package app wires configuration, the login session, the Microsoft 365 client,
// telemetry and the command registry together for one run of the CLI.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"slices"
	"time"

	"m365cli/apiclients/m365"
	"m365cli/command"
	"m365cli/commands"
	"m365cli/config"
	"m365cli/internal/login"
	"m365cli/internal/telemetry"
	"m365cli/internal/token"

	"golang.org/x/time/rate"
)

const httpTimeout = 2 * time.Minute

// App is the central orchestrator for the application's business logic.
type App struct {
	stdout io.Writer
	stderr io.Writer

	// loginTimeout bounds the browser login
	loginTimeout time.Duration
	// ready is called with the url to open for a browser login
	ready func(loginURL string)
}

// New creates an App writing command output to stdout and stderr.
func New(stdout, stderr io.Writer) *App {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	a := &App{
		stdout:       stdout,
		stderr:       stderr,
		loginTimeout: login.DefaultTimeout,
	}
	a.ready = func(loginURL string) {
		_, _ = fmt.Fprintf(a.stderr, "To sign in, open %s in your browser\n", loginURL)
	}
	return a
}

// Commands returns the commands the App can execute.
func (a *App) Commands() []*command.Command {
	return commands.All()
}

// runtime holds everything set up for one invocation.
type runtime struct {
	cfg       *config.Config
	log       *slog.Logger
	logWriter io.Writer
	session   *token.Session
	env       *command.Env
	closers   []io.Closer
}

func (rt *runtime) close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i].Close(); err != nil {
			rt.log.Warn(fmt.Sprintf("close: %v", err))
		}
	}
}

// start loads the configuration and builds the runtime.
func (a *App) start(cfgPath string, debug bool) (*runtime, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	logger, logWriter, logCloser := newLogger(cfg.Log, debug, a.stderr)
	rt := &runtime{cfg: cfg, log: logger, logWriter: logWriter}
	if logCloser != nil {
		rt.closers = append(rt.closers, logCloser)
	}

	rt.session = token.NewSession(cfg.OAuth2Config, cfg.ClientCredentials, token.NewStore(cfg.TokenFilePath), logger)
	if err := rt.session.Restore(); err != nil {
		rt.close()
		return nil, fmt.Errorf("could not restore login: %w", err)
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), max(1, int(cfg.RequestsPerSecond)))
	}
	client := m365.NewClient(rt.session, &http.Client{Timeout: httpTimeout}, limiter, logger)

	hooks := command.NewHooks(logger)
	if cfg.Telemetry.Enabled {
		store, err := telemetry.Open(cfg.Telemetry.DatabasePath, logger)
		if err != nil {
			// telemetry never stops a command
			logger.Warn(fmt.Sprintf("start: telemetry disabled: %v", err))
		} else {
			hooks.Register(store)
			rt.closers = append(rt.closers, store)
		}
	}

	registry := command.NewRegistry()
	if err := commands.Register(registry); err != nil {
		rt.close()
		return nil, err
	}

	rt.env = &command.Env{
		Auth:        rt.session,
		Client:      client,
		Registry:    registry,
		Hooks:       hooks,
		Log:         logger,
		GraphURL:    cfg.GraphURL,
		Concurrency: cfg.Concurrency,
	}
	return rt, nil
}

// Execute runs the named command with opts. The output mode defaults to the
// configured one.
func (a *App) Execute(ctx context.Context, cfgPath, name string, opts command.Options) error {
	rt, err := a.start(cfgPath, opts.Bool("debug"))
	if err != nil {
		return err
	}
	defer rt.close()

	cmd, ok := rt.env.Registry.Lookup(name)
	if !ok {
		return fmt.Errorf("command %s not found", name)
	}
	opts = opts.Clone()
	if !opts.IsSet("output") {
		opts["output"] = rt.cfg.Output
	}

	logger := command.NewStreamLogger(a.stdout, a.stderr, opts.String("output"), cmd.DefaultProperties)
	return command.Execute(ctx, rt.env, cmd, opts, logger)
}

// Login signs in with the configured authentication type and saves the tokens.
func (a *App) Login(ctx context.Context, cfgPath string, debug bool) error {
	rt, err := a.start(cfgPath, debug)
	if err != nil {
		return err
	}
	defer rt.close()

	var et *token.ExtendedToken
	if rt.cfg.AppOnly() {
		tok, err := rt.cfg.ClientCredentials.Token(ctx)
		if err != nil {
			rt.log.Error(fmt.Sprintf("Login: client credentials error: %v", err))
			return fmt.Errorf("could not log in: %w", err)
		}
		if et, err = token.NewExtendedToken(token.AppOnlyToken, rt.cfg.GraphURL, tok); err != nil {
			return err
		}
	} else {
		accessLog := io.Discard
		if debug {
			accessLog = rt.logWriter
		}
		srv, err := login.New(rt.cfg.ListenAddress, rt.cfg.CallbackPath, rt.cfg.GraphURL, rt.cfg.OAuth2Config, rt.log, accessLog)
		if err != nil {
			return err
		}
		if et, err = srv.Login(ctx, a.loginTimeout, a.ready); err != nil {
			return fmt.Errorf("could not log in: %w", err)
		}
	}

	if err := rt.session.Connect(et); err != nil {
		return fmt.Errorf("could not save login: %w", err)
	}
	rt.log.Info(fmt.Sprintf("Login: logged in with a %s token", et.Type))
	return nil
}

// Logout removes the saved tokens.
func (a *App) Logout(ctx context.Context, cfgPath string) error {
	rt, err := a.start(cfgPath, false)
	if err != nil {
		return err
	}
	defer rt.close()

	if err := rt.session.Disconnect(); err != nil {
		return fmt.Errorf("could not remove tokens: %w", err)
	}
	return nil
}

// status is the output of Status.
type status struct {
	ConnectedAs string   `json:"connectedAs"`
	AuthType    string   `json:"authType"`
	Resources   []string `json:"resources,omitempty"`
}

// Status reports the current login.
func (a *App) Status(ctx context.Context, cfgPath, output string) error {
	rt, err := a.start(cfgPath, false)
	if err != nil {
		return err
	}
	defer rt.close()

	if output == "" {
		output = rt.cfg.Output
	}
	logger := command.NewStreamLogger(a.stdout, a.stderr, output, nil)

	if !rt.session.Connected() {
		logger.Log("Logged out")
		return nil
	}

	accessToken, err := rt.session.AccessToken(ctx, rt.cfg.GraphURL)
	if err != nil {
		return fmt.Errorf("could not get an access token: %w", err)
	}
	s := status{
		ConnectedAs: identity(accessToken),
		AuthType:    rt.session.AuthType().String(),
		Resources:   rt.session.Resources(),
	}
	slices.Sort(s.Resources)
	logger.Log(s)
	return nil
}

// identity returns the user or application an access token was issued to.
func identity(accessToken string) string {
	claims, err := token.Claims(accessToken)
	if err != nil {
		return ""
	}
	for _, k := range []string{"upn", "unique_name", "app_displayname", "appid"} {
		if v, ok := claims[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
