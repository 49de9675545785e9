package main

import (
	"context"
	"fmt"
	"strings"

	"m365cli/command"

	"github.com/urfave/cli/v3"
)

// Applicator defines the interface for the core application logic.
// This allows the CLI to be tested independently of the main app implementation.
type Applicator interface {
	Commands() []*command.Command
	Login(ctx context.Context, cfgPath string, debug bool) error
	Logout(ctx context.Context, cfgPath string) error
	Status(ctx context.Context, cfgPath, output string) error
	Execute(ctx context.Context, cfgPath, name string, opts command.Options) error
}

// BuildCLI creates the full CLI command structure for the application.
// It injects the core application logic (the Applicator) into the command actions.
func BuildCLI(app Applicator) *cli.Command {
	// Flags defined on the root are inherited by every subcommand.
	globalFlags := []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Value:   "config.yaml",
			Usage:   "path to the configuration file",
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "output type, json or text (default from the configuration)",
		},
		&cli.BoolFlag{
			Name:  "debug",
			Usage: "show debug information",
		},
		&cli.BoolFlag{
			Name:  "verbose",
			Usage: "show progress information",
		},
	}

	loginCmd := &cli.Command{
		Name:  "login",
		Usage: "Log in to Microsoft 365",
		Action: func(ctx context.Context, c *cli.Command) error {
			return app.Login(ctx, c.String("config"), c.Bool("debug"))
		},
	}

	logoutCmd := &cli.Command{
		Name:  "logout",
		Usage: "Log out from Microsoft 365 and remove the saved tokens",
		Action: func(ctx context.Context, c *cli.Command) error {
			return app.Logout(ctx, c.String("config"))
		},
	}

	statusCmd := &cli.Command{
		Name:  "status",
		Usage: "Show the Microsoft 365 login status",
		Action: func(ctx context.Context, c *cli.Command) error {
			return app.Status(ctx, c.String("config"), c.String("output"))
		},
	}

	rootCmd := &cli.Command{
		Name:     "m365cli",
		Usage:    "Manage Microsoft 365 from the command line",
		Flags:    globalFlags,
		Commands: []*cli.Command{loginCmd, logoutCmd, statusCmd},
	}
	for _, cmd := range app.Commands() {
		addCommand(rootCmd, app, cmd)
	}
	return rootCmd
}

// addCommand adds cmd under root, creating the group commands of its path, eg
// "spo list view add" becomes spo > list > view > add.
func addCommand(root *cli.Command, app Applicator, cmd *command.Command) {
	path := cmd.Path()
	parent := root
	for _, name := range path[:len(path)-1] {
		group := subcommand(parent, name)
		if group == nil {
			group = &cli.Command{Name: name, Usage: fmt.Sprintf("%s commands", name)}
			parent.Commands = append(parent.Commands, group)
		}
		parent = group
	}
	parent.Commands = append(parent.Commands, leafCommand(app, cmd, path[len(path)-1]))
}

func subcommand(parent *cli.Command, name string) *cli.Command {
	for _, c := range parent.Commands {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// leafCommand maps cmd to a cli command. Required flags are not enforced here so that
// the command pipeline reports them.
func leafCommand(app Applicator, cmd *command.Command, name string) *cli.Command {
	flags := make([]cli.Flag, 0, len(cmd.Flags))
	for _, f := range cmd.Flags {
		var aliases []string
		if f.Short != "" {
			aliases = []string{f.Short}
		}
		usage := f.Usage
		if f.Required {
			usage += " (required)"
		}
		switch f.Type {
		case command.BoolFlag:
			flags = append(flags, &cli.BoolFlag{Name: f.Name, Aliases: aliases, Usage: usage})
		case command.IntFlag:
			flags = append(flags, &cli.IntFlag{Name: f.Name, Aliases: aliases, Usage: usage})
		default:
			flags = append(flags, &cli.StringFlag{Name: f.Name, Aliases: aliases, Usage: usage})
		}
	}

	return &cli.Command{
		Name:        name,
		Usage:       cmd.Description,
		Description: usageLine(cmd),
		Flags:       flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			if c.Args().Present() {
				return fmt.Errorf("unexpected arguments: %s", strings.Join(c.Args().Slice(), " "))
			}
			return app.Execute(ctx, c.String("config"), cmd.Name, options(c, cmd))
		},
	}
}

// options collects the flags given on the command line.
func options(c *cli.Command, cmd *command.Command) command.Options {
	opts := command.Options{}
	for _, f := range cmd.Flags {
		if !c.IsSet(f.Name) {
			continue
		}
		switch f.Type {
		case command.BoolFlag:
			opts[f.Name] = c.Bool(f.Name)
		case command.IntFlag:
			opts[f.Name] = int(c.Int(f.Name))
		default:
			opts[f.Name] = c.String(f.Name)
		}
	}
	for _, name := range []string{"debug", "verbose"} {
		if c.Bool(name) {
			opts[name] = true
		}
	}
	if c.IsSet("output") {
		opts["output"] = c.String("output")
	}
	return opts
}

// usageLine describes the option sets of cmd.
func usageLine(cmd *command.Command) string {
	var lines []string
	for _, set := range cmd.OptionSets {
		lines = append(lines, fmt.Sprintf("Specify one of: %s", strings.Join(set.Options, ", ")))
	}
	return strings.Join(lines, "\n")
}
