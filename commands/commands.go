// Package commands collects the Microsoft 365 commands.
package commands

import (
	"m365cli/command"
	"m365cli/commands/aad"
	"m365cli/commands/planner"
	"m365cli/commands/spo"
	"m365cli/commands/teams"
)

// All returns every command.
func All() []*command.Command {
	var cmds []*command.Command
	cmds = append(cmds, aad.Commands()...)
	cmds = append(cmds, planner.Commands()...)
	cmds = append(cmds, spo.Commands()...)
	cmds = append(cmds, teams.Commands()...)
	return cmds
}

// Register adds every command to r.
func Register(r *command.Registry) error {
	return r.Register(All()...)
}
