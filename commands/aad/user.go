package aad

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"m365cli/apiclients/m365"
	"m365cli/command"
)

func userGet() *command.Command {
	return &command.Command{
		Name:        "aad user get",
		Description: "Gets information about the specified user",
		Flags: []command.Flag{
			{Name: "id", Short: "i", Usage: "id of the user"},
			{Name: "userName", Short: "n", Usage: "user principal name of the user"},
			{Name: "email", Usage: "email of the user"},
			{Name: "properties", Short: "p", Usage: "comma separated properties to retrieve"},
		},
		OptionSets: []command.OptionSet{
			{Options: []string{"id", "userName", "email"}},
		},
		Validators: []command.Validator{
			func(opts command.Options, _ command.Info) string {
				if opts.IsSet("id") && !command.IsValidGUID(opts.String("id")) {
					return fmt.Sprintf("%s is not a valid GUID", opts.String("id"))
				}
				if opts.IsSet("userName") && !command.IsValidUserPrincipalName(opts.String("userName")) {
					return fmt.Sprintf("%s is not a valid userName", opts.String("userName"))
				}
				return ""
			},
		},
		Telemetry: []command.TelemetryFunc{command.Presence("id", "userName", "email", "properties")},
		Action:    runUserGet,
	}
}

func runUserGet(ctx context.Context, env *command.Env, logger command.Logger, opts command.Options) error {
	sel := opts.String("properties")

	if opts.Bool("verbose") {
		logger.LogToStderr(fmt.Sprintf("Retrieving information about user %s...", firstSet(opts, "id", "userName", "email")))
	}

	if opts.IsSet("id") {
		u, err := m365.WithQuery(env.Graph("/v1.0/users/"+url.PathEscape(opts.String("id"))), m365.ODataQuery{Select: sel})
		if err != nil {
			return err
		}
		var raw json.RawMessage
		if err := env.Client.Get(ctx, m365.Request{URL: u}, &raw); err != nil {
			return err
		}
		logger.Log(raw)
		return nil
	}

	var filter, notFound, ambiguous string
	if opts.IsSet("userName") {
		name := opts.String("userName")
		filter = fmt.Sprintf("userPrincipalName eq '%s'", command.EscapeODataString(name))
		notFound = fmt.Sprintf("The specified user with user name %s does not exist", name)
		ambiguous = fmt.Sprintf("Multiple users with user name %s found. Please disambiguate (ids): ", name)
	} else {
		email := opts.String("email")
		filter = fmt.Sprintf("mail eq '%s'", command.EscapeODataString(email))
		notFound = fmt.Sprintf("The specified user with email %s does not exist", email)
		ambiguous = fmt.Sprintf("Multiple users with email %s found. Please disambiguate (ids): ", email)
	}

	found, err := usersWhere(ctx, env, filter, sel)
	if err != nil {
		return err
	}
	raw, err := command.Unique(found,
		func(r json.RawMessage) string {
			var u user
			_ = json.Unmarshal(r, &u)
			return u.ID
		},
		notFound,
		func(ids []string) string {
			return command.Aggregate(ambiguous, ids).Message
		},
	)
	if err != nil {
		return err
	}
	logger.Log(raw)
	return nil
}

func firstSet(opts command.Options, names ...string) string {
	for _, n := range names {
		if opts.IsSet(n) {
			return opts.String(n)
		}
	}
	return ""
}
