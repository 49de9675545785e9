package spo

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"m365cli/apiclients/m365"
	"m365cli/command"
)

// sharingResult is the response of SP.Web.ShareObject.
type sharingResult struct {
	ErrorMessage      *string         `json:"ErrorMessage"`
	UsersAddedToGroup json.RawMessage `json:"UsersAddedToGroup"`
}

type peoplePickerEntry struct {
	Key string `json:"Key"`
}

func groupMemberAdd() *command.Command {
	return &command.Command{
		Name:        "spo group member add",
		Description: "Add members to a SharePoint Group",
		Flags: []command.Flag{
			{Name: "webUrl", Short: "u", Usage: "url of the site the group is in", Required: true},
			{Name: "groupId", Usage: "id of the SharePoint group"},
			{Name: "groupName", Usage: "name of the SharePoint group"},
			{Name: "userName", Usage: "comma separated user principal names of the users to add"},
			{Name: "email", Usage: "comma separated emails of the users to add"},
		},
		OptionSets: []command.OptionSet{
			{Options: []string{"groupId", "groupName"}},
			{Options: []string{"userName", "email"}},
		},
		Validators: []command.Validator{
			func(opts command.Options, _ command.Info) string {
				if msg := validateWebURL(opts); msg != "" {
					return msg
				}
				if opts.IsSet("groupId") {
					if _, ok := opts.Int("groupId"); !ok {
						return fmt.Sprintf("Specified groupId %s is not a number", opts.String("groupId"))
					}
				}
				return ""
			},
		},
		Telemetry:         []command.TelemetryFunc{command.Presence("groupId", "groupName", "userName", "email")},
		DefaultProperties: []string{"DisplayName", "Email"},
		Action:            runGroupMemberAdd,
	}
}

func runGroupMemberAdd(ctx context.Context, env *command.Env, logger command.Logger, opts command.Options) error {
	webURL := strings.TrimRight(opts.String("webUrl"), "/")

	groupID, err := siteGroupID(ctx, env, webURL, opts)
	if err != nil {
		return err
	}
	userNames, err := resolveUsers(ctx, env, logger, opts)
	if err != nil {
		return err
	}

	if opts.Bool("verbose") {
		logger.LogToStderr(fmt.Sprintf("Start adding Active user/s to SharePoint Group %s", firstSet(opts, "groupId", "groupName")))
	}

	entries := make([]peoplePickerEntry, len(userNames))
	for i, n := range userNames {
		entries[i] = peoplePickerEntry{Key: strings.TrimSpace(n)}
	}
	picker, err := json.Marshal(entries)
	if err != nil {
		return err
	}

	req := m365.Request{
		URL: webURL + "/_api/SP.Web.ShareObject",
		Headers: map[string]string{
			"Accept":       acceptNoMetadata,
			"Content-Type": contentTypeVerbose,
		},
		Body: map[string]string{
			"url":               opts.String("webUrl"),
			"peoplePickerInput": string(picker),
			"roleValue":         fmt.Sprintf("group:%d", groupID),
		},
	}
	var result sharingResult
	if err := env.Client.Post(ctx, req, &result); err != nil {
		return err
	}
	if result.ErrorMessage != nil {
		return command.Normalize(*result.ErrorMessage)
	}

	logger.Log(result.UsersAddedToGroup)
	return nil
}

// siteGroupID returns the id of the SharePoint group named by groupId or groupName.
func siteGroupID(ctx context.Context, env *command.Env, webURL string, opts command.Options) (int, error) {
	method := fmt.Sprintf("GetById('%s')", opts.String("groupId"))
	if opts.IsSet("groupName") {
		method = fmt.Sprintf("GetByName('%s')", command.EncodeQueryParameter(opts.String("groupName")))
	}

	var group struct {
		ID int `json:"Id"`
	}
	req := m365.Request{
		URL:     webURL + "/_api/web/sitegroups/" + method,
		Headers: map[string]string{"Accept": acceptNoMetadata},
	}
	if err := env.Client.Get(ctx, req, &group); err != nil {
		return 0, err
	}
	if group.ID == 0 {
		return 0, command.Resolutionf("The specified group does not exist in the SharePoint site")
	}
	return group.ID, nil
}

// resolveUsers checks every user exists by running aad user get for each, returning
// their user principal names.
func resolveUsers(ctx context.Context, env *command.Env, logger command.Logger, opts command.Options) ([]string, error) {
	if opts.Bool("verbose") {
		logger.LogToStderr("Checking if the specified users exist")
	}

	key := "email"
	if opts.IsSet("userName") {
		key = "userName"
	}
	debug := opts.Bool("debug")

	lookup := func(ctx context.Context, name string) (string, bool, error) {
		out, err := env.Run(ctx, "aad user get", command.Options{
			key:       name,
			"debug":   debug,
			"verbose": opts.Bool("verbose"),
		})
		if debug {
			logger.LogToStderr(out.Stderr)
		}
		if err != nil {
			// any failure of the lookup means the user is not usable
			env.Slog().Debug(fmt.Sprintf("resolveUsers: %s: %v", name, err))
			return "", false, nil
		}
		var u struct {
			UserPrincipalName string `json:"userPrincipalName"`
		}
		if err := out.Decode(&u); err != nil {
			return "", false, err
		}
		return u.UserPrincipalName, true, nil
	}

	names := command.SplitList(opts.String(key))
	valid, invalid, err := command.ResolveAll(ctx, env.Concurrency, names, lookup)
	if err != nil {
		return nil, err
	}
	if len(invalid) > 0 {
		return nil, command.Aggregate("Users not added to the group because the following users don't exist: ", invalid)
	}
	return valid, nil
}

func firstSet(opts command.Options, names ...string) string {
	for _, n := range names {
		if opts.IsSet(n) {
			return opts.String(n)
		}
	}
	return ""
}
