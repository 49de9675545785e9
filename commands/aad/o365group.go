package aad

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"m365cli/apiclients/m365"
	"m365cli/command"
)

// logo uploads are retried because a new group is not immediately available for
// photo updates.
var (
	logoAttempts   = 10
	logoRetryDelay = 500 * time.Millisecond
)

// resourceBehaviorFlags are sent, in this order, as resourceBehaviorOptions.
var resourceBehaviorFlags = []string{
	"allowMembersToPost",
	"hideGroupInOutlook",
	"subscribeNewGroupMembers",
	"welcomeEmailDisabled",
}

type o365GroupOptions struct {
	DisplayName  string `opt:"displayName"`
	Description  string `opt:"description"`
	MailNickname string `opt:"mailNickname"`
	Owners       string `opt:"owners"`
	Members      string `opt:"members"`
	IsPrivate    bool   `opt:"isPrivate"`
	LogoPath     string `opt:"logoPath"`
}

// newGroup is the body of the group creation request. Field order is the wire order.
type newGroup struct {
	Description             string   `json:"description"`
	DisplayName             string   `json:"displayName"`
	GroupTypes              []string `json:"groupTypes"`
	MailEnabled             bool     `json:"mailEnabled"`
	MailNickname            string   `json:"mailNickname"`
	ResourceBehaviorOptions []string `json:"resourceBehaviorOptions"`
	SecurityEnabled         bool     `json:"securityEnabled"`
	Visibility              string   `json:"visibility"`
}

func o365GroupAdd() *command.Command {
	return &command.Command{
		Name:        "aad o365group add",
		Description: "Creates a Microsoft 365 Group",
		Flags: []command.Flag{
			{Name: "displayName", Short: "n", Usage: "display name of the group", Required: true},
			{Name: "description", Short: "d", Usage: "description of the group", Required: true},
			{Name: "mailNickname", Short: "m", Usage: "name used for the group mailbox", Required: true},
			{Name: "owners", Usage: "comma separated user principal names of the group owners"},
			{Name: "members", Usage: "comma separated user principal names of the group members"},
			{Name: "isPrivate", Type: command.BoolFlag, Usage: "make the group private"},
			{Name: "allowMembersToPost", Type: command.BoolFlag, Usage: "allow members to post"},
			{Name: "hideGroupInOutlook", Type: command.BoolFlag, Usage: "hide the group in Outlook"},
			{Name: "subscribeNewGroupMembers", Type: command.BoolFlag, Usage: "subscribe new members to group conversations"},
			{Name: "welcomeEmailDisabled", Type: command.BoolFlag, Usage: "do not send a welcome email to new members"},
			{Name: "logoPath", Short: "l", Usage: "local path to the image used as the group logo"},
		},
		Validators: []command.Validator{validateO365GroupAdd},
		Telemetry: []command.TelemetryFunc{
			command.Presence("owners", "members", "logoPath"),
			func(opts command.Options) map[string]any {
				props := map[string]any{"isPrivate": opts.Bool("isPrivate")}
				for _, f := range resourceBehaviorFlags {
					props[f] = opts.Bool(f)
				}
				return props
			},
		},
		Action: runO365GroupAdd,
	}
}

func validateO365GroupAdd(opts command.Options, _ command.Info) string {
	for _, name := range []string{"owners", "members"} {
		for _, upn := range command.SplitList(opts.String(name)) {
			if !command.IsValidUserPrincipalName(upn) {
				return fmt.Sprintf("%s is not a valid userPrincipalName", upn)
			}
		}
	}
	if opts.IsSet("logoPath") {
		if msg := command.ValidateFilePath(opts.String("logoPath")); msg != "" {
			return msg
		}
	}
	return ""
}

func runO365GroupAdd(ctx context.Context, env *command.Env, logger command.Logger, opts command.Options) error {
	var o o365GroupOptions
	if err := opts.Decode(&o); err != nil {
		return err
	}
	verbose := opts.Bool("verbose") || opts.Bool("debug")

	// all users are checked before anything is created
	owners, members, err := resolveGroupUsers(ctx, env, o)
	if err != nil {
		return err
	}

	body := newGroup{
		Description:             o.Description,
		DisplayName:             o.DisplayName,
		GroupTypes:              []string{"Unified"},
		MailEnabled:             true,
		MailNickname:            o.MailNickname,
		ResourceBehaviorOptions: []string{},
		SecurityEnabled:         false,
		Visibility:              "Public",
	}
	if o.IsPrivate {
		body.Visibility = "Private"
	}
	for _, f := range resourceBehaviorFlags {
		if opts.Bool(f) {
			body.ResourceBehaviorOptions = append(body.ResourceBehaviorOptions, f)
		}
	}

	if verbose {
		logger.LogToStderr(fmt.Sprintf("Creating Microsoft 365 Group %s...", o.DisplayName))
	}
	var raw json.RawMessage
	if err := env.Client.Post(ctx, m365.Request{URL: env.Graph("/v1.0/groups"), Body: body}, &raw); err != nil {
		return err
	}
	var group struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &group); err != nil {
		return fmt.Errorf("could not decode the created group: %w", err)
	}

	if o.LogoPath != "" {
		if verbose {
			logger.LogToStderr("Setting group logo " + o.LogoPath + "...")
		}
		if err := uploadLogo(ctx, env, group.ID, o.LogoPath); err != nil {
			return err
		}
	}

	if err := addGroupRefs(ctx, env, group.ID, "owners", owners); err != nil {
		return err
	}
	if err := addGroupRefs(ctx, env, group.ID, "members", members); err != nil {
		return err
	}

	logger.Log(raw)
	return nil
}

// resolveGroupUsers looks up the owners and members. The command fails listing every
// user that does not exist.
func resolveGroupUsers(ctx context.Context, env *command.Env, o o365GroupOptions) (owners, members []user, err error) {
	lookup := func(ctx context.Context, upn string) (user, bool, error) {
		return userByPrincipalName(ctx, env, upn)
	}

	owners, invalidOwners, err := command.ResolveAll(ctx, env.Concurrency, command.SplitList(o.Owners), lookup)
	if err != nil {
		return nil, nil, err
	}
	members, invalidMembers, err := command.ResolveAll(ctx, env.Concurrency, command.SplitList(o.Members), lookup)
	if err != nil {
		return nil, nil, err
	}

	invalid := append(invalidOwners, invalidMembers...)
	if len(invalid) > 0 {
		return nil, nil, command.Aggregate("Cannot proceed with group creation. The following users provided are invalid : ", invalid)
	}
	return owners, members, nil
}

func uploadLogo(ctx context.Context, env *command.Env, groupID, path string) error {
	image, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("could not read logo: %w", err)
	}
	req := m365.Request{
		URL:     env.Graph(fmt.Sprintf("/v1.0/groups/%s/photo/$value", groupID)),
		Headers: map[string]string{"Content-Type": imageContentType(path)},
		Body:    image,
	}

	for attempt := 1; ; attempt++ {
		err = env.Client.Put(ctx, req, nil)
		if err == nil || attempt >= logoAttempts {
			return err
		}
		env.Slog().Debug(fmt.Sprintf("uploadLogo: attempt %d failed: %v", attempt, err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(logoRetryDelay):
		}
	}
}

func imageContentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	default:
		return "image/jpeg"
	}
}

// addGroupRefs adds users to the owners or members of a group.
func addGroupRefs(ctx context.Context, env *command.Env, groupID, rel string, users []user) error {
	for _, u := range users {
		req := m365.Request{
			URL:  env.Graph(fmt.Sprintf("/v1.0/groups/%s/%s/$ref", groupID, rel)),
			Body: map[string]string{"@odata.id": env.Graph("/v1.0/users/" + u.ID)},
		}
		if err := env.Client.Post(ctx, req, nil); err != nil {
			return err
		}
	}
	return nil
}
