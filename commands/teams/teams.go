// Package teams holds the Microsoft Teams commands.
package teams

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"time"

	"m365cli/apiclients/m365"
	"m365cli/command"
)

// Commands returns the teams commands.
func Commands() []*command.Command {
	return []*command.Command{
		appUpdate(),
		reportPstnCalls(),
	}
}

// maxReportDays is the longest period a call report may cover.
const maxReportDays = 90

// now is the end of a report period given without toDateTime.
var now = time.Now

type teamsApp struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

func appUpdate() *command.Command {
	return &command.Command{
		Name:        "teams app update",
		Description: "Updates Teams app in the organization's app catalog",
		Flags: []command.Flag{
			{Name: "id", Short: "i", Usage: "id of the app to update"},
			{Name: "name", Short: "n", Usage: "display name of the app to update"},
			{Name: "filePath", Short: "p", Usage: "path to the Teams app zip package", Required: true},
		},
		OptionSets: []command.OptionSet{
			{Options: []string{"id", "name"}},
		},
		Validators: []command.Validator{
			func(opts command.Options, _ command.Info) string {
				if opts.IsSet("id") && !command.IsValidGUID(opts.String("id")) {
					return fmt.Sprintf("%s is not a valid GUID", opts.String("id"))
				}
				return command.ValidateFilePath(opts.String("filePath"))
			},
		},
		Telemetry: []command.TelemetryFunc{command.Presence("id", "name")},
		Action:    runAppUpdate,
	}
}

func runAppUpdate(ctx context.Context, env *command.Env, logger command.Logger, opts command.Options) error {
	appID := opts.String("id")
	if appID == "" {
		var err error
		if appID, err = appIDByName(ctx, env, opts.String("name")); err != nil {
			return err
		}
	}

	pkg, err := os.ReadFile(opts.String("filePath"))
	if err != nil {
		return fmt.Errorf("could not read app package: %w", err)
	}

	if opts.Bool("verbose") {
		logger.LogToStderr(fmt.Sprintf("Updating app %s...", appID))
	}
	req := m365.Request{
		URL:     env.Graph("/v1.0/appCatalogs/teamsApps/" + url.PathEscape(appID)),
		Headers: map[string]string{"Content-Type": "application/zip"},
		Body:    pkg,
	}
	return env.Client.Put(ctx, req, nil)
}

func appIDByName(ctx context.Context, env *command.Env, name string) (string, error) {
	u, err := m365.WithQuery(env.Graph("/v1.0/appCatalogs/teamsApps"), m365.ODataQuery{
		Filter: fmt.Sprintf("displayName eq '%s'", command.EscapeODataString(name)),
	})
	if err != nil {
		return "", err
	}
	apps, err := m365.GetAll[teamsApp](ctx, env.Client, m365.Request{URL: u})
	if err != nil {
		return "", err
	}
	app, err := command.Unique(apps,
		func(a teamsApp) string { return a.ID },
		"The specified Teams app does not exist",
		func(ids []string) string {
			return command.Aggregate(fmt.Sprintf("Multiple Teams apps with name %s found. Please choose one of these ids: ", name), ids).Message
		},
	)
	if err != nil {
		return "", err
	}
	return app.ID, nil
}

func reportPstnCalls() *command.Command {
	return &command.Command{
		Name:        "teams report pstncalls",
		Description: "Get details about PSTN calls made within a given time period",
		Flags: []command.Flag{
			{Name: "fromDateTime", Usage: "start of the period (ISO 8601)", Required: true},
			{Name: "toDateTime", Usage: "end of the period (ISO 8601), defaults to now"},
		},
		Validators:        []command.Validator{validateReportPeriod},
		Telemetry:         []command.TelemetryFunc{command.Presence("toDateTime")},
		DefaultProperties: []string{"id", "calleeNumber", "callerNumber", "startDateTime"},
		Action:            runReportPstnCalls,
	}
}

func validateReportPeriod(opts command.Options, _ command.Info) string {
	from, ok := command.ParseISODate(opts.String("fromDateTime"))
	if !ok {
		return fmt.Sprintf("%s is not a valid ISO date string for fromDateTime", opts.String("fromDateTime"))
	}
	to := now()
	if opts.IsSet("toDateTime") {
		if to, ok = command.ParseISODate(opts.String("toDateTime")); !ok {
			return fmt.Sprintf("%s is not a valid ISO date string for toDateTime", opts.String("toDateTime"))
		}
	}
	if to.Sub(from) > maxReportDays*24*time.Hour {
		return fmt.Sprintf("The maximum number of days between fromDateTime and toDateTime cannot exceed %d", maxReportDays)
	}
	return ""
}

func runReportPstnCalls(ctx context.Context, env *command.Env, logger command.Logger, opts command.Options) error {
	to := opts.String("toDateTime")
	if to == "" {
		to = env.Time().UTC().Format("2006-01-02T15:04:05.000Z")
	}
	path := fmt.Sprintf("/v1.0/communications/callRecords/getPstnCalls(fromDateTime=%s,toDateTime=%s)",
		command.EncodeQueryParameter(opts.String("fromDateTime")),
		command.EncodeQueryParameter(to),
	)

	calls, err := m365.GetAll[json.RawMessage](ctx, env.Client, m365.Request{
		URL:     env.Graph(path),
		Headers: map[string]string{"Accept": "application/json;odata.metadata=none"},
	})
	if err != nil {
		return err
	}
	if calls == nil {
		calls = []json.RawMessage{}
	}
	logger.Log(calls)
	return nil
}
