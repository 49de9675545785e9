package spo

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"m365cli/apiclients/m365"
	"m365cli/command"
)

const defaultRowLimit = 30

type viewFields struct {
	Results []string `json:"results"`
}

type viewParameters struct {
	Title            string     `json:"Title"`
	ViewFields       viewFields `json:"ViewFields"`
	Query            string     `json:"Query,omitempty"`
	PersonalView     bool       `json:"PersonalView"`
	SetAsDefaultView bool       `json:"SetAsDefaultView"`
	Paged            bool       `json:"Paged"`
	RowLimit         int        `json:"RowLimit"`
}

func listViewAdd() *command.Command {
	return &command.Command{
		Name:        "spo list view add",
		Description: "Adds a new view to a SharePoint list",
		Flags: []command.Flag{
			{Name: "webUrl", Short: "u", Usage: "url of the site the list is in", Required: true},
			{Name: "listId", Usage: "id of the list"},
			{Name: "listTitle", Usage: "title of the list"},
			{Name: "listUrl", Usage: "server or site relative url of the list"},
			{Name: "title", Usage: "title of the view", Required: true},
			{Name: "fields", Usage: "comma separated internal names of the fields to show", Required: true},
			{Name: "viewQuery", Usage: "CAML query of the view"},
			{Name: "personal", Type: command.BoolFlag, Usage: "create a personal view"},
			{Name: "default", Type: command.BoolFlag, Usage: "make the view the default view"},
			{Name: "paged", Type: command.BoolFlag, Usage: "page the view"},
			{Name: "rowLimit", Type: command.IntFlag, Usage: "number of items per page"},
		},
		OptionSets: []command.OptionSet{
			{Options: []string{"listId", "listTitle", "listUrl"}},
		},
		Validators: []command.Validator{validateListViewAdd},
		Telemetry: []command.TelemetryFunc{
			command.Presence("listId", "listTitle", "listUrl", "viewQuery", "rowLimit"),
			func(opts command.Options) map[string]any {
				return map[string]any{
					"personal": opts.Bool("personal"),
					"default":  opts.Bool("default"),
					"paged":    opts.Bool("paged"),
				}
			},
		},
		Action: runListViewAdd,
	}
}

func validateListViewAdd(opts command.Options, _ command.Info) string {
	if msg := validateWebURL(opts); msg != "" {
		return msg
	}
	if opts.IsSet("listId") && !command.IsValidGUID(opts.String("listId")) {
		return fmt.Sprintf("%s is not a valid GUID", opts.String("listId"))
	}
	if opts.IsSet("rowLimit") {
		n, ok := opts.Int("rowLimit")
		if !ok {
			return fmt.Sprintf("%s is not a number", opts.String("rowLimit"))
		}
		if n < 1 {
			return "rowLimit option must be greater than 0."
		}
	}
	if opts.Bool("personal") && opts.Bool("default") {
		return "Default view cannot be a personal view."
	}
	return ""
}

func runListViewAdd(ctx context.Context, env *command.Env, logger command.Logger, opts command.Options) error {
	webURL := strings.TrimRight(opts.String("webUrl"), "/")

	var list string
	switch {
	case opts.IsSet("listId"):
		list = fmt.Sprintf("lists(guid'%s')", command.EncodeQueryParameter(opts.String("listId")))
	case opts.IsSet("listTitle"):
		list = fmt.Sprintf("lists/getByTitle('%s')", command.EncodeQueryParameter(opts.String("listTitle")))
	default:
		path := serverRelativePath(webURL, opts.String("listUrl"))
		list = fmt.Sprintf("GetList('%s')", command.EncodeQueryParameter(path))
	}

	rowLimit := defaultRowLimit
	if n, ok := opts.Int("rowLimit"); ok {
		rowLimit = n
	}

	body := map[string]viewParameters{
		"parameters": {
			Title:            opts.String("title"),
			ViewFields:       viewFields{Results: command.SplitList(opts.String("fields"))},
			Query:            opts.String("viewQuery"),
			PersonalView:     opts.Bool("personal"),
			SetAsDefaultView: opts.Bool("default"),
			Paged:            opts.Bool("paged"),
			RowLimit:         rowLimit,
		},
	}

	req := m365.Request{
		URL: webURL + "/_api/web/" + list + "/views/add",
		Headers: map[string]string{
			"Accept":       acceptNoMetadata,
			"Content-Type": contentTypeVerbose,
		},
		Body: body,
	}
	var view json.RawMessage
	if err := env.Client.Post(ctx, req, &view); err != nil {
		return err
	}
	logger.Log(view)
	return nil
}
