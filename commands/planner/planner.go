// Package planner holds the Microsoft Planner commands.
package planner

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"m365cli/apiclients/m365"
	"m365cli/command"
)

// Commands returns the planner commands.
func Commands() []*command.Command {
	return []*command.Command{
		taskList(),
	}
}

type named struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Title string `json:"title"`
}

type taskListOptions struct {
	BucketID       string `opt:"bucketId"`
	BucketName     string `opt:"bucketName"`
	PlanID         string `opt:"planId"`
	PlanTitle      string `opt:"planTitle"`
	OwnerGroupID   string `opt:"ownerGroupId"`
	OwnerGroupName string `opt:"ownerGroupName"`
}

func taskList() *command.Command {
	return &command.Command{
		Name:        "planner task list",
		Description: "Lists planner tasks in a bucket, plan, or tasks for the currently logged in user",
		Flags: []command.Flag{
			{Name: "bucketId", Usage: "id of the bucket"},
			{Name: "bucketName", Usage: "name of the bucket"},
			{Name: "planId", Usage: "id of the plan"},
			{Name: "planTitle", Usage: "title of the plan"},
			{Name: "ownerGroupId", Usage: "id of the group owning the plan"},
			{Name: "ownerGroupName", Usage: "name of the group owning the plan"},
		},
		Validators: []command.Validator{validateTaskList},
		Telemetry: []command.TelemetryFunc{
			command.Presence("bucketId", "bucketName", "planId", "planTitle", "ownerGroupId", "ownerGroupName"),
		},
		DefaultProperties: []string{"id", "title", "startDateTime", "dueDateTime", "completedDateTime"},
		Action:            runTaskList,
	}
}

func validateTaskList(opts command.Options, _ command.Info) string {
	var o taskListOptions
	if err := opts.Decode(&o); err != nil {
		return err.Error()
	}

	if o.BucketID != "" && o.BucketName != "" {
		return "Specify either bucketId or bucketName but not both"
	}
	if o.BucketName != "" {
		if o.PlanID == "" && o.PlanTitle == "" {
			return "Specify either planId or planTitle when using bucketName"
		}
		if o.PlanID != "" && o.PlanTitle != "" {
			return "Specify either planId or planTitle when using bucketName but not both"
		}
	}
	if o.PlanID != "" && o.PlanTitle != "" {
		return "Specify either planId or planTitle but not both"
	}
	if o.PlanTitle != "" {
		if o.OwnerGroupID == "" && o.OwnerGroupName == "" {
			return "Specify either ownerGroupId or ownerGroupName when using planTitle"
		}
		if o.OwnerGroupID != "" && o.OwnerGroupName != "" {
			return "Specify either ownerGroupId or ownerGroupName when using planTitle but not both"
		}
	}
	if o.OwnerGroupID != "" && !command.IsValidGUID(o.OwnerGroupID) {
		return fmt.Sprintf("%s is not a valid GUID", o.OwnerGroupID)
	}
	return ""
}

func runTaskList(ctx context.Context, env *command.Env, logger command.Logger, opts command.Options) error {
	appOnly, err := env.IsAppOnly(ctx)
	if err != nil {
		return err
	}
	if appOnly {
		return command.Validationf("This command does not support application permissions.")
	}

	var o taskListOptions
	if err := opts.Decode(&o); err != nil {
		return err
	}

	path, err := tasksPath(ctx, env, o)
	if err != nil {
		return err
	}

	tasks, err := m365.GetAll[map[string]any](ctx, env.Client, m365.Request{URL: env.Graph("/v1.0" + path)})
	if err != nil {
		return err
	}
	// priority is only returned by the beta endpoint
	betaTasks, err := m365.GetAll[map[string]any](ctx, env.Client, m365.Request{URL: env.Graph("/beta" + path)})
	if err != nil {
		return err
	}
	priorities := make(map[any]any, len(betaTasks))
	for _, t := range betaTasks {
		if p, ok := t["priority"]; ok {
			priorities[t["id"]] = p
		}
	}
	for _, t := range tasks {
		if p, ok := priorities[t["id"]]; ok {
			t["priority"] = p
		}
	}

	if tasks == nil {
		tasks = []map[string]any{}
	}
	logger.Log(tasks)
	return nil
}

// tasksPath returns the path, below the api version, of the tasks to list.
func tasksPath(ctx context.Context, env *command.Env, o taskListOptions) (string, error) {
	switch {
	case o.BucketID != "":
		return "/planner/buckets/" + url.PathEscape(o.BucketID) + "/tasks", nil
	case o.BucketName != "":
		planID, err := findPlanID(ctx, env, o)
		if err != nil {
			return "", err
		}
		bucketID, err := findBucketID(ctx, env, planID, o.BucketName)
		if err != nil {
			return "", err
		}
		return "/planner/buckets/" + url.PathEscape(bucketID) + "/tasks", nil
	case o.PlanID != "" || o.PlanTitle != "":
		planID, err := findPlanID(ctx, env, o)
		if err != nil {
			return "", err
		}
		return "/planner/plans/" + url.PathEscape(planID) + "/tasks", nil
	default:
		return "/me/planner/tasks", nil
	}
}

func findPlanID(ctx context.Context, env *command.Env, o taskListOptions) (string, error) {
	if o.PlanID != "" {
		return o.PlanID, nil
	}
	groupID, err := findGroupID(ctx, env, o)
	if err != nil {
		return "", err
	}
	plans, err := m365.GetAll[named](ctx, env.Client, m365.Request{
		URL: env.Graph("/v1.0/groups/" + url.PathEscape(groupID) + "/planner/plans"),
	})
	if err != nil {
		return "", err
	}
	plan, err := command.Unique(match(plans, func(p named) bool { return p.Title == o.PlanTitle }),
		func(p named) string { return p.ID },
		"The specified plan does not exist",
		func(ids []string) string {
			return command.Aggregate(fmt.Sprintf("Multiple plans with title '%s' found: ", o.PlanTitle), ids).Message
		},
	)
	if err != nil {
		return "", err
	}
	return plan.ID, nil
}

func findGroupID(ctx context.Context, env *command.Env, o taskListOptions) (string, error) {
	if o.OwnerGroupID != "" {
		return o.OwnerGroupID, nil
	}
	u, err := m365.WithQuery(env.Graph("/v1.0/groups"), m365.ODataQuery{
		Filter: fmt.Sprintf("displayName eq '%s'", command.EscapeODataString(o.OwnerGroupName)),
	})
	if err != nil {
		return "", err
	}
	groups, err := m365.GetAll[named](ctx, env.Client, m365.Request{URL: u})
	if err != nil {
		return "", err
	}
	group, err := command.Unique(groups,
		func(g named) string { return g.ID },
		fmt.Sprintf("The specified group '%s' does not exist.", o.OwnerGroupName),
		func(ids []string) string {
			return command.Aggregate(fmt.Sprintf("Multiple groups with name '%s' found: ", o.OwnerGroupName), ids).Message
		},
	)
	if err != nil {
		return "", err
	}
	return group.ID, nil
}

func findBucketID(ctx context.Context, env *command.Env, planID, name string) (string, error) {
	buckets, err := m365.GetAll[named](ctx, env.Client, m365.Request{
		URL: env.Graph("/v1.0/planner/plans/" + url.PathEscape(planID) + "/buckets"),
	})
	if err != nil {
		return "", err
	}
	bucket, err := command.Unique(match(buckets, func(b named) bool { return strings.EqualFold(b.Name, name) }),
		func(b named) string { return b.ID },
		"The specified bucket does not exist",
		func(ids []string) string {
			return command.Aggregate(fmt.Sprintf("Multiple buckets with name '%s' found: ", name), ids).Message
		},
	)
	if err != nil {
		return "", err
	}
	return bucket.ID, nil
}

func match[T any](items []T, keep func(T) bool) []T {
	var out []T
	for _, it := range items {
		if keep(it) {
			out = append(out, it)
		}
	}
	return out
}
