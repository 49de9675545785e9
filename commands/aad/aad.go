// Package aad holds the Azure Active Directory commands.
package aad

import (
	"context"
	"encoding/json"
	"fmt"

	"m365cli/apiclients/m365"
	"m365cli/command"
)

// Commands returns the aad commands.
func Commands() []*command.Command {
	return []*command.Command{
		o365GroupAdd(),
		userGet(),
	}
}

// user is the subset of a Graph user needed to identify it.
type user struct {
	ID                string `json:"id"`
	UserPrincipalName string `json:"userPrincipalName"`
}

// usersWhere returns the users matching an OData filter, selecting sel.
func usersWhere(ctx context.Context, env *command.Env, filter, sel string) ([]json.RawMessage, error) {
	u, err := m365.WithQuery(env.Graph("/v1.0/users"), m365.ODataQuery{
		Filter: filter,
		Select: sel,
	})
	if err != nil {
		return nil, err
	}
	return m365.GetAll[json.RawMessage](ctx, env.Client, m365.Request{URL: u})
}

// userByPrincipalName looks up a user by user principal name.
func userByPrincipalName(ctx context.Context, env *command.Env, upn string) (user, bool, error) {
	filter := fmt.Sprintf("userPrincipalName eq '%s'", command.EscapeODataString(upn))
	found, err := usersWhere(ctx, env, filter, "id,userPrincipalName")
	if err != nil {
		return user{}, false, err
	}
	if len(found) == 0 {
		return user{}, false, nil
	}
	var u user
	if err := json.Unmarshal(found[0], &u); err != nil {
		return user{}, false, fmt.Errorf("could not decode user %s: %w", upn, err)
	}
	return u, true, nil
}
