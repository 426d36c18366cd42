package zabbix

import (
	"context"
	"encoding/json"
)

// Credentials are forwarded to user.login and never retained.
type Credentials struct {
	Username string
	Password string
	MFACode  string
}

type loginParams struct {
	Username string `json:"username"`
	Password string `json:"password"`
	MFAToken string `json:"mfa_token,omitempty"`
}

// Row is one object of a listing result, kept exactly as upstream sent it.
type Row = json.RawMessage

// Login exchanges credentials for an API token. An empty MFA code is left
// out of the request.
func (c *Client) Login(ctx context.Context, cred Credentials) (string, error) {
	var token string
	err := c.Call(ctx, "user.login", loginParams{
		Username: cred.Username,
		Password: cred.Password,
		MFAToken: cred.MFACode,
	}, "", &token)
	if err != nil {
		return "", err
	}
	return token, nil
}

// HostGroups lists the names of all host groups visible to token.
func (c *Client) HostGroups(ctx context.Context, token string) ([]Row, error) {
	groups := make([]Row, 0)
	err := c.Call(ctx, "hostgroup.get", map[string]any{
		"output": []string{"name"},
	}, token, &groups)
	if err != nil {
		return nil, err
	}
	if groups == nil {
		groups = make([]Row, 0)
	}
	return groups, nil
}

// HostsInGroup lists the hosts of the group named group.
func (c *Client) HostsInGroup(ctx context.Context, token, group string) ([]Row, error) {
	return ResolveThenQuery[Row](ctx, c, token, GroupHosts, group)
}

// GraphsForHost lists the graphs of the host named host.
func (c *Client) GraphsForHost(ctx context.Context, token, host string) ([]Row, error) {
	return ResolveThenQuery[Row](ctx, c, token, HostGraphs, host)
}

// APIVersion returns the upstream API version, confirming token is accepted.
func (c *Client) APIVersion(ctx context.Context, token string) (string, error) {
	var version string
	if err := c.Call(ctx, "apiinfo.version", nil, token, &version); err != nil {
		return "", err
	}
	return version, nil
}
