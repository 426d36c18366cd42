package zabbix

import (
	"context"
	"fmt"
	"strconv"
)

// Relation describes a parent resource that is addressed by name in the UI
// but indexed by id upstream, and the child query filtered by that id.
type Relation struct {
	Resource     string
	LookupMethod string
	NameField    string
	IDField      string
	ChildMethod  string
	ChildFilter  string
	ChildOutput  []string
}

var (
	// GroupHosts lists the hosts of a host group addressed by name.
	GroupHosts = Relation{
		Resource:     "group",
		LookupMethod: "hostgroup.get",
		NameField:    "name",
		IDField:      "groupid",
		ChildMethod:  "host.get",
		ChildFilter:  "groupids",
		ChildOutput:  []string{"host"},
	}

	// HostGraphs lists the graphs of a host addressed by its technical name.
	HostGraphs = Relation{
		Resource:     "host",
		LookupMethod: "host.get",
		NameField:    "host",
		IDField:      "hostid",
		ChildMethod:  "graph.get",
		ChildFilter:  "hostids",
		ChildOutput:  []string{"graphid", "name"},
	}
)

// ResolveThenQuery resolves name to an id with the relation's lookup method
// and then runs the child query filtered by that id. When the lookup yields
// no rows it returns a *NotFoundError and the child query is never sent.
func ResolveThenQuery[T any](ctx context.Context, c *Client, token string, rel Relation, name string) ([]T, error) {
	var rows []map[string]any
	err := c.Call(ctx, rel.LookupMethod, map[string]any{
		"output": []string{rel.IDField},
		"filter": map[string][]string{rel.NameField: {name}},
	}, token, &rows)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &NotFoundError{Resource: rel.Resource, Name: name}
	}

	id, err := idString(rows[0][rel.IDField])
	if err != nil {
		return nil, fmt.Errorf("zabbix: %s lookup: %w", rel.Resource, err)
	}

	children := make([]T, 0)
	err = c.Call(ctx, rel.ChildMethod, map[string]any{
		"output":        rel.ChildOutput,
		rel.ChildFilter: []string{id},
	}, token, &children)
	if err != nil {
		return nil, err
	}
	if children == nil {
		children = make([]T, 0)
	}
	return children, nil
}

func idString(v any) (string, error) {
	switch id := v.(type) {
	case string:
		if id != "" {
			return id, nil
		}
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64), nil
	}
	return "", fmt.Errorf("missing id in %v", v)
}
