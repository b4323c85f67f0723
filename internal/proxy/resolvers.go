package proxy

import (
	"context"
	"fmt"

	"synapse/internal/locator"
)

// CellLocator resolves an identifier to a cell. Both *locator.Locator and
// *locator.Client implement it.
type CellLocator interface {
	Lookup(ctx context.Context, id string) (string, error)
	Ready() bool
}

type resolverKind int

const (
	resolverCellFromOrganization resolverKind = iota + 1
	resolverCellFromProjectKey
	resolverCellFromID
)

var resolverNames = map[string]resolverKind{
	"cell_from_organization": resolverCellFromOrganization,
	"cell_from_project_key":  resolverCellFromProjectKey,
	"cell_from_id":           resolverCellFromID,
}

func parseResolver(name string) (resolverKind, error) {
	k, ok := resolverNames[name]
	if !ok {
		return 0, fmt.Errorf("unknown resolver %q", name)
	}
	return k, nil
}

func (k resolverKind) String() string {
	for name, v := range resolverNames {
		if v == k {
			return name
		}
	}
	return fmt.Sprintf("resolver(%d)", int(k))
}

func (k resolverKind) usesLocator() bool {
	return k == resolverCellFromOrganization || k == resolverCellFromProjectKey
}

func (k resolverKind) mode() locator.Mode {
	if k == resolverCellFromProjectKey {
		return locator.ModeProjectKey
	}
	return locator.ModeOrganization
}

// resolve maps the captured path value to a cell. cell_from_id treats the
// value as the cell name itself.
func (k resolverKind) resolve(ctx context.Context, loc CellLocator, value string) (string, error) {
	if !k.usesLocator() {
		return value, nil
	}
	if loc == nil {
		return "", locator.ErrNotReady
	}
	return loc.Lookup(ctx, value)
}

type handlerKind int

const (
	handlerHealth handlerKind = iota + 1
	handlerReady
)

func parseHandler(name string) (handlerKind, error) {
	switch name {
	case "health":
		return handlerHealth, nil
	case "ready":
		return handlerReady, nil
	}
	return 0, fmt.Errorf("unknown handler %q", name)
}
