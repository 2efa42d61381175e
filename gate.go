package webtree

import "net/http"

// gate enforces the required role set of a method before it may run.
// Methods without a requirement pass unconditionally. A missing role
// lookup capability or a lookup failure denies the request: the gate
// fails closed.
func gate(m Method, lookup RoleLookup, r *http.Request, relpath string) error {
	if m.Roles == nil {
		return nil
	}

	if lookup == nil {
		return ErrForbidden
	}

	roles, err := callLookup(lookup, r, relpath)
	if err != nil {
		return ErrForbidden
	}

	for _, role := range roles {
		for _, required := range m.Roles {
			if role == required {
				return nil
			}
		}
	}

	return ErrForbidden
}

// callLookup runs a user-supplied role lookup, converting a panic
// into an error so the gate denies instead of crashing the pipeline.
func callLookup(lookup RoleLookup, r *http.Request, relpath string) (roles []string, err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &panicError{value: v}
		}
	}()
	return lookup(r, relpath)
}

// lookupFor picks the role lookup for a method resolved on the given
// node: the node's own lookup when set, the App-level one otherwise.
func (app *App) lookupFor(node *Node) RoleLookup {
	if node != nil && node.roleLookup != nil {
		return node.roleLookup
	}
	return app.RoleLookup
}
