package webtree

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"gitlab.com/webtree/webtree/query"
	"gitlab.com/webtree/webtree/response"
)

func staticLookup(roleNames ...string) RoleLookup {
	return func(*http.Request, string) ([]string, error) {
		return roleNames, nil
	}
}

func failingLookup(*http.Request, string) ([]string, error) {
	return nil, errors.New("role backend unavailable")
}

func panickingLookup(*http.Request, string) ([]string, error) {
	panic("role backend exploded")
}

func TestGate(t *testing.T) {
	tests := map[string]struct {
		required []string
		lookup   RoleLookup
		wantErr  error
	}{
		"unrestricted_without_lookup": {
			required: nil,
			lookup:   nil,
			wantErr:  nil,
		},
		"unrestricted_ignores_failing_lookup": {
			required: nil,
			lookup:   failingLookup,
			wantErr:  nil,
		},
		"role_denied": {
			required: []string{"admin"},
			lookup:   staticLookup("user"),
			wantErr:  ErrForbidden,
		},
		"role_granted": {
			required: []string{"admin"},
			lookup:   staticLookup("admin", "user"),
			wantErr:  nil,
		},
		"any_required_role_suffices": {
			required: []string{"admin", "operator"},
			lookup:   staticLookup("operator"),
			wantErr:  nil,
		},
		"lookup_failure_fails_closed": {
			required: []string{"admin"},
			lookup:   failingLookup,
			wantErr:  ErrForbidden,
		},
		"lookup_panic_fails_closed": {
			required: []string{"admin"},
			lookup:   panickingLookup,
			wantErr:  ErrForbidden,
		},
		"missing_lookup_fails_closed": {
			required: []string{"admin"},
			lookup:   nil,
			wantErr:  ErrForbidden,
		},
		"no_roles_denied": {
			required: []string{"admin"},
			lookup:   staticLookup(),
			wantErr:  ErrForbidden,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			m := Method{Func: echoMethod("gated"), Roles: test.required}

			err := gate(m, test.lookup, nil, "")
			if test.wantErr == nil {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, test.wantErr)
			}
		})
	}
}

func TestNodeLookupOverridesAppLookup(t *testing.T) {
	app := NewApp(nil)
	app.RoleLookup = staticLookup("user")

	gated := func(r *http.Request, relpath string, args query.Args) ([]response.Part, error) {
		return []response.Part{response.Text("secret")}, nil
	}

	node := app.NewNode()
	node.Handle("locked", gated, "admin")

	// App-level lookup grants only "user": denied.
	res, err := app.resolve(node, []string{"locked"}, "", true)
	require.NoError(t, err)
	_, err = app.invoke(res, nil, nil)
	require.ErrorIs(t, err, ErrForbidden)

	// The node's own lookup wins over the App's.
	node.SetRoleLookup(staticLookup("admin"))
	res, err = app.resolve(node, []string{"locked"}, "", true)
	require.NoError(t, err)
	parts, err := app.invoke(res, nil, nil)
	require.NoError(t, err)
	require.Equal(t, "secret", string(parts[0].(response.Text)))
}
