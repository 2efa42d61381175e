package webtree

import (
	"net/http"

	"github.com/hashicorp/go-multierror"

	"gitlab.com/webtree/webtree/internal/logging"
	"gitlab.com/webtree/webtree/query"
	"gitlab.com/webtree/webtree/response"
)

// envName is the implicit introspection method registered on
// permissive nodes. Call it as "/.env" under any permissive node.
const envName = ".env"

// MethodFunc is a web method: the terminal callable of the dispatch
// tree. It receives the request, the unconsumed tail of the path and
// the parsed query arguments, and returns response parts to be
// coerced by the response package.
type MethodFunc func(r *http.Request, relpath string, args query.Args) ([]response.Part, error)

// Method pairs a web method with its required role set. A nil Roles
// slice means unrestricted access.
type Method struct {
	Func  MethodFunc
	Roles []string
}

// RoleLookup returns the caller's role names, used by the permission
// gate. A lookup failure denies the request.
type RoleLookup func(r *http.Request, relpath string) ([]string, error)

// entry is the tagged variant behind one registered segment name:
// either a child node or a terminal method.
type entry struct {
	child    *Node
	method   Method
	implicit bool
}

// Node is one level of the URL path. It resolves a path segment to a
// child node or a web method, and optionally is callable itself.
//
// Nodes built by a root factory live for a single request and are
// destroyed after the response is emitted.
type Node struct {
	app    *App
	strict bool

	entries map[string]entry
	call    Method

	roleLookup RoleLookup
	globals    map[string]interface{}
	onDestroy  func() error

	// Path is the accumulated URL path at which this node was reached
	// during resolution. It is only written on request-owned trees;
	// on a shared pre-built root it keeps whatever the builder set.
	Path string

	destroying bool
}

// NewNode returns a permissive node: the implicit introspection
// method is reachable in addition to explicitly registered names.
func (app *App) NewNode() *Node {
	return app.newNode(false)
}

// NewStrictNode returns a strict node: only explicitly registered
// names are reachable.
func (app *App) NewStrictNode() *Node {
	return app.newNode(true)
}

// Every node carries the implicit introspection entry; stepDown
// filters it on strict nodes.
func (app *App) newNode(strict bool) *Node {
	n := &Node{
		app:     app,
		strict:  strict,
		entries: map[string]entry{},
	}
	n.entries[envName] = entry{method: Method{Func: n.env}, implicit: true}
	return n
}

// App returns the owning application. It is nil after the node has
// been destroyed.
func (n *Node) App() *App {
	return n.app
}

// Mount registers a child node under the given segment name. The
// child is referenced, not copied.
func (n *Node) Mount(name string, child *Node) *Node {
	n.entries[name] = entry{child: child}
	return n
}

// Handle registers a web method under the given segment name,
// optionally requiring one of the given roles.
func (n *Node) Handle(name string, fn MethodFunc, requiredRoles ...string) *Node {
	n.entries[name] = entry{method: Method{Func: fn, Roles: roleSet(requiredRoles)}}
	return n
}

// SetCall makes the node itself callable. A callable node receives
// the unconsumed path tail as relpath when resolution stops at it.
func (n *Node) SetCall(fn MethodFunc, requiredRoles ...string) *Node {
	n.call = Method{Func: fn, Roles: roleSet(requiredRoles)}
	return n
}

// SetRoleLookup installs the role lookup the permission gate uses for
// methods under this node. Without one the App-level lookup applies.
func (n *Node) SetRoleLookup(lookup RoleLookup) *Node {
	n.roleLookup = lookup
	return n
}

// SetGlobals sets per-node template parameters merged over the App
// globals and under call-site parameters.
func (n *Node) SetGlobals(globals map[string]interface{}) *Node {
	n.globals = globals
	return n
}

// OnDestroy installs a cleanup hook run when the node tree is torn
// down after the response is emitted.
func (n *Node) OnDestroy(hook func() error) *Node {
	n.onDestroy = hook
	return n
}

func roleSet(roles []string) []string {
	if len(roles) == 0 {
		return nil
	}
	return roles
}

// stepDown resolves one path segment on this node. Strict nodes only
// expose explicitly registered names.
func (n *Node) stepDown(name string) (entry, bool) {
	e, ok := n.entries[name]
	if !ok {
		return entry{}, false
	}
	if e.implicit && n.strict {
		return entry{}, false
	}
	return e, true
}

// destroy recursively tears down the node tree, at most once per
// reachable node. The destroying flag is set before recursing and
// never reset, so cycles and diamonds terminate. Hook failures are
// collected and logged, never propagated: one misbehaving node must
// not block cleanup of its siblings.
func (n *Node) destroy() {
	if n.destroying {
		return
	}
	n.destroying = true

	var errs *multierror.Error
	if err := runDestroyHook(n.onDestroy); err != nil {
		errs = multierror.Append(errs, err)
	}

	for _, e := range n.entries {
		if e.child != nil {
			e.child.destroy()
		}
	}

	n.app = nil

	if err := errs.ErrorOrNil(); err != nil {
		logging.Log().WithError(err).Warn("handler teardown failed")
	}
}

func runDestroyHook(hook func() error) (err error) {
	if hook == nil {
		return nil
	}
	defer func() {
		if v := recover(); v != nil {
			err = &panicError{value: v}
		}
	}()
	return hook()
}
