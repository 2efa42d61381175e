package webtree

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/sessions"

	"gitlab.com/webtree/webtree/internal/httperrors"
	"gitlab.com/webtree/webtree/internal/logging"
	"gitlab.com/webtree/webtree/metrics"
	"gitlab.com/webtree/webtree/query"
	"gitlab.com/webtree/webtree/response"
)

// Engine is the template engine contract the App consumes. The App
// merges parameters and picks template names, it never interprets
// template syntax itself.
type Engine interface {
	Render(name string, params map[string]interface{}) (string, error)
	RenderStream(name string, params map[string]interface{}) (response.ChunkFunc, error)
}

// RootFactory builds the root handler node for one request. The tree
// it returns is owned by that request and torn down after the
// response is emitted.
type RootFactory func(r *http.Request, app *App) *Node

// App is the long-lived application coordinator. It owns the process
// configuration, the single application lock, the root handler
// factory and the collaborator handles, and runs the request
// pipeline: prefix rewrite, one-time init, resolution, permission
// gate, invocation, response coercion and emission.
//
// Configuration fields must be set before the App starts serving.
type App struct {
	// Version is reported to templates as AppVersion.
	Version string

	// Prefix and ReplacePrefix configure the path rewrite applied
	// before resolution. A non-empty Prefix that does not match the
	// incoming path yields 404.
	Prefix        string
	ReplacePrefix string

	// DefaultMethod is the method name a trailing-slash redirect
	// appends, "index" by default.
	DefaultMethod string

	// RoleLookup is the application-wide role lookup used by the
	// permission gate when the resolved node carries none.
	RoleLookup RoleLookup

	// Engine renders templates, optional.
	Engine Engine

	// Sessions backs per-visitor session data, optional.
	Sessions sessions.Store

	// SessionName is the cookie name used by Session, "webtree" by
	// default.
	SessionName string

	// Init runs exactly once before the first request is resolved.
	// Its failure is not masked: every request fails loudly with it
	// until the process is restarted.
	Init func(app *App) error

	// Home is the directory of the running executable, resolved
	// during one-time initialization.
	Home string

	root    *Node
	factory RootFactory

	mu       sync.Mutex
	globals  map[string]interface{}
	initOnce sync.Once
	initErr  error
}

// NewApp returns an App that builds a fresh root node per request
// through the given factory.
func NewApp(factory RootFactory) *App {
	return &App{
		DefaultMethod: "index",
		SessionName:   "webtree",
		factory:       factory,
		globals:       map[string]interface{}{},
	}
}

// NewAppWithRoot returns an App dispatching on a pre-built root node.
// The root is referenced, not owned: it survives across requests, is
// never torn down by the pipeline, and resolution does not annotate
// its nodes with Path. Set Path at build time where render helpers
// need it.
func NewAppWithRoot(root *Node) *App {
	app := NewApp(nil)
	app.root = root
	return app
}

// Atomic runs fn while holding the application lock. There is exactly
// one lock per App; handler code needing mutual exclusion over shared
// application state delegates here instead of creating its own.
//
// The lock is not reentrant: fn must not call Atomic again. Guarded
// operations that need each other use unexported *Locked variants.
func (app *App) Atomic(fn func()) {
	app.mu.Lock()
	defer app.mu.Unlock()
	fn()
}

// SetGlobals replaces the application-wide template parameters.
func (app *App) SetGlobals(globals map[string]interface{}) {
	app.mu.Lock()
	defer app.mu.Unlock()
	app.setGlobalsLocked(globals)
}

func (app *App) setGlobalsLocked(globals map[string]interface{}) {
	merged := map[string]interface{}{}
	for k, v := range globals {
		merged[k] = v
	}
	app.globals = merged
}

// Globals returns a copy of the application-wide template parameters.
func (app *App) Globals() map[string]interface{} {
	app.mu.Lock()
	defer app.mu.Unlock()

	out := map[string]interface{}{}
	for k, v := range app.globals {
		out[k] = v
	}
	return out
}

// Session returns the visitor session for the request, or nil when no
// session store is configured.
func (app *App) Session(r *http.Request) (*sessions.Session, error) {
	if app.Sessions == nil {
		return nil, nil
	}
	return app.Sessions.Get(r, app.SessionName)
}

// convertPath applies the configured prefix rewrite. The second
// return is false when a configured prefix does not match.
func (app *App) convertPath(path string) (string, bool) {
	if app.Prefix == "" {
		return path, true
	}

	var matched bool
	switch {
	case path == app.Prefix:
		matched = true
	case strings.HasPrefix(path, app.Prefix+"/"):
		matched = true
	}
	if !matched {
		return "", false
	}

	path = app.ReplacePrefix + path[len(app.Prefix):]
	if path == "" {
		path = "/"
	}
	return path, true
}

// initialize runs the one-time initialization exactly once. Failures
// are stored, never masked: a partially initialized App must not
// serve quietly.
func (app *App) initialize() error {
	app.initOnce.Do(func() {
		executable, err := os.Executable()
		if err == nil {
			app.Home = filepath.Dir(executable)
		} else {
			app.Home = "."
		}

		if app.Init != nil {
			app.initErr = app.Init(app)
		}
	})
	return app.initErr
}

// ServeHTTP runs the full request pipeline. It is the transport
// contract: safe for concurrent use, every request owns its own node
// tree, and no fault of a web method escapes as anything but a
// diagnostic 500 response.
func (app *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	outcome := "served"
	defer func() {
		metrics.RequestsTotal.WithLabelValues(outcome).Inc()
		metrics.PipelineDuration.Observe(time.Since(start).Seconds())
	}()

	path, ok := app.convertPath(r.URL.Path)
	if !ok {
		outcome = "not_found"
		httperrors.Serve404(w)
		return
	}

	if err := app.initialize(); err != nil {
		outcome = "init_error"
		logging.LogRequest(r).WithError(err).Error("application initialization failed")
		httperrors.ServeDiagnostic500(w, "Application initialization failed", err.Error())
		return
	}

	root := app.root
	perRequest := false
	if root == nil {
		root = app.factory(r, app)
		perRequest = true
	}
	if root == nil {
		outcome = "not_found"
		httperrors.Serve404(w)
		return
	}
	if perRequest {
		// Unconditional teardown, success or failure.
		defer root.destroy()
	}

	outcome = app.dispatch(w, r, root, path, perRequest)
}

// dispatch resolves, gates, invokes and coerces. It returns the
// outcome label used for metrics.
func (app *App) dispatch(w http.ResponseWriter, r *http.Request, root *Node, path string, perRequest bool) string {
	res, err := app.resolve(root, splitPath(path), "", perRequest)
	if err != nil {
		return app.serveOutcome(w, r, err)
	}

	args := query.Parse(r.URL.RawQuery)

	parts, err := app.invoke(res, r, args)
	if err != nil {
		return app.serveOutcome(w, r, err)
	}

	resp, err := response.From(parts...)
	if err != nil {
		logging.LogRequest(r).WithError(err).Error("invalid web method response")
		httperrors.ServeDiagnostic500(w, "Invalid web method response", err.Error())
		return "invalid_response"
	}

	if err := resp.WriteTo(w); err != nil {
		// The header is on the wire already, nothing to serve.
		logging.LogRequest(r).WithError(err).Error("emitting response failed")
		return "emit_error"
	}
	return "served"
}

// invoke runs the permission gate and the resolved method, converting
// panics into errors. The recover covers the gate too, nothing past
// resolution may reach the transport as a raw panic.
func (app *App) invoke(res resolved, r *http.Request, args query.Args) (parts []response.Part, err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &panicError{value: v, stack: debug.Stack()}
		}
	}()

	if err := gate(res.method, app.lookupFor(res.owner), r, res.relpath); err != nil {
		return nil, err
	}

	return res.method.Func(r, res.relpath, args)
}

// serveOutcome maps control outcomes and faults onto responses.
func (app *App) serveOutcome(w http.ResponseWriter, r *http.Request, err error) string {
	var redirect *Redirect
	switch {
	case errors.As(err, &redirect):
		w.Header().Set("Location", redirect.Location)
		w.WriteHeader(http.StatusFound)
		return "redirect"
	case errors.Is(err, ErrForbidden):
		httperrors.Serve403(w)
		return "forbidden"
	case errors.Is(err, ErrNotFound):
		httperrors.Serve404(w)
		return "not_found"
	default:
		logging.LogRequest(r).WithError(err).Error("uncaught application fault")
		httperrors.ServeDiagnostic500(w, "Uncaught application fault", diagnostic(err))
		return "fault"
	}
}

// diagnostic formats a fault for the response body. The trace must
// reach the operator through the response itself, the log line is not
// the only record.
func diagnostic(err error) string {
	var p *panicError
	if errors.As(err, &p) {
		return fmt.Sprintf("panic: %v\n\n%s", p.value, p.stack)
	}
	return err.Error()
}

// panicError wraps a recovered panic from a web method or a destroy
// hook.
type panicError struct {
	value interface{}
	stack []byte
}

func (p *panicError) Error() string {
	return fmt.Sprintf("panic: %v", p.value)
}
