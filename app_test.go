package webtree

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"gitlab.com/webtree/webtree/query"
	"gitlab.com/webtree/webtree/response"
)

func testApp(t *testing.T) *App {
	t.Helper()

	return NewApp(func(r *http.Request, app *App) *Node {
		root := app.NewNode()
		root.Handle("hello", func(r *http.Request, relpath string, args query.Args) ([]response.Part, error) {
			name, _ := args.Get("name")
			return []response.Part{response.Text("hello " + name)}, nil
		})
		root.Handle("boom", func(r *http.Request, relpath string, args query.Args) ([]response.Part, error) {
			panic("kaboom")
		})
		root.Handle("badshape", func(r *http.Request, relpath string, args query.Args) ([]response.Part, error) {
			return []response.Part{response.Text("one"), response.Text("two")}, nil
		})
		root.Handle("fail", func(r *http.Request, relpath string, args query.Args) ([]response.Part, error) {
			return nil, fmt.Errorf("backend exploded")
		})
		root.Handle("away", func(r *http.Request, relpath string, args query.Args) ([]response.Part, error) {
			return nil, RedirectTo("/hello")
		})
		root.Handle("secret", func(r *http.Request, relpath string, args query.Args) ([]response.Part, error) {
			return []response.Part{response.Text("classified")}, nil
		}, "admin")
		return root
	})
}

func doRequest(t *testing.T, app *App, target string) *httptest.ResponseRecorder {
	t.Helper()

	w := httptest.NewRecorder()
	app.ServeHTTP(w, httptest.NewRequest("GET", target, nil))
	return w
}

func TestPipelineServes(t *testing.T) {
	w := doRequest(t, testApp(t), "/hello?name=world")

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "hello world", w.Body.String())
	require.Equal(t, response.DefaultContentType, w.Header().Get("Content-Type"))
}

func TestPipelineNotFound(t *testing.T) {
	w := doRequest(t, testApp(t), "/nope")
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestPipelineDefaultMethodRedirect(t *testing.T) {
	w := doRequest(t, testApp(t), "/")
	require.Equal(t, http.StatusFound, w.Code)
	require.Equal(t, "/index", w.Header().Get("Location"))
}

func TestPipelineMethodRedirect(t *testing.T) {
	w := doRequest(t, testApp(t), "/away")
	require.Equal(t, http.StatusFound, w.Code)
	require.Equal(t, "/hello", w.Header().Get("Location"))
}

func TestPipelineForbidden(t *testing.T) {
	app := testApp(t)
	w := doRequest(t, app, "/secret")
	require.Equal(t, http.StatusForbidden, w.Code)

	app.RoleLookup = staticLookup("admin")
	w = doRequest(t, app, "/secret")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "classified", w.Body.String())
}

func TestPipelinePanickingRoleLookupFailsClosed(t *testing.T) {
	app := testApp(t)
	app.RoleLookup = panickingLookup

	// a lookup fault must surface as a denial, never as a raw panic
	w := doRequest(t, app, "/secret")
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestPipelinePanicBecomesDiagnostic500(t *testing.T) {
	w := doRequest(t, testApp(t), "/boom")

	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.Contains(t, w.Body.String(), "Uncaught application fault")
	require.Contains(t, w.Body.String(), "kaboom")
	// the trace reaches the operator through the body
	require.Contains(t, w.Body.String(), "goroutine")
}

func TestPipelineErrorBecomesDiagnostic500(t *testing.T) {
	w := doRequest(t, testApp(t), "/fail")

	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.Contains(t, w.Body.String(), "backend exploded")
}

func TestPipelineInvalidResponseShape(t *testing.T) {
	w := doRequest(t, testApp(t), "/badshape")

	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.Contains(t, w.Body.String(), "Invalid web method response")
	require.Contains(t, w.Body.String(), "more than one body element")
}

func TestPrefixRewrite(t *testing.T) {
	tests := map[string]struct {
		prefix   string
		replace  string
		path     string
		wantCode int
		wantBody string
	}{
		"match_stripped": {
			prefix:   "/api",
			path:     "/api/hello?name=x",
			wantCode: http.StatusOK,
			wantBody: "hello x",
		},
		"mismatch_404": {
			prefix:   "/api",
			path:     "/other/hello",
			wantCode: http.StatusNotFound,
		},
		"bare_prefix_redirects_to_default": {
			prefix:   "/api",
			path:     "/api",
			wantCode: http.StatusFound,
		},
		"replace_prefix": {
			prefix:   "/v2",
			replace:  "/hello",
			path:     "/v2?name=y",
			wantCode: http.StatusOK,
			wantBody: "hello y",
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			app := testApp(t)
			app.Prefix = test.prefix
			app.ReplacePrefix = test.replace

			w := doRequest(t, app, test.path)
			require.Equal(t, test.wantCode, w.Code)
			if test.wantBody != "" {
				require.Equal(t, test.wantBody, w.Body.String())
			}
		})
	}
}

func TestPerRequestTreeIsDestroyed(t *testing.T) {
	destroyed := 0
	app := NewApp(func(r *http.Request, app *App) *Node {
		root := app.NewNode().OnDestroy(func() error {
			destroyed++
			return nil
		})
		root.Handle("ping", echoMethod("pong"))
		return root
	})

	doRequest(t, app, "/ping")
	doRequest(t, app, "/missing")
	require.Equal(t, 2, destroyed)
}

func TestPreBuiltRootSurvivesRequests(t *testing.T) {
	app := NewApp(nil)
	destroyed := 0

	root := app.NewNode().OnDestroy(func() error {
		destroyed++
		return nil
	})
	root.Handle("ping", echoMethod("pong"))
	app.root = root

	doRequest(t, app, "/ping")
	w := doRequest(t, app, "/ping")
	require.Equal(t, http.StatusOK, w.Code)
	require.Zero(t, destroyed)
	require.NotNil(t, root.App())
}

func TestPreBuiltRootNotMutatedByConcurrentRequests(t *testing.T) {
	app := NewApp(nil)
	root := app.NewNode()
	root.Handle("ping", echoMethod("pong"))
	root.Path = "/preset"
	app.root = root

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				w := httptest.NewRecorder()
				app.ServeHTTP(w, httptest.NewRequest("GET", "/ping", nil))
			}
		}()
	}
	wg.Wait()

	// resolution leaves a shared tree alone
	require.Equal(t, "/preset", root.Path)
}

func TestInitRunsOnceAndFailsLoudly(t *testing.T) {
	t.Run("runs_once", func(t *testing.T) {
		runs := 0
		app := testApp(t)
		app.Init = func(*App) error {
			runs++
			return nil
		}

		doRequest(t, app, "/hello")
		doRequest(t, app, "/hello")
		require.Equal(t, 1, runs)
		require.NotEmpty(t, app.Home)
	})

	t.Run("failure_not_masked", func(t *testing.T) {
		app := testApp(t)
		app.Init = func(*App) error {
			return fmt.Errorf("config missing")
		}

		for i := 0; i < 2; i++ {
			w := doRequest(t, app, "/hello")
			require.Equal(t, http.StatusInternalServerError, w.Code)
			require.Contains(t, w.Body.String(), "config missing")
		}
	})
}

// A lock-guarded global mutation must never be observed half-applied
// by concurrent readers.
func TestAtomicGlobalsNeverPartiallyVisible(t *testing.T) {
	app := testApp(t)
	app.SetGlobals(map[string]interface{}{"a": 0, "b": 0})

	const writes = 200
	var wg sync.WaitGroup
	torn := make([]bool, 4)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= writes; i++ {
			app.SetGlobals(map[string]interface{}{"a": i, "b": i})
		}
	}()

	for reader := 0; reader < len(torn); reader++ {
		wg.Add(1)
		go func(reader int) {
			defer wg.Done()
			for i := 0; i < writes; i++ {
				globals := app.Globals()
				if globals["a"] != globals["b"] {
					torn[reader] = true
				}
			}
		}(reader)
	}

	wg.Wait()
	for reader, saw := range torn {
		require.False(t, saw, "reader %d observed a torn update", reader)
	}
}

func TestAtomicProvidesMutualExclusion(t *testing.T) {
	app := testApp(t)

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				app.Atomic(func() { counter++ })
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 8000, counter)
}

func TestConvertPath(t *testing.T) {
	tests := map[string]struct {
		prefix  string
		replace string
		path    string
		want    string
		wantOK  bool
	}{
		"no_prefix":       {"", "", "/a/b", "/a/b", true},
		"exact_match":     {"/app", "", "/app", "/", true},
		"match_inner":     {"/app", "", "/app/x", "/x", true},
		"replaced":        {"/app", "/site", "/app/x", "/site/x", true},
		"mismatch":        {"/app", "", "/apples", "", false},
		"partial_segment": {"/app", "", "/application", "", false},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			app := NewApp(nil)
			app.Prefix = test.prefix
			app.ReplacePrefix = test.replace

			got, ok := app.convertPath(test.path)
			require.Equal(t, test.wantOK, ok)
			if ok {
				require.Equal(t, test.want, got)
			}
		})
	}
}
