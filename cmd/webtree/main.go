package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/gorilla/handlers"
	"github.com/namsral/flag"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"gitlab.com/webtree/webtree"
	"gitlab.com/webtree/webtree/internal/logging"
	"gitlab.com/webtree/webtree/query"
	"gitlab.com/webtree/webtree/response"
	"gitlab.com/webtree/webtree/roles"
	"gitlab.com/webtree/webtree/session"
	"gitlab.com/webtree/webtree/static"
	"gitlab.com/webtree/webtree/template"
)

// VERSION stores the information about the semantic version of application
var VERSION = "dev"

var (
	listenHTTP     = flag.String("listen-http", "127.0.0.1:8080", "The address to listen on for HTTP requests")
	listenProxy    = flag.String("listen-proxy", "", "The address to listen on for PROXY protocol requests")
	metricsAddress = flag.String("metrics-address", "", "The address to listen on for metrics requests")

	logFormat  = flag.String("log-format", "json", "The log output format: 'text' or 'json'")
	logVerbose = flag.Bool("log-verbose", false, "Verbose logging")

	pathPrefix    = flag.String("path-prefix", "", "Only serve paths under this prefix")
	replacePrefix = flag.String("replace-prefix", "", "Replacement applied to the matched path prefix")
	defaultMethod = flag.String("default-method", "index", "The method name trailing-slash redirects append")

	staticRoot    = flag.String("static-root", "static", "The directory static files are served from")
	templatesRoot = flag.String("templates-root", "templates", "The directory templates are loaded from")

	sessionSecret = flag.String("session-secret", "", "Cookie session secret, random when empty")
	rolesSecret   = flag.String("roles-secret", "", "HMAC secret validating role-bearing JWT tokens")

	disableCrossOriginRequests = flag.Bool("disable-cross-origin-requests", false, "Disable cross-origin requests")

	showVersion = flag.Bool("version", false, "Show version")
)

var corsHandler = cors.New(cors.Options{AllowedMethods: []string{http.MethodGet, http.MethodHead}})

func main() {
	if err := appmain(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func appmain() error {
	flag.Parse()

	if *showVersion {
		fmt.Println(VERSION)
		return nil
	}

	if err := logging.ConfigureLogging(*logFormat, *logVerbose); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}

	app := buildApp()

	handler, err := wrapMiddleware(app)
	if err != nil {
		return err
	}

	var eg errgroup.Group

	eg.Go(func() error {
		log.WithField("address", *listenHTTP).Info("listening for HTTP")
		return listenAndServe(*listenHTTP, handler, false)
	})

	if *listenProxy != "" {
		eg.Go(func() error {
			log.WithField("address", *listenProxy).Info("listening for PROXY protocol")
			return listenAndServe(*listenProxy, handler, true)
		})
	}

	if *metricsAddress != "" {
		eg.Go(func() error {
			log.WithField("address", *metricsAddress).Info("listening for metrics")
			return http.ListenAndServe(*metricsAddress, promhttp.Handler())
		})
	}

	return eg.Wait()
}

func buildApp() *webtree.App {
	app := webtree.NewApp(buildRoot)
	app.Version = VERSION
	app.Prefix = *pathPrefix
	app.ReplacePrefix = *replacePrefix
	app.DefaultMethod = *defaultMethod
	app.Engine = template.New(*templatesRoot, template.Options{})
	app.Sessions = session.NewStore(*sessionSecret)
	if *rolesSecret != "" {
		app.RoleLookup = webtree.RoleLookup(roles.JWT([]byte(*rolesSecret)))
	}
	app.SetGlobals(map[string]interface{}{
		"SiteName": "webtree",
	})
	return app
}

// buildRoot assembles the per-request handler tree.
func buildRoot(r *http.Request, app *webtree.App) *webtree.Node {
	root := app.NewNode()
	root.Handle("index", index(root))
	root.Handle("status", status)
	root.Handle("whoami", whoami(app), "admin", "operator")
	root.Mount("static", static.NewNode(app, *staticRoot, static.Options{}))
	return root
}

func index(n *webtree.Node) webtree.MethodFunc {
	return func(r *http.Request, relpath string, args query.Args) ([]response.Part, error) {
		return n.RenderToResponse("index.html", map[string]interface{}{
			"Relpath": relpath,
		})
	}
}

func status(r *http.Request, relpath string, args query.Args) ([]response.Part, error) {
	return []response.Part{response.JSON{"status": "ok", "version": VERSION}}, nil
}

// whoami is gated: it only runs for callers whose token grants one of
// the required roles.
func whoami(app *webtree.App) webtree.MethodFunc {
	return func(r *http.Request, relpath string, args query.Args) ([]response.Part, error) {
		data, err := session.Data(app.Sessions, r, app.SessionName)
		if err != nil {
			return nil, err
		}
		return []response.Part{response.JSON{
			"remote":   r.RemoteAddr,
			"sessions": len(data),
		}}, nil
	}
}

func wrapMiddleware(handler http.Handler) (http.Handler, error) {
	if !*disableCrossOriginRequests {
		handler = corsHandler.Handler(handler)
	}

	handler = handlers.ProxyHeaders(handler)

	return logging.AccessLogger(handler, *logFormat)
}
