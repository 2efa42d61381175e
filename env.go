package webtree

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"gitlab.com/webtree/webtree/query"
	"gitlab.com/webtree/webtree/response"
)

// env is the implicit introspection method of permissive nodes,
// handy when debugging a handler tree.
func (n *Node) env(r *http.Request, relpath string, args query.Args) ([]response.Part, error) {
	var lines []string

	lines = append(lines,
		fmt.Sprintf("request: %s %s", r.Method, r.URL.String()),
		fmt.Sprintf("host: %s", r.Host),
		fmt.Sprintf("remote: %s", r.RemoteAddr),
		fmt.Sprintf("node path: %s", n.Path),
		"headers:",
	)

	names := make([]string, 0, len(r.Header))
	for name := range r.Header {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		lines = append(lines, fmt.Sprintf("  %s = %q", name, r.Header[name]))
	}

	lines = append(lines, fmt.Sprintf("relpath: %s", relpath), "args:")

	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("  %s = %q", k, args[k]))
	}

	return []response.Part{
		response.Text(strings.Join(lines, "\n") + "\n"),
		response.ContentType("text/plain; charset=utf-8"),
	}, nil
}
