package webtree

import "strings"

// splitPath turns a URL path into its non-empty segments. Empty
// segments are dropped, so "/a/b/" and "/a/b" resolve identically.
func splitPath(path string) []string {
	var segments []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			segments = append(segments, s)
		}
	}
	return segments
}

// resolved is the outcome of a successful resolution: the terminal
// method, the node that owns it, and the unconsumed path tail.
type resolved struct {
	method  Method
	owner   *Node
	relpath string
}

// resolve walks the remaining path segments down the node tree.
//
// A segment naming a child node descends. A segment naming a method
// stops descent: the rest of the segments become the relpath. When no
// deeper match exists, a callable node is the terminal with the
// remaining segments as relpath; otherwise an exhausted path signals
// a redirect to the default method and a leftover path signals not
// found. A ".." segment gets no special treatment here, parent
// traversal guards belong to file-serving code.
//
// Path is recorded on visited nodes only when record is set: trees
// owned by the request may be annotated, a shared pre-built root must
// not be written to concurrently.
func (app *App) resolve(node *Node, segments []string, path string, record bool) (resolved, error) {
	if record {
		node.Path = orRoot(path)
	}

	if len(segments) > 0 {
		name := segments[0]
		if e, ok := node.stepDown(name); ok {
			if e.child != nil {
				return app.resolve(e.child, segments[1:], joinSegment(path, name), record)
			}
			return resolved{
				method:  e.method,
				owner:   node,
				relpath: strings.Join(segments[1:], "/"),
			}, nil
		}
	}

	if node.call.Func != nil {
		return resolved{
			method:  node.call,
			owner:   node,
			relpath: strings.Join(segments, "/"),
		}, nil
	}

	if len(segments) == 0 {
		location := orRoot(path)
		if !strings.HasSuffix(location, "/") {
			location += "/"
		}
		return resolved{}, &Redirect{Location: location + app.DefaultMethod}
	}

	return resolved{}, ErrNotFound
}

func joinSegment(path, name string) string {
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}
	return path + name
}

func orRoot(path string) string {
	if path == "" {
		return "/"
	}
	return path
}
