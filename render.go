package webtree

import (
	"errors"

	"gitlab.com/webtree/webtree/response"
)

// ErrNoEngine is returned by render helpers when the App has no
// template engine configured.
var ErrNoEngine = errors.New("no template engine configured")

// mergeParams layers parameter mappings left to right, later wins.
func mergeParams(layers ...map[string]interface{}) map[string]interface{} {
	merged := map[string]interface{}{}
	for _, layer := range layers {
		for k, v := range layer {
			merged[k] = v
		}
	}
	return merged
}

// Render renders a template with the application globals merged under
// the given parameters.
func (app *App) Render(name string, params map[string]interface{}) (string, error) {
	if app.Engine == nil {
		return "", ErrNoEngine
	}
	return app.Engine.Render(name, mergeParams(app.Globals(), params))
}

func (n *Node) renderParams(params map[string]interface{}) map[string]interface{} {
	builtins := map[string]interface{}{
		"AppVersion": n.app.Version,
		"NodePath":   n.Path,
	}
	return mergeParams(n.app.Globals(), builtins, n.globals, params)
}

// Render renders a template with application globals, node globals
// and call-site parameters merged, later layers winning.
func (n *Node) Render(name string, params map[string]interface{}) (string, error) {
	if n.app == nil || n.app.Engine == nil {
		return "", ErrNoEngine
	}
	return n.app.Engine.Render(name, n.renderParams(params))
}

// RenderToResponse renders a template into response parts for a web
// method to return.
func (n *Node) RenderToResponse(name string, params map[string]interface{}) ([]response.Part, error) {
	text, err := n.Render(name, params)
	if err != nil {
		return nil, err
	}
	return []response.Part{response.Text(text)}, nil
}

// RenderToIterator renders a template as a lazy chunk sequence, for
// large outputs that should not be buffered whole.
func (n *Node) RenderToIterator(name string, params map[string]interface{}) (response.ChunkFunc, error) {
	if n.app == nil || n.app.Engine == nil {
		return nil, ErrNoEngine
	}
	return n.app.Engine.RenderStream(name, n.renderParams(params))
}

// RenderToStreamedResponse renders a template into a streaming
// response part.
func (n *Node) RenderToStreamedResponse(name string, params map[string]interface{}) ([]response.Part, error) {
	chunks, err := n.RenderToIterator(name, params)
	if err != nil {
		return nil, err
	}
	return []response.Part{response.Chunks(chunks)}, nil
}
