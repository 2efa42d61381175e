package webtree

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"gitlab.com/webtree/webtree/response"
)

// fakeEngine renders "name|k=v,k=v" so parameter merging is visible.
type fakeEngine struct{}

func (fakeEngine) Render(name string, params map[string]interface{}) (string, error) {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf("%s=%v", k, params[k]))
	}
	return name + "|" + strings.Join(pairs, ","), nil
}

func (e fakeEngine) RenderStream(name string, params map[string]interface{}) (response.ChunkFunc, error) {
	text, err := e.Render(name, params)
	if err != nil {
		return nil, err
	}
	sent := false
	return func() ([]byte, error) {
		if sent {
			return nil, io.EOF
		}
		sent = true
		return []byte(text), nil
	}, nil
}

func TestRenderMergesParameterLayers(t *testing.T) {
	app := NewApp(nil)
	app.Version = "1.2"
	app.Engine = fakeEngine{}
	app.SetGlobals(map[string]interface{}{"site": "example", "layer": "app"})

	node := app.NewNode()
	node.Path = "/docs"
	node.SetGlobals(map[string]interface{}{"layer": "node", "nodeOnly": true})

	out, err := node.Render("page.html", map[string]interface{}{"layer": "call"})
	require.NoError(t, err)
	require.Equal(t,
		"page.html|AppVersion=1.2,NodePath=/docs,layer=call,nodeOnly=true,site=example",
		out)
}

func TestRenderWithoutEngine(t *testing.T) {
	app := NewApp(nil)
	node := app.NewNode()

	_, err := node.Render("page.html", nil)
	require.ErrorIs(t, err, ErrNoEngine)

	_, err = app.Render("page.html", nil)
	require.ErrorIs(t, err, ErrNoEngine)
}

func TestRenderToStreamedResponse(t *testing.T) {
	app := NewApp(nil)
	app.Engine = fakeEngine{}
	node := app.NewNode()

	parts, err := node.RenderToStreamedResponse("big.html", nil)
	require.NoError(t, err)

	resp, err := response.From(parts...)
	require.NoError(t, err)
	require.True(t, resp.Streaming())
}
