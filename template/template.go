// Package template implements the template engine contract consumed
// by the dispatch core, backed by html/template.
package template

import (
	"fmt"
	"html/template"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/karlseguin/ccache/v2"

	"gitlab.com/webtree/webtree/metrics"
	"gitlab.com/webtree/webtree/response"
)

const streamChunkSize = 4096

// Engine renders named templates from a directory. Parsed templates
// are kept in an expiring LRU cache, so on-disk edits are picked up
// after the TTL without a process restart.
type Engine struct {
	dir   string
	funcs template.FuncMap
	cache *ccache.Cache
	ttl   time.Duration
}

// Options tune an Engine.
type Options struct {
	// Funcs are the template filter functions available to every
	// template.
	Funcs template.FuncMap

	// CacheSize bounds the parsed template cache, 100 when zero.
	CacheSize int64

	// CacheTTL is the parse cache expiry, one minute when zero.
	CacheTTL time.Duration
}

// New returns an Engine loading templates from dir.
func New(dir string, opts Options) *Engine {
	size := opts.CacheSize
	if size == 0 {
		size = 100
	}
	ttl := opts.CacheTTL
	if ttl == 0 {
		ttl = time.Minute
	}

	return &Engine{
		dir:   dir,
		funcs: opts.Funcs,
		cache: ccache.New(ccache.Configure().MaxSize(size)),
		ttl:   ttl,
	}
}

func (e *Engine) load(name string) (*template.Template, error) {
	if strings.Contains(name, "..") {
		return nil, fmt.Errorf("invalid template name %q", name)
	}

	parsed := false
	item, err := e.cache.Fetch(name, e.ttl, func() (interface{}, error) {
		parsed = true
		metrics.TemplateCacheMiss.Inc()
		t := template.New(filepath.Base(name)).Funcs(e.funcs)
		return t.ParseFiles(filepath.Join(e.dir, filepath.FromSlash(name)))
	})
	if err != nil {
		return nil, err
	}
	if !parsed {
		metrics.TemplateCacheHit.Inc()
	}

	return item.Value().(*template.Template), nil
}

// Render renders the named template with the given parameters.
func (e *Engine) Render(name string, params map[string]interface{}) (string, error) {
	start := time.Now()
	defer func() {
		metrics.RenderDuration.Observe(time.Since(start).Seconds())
	}()

	t, err := e.load(name)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	if err := t.Execute(&sb, params); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// RenderStream renders the named template as a lazy chunk sequence.
// Rendering runs concurrently with consumption through a pipe, so a
// large page starts flushing before it is fully produced.
func (e *Engine) RenderStream(name string, params map[string]interface{}) (response.ChunkFunc, error) {
	t, err := e.load(name)
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(t.Execute(pw, params))
	}()

	return func() ([]byte, error) {
		buf := make([]byte, streamChunkSize)
		n, err := pr.Read(buf)
		if n > 0 {
			return buf[:n], nil
		}
		if err != nil {
			return nil, err
		}
		return nil, io.EOF
	}, nil
}
