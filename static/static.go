// Package static serves files from a local directory as a callable
// node of the dispatch tree.
package static

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	mimedb "gitlab.com/gitlab-org/go-mimedb"

	"gitlab.com/webtree/webtree"
	"gitlab.com/webtree/webtree/internal/httputil"
	"gitlab.com/webtree/webtree/internal/logging"
	"gitlab.com/webtree/webtree/metrics"
	"gitlab.com/webtree/webtree/query"
	"gitlab.com/webtree/webtree/response"
)

const readChunkSize = 8192

var mimeSetupOnce sync.Once

// Options tune a static file handler.
type Options struct {
	// DefaultFile is served for directory requests, "index.html" when
	// empty.
	DefaultFile string

	// CacheTTL, when positive, is advertised to clients as
	// Cache-Control max-age.
	CacheTTL time.Duration

	// MetadataTTL bounds the content-type metadata cache, one minute
	// when zero.
	MetadataTTL time.Duration
}

// Handler serves files below a root directory. It implements the
// static-file collaborator contract: it maps a relpath onto a file
// and produces a canonical response, a not-found or a not-modified
// outcome.
type Handler struct {
	root        string
	defaultFile string
	cacheTTL    time.Duration

	// content types by resolved path, sniffing is not free
	metadata *gocache.Cache
}

// NewHandler returns a Handler rooted at the given directory.
func NewHandler(root string, opts Options) *Handler {
	mimeSetupOnce.Do(func() {
		if err := mimedb.LoadTypes(); err != nil {
			logging.Log().WithError(err).Warn("loading mime database failed")
		}
	})

	defaultFile := opts.DefaultFile
	if defaultFile == "" {
		defaultFile = "index.html"
	}
	metadataTTL := opts.MetadataTTL
	if metadataTTL == 0 {
		metadataTTL = time.Minute
	}

	return &Handler{
		root:        root,
		defaultFile: defaultFile,
		cacheTTL:    opts.CacheTTL,
		metadata:    gocache.New(metadataTTL, 5*metadataTTL),
	}
}

// NewNode returns a strict node whose call serves files from root,
// ready to mount into a handler tree.
func NewNode(app *webtree.App, root string, opts Options) *webtree.Node {
	return app.NewStrictNode().SetCall(NewHandler(root, opts).Serve)
}

// Serve is the web method of the handler. The relpath names the file
// below the root directory.
func (h *Handler) Serve(r *http.Request, relpath string, args query.Args) ([]response.Part, error) {
	start := time.Now()
	defer func() {
		metrics.ServingTime.Observe(time.Since(start).Seconds())
	}()

	// Parent traversal stops here, not in the resolver.
	if containsDotDot(relpath) {
		return nil, webtree.ErrForbidden
	}

	if relpath == "index" {
		return nil, webtree.RedirectTo("./index.html")
	}

	fullPath := filepath.Join(h.root, filepath.FromSlash(relpath))

	fi, err := os.Lstat(fullPath)
	if err != nil {
		return nil, webtree.ErrNotFound
	}

	if fi.IsDir() {
		fullPath = filepath.Join(fullPath, h.defaultFile)
		fi, err = os.Lstat(fullPath)
		if err != nil {
			return nil, webtree.ErrNotFound
		}
	}

	// A block device, socket or symlink may be a security risk.
	if !fi.Mode().IsRegular() {
		return nil, webtree.ErrNotFound
	}

	if notModified(r, fi.ModTime()) {
		return []response.Part{response.Status(http.StatusNotModified)}, nil
	}

	contentType, err := h.detectContentType(fullPath)
	if err != nil {
		return nil, err
	}

	headers := response.Headers{
		"Last-Modified": fi.ModTime().UTC().Format(http.TimeFormat),
	}
	if h.cacheTTL > 0 {
		headers["Cache-Control"] = fmt.Sprintf("max-age=%d", int(h.cacheTTL.Seconds()))
	}

	readPath, readSize := fullPath, fi.Size()
	if gzipPath, gzipInfo, ok := h.tryGZip(r, fullPath); ok {
		readPath, readSize = gzipPath, gzipInfo.Size()
		headers["Content-Encoding"] = "gzip"
	}

	file, err := os.Open(readPath)
	if err != nil {
		return nil, err
	}

	// the size of the file going over the wire, not the original's
	metrics.StaticFileSize.Observe(float64(readSize))

	return []response.Part{
		response.Chunks(fileChunks(file)),
		response.ContentType(contentType),
		headers,
	}, nil
}

// tryGZip swaps in a precompressed sibling when the client accepts
// gzip and a regular ".gz" file exists next to the original.
func (h *Handler) tryGZip(r *http.Request, fullPath string) (string, os.FileInfo, bool) {
	if !acceptsGZip(r) {
		return "", nil, false
	}

	gzipPath := fullPath + ".gz"
	fi, err := os.Lstat(gzipPath)
	if err != nil || !fi.Mode().IsRegular() {
		return "", nil, false
	}
	return gzipPath, fi, true
}

func acceptsGZip(r *http.Request) bool {
	if r.Header.Get("Range") != "" {
		return false
	}

	offers := []string{"gzip", "identity"}
	return httputil.NegotiateContentEncoding(r, offers) == "gzip"
}

func notModified(r *http.Request, modTime time.Time) bool {
	since := r.Header.Get("If-Modified-Since")
	if since == "" {
		return false
	}
	t, err := http.ParseTime(since)
	if err != nil {
		return false
	}
	// sub-second precision is lost in the header
	return !modTime.Truncate(time.Second).After(t)
}

// Detect file's content-type either by extension or mime-sniffing.
// Sniff results are cached with a TTL since the same assets are
// requested over and over.
func (h *Handler) detectContentType(path string) (string, error) {
	if cached, found := h.metadata.Get(path); found {
		metrics.StaticCacheHit.Inc()
		return cached.(string), nil
	}
	metrics.StaticCacheMiss.Inc()

	contentType := mime.TypeByExtension(filepath.Ext(path))

	if contentType == "" {
		var buf [512]byte

		file, err := os.Open(path)
		if err != nil {
			return "", err
		}
		defer file.Close()

		// Using `io.ReadFull()` because `file.Read()` may be chunked.
		// Ignoring errors because we don't care if the 512 bytes cannot be read.
		n, _ := io.ReadFull(file, buf[:])
		contentType = http.DetectContentType(buf[:n])
	}

	h.metadata.SetDefault(path, contentType)
	return contentType, nil
}

// fileChunks streams the file in fixed-size blocks and closes it once
// drained or failed.
func fileChunks(file *os.File) response.ChunkFunc {
	done := false
	return func() ([]byte, error) {
		if done {
			return nil, io.EOF
		}

		buf := make([]byte, readChunkSize)
		n, err := file.Read(buf)
		if n > 0 {
			return buf[:n], nil
		}
		done = true
		file.Close()
		if err == nil || err == io.EOF {
			return nil, io.EOF
		}
		return nil, err
	}
}

func containsDotDot(relpath string) bool {
	for _, segment := range strings.Split(relpath, "/") {
		if segment == ".." {
			return true
		}
	}
	return false
}
