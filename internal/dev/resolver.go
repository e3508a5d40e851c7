package dev

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrNotFound is returned for paths that do not map to a servable file,
// including paths that would escape the project root.
var ErrNotFound = errors.New("not found")

const htmlContentType = "text/html; charset=utf-8"

// mimeTypes maps lowercase extensions (with the dot) to content types.
// Extensions missing from the table get no explicit Content-Type.
var mimeTypes = map[string]string{
	".html":  htmlContentType,
	".htm":   htmlContentType,
	".css":   "text/css; charset=utf-8",
	".js":    "application/javascript; charset=utf-8",
	".ts":    "application/javascript; charset=utf-8",
	".json":  "application/json; charset=utf-8",
	".svg":   "image/svg+xml",
	".png":   "image/png",
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".gif":   "image/gif",
	".ico":   "image/x-icon",
	".woff":  "font/woff",
	".woff2": "font/woff2",
}

// ContentType returns the content type for a file name, or "" if the
// extension is not in the table.
func ContentType(name string) string {
	return mimeTypes[strings.ToLower(filepath.Ext(name))]
}

// Asset is a resolved file under the project root.
type Asset struct {
	// Path is the absolute file path.
	Path string

	// ContentType is empty when the extension is unknown.
	ContentType string

	// HTML is set for .html/.htm files; Body then holds the instrumented
	// document.
	HTML bool
	Body []byte

	// Size is the file size when resolved. Streaming uses the size of
	// the opened file instead.
	Size int64
}

// Resolver maps request paths to files under a project root.
type Resolver struct {
	root   string
	entry  string
	logger *slog.Logger
}

// NewResolver creates a resolver serving root, with entry served for "/".
func NewResolver(root, entry string, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		root:   filepath.Clean(root),
		entry:  entry,
		logger: logger,
	}
}

// relPath returns a sanitized root-relative path for a request path.
// It rejects traversal and absolute-path tricks so that serving can never
// escape the root.
func (r *Resolver) relPath(urlPath string) (string, bool) {
	var rel string
	if urlPath == "/" || urlPath == "" {
		rel = filepath.ToSlash(r.entry)
	} else {
		rel = strings.TrimPrefix(urlPath, "/")
	}
	if rel == "" {
		return "", false
	}

	// Reject NUL early (can appear via %00).
	if strings.IndexByte(rel, 0) != -1 {
		return "", false
	}

	// Reject platform-dependent separators.
	if strings.Contains(rel, "\\") {
		return "", false
	}

	// A leading "/" after trimming means "//etc/passwd" style input.
	if strings.HasPrefix(rel, "/") {
		return "", false
	}

	// Reject dot-segments before cleaning so traversal is not cleaned away.
	for _, seg := range strings.Split(rel, "/") {
		if seg == "." || seg == ".." {
			return "", false
		}
	}

	clean := path.Clean(rel)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") || strings.HasPrefix(clean, "/") {
		return "", false
	}

	osPath := filepath.FromSlash(clean)
	if filepath.IsAbs(osPath) || filepath.VolumeName(osPath) != "" {
		return "", false
	}

	return clean, true
}

// Resolve maps urlPath to an asset. HTML assets are read and instrumented
// with ClientScript; other assets are only stat'ed so they can be streamed.
func (r *Resolver) Resolve(urlPath string) (*Asset, error) {
	rel, ok := r.relPath(urlPath)
	if !ok {
		return nil, ErrNotFound
	}

	full := filepath.Join(r.root, filepath.FromSlash(rel))
	if !isWithinDir(full, r.root) {
		return nil, ErrNotFound
	}

	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		return nil, ErrNotFound
	}

	// Symlinks may live under the root but must also point inside it.
	if !r.resolvesWithinRoot(full) {
		return nil, ErrNotFound
	}

	ext := strings.ToLower(filepath.Ext(full))
	asset := &Asset{
		Path:        full,
		ContentType: mimeTypes[ext],
		Size:        info.Size(),
	}

	if ext == ".html" || ext == ".htm" {
		html, err := os.ReadFile(full)
		if err != nil {
			return nil, ErrNotFound
		}
		asset.HTML = true
		asset.ContentType = htmlContentType
		asset.Body = InjectClientScript(html)
		asset.Size = int64(len(asset.Body))
	}

	return asset, nil
}

func (r *Resolver) resolvesWithinRoot(full string) bool {
	realRoot, err := filepath.EvalSymlinks(r.root)
	if err != nil {
		return false
	}
	real, err := filepath.EvalSymlinks(full)
	if err != nil {
		return false
	}
	return isWithinDir(real, realRoot)
}

// open opens a non-HTML asset for streaming. The size comes from the open
// file, so a write after Resolve cannot desync Content-Length.
func (a *Asset) open() (*os.File, int64, error) {
	f, err := os.Open(a.Path)
	if err != nil {
		return nil, 0, err
	}
	info, err := f.Stat()
	if err != nil || info.IsDir() {
		f.Close()
		return nil, 0, ErrNotFound
	}
	return f, info.Size(), nil
}

// ServeHTTP serves the resolved asset or a plain-text 404.
func (r *Resolver) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	_, span := tracer.Start(req.Context(), "lightning.serve",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("http.path", req.URL.Path)),
	)
	defer span.End()

	asset, err := r.Resolve(req.URL.Path)
	if err != nil {
		span.SetAttributes(attribute.Int("http.status_code", http.StatusNotFound))
		span.SetStatus(codes.Error, err.Error())
		writePlain(w, http.StatusNotFound, "Not Found")
		return
	}
	span.SetAttributes(
		attribute.Int("http.status_code", http.StatusOK),
		attribute.Bool("lightning.instrumented", asset.HTML),
	)

	h := w.Header()
	h.Set("Cache-Control", "no-store")
	if asset.ContentType != "" {
		h.Set("Content-Type", asset.ContentType)
	}

	if asset.HTML {
		h.Set("Content-Length", strconv.Itoa(len(asset.Body)))
		w.WriteHeader(http.StatusOK)
		w.Write(asset.Body)
		return
	}

	f, size, err := asset.open()
	if err != nil {
		h.Del("Content-Type")
		writePlain(w, http.StatusNotFound, "Not Found")
		return
	}
	defer f.Close()

	h.Set("Content-Length", strconv.FormatInt(size, 10))
	w.WriteHeader(http.StatusOK)
	if _, err := io.CopyN(w, f, size); err != nil {
		r.logger.Debug("stream interrupted", "path", req.URL.Path, "error", err)
	}
}

var closingBody = []byte("</body>")

// InjectClientScript inserts ClientScript before the last closing body tag,
// or appends it when the document has none.
func InjectClientScript(html []byte) []byte {
	out := make([]byte, 0, len(html)+len(ClientScript))
	idx := bytes.LastIndex(html, closingBody)
	if idx == -1 {
		out = append(out, html...)
		return append(out, ClientScript...)
	}
	out = append(out, html[:idx]...)
	out = append(out, ClientScript...)
	return append(out, html[idx:]...)
}

func isWithinDir(path, dir string) bool {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	absPath = filepath.Clean(absPath)
	absDir = filepath.Clean(absDir)
	if absPath == absDir {
		return true
	}
	if !strings.HasSuffix(absDir, string(os.PathSeparator)) {
		absDir += string(os.PathSeparator)
	}
	return strings.HasPrefix(absPath, absDir)
}
