package jobs

import (
	"context"
	"io"
	"path"
	"strings"

	"github.com/distr1/jsongit2/internal/engine"
	"github.com/distr1/jsongit2/internal/gitio"
)

// mimeBySuffix is the small suffix→content-type table §4.H.1 "plain"
// describes.
var mimeBySuffix = map[string]string{
	".go":   "text/plain; charset=utf-8",
	".c":    "text/plain; charset=utf-8",
	".h":    "text/plain; charset=utf-8",
	".md":   "text/plain; charset=utf-8",
	".txt":  "text/plain; charset=utf-8",
	".json": "application/json",
	".html": "text/html; charset=utf-8",
	".css":  "text/css; charset=utf-8",
	".js":   "application/javascript",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".svg":  "image/svg+xml",
	".pdf":  "application/pdf",
}

// ContentTypeFor picks a MIME type from a blob's path suffix, defaulting
// to application/octet-stream.
func ContentTypeFor(p string) string {
	if ct, ok := mimeBySuffix[strings.ToLower(path.Ext(p))]; ok {
		return ct
	}
	return "application/octet-stream"
}

// Plain streams the raw bytes of a blob with no JSON framing (§4.H.1
// "plain"). Patch mode uses the separate Patch producer.
type Plain struct {
	Repo gitio.Repository
	OID  string

	rc   io.ReadCloser
	done bool
}

func (p *Plain) Start(context.Context) error {
	rc, _, err := p.Repo.Blob(p.OID)
	if err != nil {
		return err
	}
	p.rc = rc
	return nil
}

func (p *Plain) Step(ctx context.Context, sink *engine.Sink, maxBytes int) (bool, error) {
	if p.done {
		return true, nil
	}
	buf := make([]byte, maxBytes)
	n, err := p.rc.Read(buf)
	if n > 0 {
		sink.Write(buf[:n])
	}
	if err == io.EOF {
		p.done = true
		p.rc.Close()
		return true, nil
	}
	if err != nil {
		p.rc.Close()
		return false, err
	}
	return false, nil
}

func (p *Plain) Destroy() {
	if p.rc != nil {
		p.rc.Close()
	}
}

func (p *Plain) DestroyWhileRunning() { p.Destroy() }
