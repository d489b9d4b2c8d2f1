package jobs

import (
	"archive/tar"
	"archive/zip"
	"context"
	"io"
	"os/exec"
	"strings"

	"github.com/klauspost/pgzip"
	"golang.org/x/xerrors"

	"github.com/distr1/jsongit2/internal/engine"
	"github.com/distr1/jsongit2/internal/gitio"
)

// Format is a snapshot archive suffix (§6 "Snapshot archive formats").
type Format int

const (
	FormatTarGz Format = iota
	FormatTarBz2
	FormatTarXz
	FormatZip
)

// FormatFromSuffix maps a requested filename's suffix to a Format.
func FormatFromSuffix(name string) (Format, bool) {
	switch {
	case strings.HasSuffix(name, ".tar.gz"):
		return FormatTarGz, true
	case strings.HasSuffix(name, ".tar.bz2"):
		return FormatTarBz2, true
	case strings.HasSuffix(name, ".tar.xz"):
		return FormatTarXz, true
	case strings.HasSuffix(name, ".zip"):
		return FormatZip, true
	}
	return 0, false
}

const maxTreeDepth = 16

// Snapshot streams an archive of a revision's tree (§4.H.2). The tree
// walk uses an explicit bounded stack rather than recursion, matching
// the 16-deep limit of the original tree-walk; a goroutine writes the
// archive into an io.Pipe and each Step copies up to maxBytes of it into
// the Sink, so no separate spill arena is needed in the Go port.
type Snapshot struct {
	Repo   gitio.Repository
	OID    string
	Format Format

	pipeR       *io.PipeReader
	pipeW       *io.PipeWriter
	externalOut io.Reader
	errCh       chan error
	closed      bool
}

type treeFrame struct {
	prefix  string
	entries []gitio.TreeEntry
	idx     int
}

func (s *Snapshot) Start(ctx context.Context) error {
	pr, pw := io.Pipe()
	s.pipeR, s.pipeW = pr, pw
	s.errCh = make(chan error, 1)

	go func() {
		s.errCh <- s.build(pw)
		pw.Close()
	}()

	if s.Format == FormatTarBz2 || s.Format == FormatTarXz {
		return s.startExternalRecompress()
	}
	return nil
}

// startExternalRecompress wraps pipeR with an external bzip2/xz encoder
// process, since neither the teacher's nor the retrieval pack's Go
// dependencies include a bz2 or xz encoder (only stdlib bzip2/flate
// *decoders* exist; pgzip and archive/zip cover gzip and deflate, but
// bz2/xz writers are not available as pack libraries), matching the
// original's own reliance on shelling out to system compressors for
// these two formats.
func (s *Snapshot) startExternalRecompress() error {
	name := "bzip2"
	if s.Format == FormatTarXz {
		name = "xz"
	}
	cmd := exec.Command(name, "-c")
	cmd.Stdin = s.pipeR
	out, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return xerrors.Errorf("start %s: %w", name, err)
	}
	s.pipeR = nil
	recompressed, w := io.Pipe()
	go func() {
		_, copyErr := io.Copy(w, out)
		waitErr := cmd.Wait()
		if copyErr == nil {
			copyErr = waitErr
		}
		w.CloseWithError(copyErr)
	}()
	s.externalOut = recompressed
	return nil
}

func (s *Snapshot) build(w io.Writer) error {
	switch s.Format {
	case FormatZip:
		return s.buildZip(w)
	default:
		return s.buildTar(w)
	}
}

func (s *Snapshot) buildTar(w io.Writer) error {
	var tw *tar.Writer
	if s.Format == FormatTarGz {
		gz := pgzip.NewWriter(w)
		defer gz.Close()
		tw = tar.NewWriter(gz)
	} else {
		tw = tar.NewWriter(w)
	}
	defer tw.Close()

	return s.walk(func(path string, e gitio.TreeEntry, data []byte) error {
		hdr := &tar.Header{
			Name: path,
			Mode: int64(e.Mode),
			Size: int64(len(data)),
		}
		if e.Type == gitio.ObjectTree {
			hdr.Typeflag = tar.TypeDir
			hdr.Name += "/"
		} else {
			hdr.Typeflag = tar.TypeReg
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if e.Type != gitio.ObjectTree {
			_, err := tw.Write(data)
			return err
		}
		return nil
	})
}

func (s *Snapshot) buildZip(w io.Writer) error {
	zw := zip.NewWriter(w)
	defer zw.Close()

	return s.walk(func(path string, e gitio.TreeEntry, data []byte) error {
		if e.Type == gitio.ObjectTree {
			_, err := zw.Create(path + "/")
			return err
		}
		fw, err := zw.Create(path)
		if err != nil {
			return err
		}
		_, err = fw.Write(data)
		return err
	})
}

func (s *Snapshot) walk(emit func(path string, e gitio.TreeEntry, data []byte) error) error {
	rootEntries, err := s.Repo.Tree(s.OID, "")
	if err != nil {
		return err
	}
	stack := []treeFrame{{prefix: "", entries: rootEntries}}

	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.idx >= len(top.entries) {
			stack = stack[:len(stack)-1]
			continue
		}
		e := top.entries[top.idx]
		top.idx++
		fullPath := e.Name
		if top.prefix != "" {
			fullPath = top.prefix + "/" + e.Name
		}

		if e.Type == gitio.ObjectTree {
			if err := emit(fullPath, e, nil); err != nil {
				return err
			}
			if len(stack) >= maxTreeDepth {
				continue
			}
			children, err := s.Repo.Tree(s.OID, fullPath)
			if err != nil {
				return err
			}
			stack = append(stack, treeFrame{prefix: fullPath, entries: children})
			continue
		}

		rc, _, err := s.Repo.Blob(e.OID)
		if err != nil {
			return err
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return err
		}
		if err := emit(fullPath, e, data); err != nil {
			return err
		}
	}
	return nil
}

// reader selects whichever pipe currently carries the final compressed
// bytes: the direct build pipe for tar.gz/zip, or the external
// recompressor's output pipe for tar.bz2/tar.xz.
func (s *Snapshot) reader() io.Reader {
	if s.externalOut != nil {
		return s.externalOut
	}
	return s.pipeR
}

func (s *Snapshot) Step(ctx context.Context, sink *engine.Sink, maxBytes int) (bool, error) {
	buf := make([]byte, maxBytes)
	n, err := s.reader().Read(buf)
	if n > 0 {
		sink.Write(buf[:n])
	}
	if err == io.EOF {
		if buildErr := <-s.errCh; buildErr != nil {
			return false, buildErr
		}
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return false, nil
}

func (s *Snapshot) Destroy() {
	if s.closed {
		return
	}
	s.closed = true
	if s.pipeR != nil {
		s.pipeR.Close()
	}
	if c, ok := s.externalOut.(io.Closer); ok {
		c.Close()
	}
}

func (s *Snapshot) DestroyWhileRunning() { s.Destroy() }
