// jg2-example is a minimal demonstration of using jsongit2 from the
// commandline: it takes a repo base dir and a fake "url" against a bare
// git repo, and writes the corresponding JSON to stdout.
//
//	jg2-example /srv/repositories /git/myrepo
//	jg2-example /srv/repositories /git/myrepo/commit?id=somehash
//	jg2-example /srv/repositories /git/myrepo/log?h=mybranch
//
// The "/git" part simulates the virtual URL prefix a webserver would
// have already stripped before handing the path to the library.
package main

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"

	"github.com/distr1/jsongit2"
	"github.com/distr1/jsongit2/internal/acl"
	"github.com/distr1/jsongit2/internal/gitio"
	"github.com/distr1/jsongit2/internal/oninterrupt"
)

const urlVirtualPart = "/git"

func bumpRlimitNOFILE() error {
	var cur unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &cur); err != nil {
		return err
	}
	if cur.Cur >= cur.Max {
		return nil
	}
	cur.Cur = cur.Max
	return unix.Setrlimit(unix.RLIMIT_NOFILE, &cur)
}

func funcmain() error {
	if len(os.Args) < 3 || len(os.Args[2]) < len(urlVirtualPart) {
		return xerrors.Errorf("Usage: %s <repo base dir> <\"/git/... url path\">", os.Args[0])
	}

	if err := bumpRlimitNOFILE(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: bumping RLIMIT_NOFILE failed: %v\n", err)
	}

	cfg := jsongit2.Config{
		VirtualBaseURLPath: urlVirtualPart,
		RepoBaseDir:        os.Args[1],
		// For the demo we allow the fixed vhost identity to see every
		// repo; a real host would set this to its gitolite user.
		ACLUser: acl.AllUsers,
	}

	vh, err := jsongit2.NewVhost(cfg, gitio.GoGitOpener{})
	if err != nil {
		return xerrors.Errorf("vhost_create: %w", err)
	}
	defer vh.Destroy()

	requestPath := os.Args[2][len(urlVirtualPart):]
	ctx, status, result := vh.CreateContext(jsongit2.ContextArgs{
		RequestPath: requestPath,
		Authorized:  acl.AllUsers,
	})
	if status != jsongit2.StatusOK {
		return xerrors.Errorf("context_create for %s: %s", os.Args[2], status)
	}
	defer ctx.Destroy()

	// a long-running snapshot/blame fill against a big repo can be
	// cut short cleanly instead of leaving a half-written cache entry.
	oninterrupt.Register(func() {
		ctx.DestroyWhileRunning()
	})

	if isatty.IsTerminal(os.Stderr.Fd()) {
		fmt.Fprintf(os.Stderr, "mimetype=%s etag=%s\n", result.MimeType, result.ETag)
	}

	buf := make([]byte, 4096)
	for {
		n, done, err := ctx.Fill(buf)
		if err != nil {
			return xerrors.Errorf("context_fill: %w", err)
		}
		if n > 0 {
			if _, werr := os.Stdout.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if done != 0 {
			break
		}
	}

	return nil
}

func main() {
	if err := funcmain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
