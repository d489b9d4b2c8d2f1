package jsongit2

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/distr1/jsongit2/internal/acl"
	"github.com/distr1/jsongit2/internal/gitio"
)

type fakeRepo struct {
	refs    []gitio.Ref
	commits map[string]*gitio.Commit
	trees   map[string][]gitio.TreeEntry
	blobs   map[string]string
}

func (f *fakeRepo) Refs() ([]gitio.Ref, error) { return f.refs, nil }

func (f *fakeRepo) Resolve(rev string) (string, error) {
	if rev == "refs/heads/master" || rev == "HEAD" {
		return "c1c1c1c1c1c1c1c1c1c1c1c1c1c1c1c1c1c1c1c1", nil
	}
	for _, r := range f.refs {
		if r.Name == rev {
			return r.OID, nil
		}
	}
	if len(rev) == 40 {
		return rev, nil
	}
	return "", io.ErrUnexpectedEOF
}

func (f *fakeRepo) Commit(oid string) (*gitio.Commit, error) {
	c, ok := f.commits[oid]
	if !ok {
		return nil, io.ErrUnexpectedEOF
	}
	return c, nil
}

func (f *fakeRepo) Tree(commitOID, path string) ([]gitio.TreeEntry, error) {
	return f.trees[commitOID+":"+path], nil
}

func (f *fakeRepo) Blob(oid string) (io.ReadCloser, int64, error) {
	s := f.blobs[oid]
	return io.NopCloser(strings.NewReader(s)), int64(len(s)), nil
}

func (f *fakeRepo) IsBinary(oid string) (bool, error) { return false, nil }

func (f *fakeRepo) Diff(string) ([]gitio.FileDiff, error) { return nil, nil }

func (f *fakeRepo) Blame(string, string) ([]gitio.BlameHunk, error) { return nil, nil }

func (f *fakeRepo) WalkTree(string, func(string, gitio.TreeEntry) bool) error { return nil }

type fakeOpener struct {
	repo *fakeRepo
}

func (o fakeOpener) Open(path string) (gitio.Repository, error) {
	return o.repo, nil
}

func newTestRepo() *fakeRepo {
	masterOID := "c1c1c1c1c1c1c1c1c1c1c1c1c1c1c1c1c1c1c1c1"
	return &fakeRepo{
		refs: []gitio.Ref{{Name: "refs/heads/master", OID: masterOID}},
		commits: map[string]*gitio.Commit{
			masterOID: {
				OID:     masterOID,
				Tree:    "t1",
				Subject: "initial commit",
			},
		},
		trees: map[string][]gitio.TreeEntry{
			masterOID + ":": {
				{Name: "README.md", Mode: 0100644, OID: "b1b1b1b1b1b1b1b1b1b1b1b1b1b1b1b1b1b1b1b1", Type: gitio.ObjectBlob, Size: 5},
			},
		},
		blobs: map[string]string{
			"b1b1b1b1b1b1b1b1b1b1b1b1b1b1b1b1b1b1b1b1": "hello",
		},
	}
}

func drain(t *testing.T, ctx *Context) string {
	t.Helper()
	var sb strings.Builder
	buf := make([]byte, 256)
	for {
		n, done, err := ctx.Fill(buf)
		if err != nil {
			t.Fatalf("Fill: %v", err)
		}
		sb.Write(buf[:n])
		if done != 0 {
			break
		}
	}
	return sb.String()
}

func TestCreateContextTreeListing(t *testing.T) {
	v, err := NewVhost(Config{RepoBaseDir: "/repos", VirtualBaseURLPath: "/git"}, fakeOpener{repo: newTestRepo()})
	if err != nil {
		t.Fatal(err)
	}
	defer v.Destroy()
	v.RegisterRepo("myrepo", "desc", "owner", "")

	ctx, status, result := v.CreateContext(ContextArgs{RequestPath: "/myrepo"})
	if status != StatusOK {
		t.Fatalf("CreateContext status = %v", status)
	}
	if result.MimeType != "application/json" {
		t.Fatalf("MimeType = %q", result.MimeType)
	}
	defer ctx.Destroy()

	out := drain(t, ctx)
	if !strings.Contains(out, "README.md") {
		t.Fatalf("expected tree listing to mention README.md, got %s", out)
	}
}

func TestCreateContextRepoList(t *testing.T) {
	v, err := NewVhost(Config{RepoBaseDir: "/repos", ACLUser: "@all"}, fakeOpener{repo: newTestRepo()})
	if err != nil {
		t.Fatal(err)
	}
	defer v.Destroy()
	v.RegisterRepo("myrepo", "desc", "owner", "")

	ctx, status, _ := v.CreateContext(ContextArgs{RequestPath: "/", Authorized: "@all"})
	if status != StatusOK {
		t.Fatalf("CreateContext status = %v", status)
	}
	defer ctx.Destroy()

	out := drain(t, ctx)
	if !strings.Contains(out, "myrepo") {
		t.Fatalf("expected repo list to mention myrepo, got %s", out)
	}
}

func TestCreateContextACLDenied(t *testing.T) {
	v, err := NewVhost(Config{RepoBaseDir: "/repos"}, fakeOpener{repo: newTestRepo()})
	if err != nil {
		t.Fatal(err)
	}
	defer v.Destroy()
	v.RegisterRepo("myrepo", "desc", "owner", "")
	v.acl = acl.New(denyAllBackend{})

	_, status, _ := v.CreateContext(ContextArgs{RequestPath: "/myrepo", Authorized: "someuser"})
	if status != StatusACLDenied {
		t.Fatalf("CreateContext status = %v, want StatusACLDenied", status)
	}
}

type denyAllBackend struct{}

func (denyAllBackend) Query(user string, repos []string) (map[string]bool, error) {
	return map[string]bool{}, nil
}

func TestDestroyWhileRunningAbortsCache(t *testing.T) {
	dir := t.TempDir()
	v, err := NewVhost(Config{RepoBaseDir: "/repos", JSONCacheBase: dir}, fakeOpener{repo: newTestRepo()})
	if err != nil {
		t.Fatal(err)
	}
	defer v.Destroy()
	v.RegisterRepo("myrepo", "desc", "owner", "")

	ctx, status, _ := v.CreateContext(ContextArgs{RequestPath: "/myrepo"})
	if status != StatusOK {
		t.Fatalf("CreateContext status = %v", status)
	}
	if _, _, err := ctx.Fill(make([]byte, 8)); err != nil {
		t.Fatalf("Fill: %v", err)
	}
	ctx.DestroyWhileRunning()

	// the aborted entry's temp file must not be left in the cache dir
	err = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			t.Errorf("file left in cache dir after DestroyWhileRunning: %s", path)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}
