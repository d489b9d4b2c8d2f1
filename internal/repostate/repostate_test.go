package repostate

import (
	"io"
	"sort"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/distr1/jsongit2/internal/gitio"
)

type fakeRepo struct {
	refs []gitio.Ref
}

func (f *fakeRepo) Refs() ([]gitio.Ref, error)                      { return f.refs, nil }
func (f *fakeRepo) Resolve(string) (string, error)                  { return "", nil }
func (f *fakeRepo) Commit(string) (*gitio.Commit, error)            { return nil, nil }
func (f *fakeRepo) Tree(string, string) ([]gitio.TreeEntry, error)  { return nil, nil }
func (f *fakeRepo) Blob(string) (io.ReadCloser, int64, error)       { return nil, 0, nil }
func (f *fakeRepo) IsBinary(string) (bool, error)                   { return false, nil }
func (f *fakeRepo) Diff(string) ([]gitio.FileDiff, error)           { return nil, nil }
func (f *fakeRepo) Blame(string, string) ([]gitio.BlameHunk, error) { return nil, nil }
func (f *fakeRepo) WalkTree(string, func(string, gitio.TreeEntry) bool) error {
	return nil
}

func TestUpdateDetectsChange(t *testing.T) {
	repo := &fakeRepo{refs: []gitio.Ref{{Name: "refs/heads/master", OID: "0123456789abcdef0123456789abcdef01234567"}}}
	tr := New()

	changed, err := tr.Update(repo)
	if err != nil {
		t.Fatal(err)
	}
	if !changed {
		t.Fatalf("first Update should report changed")
	}
	fp1 := tr.Fingerprint()

	tr.lastCheck = time.Time{} // force past the rate limit for the test
	repo.refs[0].OID = "fedcba9876543210fedcba9876543210fedcba9"
	changed, err = tr.Update(repo)
	if err != nil {
		t.Fatal(err)
	}
	if !changed {
		t.Fatalf("Update after oid change should report changed")
	}
	if tr.Fingerprint() == fp1 {
		t.Fatalf("fingerprint did not change after ref oid changed")
	}
}

func TestUpdateRateLimited(t *testing.T) {
	repo := &fakeRepo{refs: []gitio.Ref{{Name: "refs/heads/master", OID: "0123456789abcdef0123456789abcdef01234567"}}}
	tr := New()
	if _, err := tr.Update(repo); err != nil {
		t.Fatal(err)
	}
	repo.refs[0].OID = "1111111111111111111111111111111111111111"
	changed, err := tr.Update(repo)
	if err != nil {
		t.Fatal(err)
	}
	if changed {
		t.Fatalf("Update should be rate-limited immediately after the first call")
	}
}

func TestDecorationsLookup(t *testing.T) {
	repo := &fakeRepo{refs: []gitio.Ref{
		{Name: "refs/heads/master", OID: "abcd000000000000000000000000000000000a"},
		{Name: "refs/tags/v1", OID: "abcd000000000000000000000000000000000a"},
		{Name: "refs/heads/other", OID: "1234000000000000000000000000000000000b"},
	}}
	tr := New()
	if _, err := tr.Update(repo); err != nil {
		t.Fatal(err)
	}
	decs := tr.Decorations("abcd000000000000000000000000000000000a")
	sort.Slice(decs, func(i, j int) bool { return decs[i].Name < decs[j].Name })
	want := []gitio.Ref{
		{Name: "refs/heads/master", OID: "abcd000000000000000000000000000000000a"},
		{Name: "refs/tags/v1", OID: "abcd000000000000000000000000000000000a"},
	}
	if diff := cmp.Diff(want, decs); diff != "" {
		t.Fatalf("Decorations mismatch (-want +got):\n%s", diff)
	}
}
