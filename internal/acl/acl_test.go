package acl

import (
	"errors"
	"testing"
)

type fakeBackend struct {
	calls   int
	allowed map[string]map[string]bool // user -> repo -> allowed
	err     error
}

func (f *fakeBackend) Query(user string, repos []string) (map[string]bool, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]bool, len(repos))
	for _, r := range repos {
		out[r] = f.allowed[user][r]
	}
	return out, nil
}

func TestAllUsersShortCircuits(t *testing.T) {
	fb := &fakeBackend{}
	r := New(fb)
	allowed, err := r.Check("anyrepo", AllUsers)
	if err != nil {
		t.Fatal(err)
	}
	if !allowed {
		t.Fatalf("@all should always be allowed")
	}
	if fb.calls != 0 {
		t.Fatalf("backend should not be queried for @all")
	}
}

func TestEmptyUserDenied(t *testing.T) {
	r := New(&fakeBackend{})
	allowed, err := r.Check("anyrepo", "")
	if err != nil {
		t.Fatal(err)
	}
	if allowed {
		t.Fatalf("anonymous user must be denied")
	}
}

func TestCheckCachesAfterFirstQuery(t *testing.T) {
	fb := &fakeBackend{allowed: map[string]map[string]bool{"alice": {"a": true, "b": false}}}
	r := New(fb)
	r.SetRepos([]string{"a", "b"}, "adminoid1")

	for i := 0; i < 5; i++ {
		allowed, err := r.Check("a", "alice")
		if err != nil {
			t.Fatal(err)
		}
		if !allowed {
			t.Fatalf("alice should be allowed on repo a")
		}
	}
	if fb.calls != 1 {
		t.Fatalf("backend queried %d times, want 1 (cached after first)", fb.calls)
	}

	allowed, err := r.Check("b", "alice")
	if err != nil {
		t.Fatal(err)
	}
	if allowed {
		t.Fatalf("alice should be denied on repo b")
	}
	if fb.calls != 1 {
		t.Fatalf("repo b should be answered from the same batched query, backend called %d times", fb.calls)
	}
}

func TestAdminOIDChangeInvalidatesCache(t *testing.T) {
	fb := &fakeBackend{allowed: map[string]map[string]bool{"alice": {"a": true}}}
	r := New(fb)
	r.SetRepos([]string{"a"}, "oid1")
	if _, err := r.Check("a", "alice"); err != nil {
		t.Fatal(err)
	}
	if fb.calls != 1 {
		t.Fatalf("expected 1 call, got %d", fb.calls)
	}

	r.SetRepos([]string{"a"}, "oid2")
	if _, err := r.Check("a", "alice"); err != nil {
		t.Fatal(err)
	}
	if fb.calls != 2 {
		t.Fatalf("admin oid change should force a fresh query, calls = %d", fb.calls)
	}
}

func TestBackendErrorPropagates(t *testing.T) {
	wantErr := errors.New("helper down")
	r := New(&fakeBackend{err: wantErr})
	_, err := r.Check("a", "alice")
	if err == nil {
		t.Fatalf("expected error to propagate")
	}
}

func TestForgetUserForcesRequery(t *testing.T) {
	fb := &fakeBackend{allowed: map[string]map[string]bool{"alice": {"a": true}}}
	r := New(fb)
	r.SetRepos([]string{"a"}, "oid1")
	if _, err := r.Check("a", "alice"); err != nil {
		t.Fatal(err)
	}
	r.ForgetUser("alice")
	if _, err := r.Check("a", "alice"); err != nil {
		t.Fatal(err)
	}
	if fb.calls != 2 {
		t.Fatalf("ForgetUser should force a new backend query, calls = %d", fb.calls)
	}
}
