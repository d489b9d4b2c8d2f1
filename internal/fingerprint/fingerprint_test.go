package fingerprint

import "testing"

func TestComputeIsDeterministic(t *testing.T) {
	in := Inputs{
		Job:       JobTree,
		Count:     10,
		HasRepo:   true,
		RepoRefFP: [16]byte{1, 2, 3},
		RepoPath:  "/r/a.git",
		Mode:      "tree",
		SubPath:   "src",
		OIDInView: "deadbeef",
	}
	a := Compute(in)
	b := Compute(in)
	if a != b {
		t.Fatalf("Compute is not deterministic: %q != %q", a, b)
	}
	if len(a) != 32 {
		t.Fatalf("len(fingerprint) = %d, want 32", len(a))
	}
}

func TestComputeChangesWithRefFingerprint(t *testing.T) {
	base := Inputs{Job: JobLog, HasRepo: true, RepoPath: "/r/a.git", Mode: "log"}
	a := base
	a.RepoRefFP = [16]byte{1}
	b := base
	b.RepoRefFP = [16]byte{2}
	if Compute(a) == Compute(b) {
		t.Fatalf("fingerprint should change when the repo ref fingerprint changes")
	}
}

func TestRefListIgnoresOID(t *testing.T) {
	a := Inputs{Job: JobRefList, HasRepo: true, RepoPath: "/r/a.git", OIDInView: "aaa"}
	b := Inputs{Job: JobRefList, HasRepo: true, RepoPath: "/r/a.git", OIDInView: "bbb"}
	if Compute(a) != Compute(b) {
		t.Fatalf("ref-list fingerprint must not depend on oid-in-view")
	}
}

func TestNoRepoHashesVisibleRepoNames(t *testing.T) {
	a := Inputs{Job: JobRepoList, GitoliteAdminHeadOID: "x", VisibleRepoNames: []string{"a", "b"}}
	b := Inputs{Job: JobRepoList, GitoliteAdminHeadOID: "x", VisibleRepoNames: []string{"a", "c"}}
	if Compute(a) == Compute(b) {
		t.Fatalf("fingerprint should depend on the visible repo name list")
	}
}

func TestOtherRepoMetadataChangesInvalidate(t *testing.T) {
	base := Inputs{
		Job: JobTree, HasRepo: true, RepoPath: "/r/a.git", CurrentRepo: "a",
		OtherRepos: []RepoMeta{{Name: "b", Description: "desc1"}},
	}
	changed := base
	changed.OtherRepos = []RepoMeta{{Name: "b", Description: "desc2"}}
	if Compute(base) == Compute(changed) {
		t.Fatalf("fingerprint should change when another visible repo's metadata changes")
	}
}
