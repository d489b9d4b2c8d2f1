package urlpath

import "testing"

func TestParseBasic(t *testing.T) {
	req, err := Parse("/a/tree/src/main.go", "h=develop&id=deadbeef&s=10&q=needle")
	if err != nil {
		t.Fatal(err)
	}
	if req.RepoName != "a" || req.Mode != ModeTree || req.SubPath != "src/main.go" {
		t.Fatalf("unexpected parse: %+v", req)
	}
	if req.Branch != "develop" || req.OID != "deadbeef" || req.Offset != 10 || req.Search != "needle" {
		t.Fatalf("unexpected query fields: %+v", req)
	}
}

func TestParseRejectsDotDot(t *testing.T) {
	if _, err := Parse("/../etc/passwd", ""); err == nil {
		t.Fatalf("expected error for traversal attempt")
	}
}

func TestResolveModeDefaults(t *testing.T) {
	empty, _ := Parse("/", "")
	if empty.ResolveMode(false) != ModeRepos {
		t.Fatalf("empty repo name should default to repos mode")
	}
	named, _ := Parse("/a", "")
	if named.ResolveMode(false) != ModeTree {
		t.Fatalf("named repo with no mode should default to tree")
	}
	if named.ResolveMode(true) != ModeBlog {
		t.Fatalf("blog vhost mode should default to blog")
	}
}

func TestVirtualRefPrecedence(t *testing.T) {
	withOID, _ := Parse("/a", "id=cafe")
	if withOID.VirtualRef(true) != "cafe" {
		t.Fatalf("oid should win")
	}
	withBranch, _ := Parse("/a", "h=feature")
	if withBranch.VirtualRef(true) != "refs/heads/feature" {
		t.Fatalf("branch should resolve to refs/heads/feature")
	}
	bare, _ := Parse("/a", "")
	if bare.VirtualRef(true) != "refs/heads/master" {
		t.Fatalf("should default to master when present")
	}
	if bare.VirtualRef(false) != "refs/heads/main" {
		t.Fatalf("should fall back to main when master absent")
	}
}
