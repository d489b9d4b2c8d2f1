// Package urlpath implements the repository resolver described in §4.I:
// splitting the boundary path shape
// "/<virtual_base>/<reponame>[/<mode>[/<subpath>]]" plus its query
// parameters into a structured record, rather than doing in-place string
// surgery (spec §9 "URL parsing ... rewrite as a structured parser
// producing a tagged record").
package urlpath

import (
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/xerrors"
)

// Mode is one of the request modes enumerated in §6.
type Mode string

const (
	ModeNone     Mode = ""
	ModeLog      Mode = "log"
	ModeTree     Mode = "tree"
	ModeBlame    Mode = "blame"
	ModeBlob     Mode = "blob"
	ModePlain    Mode = "plain"
	ModeCommit   Mode = "commit"
	ModePatch    Mode = "patch"
	ModeSnapshot Mode = "snapshot"
	ModeTags     Mode = "tags"
	ModeBranches Mode = "branches"
	ModeSummary  Mode = "summary"
	ModeRepos    Mode = "repos"
	ModeBlog     Mode = "blog"
	ModeAC       Mode = "ac"
	ModeFP       Mode = "fp"
	ModeSearch   Mode = "search"
)

// Request is the parsed form of a boundary path plus its query string.
type Request struct {
	RepoName string
	Mode     Mode
	SubPath  string

	Branch string // h=
	OID    string // id=
	Offset int    // s=
	Search string // q=
}

// Parse splits rawPath (already stripped of the vhost's virtual base) and
// rawQuery into a Request. It rejects ".." path segments in the repo name
// position as a traversal guard.
func Parse(rawPath, rawQuery string) (Request, error) {
	var req Request

	trimmed := strings.Trim(rawPath, "/")
	var segs []string
	if trimmed != "" {
		segs = strings.Split(trimmed, "/")
	}

	if len(segs) > 0 {
		if segs[0] == ".." || strings.Contains(segs[0], "..") {
			return Request{}, xerrors.New("invalid repo name segment")
		}
		req.RepoName = segs[0]
	}
	if len(segs) > 1 {
		req.Mode = Mode(segs[1])
	}
	if len(segs) > 2 {
		req.SubPath = strings.Join(segs[2:], "/")
	}

	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return Request{}, xerrors.Errorf("parse query: %w", err)
	}
	req.Branch = values.Get("h")
	req.OID = values.Get("id")
	req.Search = values.Get("q")
	if s := values.Get("s"); s != "" {
		off, err := strconv.Atoi(s)
		if err != nil {
			return Request{}, xerrors.Errorf("invalid offset %q: %w", s, err)
		}
		req.Offset = off
	}

	return req, nil
}

// ResolveMode applies the default-mode rule of §4.I: blog mode defaults
// empty mode to "blog"; otherwise an empty repo name with no mode means
// the repo-list view, and a named repo with no mode means "tree".
func (r Request) ResolveMode(blogMode bool) Mode {
	if r.Mode != ModeNone {
		return r.Mode
	}
	if blogMode {
		return ModeBlog
	}
	if r.RepoName == "" {
		return ModeRepos
	}
	return ModeTree
}

// VirtualRef resolves the "virtual id" precedence of §4.I: an explicit
// oid wins, then an explicit branch name, then refs/heads/master, with
// hasMasterRef telling the caller whether to fall back further to
// refs/heads/main.
func (r Request) VirtualRef(hasMasterRef bool) string {
	if r.OID != "" {
		return r.OID
	}
	if r.Branch != "" {
		return "refs/heads/" + r.Branch
	}
	if hasMasterRef {
		return "refs/heads/master"
	}
	return "refs/heads/main"
}

// IsBlogDescription reports whether a repository description string
// marks that repository as blog-mode, per §4.I's "a repo description
// beginning with +".
func IsBlogDescription(desc string) bool {
	return strings.HasPrefix(desc, "+")
}
