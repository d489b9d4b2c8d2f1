package gitio

import (
	"bytes"
	"io"
	"strings"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"golang.org/x/xerrors"
)

// GoGitOpener opens bare repositories with go-git.
type GoGitOpener struct{}

// Open implements Opener.
func (GoGitOpener) Open(path string) (Repository, error) {
	r, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: false})
	if err != nil {
		return nil, xerrors.Errorf("open %s: %w", path, err)
	}
	return &goGitRepo{repo: r}, nil
}

type goGitRepo struct {
	repo *git.Repository
}

func (g *goGitRepo) Refs() ([]Ref, error) {
	iter, err := g.repo.References()
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []Ref
	err = iter.ForEach(func(r *plumbing.Reference) error {
		name := r.Name().String()
		if !strings.HasPrefix(name, "refs/heads/") && !strings.HasPrefix(name, "refs/tags/") {
			return nil
		}
		if r.Type() != plumbing.HashReference {
			return nil
		}
		out = append(out, Ref{Name: name, OID: r.Hash().String()})
		return nil
	})
	return out, err
}

func (g *goGitRepo) Resolve(revision string) (string, error) {
	h, err := g.repo.ResolveRevision(plumbing.Revision(revision))
	if err != nil {
		return "", xerrors.Errorf("resolve %s: %w", revision, err)
	}
	return h.String(), nil
}

func (g *goGitRepo) Commit(oid string) (*Commit, error) {
	c, err := g.repo.CommitObject(plumbing.NewHash(oid))
	if err != nil {
		return nil, xerrors.Errorf("commit %s: %w", oid, err)
	}
	return goGitCommitToCommit(c), nil
}

func goGitCommitToCommit(c *object.Commit) *Commit {
	subject, body := splitMessage(c.Message)
	parents := make([]string, len(c.ParentHashes))
	for i, p := range c.ParentHashes {
		parents[i] = p.String()
	}
	return &Commit{
		OID:       c.Hash.String(),
		Tree:      c.TreeHash.String(),
		Parents:   parents,
		Author:    sigFromGoGit(c.Author),
		Committer: sigFromGoGit(c.Committer),
		Subject:   subject,
		Body:      body,
	}
}

func sigFromGoGit(s object.Signature) Signature {
	return Signature{Name: s.Name, Email: s.Email, When: s.When}
}

func splitMessage(msg string) (subject, body string) {
	msg = strings.TrimRight(msg, "\n")
	parts := strings.SplitN(msg, "\n\n", 2)
	subject = strings.TrimRight(parts[0], "\n")
	if len(parts) == 2 {
		body = parts[1]
	}
	return subject, body
}

func entryType(mode filemode.FileMode) ObjectType {
	switch mode {
	case filemode.Dir:
		return ObjectTree
	case filemode.Submodule:
		return ObjectCommit
	default:
		return ObjectBlob
	}
}

func (g *goGitRepo) Tree(commitOID, path string) ([]TreeEntry, error) {
	c, err := g.repo.CommitObject(plumbing.NewHash(commitOID))
	if err != nil {
		return nil, err
	}
	tree, err := c.Tree()
	if err != nil {
		return nil, err
	}
	if path != "" {
		tree, err = tree.Tree(path)
		if err != nil {
			return nil, xerrors.Errorf("subtree %s: %w", path, err)
		}
	}
	out := make([]TreeEntry, 0, len(tree.Entries))
	for _, e := range tree.Entries {
		te := TreeEntry{Name: e.Name, Mode: uint32(e.Mode), OID: e.Hash.String(), Type: entryType(e.Mode)}
		if te.Type == ObjectBlob {
			if blob, err := g.repo.BlobObject(e.Hash); err == nil {
				te.Size = blob.Size
			}
		}
		out = append(out, te)
	}
	return out, nil
}

func (g *goGitRepo) Blob(oid string) (io.ReadCloser, int64, error) {
	b, err := g.repo.BlobObject(plumbing.NewHash(oid))
	if err != nil {
		return nil, 0, err
	}
	rd, err := b.Reader()
	if err != nil {
		return nil, 0, err
	}
	return rd, b.Size, nil
}

func (g *goGitRepo) IsBinary(oid string) (bool, error) {
	rd, _, err := g.Blob(oid)
	if err != nil {
		return false, err
	}
	defer rd.Close()
	buf := make([]byte, 8000)
	n, _ := io.ReadFull(rd, buf)
	return bytes.IndexByte(buf[:n], 0) != -1, nil
}

func (g *goGitRepo) Diff(commitOID string) ([]FileDiff, error) {
	c, err := g.repo.CommitObject(plumbing.NewHash(commitOID))
	if err != nil {
		return nil, err
	}
	var from *object.Tree
	if len(c.ParentHashes) > 0 {
		parent, err := c.Parent(0)
		if err != nil {
			return nil, err
		}
		from, err = parent.Tree()
		if err != nil {
			return nil, err
		}
	}
	to, err := c.Tree()
	if err != nil {
		return nil, err
	}
	patch, err := from.Patch(to)
	if err != nil {
		return nil, xerrors.Errorf("diff %s: %w", commitOID, err)
	}

	var out []FileDiff
	for _, fp := range patch.FilePatches() {
		fromFile, toFile := fp.Files()
		fd := FileDiff{}
		if fromFile != nil {
			fd.OldPath = fromFile.Path()
		}
		if toFile != nil {
			fd.NewPath = toFile.Path()
		}
		for _, chunk := range fp.Chunks() {
			origin := byte(' ')
			switch chunk.Type() {
			case 1: // Add
				origin = '+'
			case 2: // Delete
				origin = '-'
			}
			for _, line := range strings.SplitAfter(chunk.Content(), "\n") {
				if line == "" {
					continue
				}
				fd.Lines = append(fd.Lines, DiffLine{Origin: origin, Text: strings.TrimSuffix(line, "\n")})
			}
		}
		out = append(out, fd)
	}
	return out, nil
}

func (g *goGitRepo) Blame(commitOID, path string) ([]BlameHunk, error) {
	c, err := g.repo.CommitObject(plumbing.NewHash(commitOID))
	if err != nil {
		return nil, err
	}
	result, err := git.Blame(c, path)
	if err != nil {
		return nil, xerrors.Errorf("blame %s:%s: %w", commitOID, path, err)
	}

	var hunks []BlameHunk
	for i, line := range result.Lines {
		sig := Signature{Name: line.AuthorName, Email: line.Author, When: line.Date}
		oid := line.Hash.String()
		if len(hunks) > 0 && hunks[len(hunks)-1].FinalCommit == oid {
			hunks[len(hunks)-1].LinesInHunk++
			continue
		}
		hunks = append(hunks, BlameHunk{
			LinesInHunk:    1,
			OrigStartLine:  i + 1,
			FinalStartLine: i + 1,
			OrigCommit:     oid,
			FinalCommit:    oid,
			OrigSignature:  sig,
			FinalSignature: sig,
		})
	}
	for i := range hunks {
		if oc, err := g.repo.CommitObject(plumbing.NewHash(hunks[i].FinalCommit)); err == nil {
			subj, _ := splitMessage(oc.Message)
			hunks[i].OrigSummary = subj
			hunks[i].FinalSummary = subj
		}
	}
	return hunks, nil
}

func (g *goGitRepo) WalkTree(commitOID string, visit func(path string, e TreeEntry) bool) error {
	c, err := g.repo.CommitObject(plumbing.NewHash(commitOID))
	if err != nil {
		return err
	}
	root, err := c.Tree()
	if err != nil {
		return err
	}

	type frame struct {
		prefix string
		tree   *object.Tree
		idx    int
	}
	// explicit, bounded-depth stack: mirrors the job engine's own
	// 16-deep tree_iter_level stack (§4.H.2/§4.H.4) rather than
	// recursing, so deep trees cannot blow the Go call stack and the
	// walk shape matches the 16-deep limit of the archive producer.
	const maxDepth = 16
	stack := make([]frame, 0, maxDepth)
	stack = append(stack, frame{tree: root})

	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.idx >= len(top.tree.Entries) {
			stack = stack[:len(stack)-1]
			continue
		}
		e := top.tree.Entries[top.idx]
		top.idx++

		name := e.Name
		if top.prefix != "" {
			name = top.prefix + "/" + e.Name
		}
		te := TreeEntry{Name: name, Mode: uint32(e.Mode), OID: e.Hash.String(), Type: entryType(e.Mode)}

		if te.Type == ObjectTree {
			if len(stack) >= maxDepth {
				continue // bounded depth: skip deeper directories
			}
			sub, err := object.GetTree(g.repo.Storer, e.Hash)
			if err != nil {
				continue
			}
			if !visit(name, te) {
				return nil
			}
			stack = append(stack, frame{prefix: name, tree: sub})
			continue
		}

		if blob, err := g.repo.BlobObject(e.Hash); err == nil {
			te.Size = blob.Size
		}
		if !visit(name, te) {
			return nil
		}
	}
	return nil
}
