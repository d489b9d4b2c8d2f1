// Package fingerprint composes the MD5 cache key described in §4.G,
// feeding a fixed sequence of fields into one MD5 context so that any
// change to a visible input invalidates every cache entry that depended
// on it. It is a direct port of __jg2_job_compute_cache_hash
// (lib/job/job.c) to Go idiom: instead of writing through a
// vhost-supplied md5_* function-pointer quad, callers incrementally feed
// a Composer which wraps crypto/md5 (§9: "optional MD5 implementation" —
// the core here depends on the stdlib implementation because no
// retrieval-pack library offers a drop-in alternative hash, and MD5's
// specific byte layout is part of this format's on-disk contract).
package fingerprint

import (
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
)

// JobKind enumerates the job kinds that participate in item 1 of the
// fingerprint (job | epoch<<8).
type JobKind uint8

const (
	JobRefList JobKind = iota
	JobLog
	JobCommit
	JobCommitPatch
	JobTree
	JobPlain
	JobRepoList
	JobSnapshot
	JobBlame
	JobBlog
	JobSearchTrie
	JobSearchQuery
)

// Epoch is bumped whenever the JSON shape produced by this library
// changes, invalidating every previously cached artifact at once (§4.G
// item 1, JG2_JSON_EPOCH).
const Epoch = 1

// RepoMeta is the (description, owner, url) triple hashed for every
// visible repository other than the one currently in view (§4.G item 9).
type RepoMeta struct {
	Name, Description, Owner, URL string
}

// Inputs holds every field §4.G enumerates. Fields left at their zero
// value are simply not written to the hash, mirroring the C version's
// conditional md5_upd calls.
type Inputs struct {
	Job   JobKind
	Count uint32

	SearchTerm string // only used when Job != JobSearchTrie

	HasRepo        bool
	RepoRefFP      [16]byte // repo.Fingerprint(), only if HasRepo && Job != JobSearchTrie
	RepoPath       string   // only if HasRepo
	Mode           string   // only if HasRepo
	SubPath        string   // only if HasRepo && Job != JobSearchTrie
	OIDInView      string   // only if HasRepo; skipped entirely for ref-list/repo-list; blame uses the blob oid instead
	CurrentRepo    string   // name of the repo currently in view, excluded from item 9's metadata sweep
	OtherRepos     []RepoMeta

	// Fields used only when !HasRepo (list views):
	GitoliteAdminHeadOID string
	VisibleRepoNames     []string
}

// Compute returns the lowercase hex MD5 fingerprint for in, following the
// exact field order of §4.G / __jg2_job_compute_cache_hash.
func Compute(in Inputs) string {
	h := md5.New()

	// item 1: job | epoch<<8
	je := uint16(in.Job) | (uint16(Epoch) << 8)
	var je16 [2]byte
	binary.LittleEndian.PutUint16(je16[:], je)
	h.Write(je16[:])

	if in.Job != JobSearchTrie {
		// items 2 and 3: count, and the search term if any
		var c32 [4]byte
		binary.LittleEndian.PutUint32(c32[:], in.Count)
		h.Write(c32[:])
		if in.SearchTerm != "" {
			h.Write([]byte(in.SearchTerm))
		}
	}

	if in.HasRepo {
		// item 4: repo ref fingerprint
		if in.Job != JobSearchTrie {
			h.Write(in.RepoRefFP[:])
		}
		// item 5: repo path
		h.Write([]byte(in.RepoPath))
		// item 6: mode
		if in.Mode != "" {
			h.Write([]byte(in.Mode))
		}
		// item 7: sub-path
		if in.Job != JobSearchTrie && in.SubPath != "" {
			h.Write([]byte(in.SubPath))
		}
		// item 8: oid-in-view, per job-specific rules
		switch in.Job {
		case JobRefList, JobRepoList:
			// doesn't use oid perspective
		default:
			if in.OIDInView != "" {
				h.Write([]byte(in.OIDInView))
			}
		}
		// item 9: every visible repo's non-empty (desc, owner, url)
		// except the one currently named
		if in.Job != JobSearchTrie && in.CurrentRepo != "" {
			for _, r := range in.OtherRepos {
				if r.Name == in.CurrentRepo {
					continue
				}
				writeNonEmpty(h, r.Description)
				writeNonEmpty(h, r.Owner)
				writeNonEmpty(h, r.URL)
			}
		}
	} else {
		// item 10: no repo bound — hash the gitolite-admin head oid,
		// then the names of every repo visible to the caller.
		h.Write([]byte(in.GitoliteAdminHeadOID))
		for _, name := range in.VisibleRepoNames {
			h.Write([]byte(name))
		}
	}

	return hex.EncodeToString(h.Sum(nil))
}

func writeNonEmpty(h interface{ Write([]byte) (int, error) }, s string) {
	if s != "" {
		h.Write([]byte(s))
	}
}
