// Package acl implements the gitolite-v3 ACL resolver described in §4.E:
// for a given authenticated user, which repositories are readable. It
// batches per-user lookups across every repository known to the vhost in
// one request to the external helper (internal/aclhelper), mirroring the
// gitolite3.c comment that a single "gitolite access % user R" batch-read
// over stdin is far cheaper than one exec per repository.
//
// Concurrent callers asking about the same not-yet-known user collapse
// into a single in-flight backend query via singleflight, rather than
// each firing its own redundant round trip to the helper.
package acl

import (
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

// AllUsers is the gitolite "@all" pseudo-user: always allowed, without a
// backend round trip.
const AllUsers = "@all"

// Backend resolves, for one authenticated user, which of the given
// repository names that user may read. It is the seam ExecBackend and
// tests implement.
type Backend interface {
	Query(user string, repos []string) (map[string]bool, error)
}

// Resolver caches per-user ACL decisions for one vhost's repository set,
// invalidating the entire cache whenever the gitolite-admin repository
// (whose HEAD enumerates every access rule) advances, per §3 invariant 5
// ("an ACL decision is only ever reused while the admin-repo fingerprint
// that produced it is still current").
type Resolver struct {
	backend Backend

	mu          sync.RWMutex
	adminOID    string
	repos       []string
	knownUsers  map[string]bool
	validByRepo map[string]map[string]bool // repo -> set of allowed users

	sf singleflight.Group
}

// New returns a Resolver backed by backend.
func New(backend Backend) *Resolver {
	return &Resolver{
		backend:     backend,
		knownUsers:  make(map[string]bool),
		validByRepo: make(map[string]map[string]bool),
	}
}

// SetRepos updates the set of repository names the resolver tracks and
// the gitolite-admin HEAD oid that acl decisions are scoped to. If
// adminOID differs from the last call, every cached decision is dropped:
// the admin repo changing means some access rule may have changed, and
// nothing short of a fresh query can be trusted (§4.E step 2).
func (r *Resolver) SetRepos(repos []string, adminOID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if adminOID != r.adminOID {
		r.knownUsers = make(map[string]bool)
		r.validByRepo = make(map[string]map[string]bool)
		r.adminOID = adminOID
	}
	r.repos = append([]string(nil), repos...)
}

// AdminOID returns the gitolite-admin HEAD oid the resolver's cached
// decisions are currently scoped to, for callers that need to fold it
// into a fingerprint alongside the ACL decision itself.
func (r *Resolver) AdminOID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.adminOID
}

// Check reports whether authUser may read repoName. An empty authUser
// (anonymous, no gitolite identity resolved) is always denied; AllUsers
// is always allowed without touching the backend.
func (r *Resolver) Check(repoName, authUser string) (bool, error) {
	if authUser == AllUsers {
		return true, nil
	}
	if authUser == "" {
		return false, nil
	}

	if allowed, known := r.lookup(repoName, authUser); known {
		return allowed, nil
	}

	if _, err, _ := r.sf.Do(authUser, func() (interface{}, error) {
		return nil, r.refresh(authUser)
	}); err != nil {
		return false, err
	}

	allowed, _ := r.lookup(repoName, authUser)
	return allowed, nil
}

func (r *Resolver) lookup(repoName, authUser string) (allowed, known bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.knownUsers[authUser] {
		return false, false
	}
	return r.validByRepo[repoName][authUser], true
}

func (r *Resolver) refresh(authUser string) error {
	r.mu.RLock()
	repos := append([]string(nil), r.repos...)
	r.mu.RUnlock()

	result, err := r.backend.Query(authUser, repos)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.knownUsers[authUser] = true
	for _, repo := range repos {
		set := r.validByRepo[repo]
		if set == nil {
			set = make(map[string]bool)
			r.validByRepo[repo] = set
		}
		set[authUser] = result[repo]
	}
	return nil
}

// ForgetUser drops any cached decisions for authUser, forcing the next
// Check to requery the backend.
func (r *Resolver) ForgetUser(authUser string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.knownUsers, authUser)
	for _, set := range r.validByRepo {
		delete(set, authUser)
	}
}

// joinRepos renders repos as the newline-separated batch gitolite expects
// on stdin (package-internal; ExecBackend uses it to build the stdin
// file of its Record).
func joinRepos(repos []string) string {
	return strings.Join(repos, "\n")
}
