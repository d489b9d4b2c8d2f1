// Package repostate implements the repository-state tracker (§4.D): it
// enumerates a repository's refs, detects when they have changed, and
// recomputes the per-repo fingerprint that participates in every cache
// key for that repository, so a stale cached artifact is never served
// after a push.
package repostate

import (
	"crypto/md5"
	"sort"
	"sync"
	"time"

	"github.com/distr1/jsongit2/internal/gitio"
)

// MinCheckInterval bounds how often Update actually re-reads the refs of
// one repository, per §4.D's "rate-limited to at most one check per 3
// seconds per repo".
const MinCheckInterval = 3 * time.Second

// Tracker holds one repository's current ref set, kept in name order, and
// a hash-bucketed index by the first byte of each ref's OID for O(1)
// "what points at this commit" lookups (decorations).
type Tracker struct {
	mu sync.RWMutex

	refs        []gitio.Ref // sorted by Name
	byOIDBucket [16][]gitio.Ref

	fingerprint [16]byte
	lastCheck   time.Time
}

// New returns an empty Tracker; call Update at least once before reading
// Fingerprint/Refs.
func New() *Tracker { return &Tracker{} }

// Fingerprint returns the 16-byte MD5 summarizing the current ref set
// (§3 invariant 3): MD5 of the concatenation, in ref-name order, of each
// ref's name followed by its raw OID bytes.
func (t *Tracker) Fingerprint() [16]byte {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.fingerprint
}

// Refs returns a copy of the current ref list, sorted by name.
func (t *Tracker) Refs() []gitio.Ref {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]gitio.Ref, len(t.refs))
	copy(out, t.refs)
	return out
}

// Decorations returns every ref pointing at oid, via the oid-hash-bucket
// index, not a linear scan.
func (t *Tracker) Decorations(oid string) []gitio.Ref {
	if len(oid) == 0 {
		return nil
	}
	bucket := oidBucket(oid)
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []gitio.Ref
	for _, r := range t.byOIDBucket[bucket] {
		if r.OID == oid {
			out = append(out, r)
		}
	}
	return out
}

func oidBucket(hexOID string) int {
	if len(hexOID) == 0 {
		return 0
	}
	// low nibble of the oid's first byte, mirroring
	// jg2_oidbin's "(oid)->id[0] & (REF_HASH_SIZE - 1)": the low 4
	// bits of the first raw byte is the low nibble of the first hex
	// character pair, i.e. the second hex digit.
	var b byte
	n, _ := hexNibble(hexOID[1])
	b = n
	return int(b) & 0xf
}

func hexNibble(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

// Due reports whether enough time has elapsed since the last check for
// Update to be worth calling again.
func (t *Tracker) Due(now time.Time) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastCheck.IsZero() || now.Sub(t.lastCheck) >= MinCheckInterval
}

// Update re-reads refs from repo and recomputes the fingerprint if
// anything changed. It reports whether the fingerprint changed, so the
// caller can fire the vhost's refchange callback (§4.D step 5). Update is
// idempotent with respect to the rate limit: calling it before
// MinCheckInterval has elapsed is a no-op that reports no change.
func (t *Tracker) Update(repo gitio.Repository) (changed bool, err error) {
	now := time.Now()
	if !t.Due(now) {
		return false, nil
	}

	refs, err := repo.Refs()
	if err != nil {
		return false, err
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Name < refs[j].Name })

	fp := computeFingerprint(refs)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastCheck = now

	changed = fp != t.fingerprint || len(refs) != len(t.refs)
	if !changed {
		for i := range refs {
			if refs[i] != t.refs[i] {
				changed = true
				break
			}
		}
	}
	if !changed {
		return false, nil
	}

	t.refs = refs
	t.fingerprint = fp
	var buckets [16][]gitio.Ref
	for _, r := range refs {
		b := oidBucket(r.OID)
		buckets[b] = append(buckets[b], r)
	}
	t.byOIDBucket = buckets
	return true, nil
}

func computeFingerprint(refs []gitio.Ref) [16]byte {
	h := md5.New()
	for _, r := range refs {
		h.Write([]byte(r.Name))
		oidBytes, err := hexToBytes(r.OID)
		if err == nil {
			h.Write(oidBytes)
		}
	}
	var out [16]byte
	copy(out[:], h.Sum(nil))
	return out
}

func hexToBytes(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, errOddLength
	}
	out := make([]byte, len(s)/2)
	for i := range out {
		hi, ok1 := hexNibble(s[2*i])
		lo, ok2 := hexNibble(s[2*i+1])
		if !ok1 || !ok2 {
			return nil, errBadHex
		}
		out[i] = hi<<4 | lo
	}
	return out, nil
}

type hexError string

func (e hexError) Error() string { return string(e) }

const (
	errOddLength = hexError("odd-length hex string")
	errBadHex    = hexError("invalid hex digit")
)
