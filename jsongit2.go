// Package jsongit2 streams the state of local bare git repositories as
// JSON (or raw derived artifacts) over the narrow pull API described in
// §6: Vhost → Context → repeated Fill(buf) → Destroy.
package jsongit2

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/xerrors"

	"github.com/distr1/jsongit2/internal/acl"
	"github.com/distr1/jsongit2/internal/aclhelper"
	"github.com/distr1/jsongit2/internal/cache"
	"github.com/distr1/jsongit2/internal/engine"
	"github.com/distr1/jsongit2/internal/engine/jobs"
	"github.com/distr1/jsongit2/internal/fingerprint"
	"github.com/distr1/jsongit2/internal/gitio"
	"github.com/distr1/jsongit2/internal/htmlsandwich"
	"github.com/distr1/jsongit2/internal/identity"
	"github.com/distr1/jsongit2/internal/repostate"
	"github.com/distr1/jsongit2/internal/urlpath"
)

// Vhost is a long-lived configuration-and-state binding (§3 "Vhost").
// Many Contexts are created from one Vhost across many host threads.
type Vhost struct {
	cfg    Config
	opener gitio.Opener
	log    *log.Logger

	cacheDir *cache.Cache
	trimmer  *cache.Trimmer
	worker   *cache.Worker

	emails *identity.Cache
	acl    *acl.Resolver
	helper *aclhelper.Helper

	sandwich *htmlsandwich.Sandwich

	mu       sync.Mutex
	repos    map[string]*openRepo
	repoMeta map[string]jobs.RepoSummary

	genCounter uint32
}

type openRepo struct {
	mu      sync.Mutex
	name    string
	git     gitio.Repository
	tracker *repostate.Tracker
	indexes map[string]*jobs.OngoingIndex // keyed by ref fingerprint hex
}

// NewVhost implements vhost_create.
func NewVhost(cfg Config, opener gitio.Opener) (*Vhost, error) {
	if cfg.RepoBaseDir == "" {
		return nil, xerrors.New("RepoBaseDir is required")
	}
	if cfg.EmailHashBins == 0 {
		cfg.EmailHashBins = 64
	}
	if cfg.EmailHashDepth == 0 {
		cfg.EmailHashDepth = 8
	}

	v := &Vhost{
		cfg:      cfg,
		opener:   opener,
		log:      cfg.logger(),
		repos:    make(map[string]*openRepo),
		repoMeta: make(map[string]jobs.RepoSummary),
	}

	v.emails = identity.New(cfg.EmailHashBins, cfg.EmailHashDepth, cfg.AvatarCB)

	if cfg.JSONCacheBase != "" {
		v.cacheDir = &cache.Cache{Base: cfg.JSONCacheBase, SizeLimit: cfg.CacheSizeLimit, UID: cfg.CacheUID}
		v.trimmer = cache.NewTrimmer(v.cacheDir)
		v.worker = cache.NewWorker(v.refreshRepos)
		v.worker.SetLogger(v.log)
		v.worker.Attach(v.trimmer)
		v.worker.Start()
	}

	if cfg.GitoliteHelperPath != "" {
		h := aclhelper.NewInProcess(context.Background(), aclhelper.ExecRunner(cfg.GitoliteHelperPath))
		v.helper = h
		v.acl = acl.New(&acl.ExecBackend{Helper: h})
	} else {
		v.acl = acl.New(allowAllBackend{})
	}

	if cfg.HTMLTemplatePath != "" {
		s, err := htmlsandwich.Load(cfg.HTMLTemplatePath)
		if err != nil {
			return nil, xerrors.Errorf("load html sandwich template: %w", err)
		}
		v.sandwich = s
	}

	return v, nil
}

// allowAllBackend is used when no gitolite helper is configured: every
// repository is readable by every identity, matching a deployment with
// no ACL layer at all.
type allowAllBackend struct{}

func (allowAllBackend) Query(user string, repos []string) (map[string]bool, error) {
	out := make(map[string]bool, len(repos))
	for _, r := range repos {
		out[r] = true
	}
	return out, nil
}

func (v *Vhost) refreshRepos() {
	v.mu.Lock()
	repos := make([]*openRepo, 0, len(v.repos))
	for _, r := range v.repos {
		repos = append(repos, r)
	}
	v.mu.Unlock()

	for _, r := range repos {
		r.mu.Lock()
		changed, err := r.tracker.Update(r.git)
		r.mu.Unlock()
		if err != nil {
			v.log.Printf("jsongit2: refresh %s: %v", r.name, err)
			continue
		}
		if changed && v.cfg.RefChangeCB != nil {
			v.cfg.RefChangeCB(r.name)
		}
	}
}

// RegisterRepo makes a repository's metadata visible to repo-list and
// the fingerprint's "other visible repos" sweep. Hosts call this once
// per repository discovered under RepoBaseDir (repository discovery
// itself — walking the base dir, reading gitolite-admin — is left to
// the embedding host, matching §1's "config-file parsing ... out of
// scope").
func (v *Vhost) RegisterRepo(name, desc, owner, url string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.repoMeta[name] = jobs.RepoSummary{Name: name, Desc: desc, Owner: owner, URL: url}
}

// SetGitoliteAdminState updates the ACL resolver's view of the
// repository set and admin-head oid (§4.E step a).
func (v *Vhost) SetGitoliteAdminState(repoNames []string, adminHeadOID string) {
	v.acl.SetRepos(repoNames, adminHeadOID)
}

// Destroy implements vhost_destroy.
func (v *Vhost) Destroy() {
	if v.worker != nil {
		v.worker.Stop()
	}
	if v.helper != nil {
		v.helper.Shutdown()
	}
}

func (v *Vhost) openRepoLocked(name string) (*openRepo, error) {
	if r, ok := v.repos[name]; ok {
		return r, nil
	}
	path := filepath.Join(v.cfg.RepoBaseDir, name)
	g, err := v.opener.Open(path)
	if err != nil {
		return nil, err
	}
	r := &openRepo{name: name, git: g, tracker: repostate.New(), indexes: make(map[string]*jobs.OngoingIndex)}
	if _, err := r.tracker.Update(g); err != nil {
		return nil, err
	}
	v.repos[name] = r
	return r, nil
}

// Context is one request's state machine (§3 "Context").
type Context struct {
	vhost  *Vhost
	engine *engine.Context

	cacheEntry      *cache.Entry
	cacheReadCloser io.Closer
	finalized       bool
}

// CreateContext implements context_create.
func (v *Vhost) CreateContext(args ContextArgs) (*Context, Status, ContextResult) {
	rawPath, rawQuery := args.RequestPath, ""
	for i := 0; i < len(rawPath); i++ {
		if rawPath[i] == '?' {
			rawPath, rawQuery = rawPath[:i], rawPath[i+1:]
			break
		}
	}
	req, err := urlpath.Parse(rawPath, rawQuery)
	if err != nil {
		return nil, StatusRepoOpenFail, ContextResult{}
	}
	mode := req.ResolveMode(v.cfg.BlogMode)

	if req.RepoName == "" || mode == urlpath.ModeRepos {
		return v.createRepoListContext(args)
	}

	allowed, err := v.acl.Check(req.RepoName, args.Authorized)
	if err != nil || !allowed {
		return nil, StatusACLDenied, ContextResult{}
	}

	v.mu.Lock()
	r, err := v.openRepoLocked(req.RepoName)
	v.mu.Unlock()
	if err != nil {
		return nil, StatusRepoOpenFail, ContextResult{}
	}

	oid, err := v.resolveVirtualRef(r, req)
	if err != nil {
		return nil, StatusRepoOpenFail, ContextResult{}
	}

	producer, mimeType, err := v.buildProducer(r, req, mode, oid)
	if err != nil {
		return nil, StatusRepoOpenFail, ContextResult{}
	}

	keyHex := v.fingerprintFor(req, mode, r, oid)
	raw := mode == urlpath.ModePlain || mode == urlpath.ModePatch || mode == urlpath.ModeSnapshot
	ectx, etag, entry, closer := v.wrapProducer(req, producer, raw, keyHex, args.Authorized)

	c := &Context{vhost: v, engine: ectx, cacheEntry: entry, cacheReadCloser: closer}
	return c, StatusOK, ContextResult{MimeType: mimeType, ContentLength: -1, ETag: etag}
}

func (v *Vhost) createRepoListContext(args ContextArgs) (*Context, Status, ContextResult) {
	v.mu.Lock()
	var summaries []jobs.RepoSummary
	for _, meta := range v.repoMeta {
		summaries = append(summaries, meta)
	}
	v.mu.Unlock()
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Name < summaries[j].Name })

	var visible []jobs.RepoSummary
	var visibleNames []string
	for _, s := range summaries {
		allowed, err := v.acl.Check(s.Name, args.Authorized)
		if err != nil || !allowed {
			continue
		}
		allowed2, err2 := v.acl.Check(s.Name, v.cfg.ACLUser)
		if err2 == nil && allowed2 {
			visible = append(visible, s)
			visibleNames = append(visibleNames, s.Name)
		}
	}

	// item 10 (§4.G): the list view is scoped to the gitolite-admin HEAD
	// oid in force and the exact set of repo names the caller can see,
	// so either one changing invalidates the cached listing.
	in := fingerprint.Inputs{
		Job:                  fingerprint.JobRepoList,
		GitoliteAdminHeadOID: v.acl.AdminOID(),
		VisibleRepoNames:     visibleNames,
	}
	keyHex := fingerprint.Compute(in)

	producer := &jobs.RepoList{Repos: visible, CID: keyHex[:8]}
	ectx, etag, entry, closer := v.wrapProducer(urlpath.Request{}, producer, false, keyHex, args.Authorized)

	c := &Context{vhost: v, engine: ectx, cacheEntry: entry, cacheReadCloser: closer}
	return c, StatusOK, ContextResult{MimeType: "application/json", ContentLength: -1, ETag: etag}
}

func (v *Vhost) resolveVirtualRef(r *openRepo, req urlpath.Request) (string, error) {
	hasMaster := false
	for _, ref := range r.tracker.Refs() {
		if ref.Name == "refs/heads/master" {
			hasMaster = true
			break
		}
	}
	virtual := req.VirtualRef(hasMaster)
	if len(virtual) == 40 { // already a raw oid
		return virtual, nil
	}
	return r.git.Resolve(virtual)
}

func (v *Vhost) buildProducer(r *openRepo, req urlpath.Request, mode urlpath.Mode, oid string) (engine.Producer, string, error) {
	switch mode {
	case urlpath.ModeLog, urlpath.ModeSummary:
		return &jobs.Log{Repo: r.git, StartOID: oid, Count: 30}, "application/json", nil
	case urlpath.ModeTree, urlpath.ModeBlob:
		return &jobs.Tree{Repo: r.git, OID: oid, SubPath: req.SubPath}, "application/json", nil
	case urlpath.ModeCommit:
		return &jobs.Commit{Repo: r.git, OID: oid}, "application/json", nil
	case urlpath.ModePatch:
		return &jobs.Patch{Repo: r.git, OID: oid}, "text/plain; charset=utf-8", nil
	case urlpath.ModePlain:
		entries, err := r.git.Tree(oid, req.SubPath)
		if err != nil || len(entries) != 1 {
			return nil, "", xerrors.New("plain target is not a blob")
		}
		return &jobs.Plain{Repo: r.git, OID: entries[0].OID}, jobs.ContentTypeFor(req.SubPath), nil
	case urlpath.ModeBlame:
		return &jobs.Blame{Repo: r.git, CommitOID: oid, Path: req.SubPath}, "application/json", nil
	case urlpath.ModeSnapshot:
		format, ok := jobs.FormatFromSuffix(req.SubPath)
		if !ok {
			return nil, "", xerrors.Errorf("unrecognized snapshot suffix %q", req.SubPath)
		}
		return &jobs.Snapshot{Repo: r.git, OID: oid, Format: format}, "application/octet-stream", nil
	case urlpath.ModeTags:
		refs := r.tracker.Refs()
		return &jobs.RefList{Repo: r.git, Refs: refs, Filter: func(ref gitio.Ref) bool {
			return hasPrefix(ref.Name, "refs/tags/")
		}}, "application/json", nil
	case urlpath.ModeBranches, urlpath.ModeBlog:
		refs := r.tracker.Refs()
		return &jobs.RefList{Repo: r.git, Refs: refs, Filter: func(ref gitio.Ref) bool {
			return hasPrefix(ref.Name, "refs/heads/")
		}}, "application/json", nil
	case urlpath.ModeAC, urlpath.ModeFP, urlpath.ModeSearch:
		return v.buildSearchProducer(r, req, oid, mode)
	default:
		return &jobs.Tree{Repo: r.git, OID: oid, SubPath: req.SubPath}, "application/json", nil
	}
}

func (v *Vhost) buildSearchProducer(r *openRepo, req urlpath.Request, oid string, mode urlpath.Mode) (engine.Producer, string, error) {
	fp := r.tracker.Fingerprint()
	fpHex := fmt.Sprintf("%x", fp)

	r.mu.Lock()
	marker, building := r.indexes[fpHex]
	r.mu.Unlock()

	indexPath := ""
	if v.cacheDir != nil {
		indexPath = filepath.Join(v.cacheDir.Base, "search-"+fpHex)
	}

	if !building {
		if v.cacheDir == nil {
			return nil, "", xerrors.New("search requires a configured cache directory")
		}
		marker = jobs.NewOngoingIndex(fpHex)
		r.mu.Lock()
		r.indexes[fpHex] = marker
		r.mu.Unlock()
		builder := &jobs.SearchIndexBuilder{Repo: r.git, OID: oid, DestPath: indexPath, Marker: marker}
		go func() {
			builder.Run()
			r.mu.Lock()
			delete(r.indexes, fpHex)
			r.mu.Unlock()
		}()
		return builder, "application/json", nil
	}

	if marker != nil {
		return &jobs.SearchStillBuilding{Marker: marker}, "application/json", nil
	}

	queryMode := jobs.QueryFullText
	switch mode {
	case urlpath.ModeAC:
		queryMode = jobs.QueryAutocomplete
	case urlpath.ModeFP:
		queryMode = jobs.QueryFilePath
	}
	return &jobs.SearchQuery{IndexPath: indexPath, Mode: queryMode, Needle: req.Search, CID: fpHex[:8]}, "application/json", nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// fingerprintFor composes the cache key (§4.G) for a bound-repo request.
func (v *Vhost) fingerprintFor(req urlpath.Request, mode urlpath.Mode, r *openRepo, oid string) string {
	in := fingerprint.Inputs{
		Job:         jobKindFor(mode),
		HasRepo:     true,
		RepoRefFP:   r.tracker.Fingerprint(),
		RepoPath:    req.RepoName,
		Mode:        string(mode),
		SubPath:     req.SubPath,
		OIDInView:   oid,
		CurrentRepo: req.RepoName,
		OtherRepos:  v.otherRepoMeta(),
	}
	return fingerprint.Compute(in)
}

// otherRepoMeta snapshots every registered repository's (desc, owner,
// url) for item 9 of the fingerprint (§4.G): a bound-repo view embeds
// these in its sandwich/avatar rendering, so any other repo's metadata
// changing must invalidate it too.
func (v *Vhost) otherRepoMeta() []fingerprint.RepoMeta {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]fingerprint.RepoMeta, 0, len(v.repoMeta))
	for _, m := range v.repoMeta {
		out = append(out, fingerprint.RepoMeta{Name: m.Name, Description: m.Desc, Owner: m.Owner, URL: m.URL})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func jobKindFor(mode urlpath.Mode) fingerprint.JobKind {
	switch mode {
	case urlpath.ModeLog, urlpath.ModeSummary:
		return fingerprint.JobLog
	case urlpath.ModeCommit:
		return fingerprint.JobCommit
	case urlpath.ModePatch:
		return fingerprint.JobCommitPatch
	case urlpath.ModeTree, urlpath.ModeBlob:
		return fingerprint.JobTree
	case urlpath.ModePlain:
		return fingerprint.JobPlain
	case urlpath.ModeSnapshot:
		return fingerprint.JobSnapshot
	case urlpath.ModeBlame:
		return fingerprint.JobBlame
	case urlpath.ModeBlog:
		return fingerprint.JobBlog
	case urlpath.ModeAC, urlpath.ModeFP, urlpath.ModeSearch:
		return fingerprint.JobSearchQuery
	case urlpath.ModeTags, urlpath.ModeBranches:
		return fingerprint.JobRefList
	default:
		return fingerprint.JobTree
	}
}

// avatarURL renders Config.AvatarURLPattern for authUser by substituting
// its "%s" with the hex MD5 of the identity, the way gravatar-style
// avatar URLs are built from an email hash (§4.C). Returns "" if no
// pattern is configured or authUser is empty.
func (v *Vhost) avatarURL(authUser string) string {
	if v.cfg.AvatarURLPattern == "" || authUser == "" {
		return ""
	}
	md5sum := v.emails.MD5(authUser)
	return fmt.Sprintf(v.cfg.AvatarURLPattern, hex.EncodeToString(md5sum[:]))
}

// wrapProducer assembles the engine.Context for one request: a cache hit
// serves the committed artifact verbatim (passThrough); a miss runs the
// producer live while writing through to a fresh cache entry (§4.B step
// 2). raw selects the unwrapped streaming path used by plain, patch, and
// snapshot modes, whose output must be the exact raw artifact bytes with
// no JSON envelope (§8 "Plain: bytes served equal the raw blob bytes
// exactly") — an HTML sandwich never applies to a raw response.
func (v *Vhost) wrapProducer(req urlpath.Request, producer engine.Producer, raw bool, keyHex, authUser string) (*engine.Context, string, *cache.Entry, io.Closer) {
	var entry *cache.Entry
	var cacheWriter engine.CacheWriter
	var passThrough io.Reader
	var closer io.Closer

	if v.cacheDir != nil {
		e, err := v.cacheDir.Query(keyHex, "", true)
		if err != nil {
			v.log.Printf("jsongit2: cache query %s: %v", keyHex, err)
		} else {
			switch e.Result() {
			case cache.Exists:
				if rc, err := cache.Open(e.Path); err == nil {
					passThrough = rc
					closer = rc
				} else {
					v.log.Printf("jsongit2: open cache entry %s: %v", e.Path, err)
				}
			case cache.Creating:
				entry = e
				cacheWriter = &entryWriter{entry: e, log: v.log}
			}
		}
	}

	if raw {
		ectx := engine.NewRawContext(producer, cacheWriter, passThrough)
		return ectx, keyHex, entry, closer
	}

	meta := engine.EnvelopeMeta{
		VPath:       v.cfg.VirtualBaseURLPath,
		Avatar:      v.avatarURL(authUser),
		RepoName:    req.RepoName,
		HasReponame: req.RepoName != "",
		GenUnixUs:   time.Now().UnixMicro(),
	}

	var ectx *engine.Context
	if passThrough != nil {
		ectx = engine.NewContext(meta, nil, nil, passThrough, v.statsFn())
	} else {
		ectx = engine.NewContext(meta, []engine.Producer{producer}, cacheWriter, nil, v.statsFn())
	}
	if v.sandwich != nil {
		ectx = ectx.WithSandwich(v.sandwich, "")
	}
	return ectx, keyHex, entry, closer
}

func (v *Vhost) statsFn() func() engine.Stats {
	return func() engine.Stats {
		v.mu.Lock()
		v.genCounter++
		g := v.genCounter
		v.mu.Unlock()
		now := time.Now()
		return engine.Stats{
			GenEpochSeconds: now.Unix(),
			GenMicros:       int64(now.Nanosecond() / 1000),
			GenerationCount: g,
		}
	}
}

// entryWriter adapts a cache.Entry into engine.CacheWriter. Finalize/
// Abort are driven from Context.Fill/Destroy, not from here, since only
// the caller knows whether the stream completed cleanly.
type entryWriter struct {
	entry *cache.Entry
	log   *log.Logger
}

func (w *entryWriter) Write(p []byte) error {
	err := w.entry.Write(p)
	if err != nil {
		w.log.Printf("jsongit2: cache write-through %s: %v (degrading to live-only)", w.entry.Path, err)
	}
	return err
}

// Fill implements context_fill.
func (c *Context) Fill(buf []byte) (int, engine.Done, error) {
	n, done, err := c.engine.Fill(context.Background(), buf)
	if done == engine.Final && c.cacheEntry != nil && !c.finalized {
		c.cacheEntry.Finalize()
		c.finalized = true
	}
	return n, done, err
}

// Destroy implements context_destroy.
func (c *Context) Destroy() {
	c.engine.Destroy(false)
	c.cleanupCache()
}

// DestroyWhileRunning implements the mid-stream abandonment path (§5
// "Cancellation").
func (c *Context) DestroyWhileRunning() {
	c.engine.Destroy(true)
	c.cleanupCache()
}

func (c *Context) cleanupCache() {
	if c.cacheEntry != nil && !c.finalized {
		c.cacheEntry.Abort()
	}
	if c.cacheReadCloser != nil {
		c.cacheReadCloser.Close()
		c.cacheReadCloser = nil
	}
}
