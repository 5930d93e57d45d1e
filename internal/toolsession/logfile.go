package toolsession

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/manlab-io/manlab/internal/manlaberr"
	"github.com/manlab-io/manlab/internal/store"
)

// PolicyLookup resolves a policy id to its definition — backed by
// store.LogViewerPolicyRepo or store.FileBrowserPolicyRepo.
type PolicyLookup interface {
	Lookup(ctx context.Context, id uuid.UUID) (Policy, error)
}

// logViewerPolicyAdapter adapts store.LogViewerPolicyRepo to PolicyLookup.
type logViewerPolicyAdapter struct{ repo *store.LogViewerPolicyRepo }

func NewLogViewerPolicyLookup(repo *store.LogViewerPolicyRepo) PolicyLookup {
	return logViewerPolicyAdapter{repo: repo}
}

func (a logViewerPolicyAdapter) Lookup(ctx context.Context, id uuid.UUID) (Policy, error) {
	p, err := a.repo.Get(ctx, id)
	if err != nil {
		return Policy{}, manlaberr.ErrNotFound
	}
	return Policy{Name: p.Name, RootPath: p.RootPath, MaxBytes: p.MaxBytes}, nil
}

// fileBrowserPolicyAdapter adapts store.FileBrowserPolicyRepo to PolicyLookup.
type fileBrowserPolicyAdapter struct{ repo *store.FileBrowserPolicyRepo }

func NewFileBrowserPolicyLookup(repo *store.FileBrowserPolicyRepo) PolicyLookup {
	return fileBrowserPolicyAdapter{repo: repo}
}

func (a fileBrowserPolicyAdapter) Lookup(ctx context.Context, id uuid.UUID) (Policy, error) {
	p, err := a.repo.Get(ctx, id)
	if err != nil {
		return Policy{}, manlaberr.ErrNotFound
	}
	return Policy{Name: p.Name, RootPath: p.RootPath, MaxBytes: p.MaxBytes, System: p.System}, nil
}

// LogViewers and FileBrowsers are policy-bound tool session registries
// (§4.4): every log.read/log.tail/file.list/file.read call must validate
// its requested path against the bound policy before the handle is used.
type LogViewers struct {
	reg      *Registry
	policies PolicyLookup
}

func NewLogViewers(defaultTTL, maxTTL time.Duration, policies PolicyLookup) *LogViewers {
	return &LogViewers{reg: NewRegistry("logviewer", defaultTTL, maxTTL), policies: policies}
}

func (l *LogViewers) Create(ctx context.Context, nodeID uuid.UUID, policyID uuid.UUID, ttl time.Duration) (*Handle, error) {
	if _, err := l.policies.Lookup(ctx, policyID); err != nil {
		return nil, err
	}
	return l.reg.Create(nodeID, ttl, &policyID)
}

// Validate looks up the handle and its bound policy, then checks path.
func (l *LogViewers) Validate(ctx context.Context, handleID, path string) (*Handle, error) {
	h, err := l.reg.TryGet(handleID)
	if err != nil {
		return nil, err
	}
	if h.PolicyID == nil {
		return nil, manlaberr.ErrInternal
	}
	policy, err := l.policies.Lookup(ctx, *h.PolicyID)
	if err != nil {
		return nil, err
	}
	if err := policy.Validate(path); err != nil {
		return nil, err
	}
	return h, nil
}

func (l *LogViewers) Close(id string) { l.reg.Close(id) }
func (l *LogViewers) RunSweeper(ctx context.Context, interval time.Duration) {
	l.reg.RunSweeper(ctx, interval)
}

// Name and Cleanup satisfy memwatch.Cleaner structurally (§4.7).
func (l *LogViewers) Name() string { return "logviewer_sessions" }
func (l *LogViewers) Cleanup()     { l.reg.Sweep() }

// FileBrowsers mirrors LogViewers with the addition of a "system" flavor
// (§4.4: no policy, root "/", used only when an elevated caller requests it).
type FileBrowsers struct {
	reg      *Registry
	policies PolicyLookup
}

func NewFileBrowsers(defaultTTL, maxTTL time.Duration, policies PolicyLookup) *FileBrowsers {
	return &FileBrowsers{reg: NewRegistry("filebrowser", defaultTTL, maxTTL), policies: policies}
}

func (f *FileBrowsers) Create(ctx context.Context, nodeID uuid.UUID, policyID uuid.UUID, ttl time.Duration) (*Handle, error) {
	if _, err := f.policies.Lookup(ctx, policyID); err != nil {
		return nil, err
	}
	return f.reg.Create(nodeID, ttl, &policyID)
}

// CreateSystem creates a handle bypassing policy entirely — the caller is
// responsible for having authorized the elevated request before calling this.
func (f *FileBrowsers) CreateSystem(nodeID uuid.UUID, ttl time.Duration) (*Handle, error) {
	return f.reg.Create(nodeID, ttl, nil)
}

func (f *FileBrowsers) Validate(ctx context.Context, handleID, path string) (*Handle, error) {
	h, err := f.reg.TryGet(handleID)
	if err != nil {
		return nil, err
	}
	if h.PolicyID == nil {
		return h, nil // system flavor: no policy, root "/"
	}
	policy, err := f.policies.Lookup(ctx, *h.PolicyID)
	if err != nil {
		return nil, err
	}
	if err := policy.Validate(path); err != nil {
		return nil, err
	}
	return h, nil
}

func (f *FileBrowsers) Close(id string) { f.reg.Close(id) }
func (f *FileBrowsers) RunSweeper(ctx context.Context, interval time.Duration) {
	f.reg.RunSweeper(ctx, interval)
}

// Name and Cleanup satisfy memwatch.Cleaner structurally (§4.7).
func (f *FileBrowsers) Name() string { return "filebrowser_sessions" }
func (f *FileBrowsers) Cleanup()     { f.reg.Sweep() }
