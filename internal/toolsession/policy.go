package toolsession

import (
	"path/filepath"
	"strings"

	"github.com/manlab-io/manlab/internal/manlaberr"
)

// Policy fixes the allowed root path, a max-bytes-per-request, and a
// display name for a LogViewerSession/FileBrowserSession (§4.4). System
// FileBrowserPolicy instances set System=true to bypass the root check
// entirely — reserved for elevated callers.
type Policy struct {
	Name     string
	RootPath string
	MaxBytes int64
	System   bool
}

// Validate checks a requested path against the policy's allowed root,
// returning PolicyViolation for anything outside it (§4.4).
func (p Policy) Validate(requestedPath string) error {
	if p.System {
		return nil
	}

	root := filepath.Clean(p.RootPath)
	target := filepath.Clean(filepath.Join(p.RootPath, requestedPath))

	if target != root && !strings.HasPrefix(target, root+string(filepath.Separator)) {
		return manlaberr.ErrPolicyViolation
	}
	return nil
}

// ValidateSize checks a requested byte count against MaxBytes (0 = unbounded).
func (p Policy) ValidateSize(n int64) error {
	if p.MaxBytes > 0 && n > p.MaxBytes {
		return manlaberr.ErrPolicyViolation
	}
	return nil
}
