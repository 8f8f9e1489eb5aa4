// Package importscan implements the import/scan engine of §4.6: the
// detector chain, the per-path import algorithm, and the tree-walk scan
// that feeds it.
package importscan

import (
	"fmt"
	"strings"

	"github.com/radiocosmology/alpenhorn/pkg/alptypes"
)

// Detection is what a Detector returns when it accepts a path.
type Detection struct {
	AcqName  string
	AcqType  string
	FileName string
	FileType string
	Extra    map[string]string
}

// Detector inspects a root-relative path and either claims it (returning
// a Detection) or declines by returning ok=false. Detectors never touch
// the filesystem themselves beyond what relPath's shape already tells
// them; hashing and stat happen once, later, in the shared import path.
type Detector interface {
	Name() string
	Detect(relPath string) (Detection, bool)
}

// Chain runs detectors in declared order; the first to accept wins
// (§4.6 step 2).
type Chain struct {
	detectors []Detector
}

// NewChain builds a detector chain, preserving the given order.
func NewChain(detectors ...Detector) *Chain {
	return &Chain{detectors: detectors}
}

// Detect runs the chain and reports the first acceptance, or ok=false if
// every detector declined - a legitimate "not data" outcome, not an
// error (§4.6 step 2).
func (c *Chain) Detect(relPath string) (Detection, bool) {
	for _, d := range c.detectors {
		if det, ok := d.Detect(relPath); ok {
			return det, true
		}
	}
	return Detection{}, false
}

// rejectReserved implements §4.6 step 1: reject a directory-shaped path
// or one that begins with a reserved token.
func rejectReserved(relPath string) error {
	if strings.HasSuffix(relPath, "/") {
		return fmt.Errorf("importscan: %q is a directory path, not importable", relPath)
	}

	base := relPath
	if i := strings.LastIndex(relPath, "/"); i >= 0 {
		base = relPath[i+1:]
	}

	if base == alptypes.NodeMarkerName {
		return fmt.Errorf("importscan: %q is the node marker file, refusing to import", relPath)
	}
	if strings.HasPrefix(base, alptypes.TempNamePrefix) {
		return fmt.Errorf("importscan: %q has a reserved temp/lock-file prefix, refusing to import", relPath)
	}
	return nil
}

// AcquisitionDetector is the one built-in detector: it accepts any path
// of the shape "<acquisition>/<filename>" (exactly one directory level
// deep) and treats the leading component as the acquisition name. Real
// deployments register domain-specific detectors ahead of this one
// through pkg/extension; this is the last-resort fallback that
// keeps the daemon usable with zero configured extensions.
type AcquisitionDetector struct{}

func (AcquisitionDetector) Name() string { return "acquisition" }

func (AcquisitionDetector) Detect(relPath string) (Detection, bool) {
	i := strings.Index(relPath, "/")
	if i <= 0 || i == len(relPath)-1 {
		return Detection{}, false
	}

	acq := relPath[:i]
	name := relPath[i+1:]
	if strings.Contains(name, "/") {
		// nested more than one level; only the leaf detector chain
		// (extension-provided) is expected to understand deeper trees.
		return Detection{}, false
	}

	return Detection{AcqName: acq, FileName: name}, true
}

var _ Detector = AcquisitionDetector{}
