package extension

import "github.com/radiocosmology/alpenhorn/pkg/importscan"

// init registers the one detector the daemon ships with, so operators can
// name it explicitly in their extension list if they want to control its
// position in the chain; BuildDetectorChain also appends it implicitly
// when it's missing, per importscan.AcquisitionDetector's own doc comment
// ("keeps the daemon usable with zero configured extensions").
func init() {
	RegisterDetector("acquisition", func() importscan.Detector { return importscan.AcquisitionDetector{} })
}
