package importscan

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAcquisitionDetectorAcceptsTwoLevelPath(t *testing.T) {
	det, ok := AcquisitionDetector{}.Detect("2025/data.h5")
	assert.True(t, ok)
	assert.Equal(t, "2025", det.AcqName)
	assert.Equal(t, "data.h5", det.FileName)
}

func TestAcquisitionDetectorDeclinesBareFile(t *testing.T) {
	_, ok := AcquisitionDetector{}.Detect("loose-file.txt")
	assert.False(t, ok)
}

func TestAcquisitionDetectorDeclinesTrailingSlash(t *testing.T) {
	_, ok := AcquisitionDetector{}.Detect("2025/")
	assert.False(t, ok)
}

type stubDetector struct {
	name   string
	accept bool
	det    Detection
}

func (s stubDetector) Name() string { return s.name }
func (s stubDetector) Detect(relPath string) (Detection, bool) {
	return s.det, s.accept
}

func TestChainUsesFirstAcceptingDetector(t *testing.T) {
	chain := NewChain(
		stubDetector{name: "decline", accept: false},
		stubDetector{name: "accept", accept: true, det: Detection{AcqName: "won"}},
		stubDetector{name: "never-reached", accept: true, det: Detection{AcqName: "lost"}},
	)

	det, ok := chain.Detect("anything")
	assert.True(t, ok)
	assert.Equal(t, "won", det.AcqName)
}

func TestChainDeclinesWhenAllDeclineInstead(t *testing.T) {
	chain := NewChain(stubDetector{name: "a"}, stubDetector{name: "b"})
	_, ok := chain.Detect("anything")
	assert.False(t, ok)
}

func TestRejectReservedRejectsMarkerAndTempNames(t *testing.T) {
	assert.Error(t, rejectReserved("ALPENHORN_NODE"))
	assert.Error(t, rejectReserved("acq/.file.123"))
	assert.Error(t, rejectReserved("acq/subdir/"))
	assert.NoError(t, rejectReserved("acq/file.h5"))
}
