// Package alptypes holds the row types for the Data Index schema: the
// daemon treats these as the authoritative description of desired state.
package alptypes

import "time"

// StorageType tags what role a node plays in the two-archive-copies rule.
type StorageType string

const (
	StorageArchive   StorageType = "A"
	StorageField     StorageType = "F"
	StorageTransport StorageType = "T"
	StorageUnknown   StorageType = "-"
)

// CopyState is a FileCopy's state, encoded in the database as a single
// character (see alptypes.CopyState.DBChar).
type CopyState string

const (
	CopyHealthy  CopyState = "healthy"
	CopySuspect  CopyState = "suspect"
	CopyCorrupt  CopyState = "corrupt"
	CopyMissing  CopyState = "missing"
	CopyReleased CopyState = "released"
	CopyRemoved  CopyState = "removed"
)

// DBChar returns the single-character encoding used in filecopy.state.
func (s CopyState) DBChar() string {
	switch s {
	case CopyHealthy:
		return "H"
	case CopyMissing:
		return "M"
	case CopyCorrupt:
		return "X"
	case CopySuspect:
		return "N"
	case CopyReleased:
		return "Y"
	case CopyRemoved:
		return "-"
	default:
		return "-"
	}
}

// CopyStateFromDBChar is the inverse of DBChar.
func CopyStateFromDBChar(c string) CopyState {
	switch c {
	case "H":
		return CopyHealthy
	case "M":
		return CopyMissing
	case "X":
		return CopyCorrupt
	case "N":
		return CopySuspect
	case "Y":
		return CopyReleased
	default:
		return CopyRemoved
	}
}

// Acquisition is a logical grouping of files identified by a path prefix.
// Immutable once created by the first successful import under that prefix.
type Acquisition struct {
	Name     string // e.g. "2025/02/21"
	TypeName string // extension-provided type discriminator, "" if none
}

// File is a name unique within an Acquisition. Immutable after creation.
type File struct {
	ID           int64
	AcqName      string
	Name         string // file name, unique within AcqName
	SizeBytes    int64
	MD5          [16]byte
	Registered   time.Time
}

// Path returns AcqName + "/" + Name.
func (f *File) Path() string {
	return f.AcqName + "/" + f.Name
}

// FileCopy is the physical presence of a File on a Node.
type FileCopy struct {
	ID          int64
	FileID      int64
	NodeName    string
	State       CopyState
	HasFile     bool
	SizeOnNode  int64 // after block-rounding
	LastUpdate  time.Time
	LastCheck   time.Time // zero value means "never verified"
}

// Node is a filesystem root on a specific host.
type Node struct {
	Name         string
	GroupName    string
	Active       bool
	IOClass      string
	StorageType  StorageType
	Root         string
	Username     string
	Address      string
	AutoImport   bool
	AutoVerify   bool
	CapacityGB   int64
	MinAvailGB   int64
	MaxTotalGB   int64
	DaemonHost   string
	IOConfigJSON string // opaque, passed verbatim to the I/O class constructor
}

// Group is a named collection of Nodes; the destination unit for transfers.
type Group struct {
	Name    string
	IOClass string
	Notes   string
}

// ImportRequest asks a node to import one path or scan a tree.
type ImportRequest struct {
	ID          int64
	Path        string
	NodeName    string
	Recurse     bool
	RegisterNew bool
	Completed   bool
	Timestamp   time.Time
}

// CopyRequest (AFCR, "ArchiveFileCopyRequest") asks a daemon managing the
// destination group to obtain File from SourceNode.
type CopyRequest struct {
	ID                int64
	FileID            int64
	SourceNode        string
	DestGroup         string
	TargetNode        string // optional; "" if unset
	Completed         bool
	Cancelled         bool
	Timestamp         time.Time
	NRequests         int
	TransferStarted   time.Time
	TransferCompleted time.Time
}

// NodeMarkerName is the file every initialized node root must contain.
const NodeMarkerName = "ALPENHORN_NODE"

// ReservedImportPaths are path prefixes the import engine always rejects.
var ReservedImportPaths = []string{NodeMarkerName}

// TempNamePrefix marks hidden names used for in-flight transfer writes,
// e.g. ".basename.random". The auto-import watcher is required to ignore
// any basename starting with this prefix.
const TempNamePrefix = "."
