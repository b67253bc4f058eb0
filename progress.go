package romset

// ProgressEvent represents a progress update during indexing, building or
// manifest generation.
type ProgressEvent struct {
	// Stage identifies the current phase of the operation.
	Stage ProgressStage

	// Path is the file or set currently being processed, if applicable.
	Path string

	// Done is the number of items completed.
	Done int

	// Total is the total number of items.
	// Zero indicates the total is unknown.
	Total int
}

// ProgressStage identifies the current phase of an operation.
type ProgressStage uint8

const (
	// StageIndexing indicates source files are being fingerprinted.
	StageIndexing ProgressStage = iota

	// StageWriting indicates set containers are being written.
	StageWriting

	// StageManifest indicates a tree is being walked for a manifest.
	StageManifest
)

func (s ProgressStage) String() string {
	switch s {
	case StageIndexing:
		return "indexing"
	case StageWriting:
		return "writing"
	case StageManifest:
		return "manifest"
	default:
		return "unknown"
	}
}

// ProgressFunc receives progress updates during operations.
// Implementations must be safe for concurrent calls.
type ProgressFunc func(ProgressEvent)

func (f ProgressFunc) report(e ProgressEvent) {
	if f != nil {
		f(e)
	}
}
