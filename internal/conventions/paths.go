package conventions

import "path/filepath"

const (
	// DefaultDataDir is the default postsched data directory name (relative to home).
	DefaultDataDir = ".postsched"

	// ResultsJSONLFile is the filename of the JSON lines result log.
	ResultsJSONLFile = "results.jsonl"
	// ResultsDBFile is the filename of the SQLite result log.
	ResultsDBFile = "results.db"

	// NATSClientName is the connection name used on the status bridge.
	NATSClientName = "postsched"
)

// ResultsJSONLPath returns the path of the JSON lines result log.
func ResultsJSONLPath(dataDir string) string {
	return filepath.Join(dataDir, ResultsJSONLFile)
}

// ResultsDBPath returns the path of the SQLite result log.
func ResultsDBPath(dataDir string) string {
	return filepath.Join(dataDir, ResultsDBFile)
}
