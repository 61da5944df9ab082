package index

// ScriptIndex defines the interface for script indexing operations.
// Consumers should depend on this interface rather than the concrete *DB type
// to facilitate testing with mocks.
type ScriptIndex interface {
	UpsertScript(s ScriptRow, imports []string) error
	DeleteScript(path string) error
	GetChecksum(path string) (string, error)
	GetScript(path string) (*ScriptRow, error)
	ListScripts(kenv string, limit, offset int) ([]ScriptRow, int, error)
	Search(query string, limit int) ([]SearchResult, error)
	Dependents(target string) ([]string, error)
	AllImports() (map[string][]string, error)
	AllChecksums() (map[string]string, error)
	Close() error
}

// Verify *DB satisfies ScriptIndex at compile time.
var _ ScriptIndex = (*DB)(nil)
