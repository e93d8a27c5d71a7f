package index

import (
	"os"
	"path/filepath"
	"strings"

	"cjls/internal/logging"
)

// CacheLayout names the on-disk pieces under <cache>/.cache/index/.
const (
	DBFileName    = "index.db"
	ValidFileName = "valid.txt"
)

// CacheDir returns the index directory under the cache root.
func CacheDir(cacheRoot string) string {
	return filepath.Join(cacheRoot, ".cache", "index")
}

// EnsureValidCache checks valid.txt against the compiler version. On
// mismatch the database is deleted and valid.txt rewritten, so the server
// initializes against a fresh index. Returns whether the old DB survived.
func EnsureValidCache(cacheRoot, compilerVersion string) (bool, error) {
	dir := CacheDir(cacheRoot)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return false, err
	}
	validPath := filepath.Join(dir, ValidFileName)
	dbPath := filepath.Join(dir, DBFileName)

	data, err := os.ReadFile(validPath)
	if err == nil && strings.TrimSpace(string(data)) == compilerVersion {
		return true, nil
	}

	if err == nil {
		logging.Index("compiler version changed (%q -> %q), recreating index",
			strings.TrimSpace(string(data)), compilerVersion)
	} else {
		logging.Index("no valid.txt, creating fresh index")
	}
	for _, stale := range []string{dbPath, dbPath + "-wal", dbPath + "-shm"} {
		if err := os.Remove(stale); err != nil && !os.IsNotExist(err) {
			return false, err
		}
	}
	if err := os.WriteFile(validPath, []byte(compilerVersion+"\n"), 0644); err != nil {
		return false, err
	}
	return false, nil
}

// DBPath returns the database path under the cache root.
func DBPath(cacheRoot string) string {
	return filepath.Join(CacheDir(cacheRoot), DBFileName)
}
