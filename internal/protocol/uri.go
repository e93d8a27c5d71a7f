package protocol

import (
	"path/filepath"
	"strings"
)

// URIToPath converts a file:// URI to a filesystem path.
func URIToPath(uri DocumentURI) string {
	s := string(uri)
	if !strings.HasPrefix(s, "file://") {
		return s
	}
	path := strings.TrimPrefix(s, "file://")
	// Windows URIs look like file:///C:/dir.
	if len(path) > 2 && path[0] == '/' && path[2] == ':' {
		path = path[1:]
	}
	return filepath.FromSlash(path)
}

// PathToURI converts a filesystem path to a file:// URI.
func PathToURI(path string) DocumentURI {
	path = filepath.ToSlash(path)
	if !strings.HasPrefix(path, "/") && len(path) > 1 && path[1] == ':' {
		path = "/" + path
	}
	return DocumentURI("file://" + path)
}
