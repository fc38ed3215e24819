package keeper

import (
	"fmt"
	"strings"
)

// parentPath mirrors KeeperUtils.cpp's getParentPath: everything before
// the last '/', or "/" for a top-level path.
func parentPath(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx <= 0 {
		return "/"
	}
	return path[:idx]
}

// baseName mirrors KeeperUtils.cpp's getBaseName: everything after the
// last '/'.
func baseName(path string) string {
	idx := strings.LastIndex(path, "/")
	return path[idx+1:]
}

func isValidPath(path string) bool {
	if path == "/" {
		return true
	}
	if !strings.HasPrefix(path, "/") || strings.HasSuffix(path, "/") {
		return false
	}
	for _, seg := range strings.Split(path[1:], "/") {
		if seg == "" {
			return false
		}
	}
	return true
}

// sequentialSuffix formats counter as ZooKeeper's 10-digit zero-padded
// sequential suffix (§3.1).
func sequentialSuffix(counter uint64) string {
	return fmt.Sprintf("%010d", counter)
}
