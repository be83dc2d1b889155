//go:build windows

package transport

import "os"

// atomicWriteFile falls back to a plain write; renameio does not support
// Windows.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	return os.WriteFile(path, data, perm)
}
