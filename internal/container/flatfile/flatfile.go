// Package flatfile writes a container's output bytes to disk as an
// executable file. This is driver-side convenience, not part of the core
// pipeline — it exists so the flat-container tests have something to mmap
// and sanity-check without needing a JIT or OS-level execution harness,
// which this backend's core never performs.
package flatfile

import "os"

// WriteExecutableFile writes data to path with executable permission bits
// set, overwriting any existing file.
func WriteExecutableFile(path string, data []byte) error {
	return os.WriteFile(path, data, 0o755)
}
