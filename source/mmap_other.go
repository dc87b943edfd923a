//go:build !unix

package source

// OpenMmap falls back to ranged file reads where mmap is unavailable.
func OpenMmap(path string) (*File, error) {
	return OpenFile(path)
}
