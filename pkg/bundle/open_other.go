//go:build !unix

package bundle

// Open reads and decodes a bundle file.
func Open(path string) (*Bundle, error) {
	return readFile(path)
}
