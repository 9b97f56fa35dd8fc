package pipeline

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spaolacci/murmur3"
)

// SourceFingerprint hashes the contents of the input files into one
// 128-bit murmur3 digest, rendered as 32 hex digits. Base names are
// mixed in so identical payloads under different names fingerprint
// differently; directories are not, so a relocated input set does not.
func SourceFingerprint(paths []string) (string, error) {
	h := murmur3.New128()
	for _, path := range paths {
		if _, err := io.WriteString(h, filepath.Base(path)); err != nil {
			return "", fmt.Errorf("pipeline: fingerprint: %w", err)
		}
		h.Write([]byte{0})
		if err := hashFile(h, path); err != nil {
			return "", err
		}
		h.Write([]byte{0})
	}
	h1, h2 := h.Sum128()
	return fmt.Sprintf("%016x%016x", h1, h2), nil
}

func hashFile(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("pipeline: fingerprint %s: %w", path, err)
	}
	defer f.Close()
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("pipeline: fingerprint %s: %w", path, err)
	}
	return nil
}
