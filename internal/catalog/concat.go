package catalog

import (
	"fmt"
	"io"
	"os"
)

// ConcatFiles concatenates the source measurement files into dst in
// order, truncating any existing destination. A newline is inserted
// after any source whose last byte is not one, so rows never join
// across file boundaries.
func ConcatFiles(dst string, srcs []string) error {
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("catalog: create %s: %w", dst, err)
	}
	defer out.Close()

	for _, src := range srcs {
		if err := appendFile(out, src); err != nil {
			return err
		}
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("catalog: close %s: %w", dst, err)
	}
	return nil
}

func appendFile(out *os.File, src string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("catalog: open %s: %w", src, err)
	}
	defer in.Close()

	n, err := io.Copy(out, in)
	if err != nil {
		return fmt.Errorf("catalog: copy %s: %w", src, err)
	}
	if n == 0 {
		return nil
	}

	var last [1]byte
	if _, err := in.ReadAt(last[:], n-1); err != nil {
		return fmt.Errorf("catalog: read tail of %s: %w", src, err)
	}
	if last[0] != '\n' {
		if _, err := out.Write([]byte{'\n'}); err != nil {
			return fmt.Errorf("catalog: write separator: %w", err)
		}
	}
	return nil
}
