package cli

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
)

// resolveUnderWorkDir resolves p relative to workDir unless p is already
// absolute, mirroring the teacher's scriptweaver/internal/cli helper of
// the same name.
func resolveUnderWorkDir(workDir, p string) (string, error) {
	if p == "" {
		return "", invalidInvocationf("path must not be empty")
	}
	clean := filepath.Clean(p)
	if filepath.IsAbs(clean) {
		return clean, nil
	}
	return filepath.Clean(filepath.Join(workDir, clean)), nil
}

// writeFileUnder atomically writes data to path (resolved under workDir if
// relative), via write-to-temp-then-rename.
func writeFileUnder(workDir, path string, data []byte) error {
	resolved, err := resolveUnderWorkDir(workDir, path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(resolved)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(resolved)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, resolved); err != nil {
		return err
	}
	committed = true
	return nil
}
