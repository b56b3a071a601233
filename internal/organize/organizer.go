package organize

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Organizer files documents into <root>/<category>/.
type Organizer struct {
	root   string
	logger *slog.Logger
}

func New(root string, logger *slog.Logger) *Organizer {
	if logger == nil {
		logger = slog.Default()
	}
	if root == "" {
		root = "./paper"
	}
	return &Organizer{root: root, logger: logger}
}

// Root returns the directory categories are created under.
func (o *Organizer) Root() string { return o.root }

// maxSuffix bounds the search for a free "<name>_<n><ext>" destination.
const maxSuffix = 1000

// Move relocates path into the category directory and returns the new path.
// An existing file of the same name is never replaced; the moved file gets a
// numeric suffix instead. If the file is already there, or anything fails, the
// original path is returned so indexing can proceed.
func (o *Organizer) Move(path, category string) string {
	dir := filepath.Join(o.root, SafeDirName(category))
	dest := filepath.Join(dir, filepath.Base(path))

	srcAbs, err1 := filepath.Abs(path)
	destAbs, err2 := filepath.Abs(dest)
	if err1 == nil && err2 == nil && srcAbs == destAbs {
		return path
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		o.logger.Warn("organize.mkdir_failed", "dir", dir, "error", err)
		return path
	}
	free, err := freeName(dest)
	if err != nil {
		o.logger.Warn("organize.no_free_name", "dest", dest, "error", err)
		return path
	}
	if free != dest {
		o.logger.Info("organize.renamed_on_conflict", "wanted", dest, "using", free)
		dest = free
	}
	if err := move(path, dest); err != nil {
		o.logger.Warn("organize.move_failed", "from", path, "to", dest, "error", err)
		return path
	}
	o.logger.Info("organize.moved", "from", path, "to", dest)
	return dest
}

// SafeDirName turns a category label into a single path element.
func SafeDirName(category string) string {
	category = strings.TrimSpace(category)
	category = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '_'
		}
		return r
	}, category)
	if category == "" || category == "." || category == ".." {
		return "_"
	}
	return category
}

// freeName returns dest, or the first "<stem>_<n><ext>" next to it that does not exist yet.
func freeName(dest string) (string, error) {
	if _, err := os.Lstat(dest); errors.Is(err, fs.ErrNotExist) {
		return dest, nil
	}
	ext := filepath.Ext(dest)
	stem := strings.TrimSuffix(dest, ext)
	for n := 1; n <= maxSuffix; n++ {
		candidate := fmt.Sprintf("%s_%d%s", stem, n, ext)
		if _, err := os.Lstat(candidate); errors.Is(err, fs.ErrNotExist) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%d names taken next to %s", maxSuffix, dest)
}

func move(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	} else if _, statErr := os.Stat(src); statErr != nil {
		return err
	}
	// rename fails across filesystems: copy then remove
	if err := copyFile(src, dst); err != nil {
		return err
	}
	if err := os.Remove(src); err != nil {
		return fmt.Errorf("remove source after copy: %w", err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return err
	}
	return out.Close()
}
