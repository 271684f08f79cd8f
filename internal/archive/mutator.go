// Package archive performs the physical file operations of the pipeline:
// placing files into archive roots, rejecting them with reason suffixes,
// tagging trusted copies and retiring superseded versions.
//
// Every operation creates missing parent directories and fails with
// ErrSourceVanished when its source disappeared before the call.
package archive

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"

	"seisarchive/internal/config"
	"seisarchive/internal/fileutil"
	"seisarchive/internal/logging"
	"seisarchive/internal/sds"
)

// ErrSourceVanished reports a source file that no longer exists at call time.
var ErrSourceVanished = errors.New("source vanished")

// Mutator moves, copies and tags archive files.
type Mutator struct {
	moveNotCopy bool
	logger      *slog.Logger
}

// Option configures a Mutator.
type Option func(*Mutator)

// WithCopy makes Place copy into the archive instead of moving.
func WithCopy() Option {
	return func(m *Mutator) {
		m.moveNotCopy = false
	}
}

// NewMutator constructs a mutator that moves files by default.
func NewMutator(logger *slog.Logger, opts ...Option) *Mutator {
	m := &Mutator{moveNotCopy: true, logger: logging.NewComponentLogger(logger, "archive")}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NewFromConfig builds a mutator honoring archive.move_not_copy.
func NewFromConfig(cfg *config.Config, logger *slog.Logger) *Mutator {
	if cfg != nil && !cfg.Archive.MoveNotCopy {
		return NewMutator(logger, WithCopy())
	}
	return NewMutator(logger)
}

// Move relocates src to dst, falling back to a verified copy and removal
// when the rename crosses filesystems.
func (m *Mutator) Move(src, dst string) error {
	if err := requireSource(src); err != nil {
		return err
	}
	if err := ensureParent(dst); err != nil {
		return err
	}
	if err := os.Rename(src, dst); err != nil {
		var linkErr *os.LinkError
		if errors.As(err, &linkErr) && errors.Is(linkErr.Err, syscall.EXDEV) {
			if err := fileutil.CopyFileVerified(src, dst); err != nil {
				return fmt.Errorf("copy file across devices: %w", err)
			}
			if err := os.Remove(src); err != nil {
				return fmt.Errorf("remove source after copy: %w", err)
			}
			m.logger.Debug("moved file across devices", logging.String("source", src), logging.String("target", dst))
			return nil
		}
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrSourceVanished, src)
		}
		return fmt.Errorf("move file: %w", err)
	}
	m.logger.Debug("moved file", logging.String("source", src), logging.String("target", dst))
	return nil
}

// Copy duplicates src at dst with integrity verification.
func (m *Mutator) Copy(src, dst string) error {
	if err := requireSource(src); err != nil {
		return err
	}
	if err := ensureParent(dst); err != nil {
		return err
	}
	if err := fileutil.CopyFileVerified(src, dst); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrSourceVanished, src)
		}
		return fmt.Errorf("copy file: %w", err)
	}
	m.logger.Debug("copied file", logging.String("source", src), logging.String("target", dst))
	return nil
}

// Place moves or copies src into root at the archive path of name and
// returns the target path.
func (m *Mutator) Place(src, root, name string) (string, error) {
	target, err := sds.Resolve(root, name)
	if err != nil {
		return "", err
	}
	if m.moveNotCopy {
		err = m.Move(src, target)
	} else {
		err = m.Copy(src, target)
	}
	if err != nil {
		return "", err
	}
	return target, nil
}

// Target returns where name lives beneath root for the given layout.
func Target(root, name string, layout config.Layout) (string, error) {
	if layout == config.LayoutSDS {
		return sds.Resolve(root, name)
	}
	return filepath.Join(root, filepath.Base(name)), nil
}

// Reject moves src into root under name with suffix appended and returns the
// target path.
func (m *Mutator) Reject(src, root, name, suffix string, layout config.Layout) (string, error) {
	target, err := Target(root, name, layout)
	if err != nil {
		return "", err
	}
	target += suffix
	if err := m.Move(src, target); err != nil {
		return "", err
	}
	m.logger.Info("file rejected",
		logging.String(logging.FieldFile, filepath.Base(name)),
		logging.String("target", target),
		logging.String(logging.FieldEventType, "file_rejected"),
	)
	return target, nil
}

// Tag renames path in place with tag appended and returns the tagged path.
func (m *Mutator) Tag(path, tag string) (string, error) {
	tagged := path + tag
	if err := m.Move(path, tagged); err != nil {
		return "", err
	}
	return tagged, nil
}

// Retire copies tagged into the version archive as <name>-<version> laid
// out below versionRoot, then removes tagged. It returns the retired path.
func (m *Mutator) Retire(tagged, versionRoot, name, version string) (string, error) {
	target, err := sds.Resolve(versionRoot, name)
	if err != nil {
		return "", err
	}
	target += "-" + version
	if err := m.Copy(tagged, target); err != nil {
		return "", err
	}
	if err := m.Remove(tagged); err != nil {
		return "", err
	}
	m.logger.Info("version retired",
		logging.String(logging.FieldFile, name),
		logging.String("version", version),
		logging.String("target", target),
	)
	return target, nil
}

// Remove deletes path. A missing path is reported as ErrSourceVanished.
func (m *Mutator) Remove(path string) error {
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrSourceVanished, path)
		}
		return fmt.Errorf("remove file: %w", err)
	}
	return nil
}

// SameContent reports whether a and b are byte-identical.
func (m *Mutator) SameContent(a, b string) (bool, error) {
	same, err := fileutil.SameContent(a, b)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, fmt.Errorf("%w: %w", ErrSourceVanished, err)
		}
		return false, err
	}
	return same, nil
}

// Exists reports whether a regular file is present at path.
func Exists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

func requireSource(src string) error {
	if _, err := os.Lstat(src); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrSourceVanished, src)
		}
		return fmt.Errorf("stat source: %w", err)
	}
	return nil
}

func ensureParent(dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create target directory: %w", err)
	}
	return nil
}
