package localfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/cdr-backoffice/internal/core/domain"
)

const (
	ProcessingDir = "processing"
	SuccessDir    = "success"
	FailedDir     = "failed"
)

// Storage owns the CDR directory layout: intake files live in the root and move
// through processing/, success/ and failed/. A rename is the only mutation.
type Storage struct {
	basePath string
	now      func() time.Time
}

func New(basePath string) (*Storage, error) {
	if basePath == "" {
		basePath = "./data/cdr"
	}
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage dir: %w", err)
	}
	for _, dir := range []string{abs, filepath.Join(abs, ProcessingDir), filepath.Join(abs, SuccessDir), filepath.Join(abs, FailedDir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	return &Storage{basePath: abs, now: time.Now}, nil
}

func (s *Storage) Root() string {
	return s.basePath
}

func (s *Storage) ListIntake(ctx context.Context) ([]domain.StoredFile, error) {
	return s.list(ctx, s.basePath)
}

func (s *Storage) ListProcessing(ctx context.Context) ([]domain.StoredFile, error) {
	return s.list(ctx, filepath.Join(s.basePath, ProcessingDir))
}

func (s *Storage) list(ctx context.Context, dir string) ([]domain.StoredFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}

	out := make([]domain.StoredFile, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !entry.Type().IsRegular() || !domain.IsCDRFile(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("stat %s: %w", entry.Name(), err)
		}
		out = append(out, domain.StoredFile{
			Name:    entry.Name(),
			Path:    filepath.Join(dir, entry.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Claim moves an intake file into processing/. A vanished source means another
// scanner claimed it first and is reported as domain.ErrFileNotFound.
func (s *Storage) Claim(_ context.Context, name string) (domain.StoredFile, error) {
	if name != filepath.Base(name) || name == "." || name == ".." {
		return domain.StoredFile{}, domain.WrapError(domain.ErrInvalidInput, "claim", fmt.Errorf("invalid file name %q", name))
	}
	src := filepath.Join(s.basePath, name)
	dst := s.freeTarget(filepath.Join(s.basePath, ProcessingDir), name)
	if err := move(src, dst); err != nil {
		return domain.StoredFile{}, err
	}

	info, err := os.Stat(dst)
	if err != nil {
		return domain.StoredFile{}, fmt.Errorf("stat claimed file: %w", err)
	}
	return domain.StoredFile{
		Name:    name,
		Path:    dst,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, nil
}

func (s *Storage) Open(_ context.Context, path string) (io.ReadCloser, error) {
	if err := s.checkManaged(path); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.WrapError(domain.ErrFileNotFound, "open file", err)
		}
		return nil, fmt.Errorf("open file: %w", err)
	}
	return f, nil
}

func (s *Storage) Exists(_ context.Context, path string) bool {
	if s.checkManaged(path) != nil {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func (s *Storage) Relocate(_ context.Context, path string, to domain.DocumentStatus) (string, error) {
	if err := s.checkManaged(path); err != nil {
		return "", err
	}
	dir, err := s.statusDir(to)
	if err != nil {
		return "", err
	}
	if filepath.Dir(filepath.Clean(path)) == dir {
		return path, nil
	}
	dst := s.freeTarget(dir, filepath.Base(path))
	if err := move(path, dst); err != nil {
		return "", err
	}
	return dst, nil
}

func (s *Storage) statusDir(status domain.DocumentStatus) (string, error) {
	switch status {
	case domain.StatusProcessing, domain.StatusPending:
		return filepath.Join(s.basePath, ProcessingDir), nil
	case domain.StatusSuccess:
		return filepath.Join(s.basePath, SuccessDir), nil
	case domain.StatusFailed:
		return filepath.Join(s.basePath, FailedDir), nil
	default:
		return "", domain.WrapError(domain.ErrInvalidInput, "relocate", fmt.Errorf("unknown status %q", status))
	}
}

func (s *Storage) checkManaged(path string) error {
	rel, err := filepath.Rel(s.basePath, filepath.Clean(path))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return domain.WrapError(domain.ErrInvalidInput, "check path", fmt.Errorf("path %q is outside %s", path, s.basePath))
	}
	return nil
}

// freeTarget keeps an existing file in dir untouched by suffixing the incoming name.
func (s *Storage) freeTarget(dir, name string) string {
	dst := filepath.Join(dir, name)
	if _, err := os.Lstat(dst); errors.Is(err, fs.ErrNotExist) {
		return dst
	}
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	return filepath.Join(dir, stem+"_"+strconv.FormatInt(s.now().UnixNano(), 10)+ext)
}

func move(src, dst string) error {
	if err := os.Rename(src, dst); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domain.WrapError(domain.ErrFileNotFound, "move file", err)
		}
		return fmt.Errorf("move %s to %s: %w", src, dst, err)
	}
	return nil
}
