package serialization

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	mmap "github.com/edsrzf/mmap-go"
	"github.com/rs/zerolog"
)

// The package is silent by default; callers that want persistence
// tracing inject a logger.
var logger = zerolog.Nop()

// SetLogger installs a logger for persistence operations.
func SetLogger(l zerolog.Logger) {
	logger = l
}

// LeafFileName maps a key atom to its data file name.
func LeafFileName(key string) string {
	return key + LeafSuffix
}

// KeyFromLeafFile recovers the key atom from a data file name.
func KeyFromLeafFile(name string) (string, error) {
	if !strings.HasSuffix(name, LeafSuffix) || len(name) == len(LeafSuffix) {
		return "", fmt.Errorf("%w: %q", ErrInvalidLeafName, name)
	}
	return strings.TrimSuffix(name, LeafSuffix), nil
}

// WriteMeta writes the sidecar for one container directory, creating
// the directory if needed.
func WriteMeta(dir string, meta Meta) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	path := filepath.Join(dir, MetaFileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	logger.Debug().Str("path", path).Int("leaves", len(meta.Leaves)).Msg("wrote tensordict metadata")
	return nil
}

// ReadMeta reads and validates the sidecar of one container directory.
func ReadMeta(dir string) (Meta, error) {
	path := filepath.Join(dir, MetaFileName)
	//nolint:gosec // G304: path comes from the caller's memmap prefix by design
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Meta{}, fmt.Errorf("%w in %s", ErrNoMeta, dir)
		}
		return Meta{}, fmt.Errorf("failed to read metadata: %w", err)
	}
	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return Meta{}, &MetaError{Dir: dir, Details: err.Error()}
	}
	if meta.FormatVersion != FormatVersion {
		return Meta{}, fmt.Errorf("%w: got %d, expected %d", ErrUnsupportedVersion, meta.FormatVersion, FormatVersion)
	}
	for _, l := range meta.Leaves {
		if l.Key == "" {
			return Meta{}, &MetaError{Dir: dir, Field: "leaves", Details: "empty leaf key"}
		}
		for _, d := range l.Shape {
			if d < 0 {
				return Meta{}, &MetaError{Dir: dir, Field: "leaves", Details: fmt.Sprintf("leaf %q has negative dimension", l.Key)}
			}
		}
	}
	return meta, nil
}

// CreateLeafFile creates (or truncates) a leaf data file of byteSize
// bytes and maps it read-write. The caller owns the mapping and the
// file handle.
func CreateLeafFile(dir, key string, byteSize int) (mmap.MMap, *os.File, string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, "", fmt.Errorf("failed to create directory: %w", err)
	}
	path := filepath.Join(dir, LeafFileName(key))
	//nolint:gosec // G304: path derives from the caller's memmap prefix by design
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, nil, "", fmt.Errorf("failed to create leaf file: %w", err)
	}
	if byteSize == 0 {
		// Cannot map an empty file; keep a zero-length mapping slot.
		return mmap.MMap{}, f, path, nil
	}
	if err := f.Truncate(int64(byteSize)); err != nil {
		_ = f.Close()
		return nil, nil, "", fmt.Errorf("failed to size leaf file: %w", err)
	}
	m, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		_ = f.Close()
		return nil, nil, "", fmt.Errorf("mmap failed for %s: %w", path, err)
	}
	logger.Debug().
		Str("path", path).
		Str("size", humanize.IBytes(uint64(byteSize))).
		Msg("created leaf file")
	return m, f, path, nil
}

// OpenLeafFile maps an existing leaf data file. Writable mappings let
// producer processes mutate leaves in place; readers observing the
// same files see those writes through the page cache.
func OpenLeafFile(dir, key string, writable bool) (mmap.MMap, *os.File, string, error) {
	path := filepath.Join(dir, LeafFileName(key))
	flag := os.O_RDONLY
	prot := mmap.RDONLY
	if writable {
		flag = os.O_RDWR
		prot = mmap.RDWR
	}
	//nolint:gosec // G304: path derives from the caller's memmap prefix by design
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, nil, "", fmt.Errorf("failed to open leaf file: %w", err)
	}
	stat, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, nil, "", fmt.Errorf("failed to stat leaf file: %w", err)
	}
	if stat.Size() == 0 {
		return mmap.MMap{}, f, path, nil
	}
	m, err := mmap.Map(f, prot, 0)
	if err != nil {
		_ = f.Close()
		return nil, nil, "", fmt.Errorf("mmap failed for %s: %w", path, err)
	}
	logger.Debug().
		Str("path", path).
		Str("size", humanize.IBytes(uint64(stat.Size()))).
		Bool("writable", writable).
		Msg("mapped leaf file")
	return m, f, path, nil
}
