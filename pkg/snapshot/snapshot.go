// Copyright 2025 AidTrace Project
//
// Chain snapshot persistence: atomic JSON image of chain + pending
// pool with rotated .bak siblings. The write path is temp file, fsync,
// rename so a crash never leaves a half-written snapshot behind.

package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aidtrace/aid-ledger/pkg/ledger"
)

// Version is the on-disk schema version.
const Version = 1

// ErrCorruptSnapshot is returned when the snapshot file exists but
// cannot be parsed.
var ErrCorruptSnapshot = errors.New("snapshot: corrupt snapshot file")

// backupTimeLayout is the compact UTC timestamp used in backup names.
const backupTimeLayout = "20060102T150405Z"

// File is the serialized snapshot document.
type File struct {
	Version int                  `json:"version"`
	SavedAt time.Time            `json:"saved_at"`
	Chain   []ledger.Block       `json:"chain"`
	Pending []ledger.Transaction `json:"pending"`
}

// Store persists snapshots at a fixed path.
type Store struct {
	path       string
	backups    bool
	maxBackups int
	logger     *log.Logger
}

// NewStore creates a snapshot store. maxBackups <= 0 falls back to 5.
func NewStore(path string, backups bool, maxBackups int, logger *log.Logger) *Store {
	if maxBackups <= 0 {
		maxBackups = 5
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[Snapshot] ", log.LstdFlags)
	}
	return &Store{path: path, backups: backups, maxBackups: maxBackups, logger: logger}
}

// Path returns the snapshot target path.
func (s *Store) Path() string {
	return s.path
}

// Available reports whether a snapshot file exists.
func (s *Store) Available() bool {
	info, err := os.Stat(s.path)
	return err == nil && !info.IsDir()
}

// Save writes the chain and pool atomically, rotating the previous
// snapshot into a timestamped backup first.
func (s *Store) Save(chain []ledger.Block, pending []ledger.Transaction) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("snapshot: failed to create directory: %w", err)
	}

	if s.backups && s.Available() {
		if err := s.rotate(); err != nil {
			return err
		}
	}

	doc := File{
		Version: Version,
		SavedAt: time.Now().UTC().Truncate(time.Second),
		Chain:   chain,
		Pending: pending,
	}
	if doc.Pending == nil {
		doc.Pending = []ledger.Transaction{}
	}
	raw, err := json.MarshalIndent(&doc, "", "  ")
	if err != nil {
		return fmt.Errorf("snapshot: failed to marshal: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("snapshot: failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("snapshot: failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("snapshot: failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("snapshot: failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("snapshot: failed to replace snapshot: %w", err)
	}
	return nil
}

// rotate renames the current snapshot to a timestamped .bak sibling
// and prunes the oldest backups beyond the retention limit.
func (s *Store) rotate() error {
	backup := fmt.Sprintf("%s.%s.bak", s.path, time.Now().UTC().Format(backupTimeLayout))
	// A second save within the same second would collide; suffix until
	// the name is free.
	for i := 1; ; i++ {
		if _, err := os.Stat(backup); os.IsNotExist(err) {
			break
		}
		backup = fmt.Sprintf("%s.%s-%d.bak", s.path, time.Now().UTC().Format(backupTimeLayout), i)
	}
	if err := os.Rename(s.path, backup); err != nil {
		return fmt.Errorf("snapshot: failed to rotate backup: %w", err)
	}

	backups, err := s.listBackups()
	if err != nil {
		return err
	}
	for len(backups) > s.maxBackups {
		oldest := backups[0]
		backups = backups[1:]
		if err := os.Remove(oldest); err != nil {
			s.logger.Printf("WARNING: failed to prune backup %s: %v", oldest, err)
		}
	}
	return nil
}

// listBackups returns the backup paths sorted oldest first.
func (s *Store) listBackups() ([]string, error) {
	dir := filepath.Dir(s.path)
	base := filepath.Base(s.path)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("snapshot: failed to list backups: %w", err)
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, base+".") && strings.HasSuffix(name, ".bak") {
			out = append(out, filepath.Join(dir, name))
		}
	}
	// Same-second backups carry a "-N" suffix before ".bak"; they sort
	// after the unsuffixed name and by N, not lexically.
	key := func(p string) (string, int) {
		stem := strings.TrimSuffix(p, ".bak")
		if i := strings.LastIndex(stem, "-"); i > 0 {
			if n, err := strconv.Atoi(stem[i+1:]); err == nil {
				return stem[:i], n
			}
		}
		return stem, 0
	}
	sort.Slice(out, func(i, j int) bool {
		si, ni := key(out[i])
		sj, nj := key(out[j])
		if si != sj {
			return si < sj
		}
		return ni < nj
	})
	return out, nil
}

// Backups returns the current backup files, oldest first.
func (s *Store) Backups() ([]string, error) {
	return s.listBackups()
}

// Load reads the snapshot. A missing file yields (nil, nil, nil); an
// unparseable file yields ErrCorruptSnapshot.
func (s *Store) Load() ([]ledger.Block, []ledger.Transaction, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("snapshot: failed to read %s: %w", s.path, err)
	}

	var doc File
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	if doc.Version != Version {
		return nil, nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptSnapshot, doc.Version)
	}
	if len(doc.Chain) == 0 {
		return nil, nil, fmt.Errorf("%w: snapshot has no chain", ErrCorruptSnapshot)
	}
	return doc.Chain, doc.Pending, nil
}
