package validation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"geoportal/api/internal/content"
)

// Pointer is the latest.json document referencing the newest snapshot.
type Pointer struct {
	SavedAtUTC string `json:"saved_at_utc"`
	Author     string `json:"author"`
	Path       string `json:"path"`
}

// SaveResult reports where a snapshot landed.
type SaveResult struct {
	Path    string    `json:"path"`
	SavedAt time.Time `json:"saved_at_utc"`
	Author  string    `json:"author"`
}

// ErrSaveConflict means latest.json was rewritten concurrently and the
// retry also lost the race.
var ErrSaveConflict = errors.New("validation: concurrent save conflict")

// Service persists validation tables. Snapshots go to
// {root}/YYYY/MM/validado-YYYYmmdd-HHMMSS.xlsx and are never touched again;
// only latest.json is updated in place, guarded by its blob sha.
type Service struct {
	store content.Store
	root  string
	now   func() time.Time

	mu       sync.Mutex
	lastPath string
	lastSeq  int
}

func NewService(store content.Store, root string) *Service {
	return &Service{
		store: store,
		root:  strings.Trim(root, "/"),
		now:   time.Now,
	}
}

func (s *Service) latestPath() string {
	return s.root + "/latest.json"
}

// snapshotPath builds the timestamped path, de-duplicating when two saves
// land in the same second.
func (s *Service) snapshotPath(now time.Time) string {
	base := fmt.Sprintf("%s/%s/validado-%s.xlsx",
		s.root,
		now.Format("2006/01"),
		now.Format("20060102-150405"),
	)
	s.mu.Lock()
	defer s.mu.Unlock()
	if base != s.lastPath {
		s.lastPath = base
		s.lastSeq = 1
		return base
	}
	s.lastSeq++
	return strings.TrimSuffix(base, ".xlsx") + fmt.Sprintf("-%d.xlsx", s.lastSeq)
}

// Save writes the table as a new snapshot and repoints latest.json at it.
// The snapshot write needs no sha since its path is unique; the pointer
// update is read-modify-write and gets one retry on a sha conflict.
func (s *Service) Save(ctx context.Context, rows []Row, author string) (*SaveResult, error) {
	now := s.now().UTC()
	snapPath := s.snapshotPath(now)

	sorted := make([]Row, len(rows))
	copy(sorted, rows)
	SortRows(sorted)

	data, err := EncodeSnapshot(sorted)
	if err != nil {
		return nil, err
	}
	msg := fmt.Sprintf("Validation snapshot by %s", author)
	if _, err := s.store.Put(ctx, snapPath, data, msg, ""); err != nil {
		return nil, fmt.Errorf("write snapshot: %w", err)
	}

	pointer := Pointer{
		SavedAtUTC: now.Format(timeLayout),
		Author:     author,
		Path:       snapPath,
	}
	if err := s.writePointer(ctx, pointer, msg); err != nil {
		return nil, err
	}

	return &SaveResult{Path: snapPath, SavedAt: now, Author: author}, nil
}

func (s *Service) writePointer(ctx context.Context, pointer Pointer, msg string) error {
	data, err := json.MarshalIndent(pointer, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	sha, err := s.pointerSHA(ctx)
	if err != nil {
		return err
	}
	_, err = s.store.Put(ctx, s.latestPath(), data, msg, sha)
	if err == nil {
		return nil
	}
	if !errors.Is(err, content.ErrSHAConflict) {
		return fmt.Errorf("write latest.json: %w", err)
	}

	// Someone else saved between our read and write. Re-read once; if the
	// second attempt conflicts too, give up and surface it.
	sha, rerr := s.pointerSHA(ctx)
	if rerr != nil {
		return rerr
	}
	if _, err := s.store.Put(ctx, s.latestPath(), data, msg, sha); err != nil {
		if errors.Is(err, content.ErrSHAConflict) {
			return ErrSaveConflict
		}
		return fmt.Errorf("write latest.json: %w", err)
	}
	return nil
}

func (s *Service) pointerSHA(ctx context.Context) (string, error) {
	f, err := s.store.Get(ctx, s.latestPath())
	if errors.Is(err, content.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read latest.json: %w", err)
	}
	return f.SHA, nil
}

// Load returns the newest snapshot's rows and its path. A missing or
// dangling latest.json falls back to scanning the snapshot tree, so a crash
// between the two writes of Save only costs a slower read. An empty store
// yields an empty table.
func (s *Service) Load(ctx context.Context) ([]Row, string, error) {
	if ptr, err := s.loadPointer(ctx); err == nil && ptr.Path != "" {
		f, err := s.store.Get(ctx, ptr.Path)
		if err == nil {
			rows, derr := DecodeSnapshot(bytes.NewReader(f.Data))
			if derr != nil {
				return nil, "", derr
			}
			return rows, ptr.Path, nil
		}
		if !errors.Is(err, content.ErrNotFound) {
			return nil, "", fmt.Errorf("read snapshot: %w", err)
		}
	}

	newest, err := s.scanNewest(ctx)
	if err != nil {
		return nil, "", err
	}
	if newest == "" {
		return nil, "", nil
	}
	f, err := s.store.Get(ctx, newest)
	if err != nil {
		return nil, "", fmt.Errorf("read snapshot: %w", err)
	}
	rows, err := DecodeSnapshot(bytes.NewReader(f.Data))
	if err != nil {
		return nil, "", err
	}
	return rows, newest, nil
}

func (s *Service) loadPointer(ctx context.Context) (Pointer, error) {
	f, err := s.store.Get(ctx, s.latestPath())
	if err != nil {
		return Pointer{}, err
	}
	var ptr Pointer
	if err := json.Unmarshal(f.Data, &ptr); err != nil {
		return Pointer{}, fmt.Errorf("parse latest.json: %w", err)
	}
	return ptr, nil
}

// scanNewest walks {root}/YYYY/MM looking for the lexicographically last
// validado-*.xlsx, which is also the newest since names embed the
// timestamp.
func (s *Service) scanNewest(ctx context.Context) (string, error) {
	years, err := s.listDirs(ctx, s.root)
	if err != nil {
		return "", err
	}
	for i := len(years) - 1; i >= 0; i-- {
		months, err := s.listDirs(ctx, years[i])
		if err != nil {
			return "", err
		}
		for j := len(months) - 1; j >= 0; j-- {
			entries, err := s.store.List(ctx, months[j])
			if errors.Is(err, content.ErrNotFound) {
				continue
			}
			if err != nil {
				return "", fmt.Errorf("list %s: %w", months[j], err)
			}
			var files []string
			for _, e := range entries {
				if e.Type == "file" && strings.HasPrefix(e.Name, "validado-") && strings.HasSuffix(e.Name, ".xlsx") {
					files = append(files, e.Path)
				}
			}
			if len(files) > 0 {
				sort.Strings(files)
				return files[len(files)-1], nil
			}
		}
	}
	return "", nil
}

func (s *Service) listDirs(ctx context.Context, dir string) ([]string, error) {
	entries, err := s.store.List(ctx, dir)
	if errors.Is(err, content.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	var dirs []string
	for _, e := range entries {
		if e.Type == "dir" {
			dirs = append(dirs, path.Join(dir, e.Name))
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}
