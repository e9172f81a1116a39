package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/azure/discussion-pulse/internal/models"
)

const cyclePrefix = "cycles/"

// Archive keeps a JSON copy of every cycle result in blob storage
type Archive struct {
	store StorageInterface
}

// NewArchive wraps a blob store
func NewArchive(store StorageInterface) *Archive {
	return &Archive{store: store}
}

// SaveCycle stores the result as cycles/<keyword>/<completed-at>.json and returns the blob name
func (a *Archive) SaveCycle(result *models.FetchResult) (string, error) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode cycle result: %w", err)
	}

	name := path.Join(cyclePrefix+keywordSlug(result.Keyword), result.CompletedAt.UTC().Format("20060102T150405.000Z")+".json")
	if err := a.store.Store(name, data); err != nil {
		return "", err
	}
	return name, nil
}

// ListCycles returns archived cycle names for keyword, oldest first
func (a *Archive) ListCycles(keyword string) ([]string, error) {
	names, err := a.store.List(cyclePrefix + keywordSlug(keyword) + "/")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// LoadCycle reads one archived cycle
func (a *Archive) LoadCycle(name string) (*models.FetchResult, error) {
	data, err := a.store.Retrieve(name)
	if err != nil {
		return nil, err
	}
	var result models.FetchResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to decode cycle %s: %w", name, err)
	}
	return &result, nil
}

// Prune deletes all but the newest keep cycles of keyword and returns how many were removed
func (a *Archive) Prune(keyword string, keep int) (int, error) {
	names, err := a.ListCycles(keyword)
	if err != nil {
		return 0, err
	}
	if keep < 0 {
		keep = 0
	}
	if len(names) <= keep {
		return 0, nil
	}

	removed := 0
	for _, name := range names[:len(names)-keep] {
		if err := a.store.Delete(name); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func keywordSlug(keyword string) string {
	slug := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		}
		return '-'
	}, strings.TrimSpace(keyword))
	if slug == "" {
		return "_"
	}
	return slug
}

// FileStorage is a StorageInterface over a local directory
type FileStorage struct {
	root string
}

// Ensure FileStorage implements StorageInterface
var _ StorageInterface = (*FileStorage)(nil)

// NewFileStorage creates the directory if needed
func NewFileStorage(root string) (*FileStorage, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	return &FileStorage{root: root}, nil
}

func (f *FileStorage) resolve(name string) (string, error) {
	clean := path.Clean("/" + name)
	if clean == "/" {
		return "", fmt.Errorf("invalid blob name %q", name)
	}
	return filepath.Join(f.root, filepath.FromSlash(clean[1:])), nil
}

func (f *FileStorage) Store(filename string, data []byte) error {
	p, err := f.resolve(filename)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("failed to store %s: %w", filename, err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return fmt.Errorf("failed to store %s: %w", filename, err)
	}
	return nil
}

func (f *FileStorage) Retrieve(filename string) ([]byte, error) {
	p, err := f.resolve(filename)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("blob %s: %w", filename, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filename, err)
	}
	return data, nil
}

func (f *FileStorage) List(prefix string) ([]string, error) {
	names := []string{}
	err := filepath.WalkDir(f.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(f.root, p)
		if err != nil {
			return err
		}
		if name := filepath.ToSlash(rel); strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", prefix, err)
	}
	return names, nil
}

func (f *FileStorage) Delete(filename string) error {
	p, err := f.resolve(filename)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete %s: %w", filename, err)
	}
	return nil
}
