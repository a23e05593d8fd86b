package versionstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/jinzoro/syseng-scripts/internal/constants"
	"github.com/jinzoro/syseng-scripts/internal/helpers"
	"github.com/samber/lo"
)

var (
	ErrNoCurrent     = errors.New("no current version")
	ErrVersionExists = errors.New("version already exists")
	ErrVersionLive   = errors.New("version is live")
	ErrNotFound      = errors.New("version not found")
)

// Version is the metadata stored next to the payload of every staged version.
type Version struct {
	Service   string    `json:"service"`
	Version   string    `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	Artifact  string    `json:"artifact,omitempty"`
	SHA256    string    `json:"sha256,omitempty"`
	Config    string    `json:"config_file,omitempty"`

	Path string `json:"-"`
}

type Store struct {
	layout Layout
}

func New(root string) *Store {
	return &Store{layout: Layout{Root: root}}
}

func (s *Store) Layout() Layout {
	return s.layout
}

// EnsureService creates the per-service directory tree.
func (s *Store) EnsureService(service string) error {
	if !helpers.IsValidServiceName(service) {
		return fmt.Errorf("invalid service name %q", service)
	}
	dirs := []string{
		s.layout.VersionsDir(service),
		s.layout.BackupsDir(service),
		s.layout.ReportsDir(service),
		s.layout.LogsDir(service),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, constants.ModeDirDefault); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// Services lists every service that has a directory under the root.
func (s *Store) Services() ([]string, error) {
	entries, err := os.ReadDir(s.layout.Root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read root directory: %w", err)
	}
	return lo.FilterMap(entries, func(e fs.DirEntry, _ int) (string, bool) {
		return e.Name(), e.IsDir() && helpers.IsValidServiceName(e.Name())
	}), nil
}

// CreateVersionDir creates an empty directory for a new version. It never reuses an existing one.
func (s *Store) CreateVersionDir(service, version string) (string, error) {
	if err := helpers.ValidateVersion(version); err != nil {
		return "", err
	}
	if err := s.EnsureService(service); err != nil {
		return "", err
	}
	dir := s.layout.VersionDir(service, version)
	if err := os.Mkdir(dir, constants.ModeDirDefault); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("%s %s: %w", service, version, ErrVersionExists)
		}
		return "", fmt.Errorf("failed to create version directory: %w", err)
	}
	return dir, nil
}

func (s *Store) Exists(service, version string) bool {
	info, err := os.Stat(s.layout.VersionDir(service, version))
	return err == nil && info.IsDir()
}

// WriteMeta persists the version metadata file inside the version directory.
func (s *Store) WriteMeta(v Version) error {
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal version metadata: %w", err)
	}
	path := filepath.Join(s.layout.VersionDir(v.Service, v.Version), constants.VersionMetaFileName)
	if err := os.WriteFile(path, data, constants.ModeFileDefault); err != nil {
		return fmt.Errorf("failed to write version metadata: %w", err)
	}
	return nil
}

// Get returns a version's metadata. Directories without a metadata file fall back to their mtime.
func (s *Store) Get(service, version string) (Version, error) {
	dir := s.layout.VersionDir(service, version)
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Version{}, fmt.Errorf("%s %s: %w", service, version, ErrNotFound)
		}
		return Version{}, fmt.Errorf("failed to stat version directory: %w", err)
	}

	v := Version{Service: service, Version: version, CreatedAt: info.ModTime().UTC()}
	data, err := os.ReadFile(filepath.Join(dir, constants.VersionMetaFileName))
	if err == nil {
		if jsonErr := json.Unmarshal(data, &v); jsonErr != nil {
			return Version{}, fmt.Errorf("corrupt metadata for %s %s: %w", service, version, jsonErr)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return Version{}, fmt.Errorf("failed to read version metadata: %w", err)
	}
	v.Service, v.Version, v.Path = service, version, dir
	return v, nil
}

// List returns all versions of a service ordered oldest first by creation time, ties broken by name.
func (s *Store) List(service string) ([]Version, error) {
	entries, err := os.ReadDir(s.layout.VersionsDir(service))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read versions directory: %w", err)
	}

	versions := make([]Version, 0, len(entries))
	for _, e := range entries {
		// Dot entries are in-flight restores or swaps.
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		v, err := s.Get(service, e.Name())
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	SortByCreation(versions)
	return versions, nil
}

// SortByCreation orders versions oldest first.
func SortByCreation(versions []Version) {
	slices.SortStableFunc(versions, func(a, b Version) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.Version, b.Version)
	})
}

// CurrentName returns the version string the Current Pointer references.
func (s *Store) CurrentName(service string) (string, error) {
	target, err := os.Readlink(s.layout.CurrentLink(service))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%s: %w", service, ErrNoCurrent)
		}
		return "", fmt.Errorf("failed to read current pointer: %w", err)
	}
	return filepath.Base(target), nil
}

// Current resolves the Current Pointer to its version. A pointer to a missing directory is an error.
func (s *Store) Current(service string) (Version, error) {
	name, err := s.CurrentName(service)
	if err != nil {
		return Version{}, err
	}
	v, err := s.Get(service, name)
	if err != nil {
		return Version{}, fmt.Errorf("current pointer of %s is dangling: %w", service, err)
	}
	return v, nil
}

// SwapCurrent repoints current at version. A temporary link is renamed over the old one,
// so readers observe either the previous target or the new one.
func (s *Store) SwapCurrent(service, version string) error {
	if !s.Exists(service, version) {
		return fmt.Errorf("cannot point current at %s %s: %w", service, version, ErrNotFound)
	}

	return s.pointCurrent(service, version)
}

// pointCurrent renames a fresh link over current. name is an entry of the versions directory.
func (s *Store) pointCurrent(service, name string) error {
	link := s.layout.CurrentLink(service)
	target := filepath.Join(constants.VersionsDirName, name)
	tmp := fmt.Sprintf("%s.tmp-%d", link, time.Now().UnixNano())

	if err := os.Symlink(target, tmp); err != nil {
		return fmt.Errorf("failed to create temporary pointer: %w", err)
	}
	if err := os.Rename(tmp, link); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to swap current pointer: %w", err)
	}
	return nil
}

// RemoveVersion deletes a version directory. The live version is refused.
func (s *Store) RemoveVersion(service, version string) error {
	if err := helpers.ValidateVersion(version); err != nil {
		return err
	}
	if live, err := s.CurrentName(service); err == nil && live == version {
		return fmt.Errorf("%s %s: %w", service, version, ErrVersionLive)
	}
	if err := os.RemoveAll(s.layout.VersionDir(service, version)); err != nil {
		return fmt.Errorf("failed to remove %s %s: %w", service, version, err)
	}
	return nil
}

// TempDir creates a scratch directory on the same filesystem as the versions,
// so its contents can be renamed into place.
func (s *Store) TempDir(service, pattern string) (string, error) {
	if err := s.EnsureService(service); err != nil {
		return "", err
	}
	dir, err := os.MkdirTemp(s.layout.VersionsDir(service), "."+pattern+"-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary directory: %w", err)
	}
	return dir, nil
}

// ReplaceVersionDir swaps the content of a version directory for src wholesale.
// src must come from TempDir. The old content is removed afterwards.
func (s *Store) ReplaceVersionDir(service, version, src string) error {
	if err := helpers.ValidateVersion(version); err != nil {
		return err
	}
	dst := s.layout.VersionDir(service, version)
	old := filepath.Join(s.layout.VersionsDir(service), fmt.Sprintf(".%s.old-%d", version, time.Now().UnixNano()))

	hadOld := true
	if err := os.Rename(dst, old); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to move aside %s: %w", dst, err)
		}
		hadOld = false
	}
	if err := os.Rename(src, dst); err != nil {
		if hadOld {
			_ = os.Rename(old, dst)
		}
		return fmt.Errorf("failed to move restored content into place: %w", err)
	}
	if hadOld {
		if err := os.RemoveAll(old); err != nil {
			return fmt.Errorf("failed to remove replaced content: %w", err)
		}
	}
	return nil
}

// ReplaceLiveVersionDir is ReplaceVersionDir for the version current points at.
// bridge must be a second TempDir copy of src: current is parked on it while the
// version directory is swapped, then moved back, so it never points at a missing path.
// bridge is removed unless current is left on it.
func (s *Store) ReplaceLiveVersionDir(service, version, src, bridge string) error {
	if filepath.Dir(bridge) != s.layout.VersionsDir(service) {
		return fmt.Errorf("bridge %s is not inside the versions directory of %s", bridge, service)
	}
	if err := s.pointCurrent(service, filepath.Base(bridge)); err != nil {
		_ = os.RemoveAll(bridge)
		return err
	}
	if err := s.ReplaceVersionDir(service, version, src); err != nil {
		if swapErr := s.SwapCurrent(service, version); swapErr != nil {
			return errors.Join(err, fmt.Errorf("current left on %s: %w", bridge, swapErr))
		}
		_ = os.RemoveAll(bridge)
		return err
	}
	if err := s.SwapCurrent(service, version); err != nil {
		return fmt.Errorf("current left on %s: %w", bridge, err)
	}
	if err := os.RemoveAll(bridge); err != nil {
		return fmt.Errorf("failed to remove %s: %w", bridge, err)
	}
	return nil
}
