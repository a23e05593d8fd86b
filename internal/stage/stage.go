package stage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/jinzoro/syseng-scripts/internal/constants"
	"github.com/jinzoro/syseng-scripts/internal/helpers"
	"github.com/jinzoro/syseng-scripts/internal/logging"
	"github.com/jinzoro/syseng-scripts/internal/versionstore"
	"github.com/moby/go-archive"
)

type Request struct {
	Service  string
	Version  string
	Artifact string
	// Extract unpacks a tar archive (optionally compressed) instead of copying the file as is.
	Extract    bool
	ConfigFile string
	// Force replaces an existing version directory as long as it is not live.
	Force bool
}

type Stager struct {
	store  *versionstore.Store
	client *http.Client
	now    func() time.Time
}

func New(store *versionstore.Store, client *http.Client) *Stager {
	return &Stager{store: store, client: client, now: time.Now}
}

// Stage materializes a version directory for the request. The content is assembled
// in a scratch directory and moved into place only when complete; the Current
// Pointer is never touched.
func (s *Stager) Stage(ctx context.Context, req Request) (versionstore.Version, error) {
	logger := logging.Ctx(ctx)

	if err := helpers.ValidateVersion(req.Version); err != nil {
		return versionstore.Version{}, err
	}
	if s.store.Exists(req.Service, req.Version) {
		if !req.Force {
			return versionstore.Version{}, fmt.Errorf("%s %s: %w", req.Service, req.Version, versionstore.ErrVersionExists)
		}
		if live, err := s.store.CurrentName(req.Service); err == nil && live == req.Version {
			return versionstore.Version{}, fmt.Errorf("cannot restage %s %s: %w", req.Service, req.Version, versionstore.ErrVersionLive)
		}
		logger.Warn().Str(logging.FieldVersion, req.Version).Msg("Replacing existing version directory")
	}

	src, err := NewSource(req.Artifact, s.client)
	if err != nil {
		return versionstore.Version{}, err
	}

	tmpDir, err := s.store.TempDir(req.Service, "stage-"+req.Version)
	if err != nil {
		return versionstore.Version{}, err
	}
	defer os.RemoveAll(tmpDir)

	sum, err := s.materialize(ctx, src, req.Extract, tmpDir)
	if err != nil {
		return versionstore.Version{}, err
	}

	configName := ""
	if req.ConfigFile != "" {
		configName = filepath.Base(req.ConfigFile)
		if err := copyFile(req.ConfigFile, filepath.Join(tmpDir, configName)); err != nil {
			return versionstore.Version{}, fmt.Errorf("failed to copy config file: %w", err)
		}
	}

	if err := os.Chmod(tmpDir, constants.ModeDirDefault); err != nil {
		return versionstore.Version{}, fmt.Errorf("failed to set version directory permissions: %w", err)
	}
	if err := s.store.ReplaceVersionDir(req.Service, req.Version, tmpDir); err != nil {
		return versionstore.Version{}, err
	}

	meta := versionstore.Version{
		Service:   req.Service,
		Version:   req.Version,
		CreatedAt: s.now().UTC(),
		Artifact:  src.Location(),
		SHA256:    sum,
		Config:    configName,
	}
	if err := s.store.WriteMeta(meta); err != nil {
		_ = s.store.RemoveVersion(req.Service, req.Version)
		return versionstore.Version{}, err
	}

	logger.Debug().
		Str(logging.FieldVersion, req.Version).
		Str("artifact", src.Location()).
		Msg("Version staged")
	return s.store.Get(req.Service, req.Version)
}

// Check verifies the artifact (and config file) of a request are reachable without staging anything.
func (s *Stager) Check(ctx context.Context, req Request) error {
	if err := helpers.ValidateVersion(req.Version); err != nil {
		return err
	}
	src, err := NewSource(req.Artifact, s.client)
	if err != nil {
		return err
	}
	if err := src.Check(ctx); err != nil {
		return err
	}
	if req.ConfigFile != "" {
		if _, err := os.Stat(req.ConfigFile); err != nil {
			return fmt.Errorf("config file: %w", err)
		}
	}
	if s.store.Exists(req.Service, req.Version) && !req.Force {
		return fmt.Errorf("%s %s: %w", req.Service, req.Version, versionstore.ErrVersionExists)
	}
	return nil
}

// materialize fills dst with the artifact and returns its sha256 (empty for directories).
func (s *Stager) materialize(ctx context.Context, src Source, extract bool, dst string) (string, error) {
	if src.IsDir() {
		return "", copyDir(src.Location(), dst)
	}

	r, err := src.Open(ctx)
	if err != nil {
		return "", err
	}
	defer r.Close()

	hash := sha256.New()
	tee := io.TeeReader(r, hash)

	if extract {
		if err := archive.Untar(tee, dst, &archive.TarOptions{NoLchown: true}); err != nil {
			return "", fmt.Errorf("failed to extract artifact %s: %w", src.Location(), err)
		}
		// Drain trailing padding so the checksum covers the whole artifact.
		if _, err := io.Copy(io.Discard, tee); err != nil {
			return "", fmt.Errorf("failed to read artifact: %w", err)
		}
		return hex.EncodeToString(hash.Sum(nil)), nil
	}

	target := filepath.Join(dst, src.Name())
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, constants.ModeFileExec)
	if err != nil {
		return "", fmt.Errorf("failed to create artifact file: %w", err)
	}
	if _, err := io.Copy(f, tee); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

// copyDir copies a directory tree through a tar stream.
func copyDir(src, dst string) error {
	stream, err := archive.TarWithOptions(src, &archive.TarOptions{})
	if err != nil {
		return fmt.Errorf("failed to read artifact directory: %w", err)
	}
	defer stream.Close()
	if err := archive.Untar(stream, dst, &archive.TarOptions{NoLchown: true}); err != nil {
		return fmt.Errorf("failed to copy artifact directory: %w", err)
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
	if info.IsDir() {
		return errors.New(src + " is a directory")
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
