package backup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"filippo.io/age"
	"github.com/jinzoro/syseng-scripts/internal/constants"
	"github.com/jinzoro/syseng-scripts/internal/helpers"
	"github.com/jinzoro/syseng-scripts/internal/versionstore"
	"github.com/moby/go-archive"
	"github.com/samber/lo"
)

var (
	ErrNoSnapshot       = errors.New("no backup snapshot available")
	ErrChecksumMismatch = errors.New("backup checksum mismatch")
	ErrNoIdentity       = errors.New("backup is encrypted but no age identity is configured")
)

// Snapshot describes one archived copy of a version, as stored in its sidecar file.
type Snapshot struct {
	Service       string    `json:"service"`
	SourceVersion string    `json:"source_version"`
	Archive       string    `json:"archive"`
	CreatedAt     time.Time `json:"created_at"`
	SHA256        string    `json:"sha256,omitempty"`
	Size          int64     `json:"size"`
	Encrypted     bool      `json:"encrypted"`
}

func (s Snapshot) Name() string {
	return filepath.Base(s.Archive)
}

type Options struct {
	// AgeRecipient encrypts new snapshots when set.
	AgeRecipient string
	// AgeIdentity is an identity file path or an AGE-SECRET-KEY value used to decrypt on restore.
	// Falls back to DEPLOYCTL_AGE_IDENTITY.
	AgeIdentity string
	Now         func() time.Time
}

type Manager struct {
	store     *versionstore.Store
	recipient age.Recipient
	identity  string
	now       func() time.Time
}

func New(store *versionstore.Store, opts Options) (*Manager, error) {
	m := &Manager{store: store, identity: opts.AgeIdentity, now: opts.Now}
	if m.now == nil {
		m.now = time.Now
	}
	if m.identity == "" {
		m.identity = os.Getenv(constants.EnvVarAgeIdentity)
	}
	if opts.AgeRecipient != "" {
		r, err := age.ParseX25519Recipient(opts.AgeRecipient)
		if err != nil {
			return nil, fmt.Errorf("invalid age recipient: %w", err)
		}
		m.recipient = r
	}
	return m, nil
}

// Snapshot archives the version the Current Pointer references. It returns nil and no
// error when the service has no live version yet. The archive only becomes visible
// under its final name once it is complete.
func (m *Manager) Snapshot(ctx context.Context, service string) (*Snapshot, error) {
	current, err := m.store.Current(service)
	if err != nil {
		if errors.Is(err, versionstore.ErrNoCurrent) {
			return nil, nil
		}
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	backupsDir := m.store.Layout().BackupsDir(service)
	if err := os.MkdirAll(backupsDir, constants.ModeDirDefault); err != nil {
		return nil, fmt.Errorf("failed to create backups directory: %w", err)
	}

	createdAt := m.now().UTC()
	name := fmt.Sprintf("%s-%s%s", service, helpers.FormatStamp(createdAt), constants.BackupArchiveExt)
	if m.recipient != nil {
		name += constants.EncryptedArchiveExt
	}
	finalPath := filepath.Join(backupsDir, name)
	if _, err := os.Stat(finalPath); err == nil {
		return nil, fmt.Errorf("backup %s already exists", name)
	}

	tmp, err := os.CreateTemp(backupsDir, ".partial-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create backup file: %w", err)
	}
	defer os.Remove(tmp.Name())

	sum, size, err := m.writeArchive(ctx, current.Path, tmp)
	if closeErr := tmp.Close(); err == nil && closeErr != nil {
		err = closeErr
	}
	if err != nil {
		return nil, fmt.Errorf("failed to archive %s %s: %w", service, current.Version, err)
	}
	if err := os.Rename(tmp.Name(), finalPath); err != nil {
		return nil, fmt.Errorf("failed to finalize backup: %w", err)
	}

	snap := &Snapshot{
		Service:       service,
		SourceVersion: current.Version,
		Archive:       finalPath,
		CreatedAt:     createdAt,
		SHA256:        sum,
		Size:          size,
		Encrypted:     m.recipient != nil,
	}
	if err := writeSidecar(*snap); err != nil {
		_ = os.Remove(finalPath)
		return nil, err
	}
	return snap, nil
}

func (m *Manager) writeArchive(ctx context.Context, srcDir string, dst io.Writer) (string, int64, error) {
	tarStream, err := archive.TarWithOptions(srcDir, &archive.TarOptions{Compression: archive.Gzip})
	if err != nil {
		return "", 0, err
	}
	defer tarStream.Close()

	hash := sha256.New()
	counter := &countingWriter{}
	out := io.MultiWriter(dst, hash, counter)

	var sink io.WriteCloser = nopWriteCloser{out}
	if m.recipient != nil {
		sink, err = age.Encrypt(out, m.recipient)
		if err != nil {
			return "", 0, fmt.Errorf("failed to start encryption: %w", err)
		}
	}

	if _, err := io.Copy(sink, contextReader{ctx: ctx, r: tarStream}); err != nil {
		return "", 0, err
	}
	if err := sink.Close(); err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(hash.Sum(nil)), counter.n, nil
}

// Restore replaces the snapshot's source version directory with the archive content.
// When that version is live, current keeps pointing at a complete copy throughout and
// ends on the restored directory.
func (m *Manager) Restore(ctx context.Context, snap Snapshot) error {
	if err := m.verify(snap); err != nil {
		return err
	}

	tmpDir, err := m.extract(ctx, snap)
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmpDir)

	live, err := m.store.CurrentName(snap.Service)
	if err != nil || live != snap.SourceVersion {
		if err := m.store.ReplaceVersionDir(snap.Service, snap.SourceVersion, tmpDir); err != nil {
			return fmt.Errorf("failed to restore %s %s: %w", snap.Service, snap.SourceVersion, err)
		}
		return nil
	}

	bridge, err := m.extract(ctx, snap)
	if err != nil {
		return err
	}
	if err := m.store.ReplaceLiveVersionDir(snap.Service, snap.SourceVersion, tmpDir, bridge); err != nil {
		return fmt.Errorf("failed to restore live %s %s: %w", snap.Service, snap.SourceVersion, err)
	}
	return nil
}

// extract unpacks the archive into a fresh TempDir of the service.
func (m *Manager) extract(ctx context.Context, snap Snapshot) (string, error) {
	f, err := os.Open(snap.Archive)
	if err != nil {
		return "", fmt.Errorf("failed to open backup: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if snap.Encrypted {
		identities, err := m.identities()
		if err != nil {
			return "", err
		}
		r, err = age.Decrypt(f, identities...)
		if err != nil {
			return "", fmt.Errorf("failed to decrypt backup: %w", err)
		}
	}

	dir, err := m.store.TempDir(snap.Service, "restore-"+snap.SourceVersion)
	if err != nil {
		return "", err
	}
	if err := archive.Untar(contextReader{ctx: ctx, r: r}, dir, &archive.TarOptions{NoLchown: true}); err != nil {
		os.RemoveAll(dir)
		return "", fmt.Errorf("failed to extract backup %s: %w", snap.Name(), err)
	}
	if err := os.Chmod(dir, constants.ModeDirDefault); err != nil {
		os.RemoveAll(dir)
		return "", fmt.Errorf("failed to set permissions on restored version: %w", err)
	}
	return dir, nil
}

func (m *Manager) verify(snap Snapshot) error {
	if snap.SHA256 == "" {
		return nil
	}
	f, err := os.Open(snap.Archive)
	if err != nil {
		return fmt.Errorf("failed to open backup: %w", err)
	}
	defer f.Close()
	hash := sha256.New()
	if _, err := io.Copy(hash, f); err != nil {
		return fmt.Errorf("failed to read backup: %w", err)
	}
	if got := hex.EncodeToString(hash.Sum(nil)); got != snap.SHA256 {
		return fmt.Errorf("%s: %w (want %s, got %s)", snap.Name(), ErrChecksumMismatch, snap.SHA256, got)
	}
	return nil
}

func (m *Manager) identities() ([]age.Identity, error) {
	if m.identity == "" {
		return nil, ErrNoIdentity
	}
	var r io.Reader
	if strings.HasPrefix(strings.TrimSpace(m.identity), "AGE-SECRET-KEY-") {
		r = strings.NewReader(m.identity)
	} else {
		f, err := os.Open(m.identity)
		if err != nil {
			return nil, fmt.Errorf("failed to open age identity file: %w", err)
		}
		defer f.Close()
		r = f
	}
	identities, err := age.ParseIdentities(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse age identity: %w", err)
	}
	return identities, nil
}

// List returns the snapshots of a service ordered oldest first.
func (m *Manager) List(service string) ([]Snapshot, error) {
	dir := m.store.Layout().BackupsDir(service)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read backups directory: %w", err)
	}

	archives := lo.Filter(entries, func(e fs.DirEntry, _ int) bool {
		return !e.IsDir() && isArchiveName(e.Name())
	})
	snaps := make([]Snapshot, 0, len(archives))
	for _, e := range archives {
		snap, err := m.Load(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	SortByCreation(snaps)
	return snaps, nil
}

// Latest returns the newest snapshot, or ErrNoSnapshot.
func (m *Manager) Latest(service string) (Snapshot, error) {
	snaps, err := m.List(service)
	if err != nil {
		return Snapshot{}, err
	}
	if len(snaps) == 0 {
		return Snapshot{}, fmt.Errorf("%s: %w", service, ErrNoSnapshot)
	}
	return snaps[len(snaps)-1], nil
}

// Load reads a snapshot from its archive path. Archives without a sidecar are described
// from their file name and modification time.
func (m *Manager) Load(path string) (Snapshot, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("backup %s: %w", path, err)
	}
	data, err := os.ReadFile(path + constants.BackupMetaExt)
	if err == nil {
		var snap Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return Snapshot{}, fmt.Errorf("corrupt backup metadata for %s: %w", path, err)
		}
		snap.Archive = path
		return snap, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return Snapshot{}, fmt.Errorf("failed to read backup metadata: %w", err)
	}

	service := filepath.Base(filepath.Dir(filepath.Dir(path)))
	createdAt := info.ModTime().UTC()
	if stamp, ok := stampFromName(service, filepath.Base(path)); ok {
		createdAt = stamp
	}
	return Snapshot{
		Service:   service,
		Archive:   path,
		CreatedAt: createdAt,
		Size:      info.Size(),
		Encrypted: strings.HasSuffix(path, constants.EncryptedArchiveExt),
	}, nil
}

// Remove deletes a snapshot archive and its sidecar.
func (m *Manager) Remove(snap Snapshot) error {
	if err := os.Remove(snap.Archive); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove backup %s: %w", snap.Name(), err)
	}
	if err := os.Remove(snap.Archive + constants.BackupMetaExt); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove backup metadata %s: %w", snap.Name(), err)
	}
	return nil
}

// SortByCreation orders snapshots oldest first, ties broken by archive name.
func SortByCreation(snaps []Snapshot) {
	slices.SortStableFunc(snaps, func(a, b Snapshot) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.Name(), b.Name())
	})
}

// stampFromName reads the creation time out of "<service>-<stamp>.tar.gz[.age]".
func stampFromName(service, name string) (time.Time, bool) {
	name = strings.TrimSuffix(name, constants.EncryptedArchiveExt)
	name = strings.TrimSuffix(name, constants.BackupArchiveExt)
	stamp, ok := strings.CutPrefix(name, service+"-")
	if !ok {
		return time.Time{}, false
	}
	t, err := helpers.ParseStamp(stamp, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func isArchiveName(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	return strings.HasSuffix(name, constants.BackupArchiveExt) ||
		strings.HasSuffix(name, constants.BackupArchiveExt+constants.EncryptedArchiveExt)
}

func writeSidecar(snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal backup metadata: %w", err)
	}
	if err := os.WriteFile(snap.Archive+constants.BackupMetaExt, data, constants.ModeFileDefault); err != nil {
		return fmt.Errorf("failed to write backup metadata: %w", err)
	}
	return nil
}
