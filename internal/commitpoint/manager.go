package commitpoint

import (
	"bufio"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/Aman-CERP/indexkeeper/internal/engine"
	kerrors "github.com/Aman-CERP/indexkeeper/internal/errors"
	"github.com/Aman-CERP/indexkeeper/internal/index"
)

// Manager stores, prunes, and restores commit points for every index under
// one data root. Writes for a single index are serialized; reads may race
// with writes for other indexes freely since each index owns its own
// subtree.
type Manager struct {
	root        string
	maxRetained int

	mu sync.Mutex
}

// NewManager creates a Manager over the given data root retaining at most
// maxRetained points per index.
func NewManager(root string, maxRetained int) *Manager {
	if maxRetained < 1 {
		maxRetained = 1
	}
	return &Manager{root: root, maxRetained: maxRetained}
}

// indexDir returns the live directory for the named index.
func (m *Manager) indexDir(name string) string {
	return filepath.Join(m.root, index.DirName(name))
}

// pointsDir returns the commit-points directory for the named index.
func (m *Manager) pointsDir(name string) string {
	return filepath.Join(m.indexDir(name), engine.CommitPointsDirName)
}

// Store persists a commit point for the named index and prunes retained
// points beyond the limit, oldest first. Points flagged corrupted are
// silently skipped.
func (m *Manager) Store(name string, p *Point) error {
	if p.Corrupted {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	dir := filepath.Join(m.pointsDir(name), dirName(p.Generation))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create commit point directory: %w", err)
	}

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize commit point: %w", err)
	}

	if err := writeFileAtomic(filepath.Join(dir, MetadataFileName), data); err != nil {
		return err
	}
	crc := strconv.FormatUint(uint64(crc32.ChecksumIEEE(data)), 16)
	if err := writeFileAtomic(filepath.Join(dir, ChecksumFileName), []byte(crc)); err != nil {
		return err
	}

	// Snapshot the current segment pointer alongside the metadata so
	// recovery can copy it back over the live pointer.
	src := filepath.Join(m.indexDir(name), engine.MetaFileName)
	if err := copyFile(src, filepath.Join(dir, engine.MetaFileName)); err != nil {
		return fmt.Errorf("failed to snapshot segment pointer: %w", err)
	}

	if err := m.pruneLocked(name); err != nil {
		return err
	}

	slog.Debug("stored commit point",
		slog.String("index", name),
		slog.Uint64("generation", p.Generation))
	return nil
}

// AppendDeletedKeys appends keys to the deleted-keys log of every retained
// commit point for the index, so any of them can later serve as a valid
// rollback target for keys deleted afterward.
func (m *Manager) AppendDeletedKeys(name string, keys []string) error {
	if len(keys) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	gens, err := m.listLocked(name)
	if err != nil {
		return err
	}

	var payload strings.Builder
	for _, key := range keys {
		payload.WriteString(key)
		payload.WriteByte('\n')
	}

	for _, gen := range gens {
		path := filepath.Join(m.pointsDir(name), dirName(gen), DeletedKeysFileName)
		if err := appendToFile(path, payload.String()); err != nil {
			return fmt.Errorf("failed to append deleted keys to generation %d: %w", gen, err)
		}
	}
	return nil
}

// List returns the retained generations for the index, ascending.
func (m *Manager) List(name string) ([]uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listLocked(name)
}

func (m *Manager) listLocked(name string) ([]uint64, error) {
	entries, err := os.ReadDir(m.pointsDir(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list commit points: %w", err)
	}

	gens := make([]uint64, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		gen, err := strconv.ParseUint(entry.Name(), 10, 64)
		if err != nil {
			continue
		}
		gens = append(gens, gen)
	}
	sort.Slice(gens, func(i, j int) bool { return gens[i] < gens[j] })
	return gens, nil
}

// pruneLocked removes the oldest points beyond the retention limit.
func (m *Manager) pruneLocked(name string) error {
	gens, err := m.listLocked(name)
	if err != nil {
		return err
	}
	for len(gens) > m.maxRetained {
		victim := gens[0]
		gens = gens[1:]
		if err := os.RemoveAll(filepath.Join(m.pointsDir(name), dirName(victim))); err != nil {
			return fmt.Errorf("failed to prune commit point %d: %w", victim, err)
		}
		slog.Debug("pruned commit point",
			slog.String("index", name),
			slog.Uint64("generation", victim))
	}
	return nil
}

// TryRecover scans the retained commit points newest-first and restores the
// first one whose metadata validates and whose referenced files all still
// exist in the live index directory. Restoring copies the snapshotted
// segment pointer back over the live pointer and rewrites the generation
// pointer file. Points that fail validation are deleted so the retention
// set heals itself. Returns the restored point and the keys deleted after
// it was captured, or ErrCommitPointNotFound when no retained point
// validates.
func (m *Manager) TryRecover(name string) (*Point, []string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	gens, err := m.listLocked(name)
	if err != nil {
		return nil, nil, err
	}

	liveDir := m.indexDir(name)
	for i := len(gens) - 1; i >= 0; i-- {
		gen := gens[i]
		pointDir := filepath.Join(m.pointsDir(name), dirName(gen))

		p, err := loadPoint(pointDir)
		if err != nil {
			slog.Warn("discarding unreadable commit point",
				slog.String("index", name),
				slog.Uint64("generation", gen),
				slog.String("error", err.Error()))
			_ = os.RemoveAll(pointDir)
			continue
		}

		if missing := missingFiles(liveDir, p.Files); len(missing) > 0 {
			slog.Warn("discarding commit point with missing files",
				slog.String("index", name),
				slog.Uint64("generation", gen),
				slog.Any("missing", missing))
			_ = os.RemoveAll(pointDir)
			continue
		}

		if err := m.restoreLocked(liveDir, pointDir, p); err != nil {
			return nil, nil, err
		}

		keys, err := readDeletedKeys(filepath.Join(pointDir, DeletedKeysFileName))
		if err != nil {
			return nil, nil, err
		}

		slog.Info("recovered index from commit point",
			slog.String("index", name),
			slog.Uint64("generation", gen),
			slog.Int("deleted_keys", len(keys)))
		return p, keys, nil
	}

	return nil, nil, kerrors.New(kerrors.ErrCodeCommitPointNotFound,
		"no valid commit point found", kerrors.ErrCommitPointNotFound).WithIndex(name)
}

// restoreLocked copies the point's segment pointer snapshot over the live
// pointer and rewrites the generation pointer.
func (m *Manager) restoreLocked(liveDir, pointDir string, p *Point) error {
	snapshot := filepath.Join(pointDir, engine.MetaFileName)
	if err := copyFile(snapshot, filepath.Join(liveDir, engine.MetaFileName)); err != nil {
		return fmt.Errorf("failed to restore segment pointer: %w", err)
	}
	if err := engine.WriteGeneration(liveDir, p.Generation); err != nil {
		return err
	}
	return engine.WritePosition(liveDir, p.Position)
}

// loadPoint reads and validates one commit point's metadata.
func loadPoint(pointDir string) (*Point, error) {
	data, err := os.ReadFile(filepath.Join(pointDir, MetadataFileName))
	if err != nil {
		return nil, fmt.Errorf("metadata unreadable: %w", err)
	}

	crcData, err := os.ReadFile(filepath.Join(pointDir, ChecksumFileName))
	if err != nil {
		return nil, fmt.Errorf("checksum unreadable: %w", err)
	}
	want, err := strconv.ParseUint(strings.TrimSpace(string(crcData)), 16, 32)
	if err != nil {
		return nil, fmt.Errorf("checksum unparsable: %w", err)
	}
	if got := crc32.ChecksumIEEE(data); got != uint32(want) {
		return nil, fmt.Errorf("checksum mismatch: got %08x, want %08x", got, uint32(want))
	}

	var p Point
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("metadata corrupt: %w", err)
	}
	if _, err := os.Stat(filepath.Join(pointDir, engine.MetaFileName)); err != nil {
		return nil, fmt.Errorf("segment pointer snapshot missing: %w", err)
	}
	return &p, nil
}

// missingFiles returns the referenced files absent from the live directory.
func missingFiles(liveDir string, files []string) []string {
	var missing []string
	for _, f := range files {
		if _, err := os.Stat(filepath.Join(liveDir, f)); err != nil {
			missing = append(missing, f)
		}
	}
	return missing
}

// readDeletedKeys reads the one-key-per-line deletion log. A missing log
// means no deletions were recorded.
func readDeletedKeys(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read deleted keys: %w", err)
	}
	defer f.Close()

	var keys []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			keys = append(keys, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan deleted keys: %w", err)
	}
	return keys, nil
}

// writeFileAtomic writes data via a temp file, fsync, and rename so a crash
// mid-write never leaves a half-written file under the final name.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", tmp, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to sync %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename %s: %w", tmp, err)
	}
	return nil
}

// copyFile copies src to dst, replacing dst.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// appendToFile appends payload to the file at path, creating it if needed.
// The file is opened in append mode so the write lands at end-of-file under
// single-writer discipline.
func appendToFile(path, payload string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(payload); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
