package archive

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"
)

var (
	// ErrNoSessions is returned by Latest when dir holds no archives.
	ErrNoSessions = errors.New("archive: no sessions")
	// ErrHashMismatch is returned by Load when content does not match its name.
	ErrHashMismatch = errors.New("archive: content hash mismatch")
)

// hashPrefixLen is the number of hex digits of the blake3 sum kept in names.
const hashPrefixLen = 12

const cborExt = ".cbor"

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("archive: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("archive: CBOR decoder initialization failed: " + err.Error())
	}
}

// Store writes session records into a directory.
type Store struct {
	dir         string
	compression Compression
	logger      *slog.Logger
}

// NewStore creates dir if needed. A nil logger uses slog.Default().
func NewStore(dir string, c Compression, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("archive: create %s: %w", dir, err)
	}
	return &Store{dir: dir, compression: c, logger: logger}, nil
}

// Dir returns the archive directory.
func (s *Store) Dir() string {
	return s.dir
}

// Save encodes rec and writes it atomically. It returns the file path.
func (s *Store) Save(rec SessionRecord) (string, error) {
	payload, err := encMode.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("archive: encode %s: %w", rec.SessionID, err)
	}
	data, err := compress(payload, s.compression)
	if err != nil {
		return "", fmt.Errorf("archive: %s: %w", rec.SessionID, err)
	}

	path := filepath.Join(s.dir, fileName(rec.SessionID, payload, s.compression))
	tmp, err := os.CreateTemp(s.dir, ".session-*")
	if err != nil {
		return "", fmt.Errorf("archive: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("archive: write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("archive: write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("archive: %w", err)
	}

	s.logger.Info("archive: session saved",
		"session", rec.SessionID,
		"punches", rec.TotalPunches,
		"path", path,
		"bytes", len(data))
	return path, nil
}

// Load reads an archive file written by Save. The compression is taken
// from the extension and the content hash is checked against the name.
func Load(path string) (SessionRecord, error) {
	var rec SessionRecord

	base := filepath.Base(path)
	stem, c, ok := splitName(base)
	if !ok {
		return rec, fmt.Errorf("archive: %s: not an archive file", base)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return rec, fmt.Errorf("archive: %w", err)
	}
	payload, err := decompress(data, c)
	if err != nil {
		return rec, fmt.Errorf("archive: %s: %w", base, err)
	}
	if i := strings.LastIndexByte(stem, '-'); i >= 0 {
		if want := stem[i+1:]; len(want) == hashPrefixLen && want != hashPrefix(payload) {
			return rec, fmt.Errorf("%w: %s", ErrHashMismatch, base)
		}
	}
	if err := decMode.Unmarshal(payload, &rec); err != nil {
		return rec, fmt.Errorf("archive: decode %s: %w", base, err)
	}
	return rec, nil
}

// List returns archive file paths in dir, oldest first.
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}

	type file struct {
		path string
		mod  int64
	}
	var files []file
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, _, ok := splitName(e.Name()); !ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, file{filepath.Join(dir, e.Name()), info.ModTime().UnixNano()})
	}
	sort.SliceStable(files, func(i, j int) bool {
		if files[i].mod != files[j].mod {
			return files[i].mod < files[j].mod
		}
		return files[i].path < files[j].path
	})

	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.path
	}
	return paths, nil
}

// Latest returns the most recently written archive in dir.
func Latest(dir string) (string, error) {
	paths, err := List(dir)
	if err != nil {
		return "", err
	}
	if len(paths) == 0 {
		return "", ErrNoSessions
	}
	return paths[len(paths)-1], nil
}

func fileName(sessionID string, payload []byte, c Compression) string {
	return sanitize(sessionID) + "-" + hashPrefix(payload) + cborExt + c.Ext()
}

func hashPrefix(payload []byte) string {
	sum := blake3.Sum256(payload)
	return hex.EncodeToString(sum[:])[:hashPrefixLen]
}

// splitName returns the name without extensions and the compression its
// extension implies.
func splitName(name string) (string, Compression, bool) {
	if strings.HasPrefix(name, ".") {
		return "", "", false
	}
	for _, c := range []Compression{CompressionZstd, CompressionLZ4, CompressionNone} {
		suffix := cborExt + c.Ext()
		if stem, ok := strings.CutSuffix(name, suffix); ok && stem != "" {
			return stem, c, true
		}
	}
	return "", "", false
}

func sanitize(id string) string {
	if id == "" {
		return "session"
	}
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
