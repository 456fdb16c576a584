package sftp

import (
	"context"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/angelmondragon/giroflow-backend/pkg/errors"
)

// Memory is an in-process Transfer used for dry runs and tests.
type Memory struct {
	mu    sync.Mutex
	files map[string]memFile
	now   func() time.Time
}

type memFile struct {
	content []byte
	modTime time.Time
}

func NewMemory() *Memory {
	return &Memory{files: make(map[string]memFile), now: time.Now}
}

func (m *Memory) List(_ context.Context, dir string) ([]File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	dir = path.Clean(dir)
	var out []File
	for p, f := range m.files {
		if path.Dir(p) != dir {
			continue
		}
		out = append(out, File{Name: path.Base(p), Size: int64(len(f.content)), ModTime: f.modTime})
	}
	sortFiles(out)
	return out, nil
}

func (m *Memory) Read(_ context.Context, filePath string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[path.Clean(filePath)]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no such file "+filePath)
	}
	return append([]byte(nil), f.content...), nil
}

func (m *Memory) Write(_ context.Context, filePath string, content []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if strings.TrimSpace(filePath) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "empty path")
	}
	m.files[path.Clean(filePath)] = memFile{content: append([]byte(nil), content...), modTime: m.now()}
	return nil
}

// Paths lists every stored path, for assertions.
func (m *Memory) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.files))
	for p := range m.files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
