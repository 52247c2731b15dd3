package stream

import (
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Mounts memoizes run directories for the life of the process, so every sink
// created for the same target shares one timestamped run directory and the
// "watch here" notice is logged once.
type Mounts struct {
	mu   sync.Mutex
	now  func() time.Time
	dirs map[string]string
}

// NewMounts returns an empty mount table using now for run timestamps.
func NewMounts(now func() time.Time) *Mounts {
	if now == nil {
		now = time.Now
	}
	return &Mounts{now: now, dirs: make(map[string]string)}
}

// Mount returns the run directory for targetDir/obsSubdir. fresh is true only
// the first time a given target is mounted.
func (m *Mounts) Mount(targetDir, obsSubdir string) (runDir string, fresh bool) {
	key := filepath.Clean(targetDir) + "\x00" + obsSubdir
	m.mu.Lock()
	defer m.mu.Unlock()
	if dir, ok := m.dirs[key]; ok {
		return dir, false
	}
	if !strings.HasPrefix(obsSubdir, ".") {
		obsSubdir = "." + obsSubdir
	}
	stamp := SanitizeFilename(m.now().UTC().Format("2006-01-02T15:04:05.000Z"))
	dir := filepath.Join(targetDir, obsSubdir, "stream", "i"+stamp)
	m.dirs[key] = dir
	return dir, true
}

// Reset forgets every mount.
func (m *Mounts) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirs = make(map[string]string)
}

var processMounts = NewMounts(time.Now)

// ResetMounts clears the process-wide mount table. Tests call it so one
// test's run directory does not leak into the next.
func ResetMounts() {
	processMounts.Reset()
}
