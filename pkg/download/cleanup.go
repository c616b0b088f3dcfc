package download

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/go-localmodel/pkg/utils"
)

type fileState int

const (
	statePending fileState = iota // removed on failure cleanup
	stateVerified                 // kept on failure cleanup
)

// CleanupTracker remembers the artifacts a run downloaded so failed ones can
// be removed instead of lingering in the download directory.
type CleanupTracker struct {
	mu     sync.Mutex
	files  map[string]fileState
	logger *utils.Logger
}

// NewCleanupTracker creates an empty tracker
func NewCleanupTracker(logger *utils.Logger) *CleanupTracker {
	return &CleanupTracker{
		files:  make(map[string]fileState),
		logger: logger,
	}
}

// TrackFile registers a download destination as pending
func (ct *CleanupTracker) TrackFile(path string) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.files[path] = statePending
}

// MarkSuccess keeps a tracked file on failure cleanup. Untracked paths are ignored.
func (ct *CleanupTracker) MarkSuccess(path string) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	if _, ok := ct.files[path]; ok {
		ct.files[path] = stateVerified
	}
}

// Tracked lists tracked paths in lexical order
func (ct *CleanupTracker) Tracked() []string {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	paths := make([]string, 0, len(ct.files))
	for p := range ct.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Cleanup removes every tracked file that never verified
func (ct *CleanupTracker) Cleanup() error {
	return ct.remove(func(s fileState) bool { return s == statePending }, "Cleaning up failed file")
}

// CleanupAll removes every tracked file, verified or not
func (ct *CleanupTracker) CleanupAll() error {
	return ct.remove(func(fileState) bool { return true }, "Removing downloaded file")
}

func (ct *CleanupTracker) remove(match func(fileState) bool, action string) error {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	var errs []error
	for path, state := range ct.files {
		if !match(state) {
			continue
		}
		ct.logger.Info("%s: %s", action, path)
		if err := utils.RemoveIfExists(path); err != nil {
			errs = append(errs, fmt.Errorf("failed to cleanup %s: %w", path, err))
			continue
		}
		delete(ct.files, path)
	}
	return errors.Join(errs...)
}
