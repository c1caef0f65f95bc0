package indexing

import "sync"

// folderLocks serializes read-modify-write cycles on one folder's tree within
// this process. Cross-process exclusion is the store's job.
type folderLocks struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func newFolderLocks() *folderLocks {
	return &folderLocks{locks: make(map[int64]*sync.Mutex)}
}

func (l *folderLocks) lock(folderID int64) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[folderID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	l.locks[folderID] = lock
	return lock
}
