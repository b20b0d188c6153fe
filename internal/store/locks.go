package store

import "sync"

// RepoLocks provides a read-write mutex per repository. Ingest and delete
// take the write lock; queries take the read lock, so searches on one
// repository never block work on another.
type RepoLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.RWMutex
}

// NewRepoLocks creates an empty lock set.
func NewRepoLocks() *RepoLocks {
	return &RepoLocks{locks: make(map[string]*sync.RWMutex)}
}

func (r *RepoLocks) get(repoID string) *sync.RWMutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.locks[repoID]
	if !ok {
		l = &sync.RWMutex{}
		r.locks[repoID] = l
	}
	return l
}

// Lock acquires the write lock for a repository.
func (r *RepoLocks) Lock(repoID string) { r.get(repoID).Lock() }

// Unlock releases the write lock.
func (r *RepoLocks) Unlock(repoID string) { r.get(repoID).Unlock() }

// RLock acquires the read lock for a repository.
func (r *RepoLocks) RLock(repoID string) { r.get(repoID).RLock() }

// RUnlock releases the read lock.
func (r *RepoLocks) RUnlock(repoID string) { r.get(repoID).RUnlock() }
