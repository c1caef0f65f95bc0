package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps everything in process. It backs the memory store mode and
// the tests of packages that sit on top of the store.
type MemoryStore struct {
	mu sync.Mutex

	groups    map[int64]Group
	members   map[int64]map[int64]struct{}
	folders   map[int64]Folder
	resources map[int64]Resource
	reviews   map[int64][]Review
	keywords  map[int64]Keywords
	queue     map[int64]QueueEntry
	indexes   map[int64]FolderIndex
	nextQueue int64
	now       func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		groups:    make(map[int64]Group),
		members:   make(map[int64]map[int64]struct{}),
		folders:   make(map[int64]Folder),
		resources: make(map[int64]Resource),
		reviews:   make(map[int64][]Review),
		keywords:  make(map[int64]Keywords),
		queue:     make(map[int64]QueueEntry),
		indexes:   make(map[int64]FolderIndex),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) PutGroup(group Group) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[group.ID] = group
}

func (s *MemoryStore) AddMember(groupID, userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.members[groupID] == nil {
		s.members[groupID] = make(map[int64]struct{})
	}
	s.members[groupID][userID] = struct{}{}
}

func (s *MemoryStore) PutFolder(folder Folder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.folders[folder.ID] = folder
}

func (s *MemoryStore) PutResource(resource Resource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resources[resource.ID] = resource
}

func (s *MemoryStore) DeleteResource(resourceID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.resources, resourceID)
}

func (s *MemoryStore) AddReview(review Review) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reviews[review.ResourceID] = append(s.reviews[review.ResourceID], review)
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

func (s *MemoryStore) GetResource(_ context.Context, resourceID int64) (Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.resources[resourceID]
	if !ok {
		return Resource{}, ErrNotFound
	}
	return item, nil
}

func (s *MemoryStore) GetFolder(_ context.Context, folderID int64) (Folder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	folder, ok := s.folders[folderID]
	if !ok {
		return Folder{}, ErrNotFound
	}
	return folder, nil
}

func (s *MemoryStore) GetGroup(_ context.Context, groupID int64) (Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	group, ok := s.groups[groupID]
	if !ok {
		return Group{}, ErrNotFound
	}
	return group, nil
}

func (s *MemoryStore) ListFoldersByGroup(_ context.Context, groupID int64) ([]Folder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]Folder, 0)
	for _, folder := range s.folders {
		if folder.GroupID == groupID {
			items = append(items, folder)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (s *MemoryStore) IsGroupMember(_ context.Context, groupID, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if group, ok := s.groups[groupID]; ok && group.OwnerID == userID {
		return true, nil
	}
	_, ok := s.members[groupID][userID]
	return ok, nil
}

func (s *MemoryStore) ListRatings(_ context.Context, resourceID int64) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ratings := make([]int, 0, len(s.reviews[resourceID]))
	for _, review := range s.reviews[resourceID] {
		ratings = append(ratings, review.Rating)
	}
	return ratings, nil
}

func (s *MemoryStore) GetKeywords(_ context.Context, resourceID int64) (Keywords, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.keywords[resourceID]
	if !ok {
		return Keywords{}, ErrNotFound
	}
	item.Phrases = append([]string(nil), item.Phrases...)
	return item, nil
}

func (s *MemoryStore) ReplaceKeywords(_ context.Context, resourceID int64, phrases []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := make([]string, len(phrases))
	copy(copied, phrases)
	s.keywords[resourceID] = Keywords{ResourceID: resourceID, Phrases: copied, CreatedAt: s.now()}
	return nil
}

func (s *MemoryStore) DeleteKeywords(_ context.Context, resourceID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keywords, resourceID)
	return nil
}

func (s *MemoryStore) EnqueueResource(_ context.Context, resourceID int64) (QueueEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.queue[resourceID]; ok {
		return existing, false, nil
	}
	s.nextQueue++
	entry := QueueEntry{ID: s.nextQueue, ResourceID: resourceID, EnqueuedAt: s.now()}
	s.queue[resourceID] = entry
	return entry, true, nil
}

func (s *MemoryStore) GetQueueEntry(_ context.Context, resourceID int64) (QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.queue[resourceID]
	if !ok {
		return QueueEntry{}, ErrNotFound
	}
	return entry, nil
}

func (s *MemoryStore) NextQueueEntry(_ context.Context) (QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var next QueueEntry
	found := false
	for _, entry := range s.queue {
		if entry.Failed() {
			continue
		}
		if !found || entry.ID < next.ID {
			next = entry
			found = true
		}
	}
	if !found {
		return QueueEntry{}, ErrNotFound
	}
	return next, nil
}

func (s *MemoryStore) QueueLength(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, entry := range s.queue {
		if !entry.Failed() {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) ListQueueEntries(_ context.Context) ([]QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]QueueEntry, 0, len(s.queue))
	for _, entry := range s.queue {
		items = append(items, entry)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (s *MemoryStore) DeleteQueueEntry(_ context.Context, resourceID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.queue, resourceID)
	return nil
}

func (s *MemoryStore) MarkQueueEntryFailed(_ context.Context, resourceID int64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.queue[resourceID]
	if !ok {
		return nil
	}
	at := s.now()
	entry.FailedAt = &at
	entry.LastError = reason
	s.queue[resourceID] = entry
	return nil
}

func (s *MemoryStore) RetryQueueEntry(_ context.Context, resourceID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.queue[resourceID]
	if !ok || !entry.Failed() {
		return false, nil
	}
	entry.FailedAt = nil
	entry.LastError = ""
	entry.EnqueuedAt = s.now()
	s.queue[resourceID] = entry
	return true, nil
}

func (s *MemoryStore) GetFolderIndex(_ context.Context, folderID int64) (FolderIndex, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	index, ok := s.indexes[folderID]
	if !ok {
		return FolderIndex{}, ErrNotFound
	}
	return index, nil
}

// UpdateFolderIndex holds the store lock while mutate runs; mutate must not
// call back into the store.
func (s *MemoryStore) UpdateFolderIndex(_ context.Context, folderID int64, mutate func(tree string) (string, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.indexes[folderID].Tree
	next, err := mutate(current)
	if err != nil {
		return err
	}
	s.indexes[folderID] = FolderIndex{FolderID: folderID, Tree: next, UpdatedAt: s.now()}
	return nil
}

func (s *MemoryStore) DeleteFolderIndex(_ context.Context, folderID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.indexes, folderID)
	return nil
}
