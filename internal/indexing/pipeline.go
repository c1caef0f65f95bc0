// Package indexing turns queued resources into folder index entries and
// stored keyword lists.
package indexing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"runtime/debug"

	"smartnotes/internal/analysis"
	"smartnotes/internal/bst"
	"smartnotes/internal/keywords"
	"smartnotes/internal/normalize"
	"smartnotes/internal/store"
)

type Status string

const (
	StatusQueued           Status = "queued"
	StatusAlreadyGenerated Status = "already-generated"
	StatusAlreadyQueued    Status = "already-queued"
	StatusNotFound         Status = "not-found"
)

type dataStore interface {
	GetResource(context.Context, int64) (store.Resource, error)
	GetKeywords(context.Context, int64) (store.Keywords, error)
	ReplaceKeywords(context.Context, int64, []string) error
	DeleteKeywords(context.Context, int64) error
	EnqueueResource(context.Context, int64) (store.QueueEntry, bool, error)
	GetQueueEntry(context.Context, int64) (store.QueueEntry, error)
	NextQueueEntry(context.Context) (store.QueueEntry, error)
	QueueLength(context.Context) (int, error)
	DeleteQueueEntry(context.Context, int64) error
	MarkQueueEntryFailed(context.Context, int64, string) error
	RetryQueueEntry(context.Context, int64) (bool, error)
	GetFolderIndex(context.Context, int64) (store.FolderIndex, error)
	UpdateFolderIndex(context.Context, int64, func(string) (string, error)) error
	DeleteFolderIndex(context.Context, int64) error
}

type contentNormalizer interface {
	Normalize(context.Context, store.Resource) (normalize.Content, error)
}

type snapshotInvalidator interface {
	Invalidate(context.Context, int64) error
}

type Pipeline struct {
	store      dataStore
	normalizer contentNormalizer
	extractor  keywords.Extractor
	cache      snapshotInvalidator
	locks      *folderLocks
	worker     *Worker
}

func NewPipeline(dataStore dataStore, normalizer contentNormalizer, extractor keywords.Extractor, cache snapshotInvalidator) *Pipeline {
	p := &Pipeline{
		store:      dataStore,
		normalizer: normalizer,
		extractor:  extractor,
		cache:      cache,
		locks:      newFolderLocks(),
	}
	p.worker = newWorker(p)
	return p
}

func (p *Pipeline) Worker() *Worker {
	return p.worker
}

// RequestIndexing queues a resource for keyword generation and wakes the
// worker. A parked failed entry is put back in line.
func (p *Pipeline) RequestIndexing(ctx context.Context, resourceID int64) (Status, error) {
	if _, err := p.store.GetResource(ctx, resourceID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return StatusNotFound, nil
		}
		return "", fmt.Errorf("load resource: %w", err)
	}

	if _, err := p.store.GetKeywords(ctx, resourceID); err == nil {
		return StatusAlreadyGenerated, nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("load keywords: %w", err)
	}

	entry, created, err := p.store.EnqueueResource(ctx, resourceID)
	if err != nil {
		return "", err
	}
	if !created {
		if !entry.Failed() {
			return StatusAlreadyQueued, nil
		}
		if _, err := p.store.RetryQueueEntry(ctx, resourceID); err != nil {
			return "", err
		}
	}

	p.worker.Kick()
	return StatusQueued, nil
}

// Reindex discards everything derived from the resource and queues it again.
func (p *Pipeline) Reindex(ctx context.Context, resourceID int64) (Status, error) {
	resource, err := p.store.GetResource(ctx, resourceID)
	if errors.Is(err, sql.ErrNoRows) {
		return StatusNotFound, nil
	}
	if err != nil {
		return "", fmt.Errorf("load resource: %w", err)
	}
	if err := p.Forget(ctx, resource.FolderID, resourceID); err != nil {
		return "", err
	}
	return p.RequestIndexing(ctx, resourceID)
}

// Forget removes a resource from its folder's tree and drops its keywords and
// any pending queue entry.
func (p *Pipeline) Forget(ctx context.Context, folderID, resourceID int64) error {
	if err := p.store.DeleteQueueEntry(ctx, resourceID); err != nil {
		return err
	}
	if err := p.purge(ctx, folderID, resourceID); err != nil {
		return err
	}
	return p.store.DeleteKeywords(ctx, resourceID)
}

// DropFolder deletes a folder's tree.
func (p *Pipeline) DropFolder(ctx context.Context, folderID int64) error {
	lock := p.locks.lock(folderID)
	lock.Lock()
	defer lock.Unlock()

	if err := p.store.DeleteFolderIndex(ctx, folderID); err != nil {
		return err
	}
	p.invalidate(ctx, folderID)
	return nil
}

type KeywordStatus struct {
	ResourceID int64    `json:"resourceId"`
	Keywords   []string `json:"keywords"`
	Generated  bool     `json:"generated"`
	Pending    bool     `json:"pending"`
	Failed     bool     `json:"failed"`
	LastError  string   `json:"lastError,omitempty"`
}

// Keywords reports the stored phrases of a resource and its queue state.
func (p *Pipeline) Keywords(ctx context.Context, resourceID int64) (KeywordStatus, error) {
	if _, err := p.store.GetResource(ctx, resourceID); err != nil {
		return KeywordStatus{}, err
	}
	status := KeywordStatus{ResourceID: resourceID, Keywords: []string{}}

	stored, err := p.store.GetKeywords(ctx, resourceID)
	switch {
	case err == nil:
		status.Generated = true
		status.Keywords = stored.Phrases
	case !errors.Is(err, sql.ErrNoRows):
		return KeywordStatus{}, fmt.Errorf("load keywords: %w", err)
	}

	entry, err := p.store.GetQueueEntry(ctx, resourceID)
	switch {
	case err == nil:
		status.Pending = !entry.Failed()
		status.Failed = entry.Failed()
		status.LastError = entry.LastError
	case !errors.Is(err, sql.ErrNoRows):
		return KeywordStatus{}, fmt.Errorf("load queue entry: %w", err)
	}
	return status, nil
}

// processNext handles the oldest pending entry. It reports false when the
// queue is empty. An error means the queue itself could not be advanced.
func (p *Pipeline) processNext(ctx context.Context) (bool, error) {
	entry, err := p.store.NextQueueEntry(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read queue: %w", err)
	}

	if err := p.safeProcess(ctx, entry); err != nil {
		log.Printf("indexing: resource %d failed: %v", entry.ResourceID, err)
		if markErr := p.store.MarkQueueEntryFailed(ctx, entry.ResourceID, err.Error()); markErr != nil {
			return false, fmt.Errorf("park resource %d: %w", entry.ResourceID, markErr)
		}
	}
	return true, nil
}

func (p *Pipeline) safeProcess(ctx context.Context, entry store.QueueEntry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("indexing: panic on resource %d: %v\n%s", entry.ResourceID, r, debug.Stack())
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return p.process(ctx, entry)
}

func (p *Pipeline) process(ctx context.Context, entry store.QueueEntry) error {
	if _, err := p.store.GetQueueEntry(ctx, entry.ResourceID); errors.Is(err, sql.ErrNoRows) {
		return nil
	} else if err != nil {
		return fmt.Errorf("reload queue entry: %w", err)
	}

	resource, err := p.store.GetResource(ctx, entry.ResourceID)
	if errors.Is(err, sql.ErrNoRows) {
		log.Printf("indexing: resource %d vanished, dropping entry", entry.ResourceID)
		return p.store.DeleteQueueEntry(ctx, entry.ResourceID)
	}
	if err != nil {
		return fmt.Errorf("load resource: %w", err)
	}

	content, err := p.normalizer.Normalize(ctx, resource)
	if err != nil {
		return err
	}

	var phrases []string
	if content.Blank() {
		phrases = []string{keywords.Unavailable}
	} else {
		indexed := []string{resource.Title}
		extracted, err := p.extractor.Extract(ctx, content.Text)
		switch {
		case err != nil && len(content.Headings) > 0:
			log.Printf("indexing: resource %d: extraction failed, keeping headings: %v", resource.ID, err)
			phrases = content.Headings
			indexed = append(indexed, phrases...)
		case err != nil:
			log.Printf("indexing: resource %d: extraction failed: %v", resource.ID, err)
			phrases = []string{keywords.Failed}
		default:
			phrases = keywords.Merge(content.Headings, extracted)
			indexed = append(indexed, phrases...)
		}
		if len(phrases) == 0 {
			log.Printf("indexing: resource %d: no keywords extracted", resource.ID)
			phrases = []string{keywords.Failed}
		}
		if err := p.index(ctx, resource, analysis.Stems(indexed...)); err != nil {
			return err
		}
	}

	if err := p.store.ReplaceKeywords(ctx, resource.ID, phrases); err != nil {
		return err
	}
	return p.store.DeleteQueueEntry(ctx, resource.ID)
}

// index replaces the resource's stems in its folder tree.
func (p *Pipeline) index(ctx context.Context, resource store.Resource, stems []string) error {
	lock := p.locks.lock(resource.FolderID)
	lock.Lock()
	defer lock.Unlock()

	err := p.store.UpdateFolderIndex(ctx, resource.FolderID, func(raw string) (string, error) {
		tree, err := bst.Decode([]byte(raw))
		if err != nil {
			return "", fmt.Errorf("decode folder %d index: %w", resource.FolderID, err)
		}
		tree.Purge(resource.ID)
		for _, stem := range stems {
			tree.Insert(stem, resource.ID)
		}
		encoded, err := tree.Encode()
		if err != nil {
			return "", fmt.Errorf("encode folder %d index: %w", resource.FolderID, err)
		}
		return string(encoded), nil
	})
	if err != nil {
		return err
	}
	p.invalidate(ctx, resource.FolderID)
	return nil
}

func (p *Pipeline) purge(ctx context.Context, folderID, resourceID int64) error {
	lock := p.locks.lock(folderID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := p.store.GetFolderIndex(ctx, folderID); errors.Is(err, sql.ErrNoRows) {
		return nil
	} else if err != nil {
		return fmt.Errorf("load folder index: %w", err)
	}

	err := p.store.UpdateFolderIndex(ctx, folderID, func(raw string) (string, error) {
		tree, err := bst.Decode([]byte(raw))
		if err != nil {
			return "", fmt.Errorf("decode folder %d index: %w", folderID, err)
		}
		tree.Purge(resourceID)
		encoded, err := tree.Encode()
		if err != nil {
			return "", err
		}
		return string(encoded), nil
	})
	if err != nil {
		return err
	}
	p.invalidate(ctx, folderID)
	return nil
}

func (p *Pipeline) invalidate(ctx context.Context, folderID int64) {
	if p.cache == nil {
		return
	}
	if err := p.cache.Invalidate(ctx, folderID); err != nil {
		log.Printf("indexing: invalidate folder %d snapshot: %v", folderID, err)
	}
}
