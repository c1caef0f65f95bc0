package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"smartnotes/internal/indexing"
	"smartnotes/internal/rbac"
	"smartnotes/internal/search"
	"smartnotes/internal/store"
)

type dataStore interface {
	Ping(context.Context) error
	GetResource(context.Context, int64) (store.Resource, error)
	GetFolder(context.Context, int64) (store.Folder, error)
	GetGroup(context.Context, int64) (store.Group, error)
	IsGroupMember(context.Context, int64, int64) (bool, error)
}

type indexer interface {
	RequestIndexing(context.Context, int64) (indexing.Status, error)
	Reindex(context.Context, int64) (indexing.Status, error)
	Forget(context.Context, int64, int64) error
	DropFolder(context.Context, int64) error
	Keywords(context.Context, int64) (indexing.KeywordStatus, error)
}

type searcher interface {
	SearchFolder(context.Context, int64, int64, string) (search.Response, error)
	SearchGroup(context.Context, int64, int64, string) (search.Response, error)
}

type pinger interface {
	Ping(context.Context) error
}

type Service struct {
	store    dataStore
	indexer  indexer
	searcher searcher
	cache    pinger
}

// New wires the HTTP-facing service. snapshots may be nil when no cache is
// configured.
func New(dataStore dataStore, pipeline indexer, searchService searcher, snapshots pinger) *Service {
	return &Service{
		store:    dataStore,
		indexer:  pipeline,
		searcher: searchService,
		cache:    snapshots,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// PingCache reports whether the snapshot cache answers. It returns false when
// no cache is configured.
func (s *Service) PingCache(ctx context.Context) (bool, error) {
	if s.cache == nil {
		return false, nil
	}
	return true, s.cache.Ping(ctx)
}

func (s *Service) RequestIndexing(ctx context.Context, viewerID, resourceID int64) (indexing.Status, error) {
	resource, err := s.store.GetResource(ctx, resourceID)
	if errors.Is(err, sql.ErrNoRows) {
		return indexing.StatusNotFound, nil
	}
	if err != nil {
		return "", fmt.Errorf("load resource: %w", err)
	}
	if err := s.authorizeFolder(ctx, viewerID, resource.FolderID, rbac.ActionIndex); err != nil {
		return "", err
	}
	return s.indexer.RequestIndexing(ctx, resourceID)
}

func (s *Service) Reindex(ctx context.Context, viewerID, resourceID int64) (indexing.Status, error) {
	resource, err := s.store.GetResource(ctx, resourceID)
	if errors.Is(err, sql.ErrNoRows) {
		return indexing.StatusNotFound, nil
	}
	if err != nil {
		return "", fmt.Errorf("load resource: %w", err)
	}
	if err := s.authorizeFolder(ctx, viewerID, resource.FolderID, rbac.ActionIndex); err != nil {
		return "", err
	}
	return s.indexer.Reindex(ctx, resourceID)
}

func (s *Service) Keywords(ctx context.Context, viewerID, resourceID int64) (indexing.KeywordStatus, error) {
	resource, err := s.store.GetResource(ctx, resourceID)
	if errors.Is(err, sql.ErrNoRows) {
		return indexing.KeywordStatus{}, errNotFound("Resource")
	}
	if err != nil {
		return indexing.KeywordStatus{}, fmt.Errorf("load resource: %w", err)
	}
	if err := s.authorizeFolder(ctx, viewerID, resource.FolderID, rbac.ActionSearch); err != nil {
		return indexing.KeywordStatus{}, err
	}
	return s.indexer.Keywords(ctx, resourceID)
}

// ForgetResource drops a resource from a folder index. The resource row may
// already be gone, so access is checked against the folder; a resource that
// still exists must live in that folder.
func (s *Service) ForgetResource(ctx context.Context, viewerID, folderID, resourceID int64) error {
	if err := s.authorizeFolder(ctx, viewerID, folderID, rbac.ActionManage); err != nil {
		return err
	}
	resource, err := s.store.GetResource(ctx, resourceID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("load resource: %w", err)
	case resource.FolderID != folderID:
		return errNotFound("Resource")
	}
	return s.indexer.Forget(ctx, folderID, resourceID)
}

func (s *Service) DropFolderIndex(ctx context.Context, viewerID, folderID int64) error {
	if err := s.authorizeFolder(ctx, viewerID, folderID, rbac.ActionManage); err != nil {
		return err
	}
	return s.indexer.DropFolder(ctx, folderID)
}

func (s *Service) SearchFolder(ctx context.Context, viewerID, folderID int64, query string) (search.Response, error) {
	return s.searcher.SearchFolder(ctx, viewerID, folderID, query)
}

func (s *Service) SearchGroup(ctx context.Context, viewerID, groupID int64, query string) (search.Response, error) {
	return s.searcher.SearchGroup(ctx, viewerID, groupID, query)
}

func (s *Service) authorizeFolder(ctx context.Context, viewerID, folderID int64, action rbac.Action) error {
	folder, err := s.store.GetFolder(ctx, folderID)
	if errors.Is(err, sql.ErrNoRows) {
		return errNotFound("Folder")
	}
	if err != nil {
		return fmt.Errorf("load folder: %w", err)
	}
	role, err := rbac.RoleInGroup(ctx, s.store, viewerID, folder.GroupID)
	if err != nil {
		return err
	}
	if !rbac.Can(role, action) {
		return errForbidden()
	}
	return nil
}
