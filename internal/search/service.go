package search

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"smartnotes/internal/analysis"
	"smartnotes/internal/bst"
	"smartnotes/internal/cache"
	"smartnotes/internal/rbac"
	"smartnotes/internal/store"
)

// maxConcurrentFolders bounds parallel snapshot loads in a group search.
const maxConcurrentFolders = 8

type dataStore interface {
	GetFolder(context.Context, int64) (store.Folder, error)
	GetGroup(context.Context, int64) (store.Group, error)
	ListFoldersByGroup(context.Context, int64) ([]store.Folder, error)
	IsGroupMember(context.Context, int64, int64) (bool, error)
	GetFolderIndex(context.Context, int64) (store.FolderIndex, error)
	GetResource(context.Context, int64) (store.Resource, error)
	ListRatings(context.Context, int64) ([]int, error)
	GetKeywords(context.Context, int64) (store.Keywords, error)
}

type snapshotCache interface {
	Lookup(context.Context, int64) (cache.Snapshot, error)
	Store(context.Context, int64, int64, string) error
}

type Service struct {
	store dataStore
	cache snapshotCache
}

func NewService(dataStore dataStore, snapshots snapshotCache) *Service {
	if snapshots == nil {
		snapshots = cache.Nop{}
	}
	return &Service{store: dataStore, cache: snapshots}
}

// SearchFolder ranks the resources of one folder against query. Misses of any
// kind come back as a not-found response; only infrastructure failures are
// returned as errors.
func (s *Service) SearchFolder(ctx context.Context, viewerID, folderID int64, query string) (Response, error) {
	query = normalizeQuery(query)
	stems := analysis.QueryStems(query)
	if len(stems) == 0 {
		return notFound(query), nil
	}

	folder, err := s.store.GetFolder(ctx, folderID)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound(query), nil
	}
	if err != nil {
		return Response{}, fmt.Errorf("load folder: %w", err)
	}
	allowed, err := s.allowed(ctx, viewerID, folder.GroupID)
	if err != nil {
		return Response{}, err
	}
	if !allowed {
		return notFound(query), nil
	}

	tree, err := s.loadTree(ctx, folderID)
	if err != nil {
		return Response{}, err
	}
	return s.respond(ctx, query, score([]*bst.Tree{tree}, stems))
}

// SearchGroup ranks the resources of every folder in the group.
func (s *Service) SearchGroup(ctx context.Context, viewerID, groupID int64, query string) (Response, error) {
	query = normalizeQuery(query)
	stems := analysis.QueryStems(query)
	if len(stems) == 0 {
		return notFound(query), nil
	}

	if _, err := s.store.GetGroup(ctx, groupID); errors.Is(err, sql.ErrNoRows) {
		return notFound(query), nil
	} else if err != nil {
		return Response{}, fmt.Errorf("load group: %w", err)
	}
	allowed, err := s.allowed(ctx, viewerID, groupID)
	if err != nil {
		return Response{}, err
	}
	if !allowed {
		return notFound(query), nil
	}

	folders, err := s.store.ListFoldersByGroup(ctx, groupID)
	if err != nil {
		return Response{}, err
	}

	trees := make([]*bst.Tree, len(folders))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentFolders)
	for i, folder := range folders {
		g.Go(func() error {
			tree, err := s.loadTree(gctx, folder.ID)
			if err != nil {
				return err
			}
			trees[i] = tree
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Response{}, err
	}
	return s.respond(ctx, query, score(trees, stems))
}

func (s *Service) allowed(ctx context.Context, viewerID, groupID int64) (bool, error) {
	role, err := rbac.RoleInGroup(ctx, s.store, viewerID, groupID)
	if err != nil {
		return false, err
	}
	return rbac.Can(role, rbac.ActionSearch), nil
}

// loadTree returns the folder's tree, nil when the folder has none yet.
func (s *Service) loadTree(ctx context.Context, folderID int64) (*bst.Tree, error) {
	snap, err := s.cache.Lookup(ctx, folderID)
	cacheable := err == nil
	if err != nil {
		log.Printf("search: snapshot lookup folder %d: %v", folderID, err)
	}
	if cacheable && snap.Hit {
		tree, decodeErr := bst.Decode([]byte(snap.Tree))
		if decodeErr == nil {
			return tree, nil
		}
		log.Printf("search: cached snapshot folder %d: %v", folderID, decodeErr)
	}

	index, err := s.store.GetFolderIndex(ctx, folderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load folder index %d: %w", folderID, err)
	}
	tree, err := bst.Decode([]byte(index.Tree))
	if err != nil {
		log.Printf("search: folder %d index unreadable: %v", folderID, err)
		return nil, nil
	}
	if cacheable {
		if err := s.cache.Store(ctx, folderID, snap.Generation, index.Tree); err != nil {
			log.Printf("search: snapshot store folder %d: %v", folderID, err)
		}
	}
	return tree, nil
}

type hit struct {
	resourceID int64
	score      int
}

// score adds one point per resource for every query stem found in a tree.
func score(trees []*bst.Tree, stems []string) []hit {
	totals := make(map[int64]int)
	for _, tree := range trees {
		if tree == nil {
			continue
		}
		for _, stem := range stems {
			node := tree.Find(stem)
			if node == nil {
				continue
			}
			for _, id := range node.ResourceIDs {
				totals[id]++
			}
		}
	}

	hits := make([]hit, 0, len(totals))
	for id, total := range totals {
		hits = append(hits, hit{resourceID: id, score: total})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].resourceID < hits[j].resourceID
	})
	return hits
}

func (s *Service) respond(ctx context.Context, query string, hits []hit) (Response, error) {
	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		resource, err := s.store.GetResource(ctx, h.resourceID)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return Response{}, fmt.Errorf("load resource %d: %w", h.resourceID, err)
		}

		ratings, err := s.store.ListRatings(ctx, resource.ID)
		if err != nil {
			return Response{}, err
		}

		phrases := []string{}
		stored, err := s.store.GetKeywords(ctx, resource.ID)
		switch {
		case err == nil:
			phrases = stored.Phrases
		case !errors.Is(err, sql.ErrNoRows):
			return Response{}, fmt.Errorf("load keywords %d: %w", resource.ID, err)
		}

		results = append(results, Result{
			ID:       resource.ID,
			FolderID: resource.FolderID,
			Title:    resource.Title,
			Type:     string(resource.Type),
			Score:    h.score,
			Rating:   RatingLabel(ratings),
			Keywords: phrases,
		})
	}

	if len(results) == 0 {
		return notFound(query), nil
	}
	return Response{Found: true, Query: query, Results: results}, nil
}

// RatingLabel renders the mean rating as "4.0/5", or "NA" without ratings.
func RatingLabel(ratings []int) string {
	if len(ratings) == 0 {
		return "NA"
	}
	sum := 0
	for _, r := range ratings {
		sum += r
	}
	mean := strconv.FormatFloat(float64(sum)/float64(len(ratings)), 'f', -1, 64)
	if !strings.Contains(mean, ".") {
		mean += ".0"
	}
	return mean + "/5"
}

func normalizeQuery(query string) string {
	return strings.ToLower(strings.TrimSpace(query))
}
