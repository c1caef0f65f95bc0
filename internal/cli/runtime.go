package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"smartnotes/internal/cache"
	"smartnotes/internal/config"
	"smartnotes/internal/files"
	"smartnotes/internal/indexing"
	"smartnotes/internal/keywords"
	"smartnotes/internal/normalize"
	"smartnotes/internal/search"
	"smartnotes/internal/store"
)

// backend is the method set shared by the Postgres and memory stores.
type backend interface {
	Ping(context.Context) error
	GetResource(context.Context, int64) (store.Resource, error)
	GetFolder(context.Context, int64) (store.Folder, error)
	GetGroup(context.Context, int64) (store.Group, error)
	ListFoldersByGroup(context.Context, int64) ([]store.Folder, error)
	IsGroupMember(context.Context, int64, int64) (bool, error)
	ListRatings(context.Context, int64) ([]int, error)
	GetKeywords(context.Context, int64) (store.Keywords, error)
	ReplaceKeywords(context.Context, int64, []string) error
	DeleteKeywords(context.Context, int64) error
	EnqueueResource(context.Context, int64) (store.QueueEntry, bool, error)
	GetQueueEntry(context.Context, int64) (store.QueueEntry, error)
	NextQueueEntry(context.Context) (store.QueueEntry, error)
	QueueLength(context.Context) (int, error)
	ListQueueEntries(context.Context) ([]store.QueueEntry, error)
	DeleteQueueEntry(context.Context, int64) error
	MarkQueueEntryFailed(context.Context, int64, string) error
	RetryQueueEntry(context.Context, int64) (bool, error)
	GetFolderIndex(context.Context, int64) (store.FolderIndex, error)
	UpdateFolderIndex(context.Context, int64, func(string) (string, error)) error
	DeleteFolderIndex(context.Context, int64) error
}

type snapshotCache interface {
	Lookup(context.Context, int64) (cache.Snapshot, error)
	Store(context.Context, int64, int64, string) error
	Invalidate(context.Context, int64) error
}

type runtime struct {
	cfg      config.Config
	store    backend
	cache    snapshotCache
	redis    *cache.RedisCache
	pipeline *indexing.Pipeline
	search   *search.Service
	closers  []func() error
}

// newRuntime wires the store, cache, content sources, extractor, pipeline and
// search service from configuration.
func newRuntime(ctx context.Context, cfg config.Config, seedPath string) (*runtime, error) {
	rt := &runtime{cfg: cfg}

	switch cfg.Store {
	case config.StoreMemory:
		mem := store.NewMemoryStore()
		if strings.TrimSpace(seedPath) != "" {
			if err := mem.LoadSeedFile(seedPath); err != nil {
				return nil, err
			}
		}
		log.Printf("cli: using in-memory store; data is lost on exit")
		rt.store = mem
	case config.StorePostgres:
		if seedPath != "" {
			return nil, errors.New("--seed is only supported with the memory store")
		}
		pg, err := store.Connect(ctx, cfg.DatabaseURL, cfg.MigrationsDir)
		if err != nil {
			return nil, fmt.Errorf("database connection failed: %w", err)
		}
		rt.closers = append(rt.closers, pg.DB().Close)
		rt.store = pg
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}

	rt.cache = cache.Nop{}
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisCache, err := cache.NewRedisCache(cfg.RedisURL, cfg.SnapshotTTL)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}
		log.Printf("cli: caching folder snapshots in Redis for %s", cfg.SnapshotTTL)
		rt.closers = append(rt.closers, redisCache.Close)
		rt.cache = redisCache
		rt.redis = redisCache
	}

	source, err := contentSource(cfg)
	if err != nil {
		rt.Close()
		return nil, err
	}
	wiki := normalize.NewWikiClient(cfg.WikiAPIURL, &http.Client{Timeout: 20 * time.Second})
	normalizer := normalize.New(source, wiki)

	rt.pipeline = indexing.NewPipeline(rt.store, normalizer, extractor(cfg), rt.cache)
	rt.search = search.NewService(rt.store, rt.cache)
	return rt, nil
}

func contentSource(cfg config.Config) (files.Source, error) {
	if strings.TrimSpace(cfg.MinioEndpoint) == "" {
		return files.NewLocalSource(cfg.FilesDir), nil
	}
	source, err := files.NewMinioSource(files.MinioConfig{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return source, nil
}

func extractor(cfg config.Config) keywords.Extractor {
	local := keywords.NewLocal()
	if strings.TrimSpace(cfg.KeyphraseURL) == "" {
		return local
	}
	return keywords.WithFallback(keywords.NewRemote(cfg.KeyphraseURL, cfg.KeyphraseTimeout), local)
}

func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			log.Printf("cli: close: %v", err)
		}
	}
	rt.closers = nil
}
