package cmd

import (
	"context"
	"database/sql"
	"fmt"

	"papervault/config"
	"papervault/config/database"
	"papervault/internal/access"
	accessrepo "papervault/internal/access/repository"
	accesssvc "papervault/internal/access/service"
	"papervault/internal/automate"
	automaterepo "papervault/internal/automate/repository"
	automatesvc "papervault/internal/automate/service"
	"papervault/internal/cache"
	"papervault/internal/document"
	docrepo "papervault/internal/document/repository"
	docsvc "papervault/internal/document/service"
	"papervault/internal/kvstore"
	kvrepo "papervault/internal/kvstore/repository"
	kvsvc "papervault/internal/kvstore/service"
	"papervault/internal/node"
	noderepo "papervault/internal/node/repository"
	nodesvc "papervault/internal/node/service"
	"papervault/internal/ocr"
	"papervault/internal/ocr/tesseract"
	"papervault/internal/pageops"
	pagesvc "papervault/internal/pageops/service"
	"papervault/internal/pdfops"
	"papervault/internal/queue"
	"papervault/internal/search"
	searchmodel "papervault/internal/search/model"
	searchrepo "papervault/internal/search/repository"
	searchsvc "papervault/internal/search/service"
	"papervault/internal/storage"
	"papervault/internal/tag"
	tagrepo "papervault/internal/tag/repository"
	tagsvc "papervault/internal/tag/service"
	"papervault/internal/user"
	userrepo "papervault/internal/user/repository"
	usersvc "papervault/internal/user/service"
	"papervault/pkg/logger"
	"papervault/router"
	"papervault/socket"

	"github.com/redis/go-redis/v9"
)

// app holds every wired component of one process.
type app struct {
	cfg     *config.Config
	db      *sql.DB
	redis   *redis.Client
	cache   cache.Client
	queue   queue.Queue
	backend searchmodel.Backend
	hub     *socket.Hub
	pub     socket.Publisher

	storage *storage.Local
	raster  *ocr.FitzRasterizer

	indexer   *searchsvc.Indexer
	access    *accesssvc.AccessService
	users     *usersvc.UserService
	nodes     *nodesvc.NodeService
	documents *docsvc.DocumentService
	pages     *pagesvc.PageService
	tags      *tagsvc.TagService
	kv        *kvsvc.KVService
	automates *automatesvc.AutomateService
	search    *searchsvc.SearchService
}

// newApp connects the database, Redis (when a driver asks for it) and the
// search backend, then builds the services on top of them. withHub creates
// the websocket hub; processes without one publish events over Redis.
func newApp(ctx context.Context, cfg *config.Config, withHub bool) (*app, error) {
	a := &app{cfg: cfg}

	db, err := database.Connect(cfg.DatabaseDSN(), cfg.Database.Retries)
	if err != nil {
		return nil, err
	}
	a.db = db

	if cfg.Queue.Driver == "redis" || cfg.Cache.Driver == "redis" {
		rc, err := cache.Dial(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.redis = rc
	}

	if cfg.Cache.Driver == "redis" {
		a.cache = cache.NewRedisClient(a.redis, cfg.Redis.Prefix)
	} else {
		a.cache = cache.NewMemoryClient(0)
	}
	if cfg.Queue.Driver == "redis" {
		a.queue = queue.NewRedisQueue(a.redis, cfg.Redis.Prefix, cfg.Queue.Name)
	} else {
		a.queue = queue.NewMemoryQueue(0)
	}

	switch {
	case withHub:
		a.hub = socket.NewHub()
		a.pub = a.hub
	case a.redis != nil:
		a.pub = socket.NewRedisPublisher(cache.NewRedisClient(a.redis, cfg.Redis.Prefix))
	default:
		a.pub = socket.NopPublisher{}
	}

	backend, err := searchsvc.Open(ctx, cfg.Search, db)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open search engine %s: %w", cfg.Search.Engine, err)
	}
	a.backend = backend

	a.storage = storage.New(cfg.Storage.MediaRoot)
	a.raster = ocr.NewFitzRasterizer(cfg.OCR.DPI)
	a.wire()
	return a, nil
}

func (a *app) wire() {
	db := a.db
	nodes := noderepo.NewNodeRepository(db)

	a.indexer = searchsvc.NewIndexer(searchrepo.NewSearchRepository(db), a.backend)
	a.access = accesssvc.NewAccessService(accessrepo.NewAccessRepository(db), a.cache)
	a.access.Indexer = a.indexer

	a.kv = kvsvc.NewKVService(kvrepo.NewKVRepository(db), a.access)
	a.tags = tagsvc.NewTagService(tagrepo.NewTagRepository(db), a.access, a.indexer)
	a.users = usersvc.NewUserService(userrepo.NewUserRepository(db), nodes, a.storage, a.indexer,
		a.cfg.Auth.JWTSecret, a.cfg.Auth.TokenTTL)
	a.nodes = nodesvc.NewNodeService(nodes, a.access, a.kv, a.cache, a.cfg.Cache.TTL, a.storage, a.indexer, a.pub)

	docs := docrepo.NewDocumentRepository(db)
	a.documents = &docsvc.DocumentService{
		Repo:        docs,
		Nodes:       nodes,
		Access:      a.access,
		KV:          a.kv,
		Pages:       a.raster,
		Storage:     a.storage,
		Queue:       a.queue,
		Indexer:     a.indexer,
		Publisher:   a.pub,
		DefaultLang: a.cfg.OCR.DefaultLang,
	}
	a.pages = &pagesvc.PageService{
		Docs:      docs,
		Nodes:     nodes,
		Access:    a.access,
		AccessInh: a.access,
		KV:        a.kv,
		Editor:    pdfops.NewPDFCPU(),
		Storage:   a.storage,
		Indexer:   a.indexer,
		Publisher: a.pub,
	}
	a.automates = automatesvc.NewAutomateService(automaterepo.NewAutomateRepository(db), nodes, a.access, a.kv, a.tags, a.pub)
	a.search = searchsvc.NewSearchService(a.backend, a.cfg.Search.PerPage, a.access)
}

func (a *app) handlers() router.Handlers {
	return router.Handlers{
		User:     user.NewUserHandler(a.users),
		Node:     node.NewNodeHandler(a.nodes),
		Document: document.NewDocumentHandler(a.documents),
		Page:     pageops.NewPageHandler(a.pages),
		Tag:      tag.NewTagHandler(a.tags),
		KV:       kvstore.NewKVHandler(a.kv),
		Access:   access.NewAccessHandler(a.access),
		Automate: automate.NewAutomateHandler(a.automates),
		Search:   search.NewSearchHandler(a.search),
	}
}

func (a *app) worker() (*ocr.Worker, error) {
	engine, err := ocrEngine(a.cfg.OCR.Engine)
	if err != nil {
		return nil, err
	}
	return &ocr.Worker{
		Queue:        a.queue,
		Docs:         docrepo.NewDocumentRepository(a.db),
		Storage:      a.storage,
		Raster:       a.raster,
		Engine:       engine,
		Automates:    a.automates,
		Indexer:      a.indexer,
		Publisher:    a.pub,
		Concurrency:  a.cfg.OCR.Workers,
		PageParallel: a.cfg.OCR.PageParallel,
		MaxAttempts:  a.cfg.OCR.MaxAttempts,
		DPI:          a.cfg.OCR.DPI,
		Languages:    a.cfg.OCR.Languages,
		DefaultLang:  a.cfg.OCR.DefaultLang,
	}, nil
}

func ocrEngine(name string) (ocr.Engine, error) {
	switch name {
	case "tesseract":
		return tesseract.New(nil), nil
	case "noop":
		return ocr.NoopEngine{}, nil
	}
	return nil, fmt.Errorf("unknown ocr engine %q", name)
}

func (a *app) Close() {
	if a.queue != nil {
		a.queue.Close()
	}
	if a.backend != nil {
		if err := a.backend.Close(); err != nil {
			logger.Sugar.Warnf("Failed to close search engine: %v", err)
		}
	}
	if a.cache != nil {
		a.cache.Close()
	}
	if a.redis != nil {
		a.redis.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}
