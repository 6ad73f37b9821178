package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweetpotato0/carebridge/agent/clinical"
	"github.com/sweetpotato0/carebridge/agent/intake"
	"github.com/sweetpotato0/carebridge/audit"
	"github.com/sweetpotato0/carebridge/config"
	mongoaudit "github.com/sweetpotato0/carebridge/contrib/audit/mongo"
	"github.com/sweetpotato0/carebridge/contrib/embedder/hashing"
	openaiembedder "github.com/sweetpotato0/carebridge/contrib/embedder/openai"
	"github.com/sweetpotato0/carebridge/contrib/patient/jsondir"
	"github.com/sweetpotato0/carebridge/contrib/provider/claude"
	"github.com/sweetpotato0/carebridge/contrib/provider/gemini"
	"github.com/sweetpotato0/carebridge/contrib/provider/groq"
	"github.com/sweetpotato0/carebridge/contrib/provider/openai"
	sessionmem "github.com/sweetpotato0/carebridge/contrib/session/inmemory"
	"github.com/sweetpotato0/carebridge/contrib/tokenizer/tiktoken"
	vectormem "github.com/sweetpotato0/carebridge/contrib/vector/inmemory"
	"github.com/sweetpotato0/carebridge/contrib/vector/pg"
	"github.com/sweetpotato0/carebridge/contrib/websearch/serper"
	"github.com/sweetpotato0/carebridge/contrib/websearch/tavily"
	"github.com/sweetpotato0/carebridge/pkg/logging"
	"github.com/sweetpotato0/carebridge/pkg/metrics"
	"github.com/sweetpotato0/carebridge/pkg/telemetry"
	"github.com/sweetpotato0/carebridge/rag/chunking"
	"github.com/sweetpotato0/carebridge/rag/indexer"
	"github.com/sweetpotato0/carebridge/rag/retriever"
	"github.com/sweetpotato0/carebridge/rag/tokenizer"
	"github.com/sweetpotato0/carebridge/reasoning"
	"github.com/sweetpotato0/carebridge/router"
	"github.com/sweetpotato0/carebridge/session"
	sessionstore "github.com/sweetpotato0/carebridge/session/store"
	"github.com/sweetpotato0/carebridge/vector"
	"github.com/sweetpotato0/carebridge/websearch"
)

// app holds every component built from configuration.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	indexer  *indexer.Indexer
	router   *router.Router
	recorder *audit.Recorder

	closers []func(context.Context) error
}

func (a *app) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse construction order.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	logging.Configure(cfg.Log.Format, cfg.Log.Level)
	a := &app{
		cfg:      cfg,
		logger:   logging.WithComponent("carebridge"),
		registry: prometheus.NewRegistry(),
	}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.NewMetrics(a.registry)

	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		SampleRatio:    cfg.Telemetry.SampleRatio,
		Disable:        !cfg.Telemetry.Enabled,
		Logger:         logging.WithComponent("telemetry"),
	})
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	a.onClose(shutdown)

	emb, err := newEmbedder(cfg.Embedder)
	if err != nil {
		return nil, err
	}
	store, err := a.newVectorStore(ctx, emb.Dimension())
	if err != nil {
		return nil, err
	}
	a.indexer = indexer.New(store, emb,
		indexer.WithChunker(chunking.NewSimpleChunker(
			chunking.WithChunkSize(cfg.RAG.ChunkSize),
			chunking.WithOverlap(cfg.RAG.ChunkOverlap),
		)),
		indexer.WithTokenizer(newTokenizer(cfg.Embedder.Model)),
		indexer.WithMaxTokens(cfg.RAG.MaxEmbedTokens),
		indexer.WithBatchSize(cfg.RAG.EmbedBatchSize),
		indexer.WithConcurrency(cfg.RAG.EmbedConcurrency),
		indexer.WithMetrics(a.metrics),
	)

	var ret clinical.Retriever
	if cfg.RAG.Enabled {
		ret = retriever.New(store, emb,
			retriever.WithEmbedTimeout(cfg.Timeouts.Embed),
			retriever.WithSearchTimeout(cfg.Timeouts.Search),
			retriever.WithQueryCache(cfg.RAG.QueryCacheSize),
			retriever.WithMetrics(a.metrics),
		)
	}

	primary, err := a.newBackend(cfg.LLM.Primary)
	if err != nil {
		return nil, err
	}
	fallback, err := a.newBackend(cfg.LLM.Fallback)
	if err != nil {
		return nil, err
	}
	selector := reasoning.NewSelector(primary, fallback,
		reasoning.WithTimeout(cfg.LLM.Timeout),
		reasoning.WithMetrics(a.metrics),
	)

	directory, err := jsondir.Open(cfg.Patients.Dir, jsondir.WithFuzzy(cfg.Patients.Fuzzy))
	if err != nil {
		return nil, fmt.Errorf("open patient directory: %w", err)
	}
	a.onClose(func(context.Context) error { return directory.Close() })
	a.logger.Info("patient directory loaded", "dir", cfg.Patients.Dir, "patients", directory.Count())

	intakeAgent := intake.New(directory,
		intake.WithClinicalKeywords(cfg.Intake.ClinicalKeywords),
		intake.WithExplicitPhrases(cfg.Intake.ExplicitPhrases),
		intake.WithLookupTimeout(cfg.Timeouts.Lookup),
	)
	clinicalAgent := clinical.New(ret, selector,
		clinical.WithRetrieval(cfg.RAG.TopK, cfg.RAG.MinScore, cfg.RAG.ContextChunks),
		clinical.WithWebSearch(newSearcher(cfg.WebSearch), cfg.WebSearch.Enabled, cfg.WebSearch.MaxResults, cfg.WebSearch.Timeout),
		clinical.WithMetrics(a.metrics),
	)

	sessions, err := a.newSessionStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := a.newRecorder(ctx); err != nil {
		return nil, err
	}

	a.router = router.New(sessions, intakeAgent, clinicalAgent,
		router.WithRecorder(a.recorder),
		router.WithMetrics(a.metrics),
	)
	return a, nil
}

func newEmbedder(cfg config.EmbedderConfig) (vector.Embedder, error) {
	switch cfg.Provider {
	case "openai":
		emb, err := openaiembedder.New(openaiembedder.Config{
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			Dimension: cfg.Dimension,
		})
		if err != nil {
			return nil, fmt.Errorf("create embedder: %w", err)
		}
		return emb, nil
	default:
		return hashing.New(cfg.Dimension), nil
	}
}

func newTokenizer(model string) tokenizer.Tokenizer {
	tok, err := tiktoken.New(model)
	if err != nil {
		logging.WithComponent("carebridge").Debug("no BPE encoding for model, counting tokens approximately", "model", model)
		return tokenizer.Approximate{}
	}
	return tok
}

func (a *app) newVectorStore(ctx context.Context, dimension int) (vector.VectorStore, error) {
	if a.cfg.RAG.Store == "pgvector" {
		store, err := pg.NewPGVectorStore(ctx, pg.PGVectorConfig{
			DSN:       a.cfg.PGVector.DSN,
			Dimension: dimension,
			TableName: a.cfg.PGVector.Table,
		})
		if err != nil {
			return nil, fmt.Errorf("open pgvector store: %w", err)
		}
		a.onClose(func(context.Context) error { return store.Close() })
		return store, nil
	}
	store, err := vectormem.Open(a.cfg.RAG.IndexPath)
	if err != nil {
		return nil, err
	}
	return store, nil
}

func (a *app) newBackend(cfg config.BackendConfig) (reasoning.Backend, error) {
	llm := a.cfg.LLM
	switch cfg.Provider {
	case "gemini":
		c := gemini.DefaultConfig(cfg.APIKey)
		c.Model = cfg.Model
		c.MaxTokens = llm.MaxTokens
		c.Temperature = float32(llm.Temperature)
		p := gemini.New(c)
		a.onClose(func(context.Context) error { return p.Close() })
		return p, nil
	case "claude":
		c := claude.DefaultConfig(cfg.APIKey, cfg.BaseURL)
		c.Model = cfg.Model
		c.MaxTokens = int64(llm.MaxTokens)
		c.Temperature = llm.Temperature
		return claude.New(c), nil
	case "openai":
		c := openai.DefaultConfig().WithAPIKey(cfg.APIKey).WithBaseURL(cfg.BaseURL).WithModel(cfg.Model)
		c.MaxTokens = int64(llm.MaxTokens)
		c.Temperature = llm.Temperature
		return openai.New(c), nil
	case "groq":
		c := groq.DefaultConfig(cfg.APIKey)
		c.Model = cfg.Model
		c.BaseURL = cfg.BaseURL
		c.MaxTokens = llm.MaxTokens
		c.Temperature = llm.Temperature
		return groq.New(c), nil
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

func newSearcher(cfg config.WebSearchConfig) websearch.Searcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.Provider == "serper" {
		return serper.Search{APIKey: cfg.APIKey, BaseURL: cfg.BaseURL}
	}
	return tavily.New(tavily.Config{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Logger:  logging.WithComponent("tavily"),
	})
}

func (a *app) newSessionStore(ctx context.Context) (session.Store, error) {
	if a.cfg.Session.Store != "redis" {
		return sessionmem.NewInMemoryStore(a.cfg.Session.TTL), nil
	}
	store := sessionstore.NewRedisStore(&sessionstore.RedisConfig{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
		Prefix:   a.cfg.Redis.Prefix,
		TTL:      a.cfg.Session.TTL,
	})
	a.onClose(func(context.Context) error { return store.Close() })
	if err := store.Ping(ctx); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return store, nil
}

func (a *app) newRecorder(ctx context.Context) error {
	var sink audit.Sink
	switch a.cfg.Audit.Sink {
	case "none":
		return nil
	case "mongo":
		s, err := mongoaudit.NewSink(ctx, &mongoaudit.Config{
			URI:        a.cfg.Mongo.URI,
			Database:   a.cfg.Mongo.Database,
			Collection: a.cfg.Mongo.Collection,
		})
		if err != nil {
			return fmt.Errorf("open audit sink: %w", err)
		}
		a.onClose(s.Close)
		sink = s
	default:
		sink = audit.NewLogSink(logging.WithComponent("audit"))
	}
	a.recorder = audit.NewRecorder(sink,
		audit.WithBuffer(a.cfg.Audit.Buffer),
		audit.WithMetrics(a.metrics),
	)
	// Registered after the sink so it drains before the sink closes.
	a.onClose(a.recorder.Close)
	return nil
}

// serveMetrics exposes the registry on addr until ctx is done.
func (a *app) serveMetrics(ctx context.Context, addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server stopped", "addr", addr, "error", err)
		}
	}()
	a.logger.Info("serving metrics", "addr", addr)
}

// recordIndexBuilt notes a completed index build in the audit trail.
func (a *app) recordIndexBuilt(path string, report indexer.Report) {
	a.recorder.Record(audit.Event{
		Kind: audit.KindIndexBuilt,
		Fields: map[string]any{
			"path":           path,
			"documents":      report.Documents,
			"pages":          report.Pages,
			"chunks_indexed": report.ChunksIndexed,
		},
	})
}
