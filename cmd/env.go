package main

import (
	"context"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/geotag/gazetteer/internal/bias"
	"github.com/geotag/gazetteer/internal/index"
	"github.com/geotag/gazetteer/internal/model"
	"github.com/geotag/gazetteer/internal/popstats"
	"github.com/geotag/gazetteer/internal/resilience"
	"github.com/geotag/gazetteer/internal/store"
	"github.com/geotag/gazetteer/internal/wordstats"
)

// openStore opens and migrates the configured gazetteer store.
func openStore(ctx context.Context) (store.Store, error) {
	if err := cfg.Validate("store"); err != nil {
		return nil, err
	}
	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "sqlite":
		st, err = store.NewSQLite(cfg.Store.DatabaseURL, cfg.Store.CommitRate)
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns:   cfg.Store.MaxConns,
			CommitRate: cfg.Store.CommitRate,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}

// resourcePath resolves a resource relative to resources.dir.
func resourcePath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(cfg.Resources.Dir, p)
}

// estimatorEnv is a bias estimator and the word stats database it reads.
type estimatorEnv struct {
	Estimator *bias.Estimator
	words     *wordstats.Index
}

func (e *estimatorEnv) Close() error {
	return e.words.Close()
}

// openEstimator loads every resource the bias estimator scores against.
// Missing resources are fatal.
func openEstimator(ctx context.Context, st store.Store) (*estimatorEnv, error) {
	if err := cfg.Validate("ingest"); err != nil {
		return nil, err
	}
	log := zap.L().With(zap.String("component", "cmd.estimator"))

	paths := make([]string, 0, len(cfg.Resources.Stopwords))
	for _, p := range cfg.Resources.Stopwords {
		paths = append(paths, resourcePath(p))
	}
	stopwords, err := bias.LoadStopwords(ctx, paths...)
	if err != nil {
		return nil, err
	}
	adminCodes, err := bias.LoadList(ctx, resourcePath(cfg.Resources.AdminCodes))
	if err != nil {
		return nil, err
	}
	cities, err := popstats.LoadMajorCities(ctx, resourcePath(cfg.Resources.MajorCities))
	if err != nil {
		return nil, err
	}
	provinces, err := st.ListAdminNames(ctx, model.AdminNameSources, "")
	if err != nil {
		return nil, err
	}
	pop, err := popstats.Load(ctx, st)
	if err != nil {
		return nil, err
	}

	var tuning *bias.Tuning
	if cfg.Resources.BiasTuning != "" {
		t, err := bias.LoadTuning(resourcePath(cfg.Resources.BiasTuning))
		if err != nil {
			return nil, err
		}
		tuning = &t
	}

	words, err := wordstats.Open(cfg.WordStats.Path, wordstats.Options{
		Threshold: cfg.WordStats.CommonThreshold,
		MustExist: true,
	})
	if err != nil {
		return nil, err
	}
	if err := words.LoadCommon(ctx, cfg.WordStats.CommonThreshold); err != nil {
		words.Close() //nolint:errcheck
		return nil, err
	}

	est, err := bias.New(bias.Options{
		Stopwords:          stopwords,
		AdminCodeStopwords: adminCodes,
		Provinces:          provinces,
		Cities:             cities,
		Population:         pop,
		Words:              words,
		Tuning:             tuning,
	})
	if err != nil {
		words.Close() //nolint:errcheck
		return nil, err
	}
	log.Info("bias estimator ready",
		zap.Int("stopwords", len(stopwords)),
		zap.Int("provinces", len(provinces)),
		zap.Int("cities", len(cities)),
	)
	return &estimatorEnv{Estimator: est, words: words}, nil
}

// newSolrClient builds the index client from the index config section.
func newSolrClient() (*index.SolrClient, error) {
	if err := cfg.Validate("index"); err != nil {
		return nil, err
	}
	return index.NewSolrClient(cfg.Index.URL, index.SolrOptions{
		Timeout:           time.Duration(cfg.Index.TimeoutSecs) * time.Second,
		RequestsPerSecond: cfg.Index.RequestsPerSecond,
		Retry:             resilience.FromRetryConfig(cfg.Index.MaxAttempts, cfg.Index.InitialBackoffMs, cfg.Index.MaxBackoffMs),
		Breaker:           resilience.FromCircuitConfig(cfg.Index.BreakerThreshold, cfg.Index.BreakerResetSecs),
	}), nil
}

// newPublisher returns a publisher over the configured index.
func newPublisher() (*index.Publisher, error) {
	client, err := newSolrClient()
	if err != nil {
		return nil, err
	}
	return index.NewPublisher(client, cfg.Index.AddRate, cfg.Index.CommitRate), nil
}
