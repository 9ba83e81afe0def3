package store

import (
	"context"
	"errors"
	"iter"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/geotag/gazetteer/internal/db"
	"github.com/geotag/gazetteer/internal/model"
)

// PostgresStore implements Store using pgxpool. Places are written with
// COPY and must carry an assigned id.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
	queue   *addQueue
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns   int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns   int32 `yaml:"min_conns" mapstructure:"min_conns"`
	CommitRate int   `yaml:"commit_rate" mapstructure:"commit_rate"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	commitRate := DefaultCommitRate
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
		if poolCfg.CommitRate > 0 {
			commitRate = poolCfg.CommitRate
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return newPostgresStore(pool, pool.Close, commitRate), nil
}

func newPostgresStore(pool db.Pool, closeFn func(), commitRate int) *PostgresStore {
	s := &PostgresStore{pool: pool, closeFn: closeFn}
	s.queue = newAddQueue(commitRate, s.copyPlaces)
	return s
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS placenames (
	id          BIGINT PRIMARY KEY,
	place_id    TEXT NOT NULL,
	name        TEXT NOT NULL,
	name_type   TEXT NOT NULL,
	name_group  TEXT,
	source      TEXT NOT NULL,
	feat_class  TEXT NOT NULL,
	feat_code   TEXT NOT NULL,
	cc          TEXT,
	FIPS_cc     TEXT,
	adm1        TEXT,
	adm2        TEXT,
	lat         DOUBLE PRECISION NOT NULL,
	lon         DOUBLE PRECISION NOT NULL,
	geohash     TEXT NOT NULL,
	duplicate   SMALLINT NOT NULL DEFAULT 0,
	name_bias   INTEGER NOT NULL DEFAULT 0,
	id_bias     INTEGER NOT NULL DEFAULT 0,
	search_only SMALLINT NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_placenames_place_id ON placenames(place_id);
CREATE INDEX IF NOT EXISTS idx_placenames_source ON placenames(source);
CREATE INDEX IF NOT EXISTS idx_placenames_cc ON placenames(cc);
CREATE INDEX IF NOT EXISTS idx_placenames_adm1 ON placenames(adm1);

CREATE TABLE IF NOT EXISTS popstats (
	grid       TEXT NOT NULL,
	population BIGINT NOT NULL,
	source     TEXT NOT NULL,
	feat_class TEXT NOT NULL,
	cc         TEXT NOT NULL,
	FIPS_cc    TEXT,
	adm1       TEXT,
	adm1_path  TEXT NOT NULL,
	adm2       TEXT,
	adm2_path  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_popstats_grid ON popstats(grid);
CREATE INDEX IF NOT EXISTS idx_popstats_source ON popstats(source);

CREATE TABLE IF NOT EXISTS admin1_codes (
	cc        TEXT NOT NULL,
	std       TEXT NOT NULL,
	code      TEXT NOT NULL,
	alternate TEXT NOT NULL,
	PRIMARY KEY (cc, std, code)
);

CREATE TABLE IF NOT EXISTS ingest_log (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	source       TEXT NOT NULL,
	path         TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	rows_read    BIGINT NOT NULL DEFAULT 0,
	added        BIGINT NOT NULL DEFAULT 0,
	skipped      BIGINT NOT NULL DEFAULT 0,
	abandoned    BIGINT NOT NULL DEFAULT 0,
	started_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at TIMESTAMPTZ
);
`

const postgresIndices = `
CREATE INDEX IF NOT EXISTS idx_placenames_name ON placenames(name);
CREATE INDEX IF NOT EXISTS idx_placenames_name_type ON placenames(name_type);
CREATE INDEX IF NOT EXISTS idx_placenames_feat ON placenames(feat_class, feat_code);
CREATE INDEX IF NOT EXISTS idx_placenames_geohash ON placenames(geohash text_pattern_ops);
CREATE INDEX IF NOT EXISTS idx_placenames_dup ON placenames(cc, duplicate);
CREATE INDEX IF NOT EXISTS idx_placenames_latlon ON placenames(lat, lon);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) CreateIndices(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresIndices)
	return eris.Wrap(err, "postgres: create indices")
}

func (s *PostgresStore) Optimize(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "VACUUM ANALYZE placenames")
	return eris.Wrap(err, "postgres: vacuum")
}

func (s *PostgresStore) Close() error {
	err := s.queue.flush(context.Background())
	if s.closeFn != nil {
		s.closeFn()
	}
	return err
}

func (s *PostgresStore) Add(ctx context.Context, p *model.Place) error {
	p.Prepare()
	return s.queue.add(ctx, *p)
}

func (s *PostgresStore) AddBatch(ctx context.Context, places []model.Place) error {
	for i := range places {
		places[i].Prepare()
	}
	return s.queue.add(ctx, places...)
}

func (s *PostgresStore) Flush(ctx context.Context) error {
	return s.queue.flush(ctx)
}

func (s *PostgresStore) copyPlaces(ctx context.Context, batch []model.Place) error {
	rows := make([][]any, len(batch))
	for i := range batch {
		if batch[i].ID == 0 {
			return eris.Errorf("postgres: place %s has no id", batch[i].PlaceID)
		}
		rows[i] = placeArgs(&batch[i])
	}
	if _, err := db.CopyFrom(ctx, s.pool, "placenames", placeColumns, rows); err != nil {
		if isUniqueViolation(err) {
			return eris.Wrapf(ErrIntegrity, "postgres: copy %d places: %v", len(batch), err)
		}
		return eris.Wrap(err, "postgres: copy places")
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (s *PostgresStore) Purge(ctx context.Context, source model.Source) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM placenames WHERE source = $1`, string(source))
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: purge %s", source)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) Query(ctx context.Context, f Filter) iter.Seq2[model.Place, error] {
	return func(yield func(model.Place, error) bool) {
		q, args := buildPlaceQuery(f)
		rows, err := s.pool.Query(ctx, rebind(q), args...)
		if err != nil {
			yield(model.Place{}, eris.Wrap(err, "postgres: query places"))
			return
		}
		defer rows.Close()

		for rows.Next() {
			p, err := scanPlace(rows)
			if !yield(p, err) || err != nil {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(model.Place{}, eris.Wrap(err, "postgres: iterate places"))
		}
	}
}

func (s *PostgresStore) ListPlacesByID(ctx context.Context, placeID string, limit int) ([]model.Place, error) {
	return collect(s.Query(ctx, Filter{PlaceID: placeID, Limit: limit}))
}

func (s *PostgresStore) ListCountries(ctx context.Context) ([]string, error) {
	return s.queryStrings(ctx, `SELECT DISTINCT COALESCE(cc, '') FROM placenames ORDER BY 1`)
}

func (s *PostgresStore) ListAdminNames(ctx context.Context, sources []model.Source, cc string) ([]string, error) {
	q, args := adminNamesQuery(sources, cc)
	names, err := s.queryStrings(ctx, rebind(q), args...)
	if err != nil {
		return nil, err
	}
	return dedupeNames(names), nil
}

func (s *PostgresStore) ListNear(ctx context.Context, q NearQuery) ([]NearPlace, error) {
	return listNear(ctx, s.Query, q)
}

func (s *PostgresStore) MaxID(ctx context.Context, first, last int64) (int64, error) {
	var id int64
	if err := s.pool.QueryRow(ctx, rebind(maxIDSQL), first, last).Scan(&id); err != nil {
		return 0, eris.Wrap(err, "postgres: max id")
	}
	return id, nil
}

func (s *PostgresStore) MarkDuplicates(ctx context.Context, ids []int64) error {
	return s.updateIDs(ctx, "mark duplicates", "duplicate = 1", nil, ids)
}

func (s *PostgresStore) UpdateBias(ctx context.Context, nameBias int, ids []int64) error {
	return s.updateIDs(ctx, "update bias", "name_bias = ?, search_only = ?", []any{nameBias, boolInt(nameBias < 0)}, ids)
}

func (s *PostgresStore) UpdateBiasByName(ctx context.Context, nameBias int, name string) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE placenames SET name_bias = $1, search_only = $2 WHERE name = $3`,
		nameBias, boolInt(nameBias < 0), name,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: update bias for %q", name)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) UpdatePlaceID(ctx context.Context, id int64, placeID string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE placenames SET place_id = $1 WHERE id = $2`, placeID, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: update place_id of %d", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "place %d", id)
	}
	return nil
}

func (s *PostgresStore) UpdateAdmin1Code(ctx context.Context, cc, from, to string) (int64, error) {
	if cc == "" {
		return 0, eris.New("postgres: update adm1: country code is required")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE placenames SET adm1 = $1 WHERE cc = $2 AND COALESCE(adm1, '') = $3`, to, cc, from)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: update adm1 %s %s", cc, from)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) updateIDs(ctx context.Context, op, set string, setArgs []any, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrapf(err, "postgres: %s: begin", op)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, block := range db.Blocks(ids, db.DefaultBlockSize) {
		q, args := idUpdate(set, setArgs, block)
		if _, err := tx.Exec(ctx, rebind(q), args...); err != nil {
			return eris.Wrapf(err, "postgres: %s", op)
		}
	}
	return eris.Wrapf(tx.Commit(ctx), "postgres: %s: commit", op)
}

func (s *PostgresStore) ReplacePopStats(ctx context.Context, source string, stats []PopStat) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: popstats: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM popstats WHERE source = $1`, source); err != nil {
		return eris.Wrapf(err, "postgres: popstats: purge %s", source)
	}
	rows := make([][]any, len(stats))
	for i := range stats {
		stats[i].Source = source
		rows[i] = popStatArgs(&stats[i])
	}
	if len(rows) > 0 {
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"popstats"}, popStatColumns, pgx.CopyFromRows(rows)); err != nil {
			return eris.Wrap(err, "postgres: popstats: copy")
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: popstats: commit")
}

func (s *PostgresStore) GridPopulation(ctx context.Context) (map[string]int64, error) {
	return s.populationMap(ctx, gridPopulationSQL)
}

func (s *PostgresStore) Adm1Population(ctx context.Context) (map[string]int64, error) {
	return s.populationMap(ctx, adm1PopulationSQL)
}

func (s *PostgresStore) Adm2Population(ctx context.Context) (map[string]int64, error) {
	return s.populationMap(ctx, adm2PopulationSQL)
}

func (s *PostgresStore) populationMap(ctx context.Context, q string) (map[string]int64, error) {
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: population")
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var (
			key string
			pop int64
		)
		if err := rows.Scan(&key, &pop); err != nil {
			return nil, eris.Wrap(err, "postgres: scan population")
		}
		out[key] = pop
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate population")
}

func (s *PostgresStore) SaveAdminCodes(ctx context.Context, codes []AdminCode) error {
	rows := make([][]any, len(codes))
	for i, c := range codes {
		rows[i] = []any{c.CountryCode, c.Standard, c.Code, c.Alternate}
	}
	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "admin1_codes",
		Columns:      []string{"cc", "std", "code", "alternate"},
		ConflictKeys: []string{"cc", "std", "code"},
	}, rows)
	return eris.Wrap(err, "postgres: save admin codes")
}

func (s *PostgresStore) ListAdminCodes(ctx context.Context, cc string) ([]AdminCode, error) {
	q := `SELECT cc, std, code, alternate FROM admin1_codes`
	var args []any
	if cc != "" {
		q += ` WHERE cc = $1`
		args = append(args, cc)
	}
	rows, err := s.pool.Query(ctx, q+` ORDER BY cc, std, code`, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list admin codes")
	}
	defer rows.Close()

	var out []AdminCode
	for rows.Next() {
		var c AdminCode
		if err := rows.Scan(&c.CountryCode, &c.Standard, &c.Code, &c.Alternate); err != nil {
			return nil, eris.Wrap(err, "postgres: scan admin code")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate admin codes")
}

func (s *PostgresStore) StartIngest(ctx context.Context, source model.Source, path string) (string, error) {
	id := uuid.New().String()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ingest_log (id, source, path, started_at) VALUES ($1, $2, $3, $4)`,
		id, string(source), path, time.Now().UTC(),
	)
	if err != nil {
		return "", eris.Wrapf(err, "postgres: start ingest %s", source)
	}
	return id, nil
}

func (s *PostgresStore) CompleteIngest(ctx context.Context, runID string, stats IngestStats) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE ingest_log SET status = $1, rows_read = $2, added = $3, skipped = $4, abandoned = $5, completed_at = $6
		 WHERE id = $7`,
		stats.Status, stats.Rows, stats.Added, stats.Skipped, stats.Abandoned, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete ingest %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "ingest %s", runID)
	}
	return nil
}

func (s *PostgresStore) ListIngests(ctx context.Context, limit int) ([]IngestRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, source, path, status, rows_read, added, skipped, abandoned, started_at, completed_at
		 FROM ingest_log ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list ingests")
	}
	defer rows.Close()

	var out []IngestRun
	for rows.Next() {
		var (
			r   IngestRun
			src string
		)
		if err := rows.Scan(&r.ID, &src, &r.Path, &r.Status, &r.Rows, &r.Added, &r.Skipped, &r.Abandoned, &r.StartedAt, &r.CompletedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan ingest")
		}
		r.Source = model.Source(src)
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate ingests")
}

func (s *PostgresStore) queryStrings(ctx context.Context, q string, args ...any) ([]string, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, eris.Wrap(err, "postgres: scan")
		}
		out = append(out, v)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate")
}
