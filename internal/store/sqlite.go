package store

import (
	"context"
	"database/sql"
	"errors"
	"iter"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/geotag/gazetteer/internal/db"
	"github.com/geotag/gazetteer/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db    *sql.DB
	queue *addQueue
}

// sqlitePragmas are applied to every pooled connection through the DSN.
var sqlitePragmas = []string{
	"busy_timeout(5000)",
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"temp_store(MEMORY)",
}

// sqliteDSN appends the connection pragmas to a database path.
func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	var b strings.Builder
	b.WriteString(path)
	for _, p := range sqlitePragmas {
		b.WriteString(sep)
		b.WriteString("_pragma=")
		b.WriteString(p)
		sep = "&"
	}
	return b.String()
}

// NewSQLite opens a SQLite database at the given path in WAL mode.
// Places are written in batches of commitRate.
func NewSQLite(dsn string, commitRate int) (*SQLiteStore, error) {
	conn, err := sql.Open("sqlite", sqliteDSN(dsn))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	if err := conn.Ping(); err != nil {
		conn.Close() //nolint:errcheck
		return nil, eris.Wrapf(err, "sqlite: open %s", dsn)
	}
	s := &SQLiteStore{db: conn}
	s.queue = newAddQueue(commitRate, s.insertPlaces)
	return s, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS placenames (
	id          INTEGER PRIMARY KEY,
	place_id    TEXT NOT NULL,
	name        TEXT NOT NULL,
	name_type   TEXT NOT NULL,
	name_group  TEXT NULL,
	source      TEXT NOT NULL,
	feat_class  TEXT NOT NULL,
	feat_code   TEXT NOT NULL,
	cc          TEXT NULL,
	FIPS_cc     TEXT NULL,
	adm1        TEXT NULL,
	adm2        TEXT NULL,
	lat         REAL NOT NULL,
	lon         REAL NOT NULL,
	geohash     TEXT NOT NULL,
	duplicate   INTEGER NOT NULL DEFAULT 0,
	name_bias   INTEGER NOT NULL DEFAULT 0,
	id_bias     INTEGER NOT NULL DEFAULT 0,
	search_only INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS plid_idx ON placenames(place_id);
CREATE INDEX IF NOT EXISTS s_idx ON placenames(source);
CREATE INDEX IF NOT EXISTS c_idx ON placenames(cc);
CREATE INDEX IF NOT EXISTS a1_idx ON placenames(adm1);

CREATE TABLE IF NOT EXISTS popstats (
	grid       TEXT NOT NULL,
	population INTEGER NOT NULL,
	source     TEXT NOT NULL,
	feat_class TEXT NOT NULL,
	cc         TEXT NOT NULL,
	FIPS_cc    TEXT NULL,
	adm1       TEXT NULL,
	adm1_path  TEXT NOT NULL,
	adm2       TEXT NULL,
	adm2_path  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS popstats_grid_idx ON popstats(grid);
CREATE INDEX IF NOT EXISTS popstats_source_idx ON popstats(source);
CREATE INDEX IF NOT EXISTS popstats_cc_idx ON popstats(cc);

CREATE TABLE IF NOT EXISTS admin1_codes (
	cc        TEXT NOT NULL,
	std       TEXT NOT NULL,
	code      TEXT NOT NULL,
	alternate TEXT NOT NULL,
	PRIMARY KEY (cc, std, code)
);

CREATE TABLE IF NOT EXISTS ingest_log (
	id           TEXT PRIMARY KEY,
	source       TEXT NOT NULL,
	path         TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'running',
	rows_read    INTEGER NOT NULL DEFAULT 0,
	added        INTEGER NOT NULL DEFAULT 0,
	skipped      INTEGER NOT NULL DEFAULT 0,
	abandoned    INTEGER NOT NULL DEFAULT 0,
	started_at   DATETIME NOT NULL,
	completed_at DATETIME
);
`

const sqliteIndices = `
CREATE INDEX IF NOT EXISTS n_idx ON placenames(name);
CREATE INDEX IF NOT EXISTS nt_idx ON placenames(name_type);
CREATE INDEX IF NOT EXISTS ng_idx ON placenames(name_group);
CREATE INDEX IF NOT EXISTS fc_idx ON placenames(feat_class);
CREATE INDEX IF NOT EXISTS ft_idx ON placenames(feat_code);
CREATE INDEX IF NOT EXISTS gh_idx ON placenames(geohash);
CREATE INDEX IF NOT EXISTS dup_idx ON placenames(duplicate);
CREATE INDEX IF NOT EXISTS so_idx ON placenames(search_only);
CREATE INDEX IF NOT EXISTS lat_idx ON placenames(lat);
CREATE INDEX IF NOT EXISTS lon_idx ON placenames(lon);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// CreateIndices adds the secondary indexes used by finalization and lookups.
func (s *SQLiteStore) CreateIndices(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteIndices)
	return eris.Wrap(err, "sqlite: create indices")
}

func (s *SQLiteStore) Optimize(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return eris.Wrap(err, "sqlite: vacuum")
}

// Close flushes pending places and closes the database. An abandoned final
// batch is reported but does not keep the database open.
func (s *SQLiteStore) Close() error {
	flushErr := s.queue.flush(context.Background())
	if err := s.db.Close(); err != nil {
		return eris.Wrap(err, "sqlite: close")
	}
	return flushErr
}

func (s *SQLiteStore) Add(ctx context.Context, p *model.Place) error {
	p.Prepare()
	return s.queue.add(ctx, *p)
}

func (s *SQLiteStore) AddBatch(ctx context.Context, places []model.Place) error {
	for i := range places {
		places[i].Prepare()
	}
	return s.queue.add(ctx, places...)
}

func (s *SQLiteStore) Flush(ctx context.Context) error {
	return s.queue.flush(ctx)
}

func (s *SQLiteStore) insertPlaces(ctx context.Context, batch []model.Place) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin insert")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO placenames (`+joinColumns(placeColumns)+`) VALUES (`+placeholders(len(placeColumns))+`)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare insert")
	}
	defer stmt.Close() //nolint:errcheck

	for i := range batch {
		if _, err := stmt.ExecContext(ctx, placeArgs(&batch[i])...); err != nil {
			if isSQLiteConstraint(err) {
				return eris.Wrapf(ErrIntegrity, "sqlite: insert %s: %v", batch[i].PlaceID, err)
			}
			return eris.Wrapf(err, "sqlite: insert %s", batch[i].PlaceID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit places")
}

func isSQLiteConstraint(err error) bool {
	var se *sqlite.Error
	return errors.As(err, &se) && se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
}

func (s *SQLiteStore) Purge(ctx context.Context, source model.Source) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM placenames WHERE source = ?`, string(source))
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: purge %s", source)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *SQLiteStore) Query(ctx context.Context, f Filter) iter.Seq2[model.Place, error] {
	return func(yield func(model.Place, error) bool) {
		q, args := buildPlaceQuery(f)
		rows, err := s.db.QueryContext(ctx, q, args...)
		if err != nil {
			yield(model.Place{}, eris.Wrap(err, "sqlite: query places"))
			return
		}
		defer rows.Close() //nolint:errcheck

		for rows.Next() {
			p, err := scanPlace(rows)
			if !yield(p, err) || err != nil {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(model.Place{}, eris.Wrap(err, "sqlite: iterate places"))
		}
	}
}

func (s *SQLiteStore) ListPlacesByID(ctx context.Context, placeID string, limit int) ([]model.Place, error) {
	return collect(s.Query(ctx, Filter{PlaceID: placeID, Limit: limit}))
}

func (s *SQLiteStore) ListCountries(ctx context.Context) ([]string, error) {
	return s.queryStrings(ctx, `SELECT DISTINCT COALESCE(cc, '') FROM placenames ORDER BY 1`)
}

// ListAdminNames returns the distinct ADM1 names of the given sources,
// lowercased with hyphens replaced by spaces.
func (s *SQLiteStore) ListAdminNames(ctx context.Context, sources []model.Source, cc string) ([]string, error) {
	q, args := adminNamesQuery(sources, cc)
	names, err := s.queryStrings(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return dedupeNames(names), nil
}

func (s *SQLiteStore) ListNear(ctx context.Context, q NearQuery) ([]NearPlace, error) {
	return listNear(ctx, s.Query, q)
}

// MaxID returns the largest row id in [first, last], or 0 when the range
// is empty.
func (s *SQLiteStore) MaxID(ctx context.Context, first, last int64) (int64, error) {
	var id sql.NullInt64
	if err := s.db.QueryRowContext(ctx, maxIDSQL, first, last).Scan(&id); err != nil {
		return 0, eris.Wrap(err, "sqlite: max id")
	}
	return id.Int64, nil
}

func (s *SQLiteStore) MarkDuplicates(ctx context.Context, ids []int64) error {
	return s.updateIDs(ctx, "mark duplicates", "duplicate = 1", nil, ids)
}

// UpdateBias sets name_bias on the given rows and keeps search_only in step.
func (s *SQLiteStore) UpdateBias(ctx context.Context, nameBias int, ids []int64) error {
	return s.updateIDs(ctx, "update bias", "name_bias = ?, search_only = ?", []any{nameBias, boolInt(nameBias < 0)}, ids)
}

func (s *SQLiteStore) UpdateBiasByName(ctx context.Context, nameBias int, name string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE placenames SET name_bias = ?, search_only = ? WHERE name = ?`,
		nameBias, boolInt(nameBias < 0), name,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: update bias for %q", name)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *SQLiteStore) UpdatePlaceID(ctx context.Context, id int64, placeID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE placenames SET place_id = ? WHERE id = ?`, placeID, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update place_id of %d", id)
	}
	return checkRowsAffected(res, "place", id)
}

// UpdateAdmin1Code recodes adm1 within one country. An empty from matches
// rows with no adm1.
func (s *SQLiteStore) UpdateAdmin1Code(ctx context.Context, cc, from, to string) (int64, error) {
	if cc == "" {
		return 0, eris.New("sqlite: update adm1: country code is required")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE placenames SET adm1 = ? WHERE cc = ? AND COALESCE(adm1, '') = ?`, to, cc, from)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: update adm1 %s %s", cc, from)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// updateIDs applies one SET clause to ids in blocks inside a single transaction.
func (s *SQLiteStore) updateIDs(ctx context.Context, op, set string, setArgs []any, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrapf(err, "sqlite: %s: begin", op)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, block := range db.Blocks(ids, db.DefaultBlockSize) {
		q, args := idUpdate(set, setArgs, block)
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return eris.Wrapf(err, "sqlite: %s", op)
		}
	}
	return eris.Wrapf(tx.Commit(), "sqlite: %s: commit", op)
}

// ReplacePopStats purges the source's population rows and inserts stats.
func (s *SQLiteStore) ReplacePopStats(ctx context.Context, source string, stats []PopStat) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: popstats: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM popstats WHERE source = ?`, source); err != nil {
		return eris.Wrapf(err, "sqlite: popstats: purge %s", source)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO popstats (`+joinColumns(popStatColumns)+`) VALUES (`+placeholders(len(popStatColumns))+`)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: popstats: prepare")
	}
	defer stmt.Close() //nolint:errcheck

	for i := range stats {
		stats[i].Source = source
		if _, err := stmt.ExecContext(ctx, popStatArgs(&stats[i])...); err != nil {
			return eris.Wrapf(err, "sqlite: popstats: insert %s", stats[i].Grid)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: popstats: commit")
}

func (s *SQLiteStore) GridPopulation(ctx context.Context) (map[string]int64, error) {
	return s.populationMap(ctx, gridPopulationSQL)
}

func (s *SQLiteStore) Adm1Population(ctx context.Context) (map[string]int64, error) {
	return s.populationMap(ctx, adm1PopulationSQL)
}

func (s *SQLiteStore) Adm2Population(ctx context.Context) (map[string]int64, error) {
	return s.populationMap(ctx, adm2PopulationSQL)
}

func (s *SQLiteStore) populationMap(ctx context.Context, q string) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: population")
	}
	defer rows.Close() //nolint:errcheck

	out := make(map[string]int64)
	for rows.Next() {
		var (
			key string
			pop int64
		)
		if err := rows.Scan(&key, &pop); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan population")
		}
		out[key] = pop
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate population")
}

func (s *SQLiteStore) SaveAdminCodes(ctx context.Context, codes []AdminCode) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: admin codes: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO admin1_codes (cc, std, code, alternate) VALUES (?, ?, ?, ?)
		 ON CONFLICT (cc, std, code) DO UPDATE SET alternate = excluded.alternate`)
	if err != nil {
		return eris.Wrap(err, "sqlite: admin codes: prepare")
	}
	defer stmt.Close() //nolint:errcheck

	for _, c := range codes {
		if _, err := stmt.ExecContext(ctx, c.CountryCode, c.Standard, c.Code, c.Alternate); err != nil {
			return eris.Wrapf(err, "sqlite: admin codes: save %s.%s", c.CountryCode, c.Code)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: admin codes: commit")
}

func (s *SQLiteStore) ListAdminCodes(ctx context.Context, cc string) ([]AdminCode, error) {
	q := `SELECT cc, std, code, alternate FROM admin1_codes`
	var args []any
	if cc != "" {
		q += ` WHERE cc = ?`
		args = append(args, cc)
	}
	rows, err := s.db.QueryContext(ctx, q+` ORDER BY cc, std, code`, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list admin codes")
	}
	defer rows.Close() //nolint:errcheck

	var out []AdminCode
	for rows.Next() {
		var c AdminCode
		if err := rows.Scan(&c.CountryCode, &c.Standard, &c.Code, &c.Alternate); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan admin code")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate admin codes")
}

func (s *SQLiteStore) StartIngest(ctx context.Context, source model.Source, path string) (string, error) {
	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ingest_log (id, source, path, started_at) VALUES (?, ?, ?, ?)`,
		id, string(source), path, time.Now().UTC(),
	)
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: start ingest %s", source)
	}
	return id, nil
}

func (s *SQLiteStore) CompleteIngest(ctx context.Context, runID string, stats IngestStats) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE ingest_log SET status = ?, rows_read = ?, added = ?, skipped = ?, abandoned = ?, completed_at = ?
		 WHERE id = ?`,
		stats.Status, stats.Rows, stats.Added, stats.Skipped, stats.Abandoned, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete ingest %s", runID)
	}
	return checkRowsAffected(res, "ingest", runID)
}

func (s *SQLiteStore) ListIngests(ctx context.Context, limit int) ([]IngestRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source, path, status, rows_read, added, skipped, abandoned, started_at, completed_at
		 FROM ingest_log ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list ingests")
	}
	defer rows.Close() //nolint:errcheck

	var out []IngestRun
	for rows.Next() {
		var (
			r         IngestRun
			src       string
			completed sql.NullTime
		)
		if err := rows.Scan(&r.ID, &src, &r.Path, &r.Status, &r.Rows, &r.Added, &r.Skipped, &r.Abandoned, &r.StartedAt, &completed); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan ingest")
		}
		r.Source = model.Source(src)
		if completed.Valid {
			r.CompletedAt = &completed.Time
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate ingests")
}

func (s *SQLiteStore) queryStrings(ctx context.Context, q string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query")
	}
	defer rows.Close() //nolint:errcheck

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan")
		}
		out = append(out, v)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate")
}

func checkRowsAffected(res sql.Result, entity string, id any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %v", entity, id)
	}
	return nil
}
