package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/award-enricher/internal/db"
	"github.com/sells-group/award-enricher/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
	nowFunc func() time.Time
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists the per-item queries prepared on each new
// connection.
var preparedStatements = map[string]string{
	"get_record":     `SELECT ` + recordColumns + ` FROM award_records WHERE id = $1`,
	"insert_payload": `INSERT INTO registry_payloads (ref, enrichment_type, body, created_at) VALUES ($1, $2, $3, $4)`,
	"insert_result":  `INSERT INTO enrichment_results (` + resultColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
	"save_job":       saveJobSQL,
}

const recordColumns = `id, piid, external_entity_id, government_id, awardee_name, city, state, zip,
	award_year, amount, signed_date, agency_code, office_code, solicitation_number, naics`

const resultColumns = `id, job_id, record_id, enrichment_type, status, confidence, tier,
	external_entity_id, payload_ref, needs_review, error_detail, fetched_at`

const saveJobSQL = `INSERT INTO enrichment_jobs (id, status, data, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`

var findingColumns = []string{
	"result_id", "record_id", "enrichment_type", "field", "kind",
	"local_value", "external_value", "detail", "created_at",
}

var recordUpsertColumns = []string{
	"id", "piid", "external_entity_id", "government_id", "awardee_name", "city", "state", "zip",
	"award_year", "amount", "signed_date", "agency_code", "office_code", "solicitation_number", "naics", "updated_at",
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close, nowFunc: time.Now}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS award_records (
	id                  TEXT PRIMARY KEY,
	piid                TEXT NOT NULL DEFAULT '',
	external_entity_id  TEXT NOT NULL DEFAULT '',
	government_id       TEXT NOT NULL DEFAULT '',
	awardee_name        TEXT NOT NULL DEFAULT '',
	city                TEXT NOT NULL DEFAULT '',
	state               TEXT NOT NULL DEFAULT '',
	zip                 TEXT NOT NULL DEFAULT '',
	award_year          INTEGER NOT NULL DEFAULT 0,
	amount              DOUBLE PRECISION NOT NULL DEFAULT 0,
	signed_date         TIMESTAMPTZ,
	agency_code         TEXT NOT NULL DEFAULT '',
	office_code         TEXT NOT NULL DEFAULT '',
	solicitation_number TEXT NOT NULL DEFAULT '',
	naics               TEXT NOT NULL DEFAULT '',
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS registry_payloads (
	ref             TEXT PRIMARY KEY,
	enrichment_type TEXT NOT NULL,
	body            JSONB NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS enrichment_results (
	seq                BIGSERIAL PRIMARY KEY,
	id                 TEXT NOT NULL UNIQUE,
	job_id             TEXT NOT NULL DEFAULT '',
	record_id          TEXT NOT NULL,
	enrichment_type    TEXT NOT NULL,
	status             TEXT NOT NULL,
	confidence         DOUBLE PRECISION NOT NULL DEFAULT 0,
	tier               TEXT NOT NULL DEFAULT '',
	external_entity_id TEXT NOT NULL DEFAULT '',
	payload_ref        TEXT NOT NULL DEFAULT '',
	needs_review       BOOLEAN NOT NULL DEFAULT false,
	error_detail       TEXT NOT NULL DEFAULT '',
	fetched_at         TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS consistency_findings (
	id              BIGSERIAL PRIMARY KEY,
	result_id       TEXT NOT NULL DEFAULT '',
	record_id       TEXT NOT NULL,
	enrichment_type TEXT NOT NULL,
	field           TEXT NOT NULL,
	kind            TEXT NOT NULL,
	local_value     TEXT NOT NULL DEFAULT '',
	external_value  TEXT NOT NULL DEFAULT '',
	detail          TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS enrichment_jobs (
	id         TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	data       JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_results_record ON enrichment_results(record_id);
CREATE INDEX IF NOT EXISTS idx_results_job ON enrichment_results(job_id);
CREATE INDEX IF NOT EXISTS idx_results_review ON enrichment_results(needs_review) WHERE needs_review;
CREATE INDEX IF NOT EXISTS idx_findings_record ON consistency_findings(record_id);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON enrichment_jobs(status);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) now() time.Time {
	if s.nowFunc == nil {
		return time.Now().UTC()
	}
	return s.nowFunc().UTC()
}

func (s *PostgresStore) GetRecord(ctx context.Context, id string) (*model.AwardRecord, error) {
	var r model.AwardRecord
	var signed *time.Time
	err := s.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM award_records WHERE id = $1`, id).Scan(
		&r.ID, &r.PIID, &r.ExternalEntityID, &r.GovernmentID, &r.AwardeeName,
		&r.City, &r.State, &r.Zip, &r.AwardYear, &r.Amount, &signed,
		&r.AgencyCode, &r.OfficeCode, &r.SolicitationNumber, &r.NAICS)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "record %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get record %s", id)
	}
	if signed != nil {
		r.SignedDate = signed.UTC()
	}
	return &r, nil
}

// UpsertRecords merges records through a COPY-staged bulk upsert.
func (s *PostgresStore) UpsertRecords(ctx context.Context, recs []model.AwardRecord) (int64, error) {
	now := s.now()
	rows := make([][]any, len(recs))
	for i, r := range recs {
		rows[i] = recordArgs(r, now)
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "award_records",
		Columns:      recordUpsertColumns,
		ConflictKeys: []string{"id"},
	}, rows)
	return n, eris.Wrap(err, "postgres: upsert records")
}

func (s *PostgresStore) WriteResult(ctx context.Context, res *model.EnrichmentResult) error {
	id, ref, body, err := prepareResult(res)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: write result: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if ref != "" {
		if _, err := tx.Exec(ctx, preparedStatements["insert_payload"],
			ref, string(res.EnrichmentType), body, s.now(),
		); err != nil {
			return eris.Wrap(err, "postgres: insert payload")
		}
	}
	if _, err := tx.Exec(ctx, preparedStatements["insert_result"],
		id, res.JobID, res.RecordID, string(res.EnrichmentType), string(res.Status), res.Confidence,
		string(res.Tier), res.ExternalEntityID, ref, res.NeedsReview, res.ErrorDetail, res.FetchedAt.UTC(),
	); err != nil {
		return eris.Wrapf(err, "postgres: insert result for record %s", res.RecordID)
	}
	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "postgres: write result: commit")
	}

	res.ID = id
	res.PayloadRef = ref
	return nil
}

func (s *PostgresStore) ListResults(ctx context.Context, recordID string) ([]model.EnrichmentResult, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+resultColumns+` FROM enrichment_results WHERE record_id = $1 ORDER BY seq DESC`, recordID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list results for %s", recordID)
	}
	return collectPgResults(rows)
}

func (s *PostgresStore) ReviewQueue(ctx context.Context, limit int) ([]model.EnrichmentResult, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+resultColumns+` FROM enrichment_results WHERE needs_review ORDER BY seq DESC LIMIT $1`,
		limitOr(limit, 100))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: review queue")
	}
	return collectPgResults(rows)
}

func (s *PostgresStore) GetPayload(ctx context.Context, ref string) (*model.Payload, error) {
	var body []byte
	err := s.pool.QueryRow(ctx, `SELECT body FROM registry_payloads WHERE ref = $1`, ref).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "payload %s", ref)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get payload %s", ref)
	}
	var p model.Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal payload")
	}
	return &p, nil
}

// WriteFindings appends findings with COPY. Finding ids are assigned by the
// database and are not read back.
func (s *PostgresStore) WriteFindings(ctx context.Context, findings []model.ConsistencyFinding) error {
	now := s.now()
	rows := make([][]any, len(findings))
	for i, f := range findings {
		created := f.CreatedAt
		if created.IsZero() {
			created = now
		}
		rows[i] = []any{
			f.ResultID, f.RecordID, string(f.EnrichmentType), f.Field, string(f.Kind),
			f.LocalValue, f.ExternalValue, f.Detail, created.UTC(),
		}
	}
	_, err := db.CopyFrom(ctx, s.pool, "consistency_findings", findingColumns, rows)
	return eris.Wrap(err, "postgres: write findings")
}

func (s *PostgresStore) ListFindings(ctx context.Context, filter FindingFilter) ([]model.ConsistencyFinding, error) {
	query := `SELECT id, result_id, record_id, enrichment_type, field, kind, local_value, external_value, detail, created_at
		FROM consistency_findings WHERE ($1 = '' OR record_id = $1) AND ($2 = '' OR field = $2)
		ORDER BY id DESC LIMIT $3`
	rows, err := s.pool.Query(ctx, query, filter.RecordID, filter.Field, limitOr(filter.Limit, 100))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list findings")
	}
	defer rows.Close()

	var out []model.ConsistencyFinding
	for rows.Next() {
		f, err := scanFinding(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list findings iterate")
}

func (s *PostgresStore) SaveJob(ctx context.Context, job model.EnrichmentJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal job")
	}
	_, err = s.pool.Exec(ctx, saveJobSQL, job.ID, string(job.Status), data, job.CreatedAt.UTC(), s.now())
	return eris.Wrapf(err, "postgres: save job %s", job.ID)
}

func (s *PostgresStore) GetJob(ctx context.Context, id string) (*model.EnrichmentJob, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM enrichment_jobs WHERE id = $1`, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "job %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get job %s", id)
	}
	return decodeJob(data)
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.EnrichmentJob, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT data FROM enrichment_jobs WHERE ($1 = '' OR status = $1)
		 ORDER BY created_at DESC, id LIMIT $2 OFFSET $3`,
		string(filter.Status), limitOr(filter.Limit, 100), max(filter.Offset, 0))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var jobs []model.EnrichmentJob
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan job")
		}
		j, err := decodeJob(data)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: list jobs iterate")
}

func (s *PostgresStore) Stats(ctx context.Context) (*Stats, error) {
	st := newStats()
	err := s.pool.QueryRow(ctx, `SELECT
		(SELECT COUNT(*) FROM award_records),
		(SELECT COUNT(*) FROM enrichment_results WHERE needs_review),
		(SELECT COUNT(*) FROM consistency_findings)`).Scan(&st.Records, &st.ReviewQueue, &st.Findings)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: stats counts")
	}

	if err := s.groupCount(ctx, `SELECT status, COUNT(*) FROM enrichment_jobs GROUP BY status`, func(k string, n int) {
		st.JobsByStatus[model.JobStatus(k)] = n
	}); err != nil {
		return nil, err
	}
	if err := s.groupCount(ctx, `SELECT status, COUNT(*) FROM enrichment_results GROUP BY status`, func(k string, n int) {
		st.ResultsByStatus[model.ResultStatus(k)] = n
	}); err != nil {
		return nil, err
	}
	return st, nil
}

func (s *PostgresStore) groupCount(ctx context.Context, query string, fn func(string, int)) error {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return eris.Wrap(err, "postgres: group count")
	}
	defer rows.Close()
	for rows.Next() {
		var k string
		var n int
		if err := rows.Scan(&k, &n); err != nil {
			return eris.Wrap(err, "postgres: scan group count")
		}
		fn(k, n)
	}
	return eris.Wrap(rows.Err(), "postgres: group count iterate")
}

func collectPgResults(rows pgx.Rows) ([]model.EnrichmentResult, error) {
	defer rows.Close()
	var out []model.EnrichmentResult
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: results iterate")
}
