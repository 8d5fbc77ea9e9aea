package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/award-enricher/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db      *sql.DB
	nowFunc func() time.Time
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, nowFunc: time.Now}, nil
}

const sqliteMigration = `
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
	amount              REAL NOT NULL DEFAULT 0,
	signed_date         DATETIME,
	agency_code         TEXT NOT NULL DEFAULT '',
	office_code         TEXT NOT NULL DEFAULT '',
	solicitation_number TEXT NOT NULL DEFAULT '',
	naics               TEXT NOT NULL DEFAULT '',
	updated_at          DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS registry_payloads (
	ref             TEXT PRIMARY KEY,
	enrichment_type TEXT NOT NULL,
	body            TEXT NOT NULL,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS enrichment_results (
	seq                INTEGER PRIMARY KEY AUTOINCREMENT,
	id                 TEXT NOT NULL UNIQUE,
	job_id             TEXT NOT NULL DEFAULT '',
	record_id          TEXT NOT NULL,
	enrichment_type    TEXT NOT NULL,
	status             TEXT NOT NULL,
	confidence         REAL NOT NULL DEFAULT 0,
	tier               TEXT NOT NULL DEFAULT '',
	external_entity_id TEXT NOT NULL DEFAULT '',
	payload_ref        TEXT NOT NULL DEFAULT '',
	needs_review       INTEGER NOT NULL DEFAULT 0,
	error_detail       TEXT NOT NULL DEFAULT '',
	fetched_at         DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS consistency_findings (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	result_id       TEXT NOT NULL DEFAULT '',
	record_id       TEXT NOT NULL,
	enrichment_type TEXT NOT NULL,
	field           TEXT NOT NULL,
	kind            TEXT NOT NULL,
	local_value     TEXT NOT NULL DEFAULT '',
	external_value  TEXT NOT NULL DEFAULT '',
	detail          TEXT NOT NULL DEFAULT '',
	created_at      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS enrichment_jobs (
	id         TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	data       TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_results_record ON enrichment_results(record_id);
CREATE INDEX IF NOT EXISTS idx_results_job ON enrichment_results(job_id);
CREATE INDEX IF NOT EXISTS idx_results_review ON enrichment_results(needs_review);
CREATE INDEX IF NOT EXISTS idx_findings_record ON consistency_findings(record_id);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON enrichment_jobs(status);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetRecord(ctx context.Context, id string) (*model.AwardRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, piid, external_entity_id, government_id, awardee_name, city, state, zip,
		        award_year, amount, signed_date, agency_code, office_code, solicitation_number, naics
		 FROM award_records WHERE id = ?`, id)

	var r model.AwardRecord
	var signed sql.NullTime
	err := row.Scan(&r.ID, &r.PIID, &r.ExternalEntityID, &r.GovernmentID, &r.AwardeeName,
		&r.City, &r.State, &r.Zip, &r.AwardYear, &r.Amount, &signed,
		&r.AgencyCode, &r.OfficeCode, &r.SolicitationNumber, &r.NAICS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "record %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get record %s", id)
	}
	if signed.Valid {
		r.SignedDate = signed.Time.UTC()
	}
	return &r, nil
}

func (s *SQLiteStore) UpsertRecords(ctx context.Context, recs []model.AwardRecord) (int64, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert records: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO award_records (id, piid, external_entity_id, government_id, awardee_name, city, state, zip,
		        award_year, amount, signed_date, agency_code, office_code, solicitation_number, naics, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		        piid = excluded.piid, external_entity_id = excluded.external_entity_id,
		        government_id = excluded.government_id, awardee_name = excluded.awardee_name,
		        city = excluded.city, state = excluded.state, zip = excluded.zip,
		        award_year = excluded.award_year, amount = excluded.amount, signed_date = excluded.signed_date,
		        agency_code = excluded.agency_code, office_code = excluded.office_code,
		        solicitation_number = excluded.solicitation_number, naics = excluded.naics,
		        updated_at = excluded.updated_at`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert records: prepare")
	}
	defer stmt.Close()

	now := s.nowFunc().UTC()
	var n int64
	for _, r := range recs {
		if _, err := stmt.ExecContext(ctx, recordArgs(r, now)...); err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert record %s", r.ID)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert records: commit")
	}
	return n, nil
}

// WriteResult appends the result and, when present, its payload. It assigns
// res.ID and res.PayloadRef.
func (s *SQLiteStore) WriteResult(ctx context.Context, res *model.EnrichmentResult) error {
	id, ref, body, err := prepareResult(res)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: write result: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if ref != "" {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO registry_payloads (ref, enrichment_type, body, created_at) VALUES (?, ?, ?, ?)`,
			ref, string(res.EnrichmentType), string(body), s.nowFunc().UTC(),
		); err != nil {
			return eris.Wrap(err, "sqlite: insert payload")
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO enrichment_results (id, job_id, record_id, enrichment_type, status, confidence, tier,
		        external_entity_id, payload_ref, needs_review, error_detail, fetched_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, res.JobID, res.RecordID, string(res.EnrichmentType), string(res.Status), res.Confidence,
		string(res.Tier), res.ExternalEntityID, ref, res.NeedsReview, res.ErrorDetail, res.FetchedAt.UTC(),
	); err != nil {
		return eris.Wrapf(err, "sqlite: insert result for record %s", res.RecordID)
	}
	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "sqlite: write result: commit")
	}

	res.ID = id
	res.PayloadRef = ref
	return nil
}

const sqliteResultColumns = `id, job_id, record_id, enrichment_type, status, confidence, tier,
	external_entity_id, payload_ref, needs_review, error_detail, fetched_at`

func (s *SQLiteStore) ListResults(ctx context.Context, recordID string) ([]model.EnrichmentResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteResultColumns+` FROM enrichment_results WHERE record_id = ? ORDER BY seq DESC`,
		recordID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list results for %s", recordID)
	}
	return collectResults(rows)
}

func (s *SQLiteStore) ReviewQueue(ctx context.Context, limit int) ([]model.EnrichmentResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteResultColumns+` FROM enrichment_results WHERE needs_review = 1 ORDER BY seq DESC LIMIT ?`,
		limitOr(limit, 100))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: review queue")
	}
	return collectResults(rows)
}

func (s *SQLiteStore) GetPayload(ctx context.Context, ref string) (*model.Payload, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM registry_payloads WHERE ref = ?`, ref).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "payload %s", ref)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get payload %s", ref)
	}
	var p model.Payload
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal payload")
	}
	return &p, nil
}

func (s *SQLiteStore) WriteFindings(ctx context.Context, findings []model.ConsistencyFinding) error {
	if len(findings) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: write findings: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	now := s.nowFunc().UTC()
	for i := range findings {
		f := &findings[i]
		if f.CreatedAt.IsZero() {
			f.CreatedAt = now
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO consistency_findings (result_id, record_id, enrichment_type, field, kind,
			        local_value, external_value, detail, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			f.ResultID, f.RecordID, string(f.EnrichmentType), f.Field, string(f.Kind),
			f.LocalValue, f.ExternalValue, f.Detail, f.CreatedAt.UTC(),
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert finding for record %s", f.RecordID)
		}
		if id, err := res.LastInsertId(); err == nil {
			f.ID = id
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: write findings: commit")
}

func (s *SQLiteStore) ListFindings(ctx context.Context, filter FindingFilter) ([]model.ConsistencyFinding, error) {
	query := `SELECT id, result_id, record_id, enrichment_type, field, kind, local_value, external_value, detail, created_at
		FROM consistency_findings WHERE 1=1`
	var args []any
	if filter.RecordID != "" {
		query += ` AND record_id = ?`
		args = append(args, filter.RecordID)
	}
	if filter.Field != "" {
		query += ` AND field = ?`
		args = append(args, filter.Field)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limitOr(filter.Limit, 100))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list findings")
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
	return out, eris.Wrap(rows.Err(), "sqlite: list findings iterate")
}

func (s *SQLiteStore) SaveJob(ctx context.Context, job model.EnrichmentJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal job")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO enrichment_jobs (id, status, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET status = excluded.status, data = excluded.data, updated_at = excluded.updated_at`,
		job.ID, string(job.Status), string(data), job.CreatedAt.UTC(), s.nowFunc().UTC(),
	)
	return eris.Wrapf(err, "sqlite: save job %s", job.ID)
}

func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.EnrichmentJob, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM enrichment_jobs WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "job %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get job %s", id)
	}
	return decodeJob([]byte(data))
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.EnrichmentJob, error) {
	query := `SELECT data FROM enrichment_jobs WHERE 1=1`
	var args []any
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC, id LIMIT ?`
	args = append(args, limitOr(filter.Limit, 100))
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close()

	var jobs []model.EnrichmentJob
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job")
		}
		j, err := decodeJob([]byte(data))
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: list jobs iterate")
}

func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	st := newStats()

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM award_records`).Scan(&st.Records); err != nil {
		return nil, eris.Wrap(err, "sqlite: count records")
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM enrichment_results WHERE needs_review = 1`).Scan(&st.ReviewQueue); err != nil {
		return nil, eris.Wrap(err, "sqlite: count review queue")
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM consistency_findings`).Scan(&st.Findings); err != nil {
		return nil, eris.Wrap(err, "sqlite: count findings")
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

func (s *SQLiteStore) groupCount(ctx context.Context, query string, fn func(string, int)) error {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return eris.Wrap(err, "sqlite: group count")
	}
	defer rows.Close()
	for rows.Next() {
		var k string
		var n int
		if err := rows.Scan(&k, &n); err != nil {
			return eris.Wrap(err, "sqlite: scan group count")
		}
		fn(k, n)
	}
	return eris.Wrap(rows.Err(), "sqlite: group count iterate")
}

// helpers

type scannable interface {
	Scan(dest ...any) error
}

func recordArgs(r model.AwardRecord, now time.Time) []any {
	var signed any
	if !r.SignedDate.IsZero() {
		signed = r.SignedDate.UTC()
	}
	return []any{
		r.ID, r.PIID, r.ExternalEntityID, r.GovernmentID, r.AwardeeName, r.City, r.State, r.Zip,
		r.AwardYear, r.Amount, signed, r.AgencyCode, r.OfficeCode, r.SolicitationNumber, r.NAICS, now,
	}
}

// prepareResult assigns ids and encodes the payload for a result write.
func prepareResult(res *model.EnrichmentResult) (id, ref string, body []byte, err error) {
	if res.RecordID == "" {
		return "", "", nil, eris.New("store: result has no record id")
	}
	id = uuid.NewString()
	if res.Payload != nil {
		body, err = json.Marshal(res.Payload)
		if err != nil {
			return "", "", nil, eris.Wrap(err, "store: marshal payload")
		}
		ref = uuid.NewString()
	}
	return id, ref, body, nil
}

func collectResults(rows *sql.Rows) ([]model.EnrichmentResult, error) {
	defer rows.Close()
	var out []model.EnrichmentResult
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: results iterate")
}

func scanResult(row scannable) (*model.EnrichmentResult, error) {
	var r model.EnrichmentResult
	var typ, status, tier string
	err := row.Scan(&r.ID, &r.JobID, &r.RecordID, &typ, &status, &r.Confidence, &tier,
		&r.ExternalEntityID, &r.PayloadRef, &r.NeedsReview, &r.ErrorDetail, &r.FetchedAt)
	if err != nil {
		return nil, eris.Wrap(err, "store: scan result")
	}
	r.EnrichmentType = model.EnrichmentType(typ)
	r.Status = model.ResultStatus(status)
	r.Tier = model.MatchTier(tier)
	r.FetchedAt = r.FetchedAt.UTC()
	return &r, nil
}

func scanFinding(row scannable) (*model.ConsistencyFinding, error) {
	var f model.ConsistencyFinding
	var typ, kind string
	err := row.Scan(&f.ID, &f.ResultID, &f.RecordID, &typ, &f.Field, &kind,
		&f.LocalValue, &f.ExternalValue, &f.Detail, &f.CreatedAt)
	if err != nil {
		return nil, eris.Wrap(err, "store: scan finding")
	}
	f.EnrichmentType = model.EnrichmentType(typ)
	f.Kind = model.FindingKind(kind)
	f.CreatedAt = f.CreatedAt.UTC()
	return &f, nil
}

func decodeJob(data []byte) (*model.EnrichmentJob, error) {
	var j model.EnrichmentJob
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal job")
	}
	return &j, nil
}
