package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/rodovia-recon/internal/config"
	"github.com/rodovia-recon/internal/geo"
	"github.com/rodovia-recon/internal/inventory"
	"github.com/rodovia-recon/internal/recon"
)

// Postgres is the production Store backed by PostgreSQL via lib/pq.
type Postgres struct {
	db *sql.DB
}

// NewPostgres wraps an open database handle.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Open connects to PostgreSQL using the PG* environment variables.
func Open() (*sql.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		config.GetEnv("PGHOST", "localhost"),
		config.GetEnv("PGPORT", "5432"),
		config.GetEnv("PGUSER", "rodovia"),
		config.GetEnv("PGPASSWORD", "rodovia"),
		config.GetEnv("PGDATABASE", "rodovia_recon"),
		config.GetEnv("PGSSLMODE", "disable"),
	)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(config.GetEnvInt("PGMAXCONNS", 20))
	db.SetMaxIdleConns(config.GetEnvInt("PGMAXCONNS", 20) / 2)
	db.SetConnMaxLifetime(time.Hour)

	return db, nil
}

// EnsureSchema creates the engine's tables when missing.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS need (
			need_id            text PRIMARY KEY,
			lot_id             text NOT NULL,
			highway_id         text NOT NULL,
			element_type       text NOT NULL,
			km_reference       double precision NOT NULL,
			latitude           double precision,
			longitude          double precision,
			requested_solution text NOT NULL,
			source_line_number integer NOT NULL DEFAULT 0,
			code               text NOT NULL DEFAULT '',
			subtype            text NOT NULL DEFAULT '',
			description        text NOT NULL DEFAULT '',
			created_at         timestamptz NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS inventory_element (
			element_id        text PRIMARY KEY,
			lot_id            text NOT NULL,
			highway_id        text NOT NULL,
			element_type      text NOT NULL,
			km_reference      double precision NOT NULL,
			latitude          double precision,
			longitude         double precision,
			origin            text NOT NULL,
			active            boolean NOT NULL DEFAULT true,
			reconciliation_id text NOT NULL DEFAULT '',
			code              text NOT NULL DEFAULT '',
			subtype           text NOT NULL DEFAULT '',
			description       text NOT NULL DEFAULT '',
			created_at        timestamptz NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_element_scope
			ON inventory_element (lot_id, highway_id, element_type, active)`,
		`CREATE TABLE IF NOT EXISTS reconciliation (
			reconciliation_id  text PRIMARY KEY,
			need_id            text NOT NULL UNIQUE REFERENCES need(need_id),
			lot_id             text NOT NULL,
			highway_id         text NOT NULL,
			element_type       text NOT NULL,
			verdict            text NOT NULL,
			reason_code        text NOT NULL,
			distance_meters    double precision,
			matched_element_id text,
			candidates_json    jsonb,
			status             text NOT NULL DEFAULT 'pending_approval',
			decided_by         text NOT NULL DEFAULT '',
			decided_at         timestamptz,
			justification      text NOT NULL DEFAULT '',
			created_at         timestamptz NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reconciliation_scope
			ON reconciliation (lot_id, highway_id, element_type, status)`,
		`CREATE TABLE IF NOT EXISTS counters (
			lot_id                  text NOT NULL,
			highway_id              text NOT NULL,
			element_type            text NOT NULL,
			baseline_active         integer NOT NULL DEFAULT 0,
			created_by_match_active integer NOT NULL DEFAULT 0,
			total_active            integer NOT NULL DEFAULT 0,
			baseline_inactive       integer NOT NULL DEFAULT 0,
			total_all               integer NOT NULL DEFAULT 0,
			updated_at              timestamptz NOT NULL DEFAULT now(),
			PRIMARY KEY (lot_id, highway_id, element_type)
		)`,
	}

	for _, stmt := range stmts {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}

const needColumns = `need_id, lot_id, highway_id, element_type, km_reference,
	latitude, longitude, requested_solution, source_line_number, code, subtype, description`

func (p *Postgres) Needs(ctx context.Context, lotID, highwayID string, elementType recon.ElementType) ([]recon.Need, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+needColumns+`
		FROM need
		WHERE lot_id = $1 AND highway_id = $2 AND element_type = $3
		ORDER BY source_line_number, need_id
	`, lotID, highwayID, string(elementType))
	if err != nil {
		return nil, &recon.TransientStoreError{Op: "list needs", ID: lotID + "/" + highwayID, Err: err}
	}
	defer rows.Close()

	var needs []recon.Need
	for rows.Next() {
		need, err := scanNeed(rows)
		if err != nil {
			return nil, &recon.TransientStoreError{Op: "scan need", ID: lotID + "/" + highwayID, Err: err}
		}
		needs = append(needs, need)
	}
	return needs, rows.Err()
}

func (p *Postgres) Need(ctx context.Context, id string) (recon.Need, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+needColumns+` FROM need WHERE need_id = $1
	`, id)
	need, err := scanNeed(row)
	if err == sql.ErrNoRows {
		return recon.Need{}, &recon.NotFoundError{Kind: "need", ID: id}
	}
	if err != nil {
		return recon.Need{}, &recon.TransientStoreError{Op: "get need", ID: id, Err: err}
	}
	return need, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanNeed(row rowScanner) (recon.Need, error) {
	var need recon.Need
	var lat, lon sql.NullFloat64
	var elementType, solution string
	err := row.Scan(&need.ID, &need.LotID, &need.HighwayID, &elementType, &need.KmReference,
		&lat, &lon, &solution, &need.SourceLineNumber, &need.Code, &need.Subtype, &need.Description)
	if err != nil {
		return recon.Need{}, err
	}
	need.ElementType = recon.ElementType(elementType)
	need.RequestedSolution = recon.Solution(solution)
	if lat.Valid && lon.Valid {
		need.Coordinate = &geo.Coordinate{Latitude: lat.Float64, Longitude: lon.Float64}
	}
	return need, nil
}

const elementColumns = `element_id, lot_id, highway_id, element_type, km_reference,
	latitude, longitude, origin, active, reconciliation_id, code, subtype, description`

func (p *Postgres) ActiveElements(ctx context.Context, lotID, highwayID string, elementType recon.ElementType) ([]recon.InventoryElement, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+elementColumns+`
		FROM inventory_element
		WHERE lot_id = $1 AND highway_id = $2 AND element_type = $3 AND active
		ORDER BY km_reference, element_id
	`, lotID, highwayID, string(elementType))
	if err != nil {
		return nil, &recon.TransientStoreError{Op: "list elements", ID: lotID + "/" + highwayID, Err: err}
	}
	defer rows.Close()

	var elements []recon.InventoryElement
	for rows.Next() {
		el, err := scanElement(rows)
		if err != nil {
			return nil, &recon.TransientStoreError{Op: "scan element", ID: lotID + "/" + highwayID, Err: err}
		}
		elements = append(elements, el)
	}
	return elements, rows.Err()
}

func (p *Postgres) Element(ctx context.Context, id string) (recon.InventoryElement, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+elementColumns+` FROM inventory_element WHERE element_id = $1
	`, id)
	el, err := scanElement(row)
	if err == sql.ErrNoRows {
		return recon.InventoryElement{}, &recon.NotFoundError{Kind: "element", ID: id}
	}
	if err != nil {
		return recon.InventoryElement{}, &recon.TransientStoreError{Op: "get element", ID: id, Err: err}
	}
	return el, nil
}

func scanElement(row rowScanner) (recon.InventoryElement, error) {
	var el recon.InventoryElement
	var lat, lon sql.NullFloat64
	var elementType, origin string
	err := row.Scan(&el.ID, &el.LotID, &el.HighwayID, &elementType, &el.KmReference,
		&lat, &lon, &origin, &el.Active, &el.ReconciliationID, &el.Code, &el.Subtype, &el.Description)
	if err != nil {
		return recon.InventoryElement{}, err
	}
	el.ElementType = recon.ElementType(elementType)
	el.Origin = recon.Origin(origin)
	if lat.Valid && lon.Valid {
		el.Coordinate = &geo.Coordinate{Latitude: lat.Float64, Longitude: lon.Float64}
	}
	return el, nil
}

func (p *Postgres) CreateReconciliation(ctx context.Context, rec recon.Reconciliation) error {
	candidatesJSON, err := json.Marshal(rec.Candidates)
	if err != nil {
		return fmt.Errorf("failed to marshal candidates: %w", err)
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO reconciliation (
			reconciliation_id, need_id, lot_id, highway_id, element_type,
			verdict, reason_code, distance_meters, matched_element_id,
			candidates_json, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, rec.ID, rec.NeedID, rec.LotID, rec.HighwayID, string(rec.ElementType),
		string(rec.Verdict), rec.ReasonCode, nullFloat(rec.DistanceMeters),
		nullString(rec.MatchedElementID), candidatesJSON, string(rec.Status), rec.CreatedAt)
	if err != nil {
		return &recon.TransientStoreError{Op: "create reconciliation", ID: rec.NeedID, Err: err}
	}
	return nil
}

const reconciliationColumns = `reconciliation_id, need_id, lot_id, highway_id, element_type,
	verdict, reason_code, distance_meters, matched_element_id, candidates_json,
	status, decided_by, decided_at, justification, created_at`

func (p *Postgres) Reconciliation(ctx context.Context, id string) (recon.Reconciliation, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+reconciliationColumns+` FROM reconciliation WHERE reconciliation_id = $1
	`, id)
	rec, err := scanReconciliation(row)
	if err == sql.ErrNoRows {
		return recon.Reconciliation{}, &recon.NotFoundError{Kind: "reconciliation", ID: id}
	}
	if err != nil {
		return recon.Reconciliation{}, &recon.TransientStoreError{Op: "get reconciliation", ID: id, Err: err}
	}
	return rec, nil
}

func (p *Postgres) ReconciliationForNeed(ctx context.Context, needID string) (*recon.Reconciliation, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+reconciliationColumns+` FROM reconciliation WHERE need_id = $1
	`, needID)
	rec, err := scanReconciliation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &recon.TransientStoreError{Op: "get reconciliation for need", ID: needID, Err: err}
	}
	return &rec, nil
}

func (p *Postgres) DeletePendingForNeed(ctx context.Context, needID string) error {
	_, err := p.db.ExecContext(ctx, `
		DELETE FROM reconciliation
		WHERE need_id = $1 AND status = 'pending_approval'
	`, needID)
	if err != nil {
		return &recon.TransientStoreError{Op: "delete pending reconciliation", ID: needID, Err: err}
	}
	return nil
}

func (p *Postgres) Reconciliations(ctx context.Context, lotID, highwayID string, elementType recon.ElementType) ([]recon.Reconciliation, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+reconciliationColumns+`
		FROM reconciliation
		WHERE lot_id = $1 AND highway_id = $2 AND element_type = $3
		ORDER BY created_at DESC
	`, lotID, highwayID, string(elementType))
	if err != nil {
		return nil, &recon.TransientStoreError{Op: "list reconciliations", ID: lotID + "/" + highwayID, Err: err}
	}
	defer rows.Close()

	var recs []recon.Reconciliation
	for rows.Next() {
		rec, err := scanReconciliation(rows)
		if err != nil {
			return nil, &recon.TransientStoreError{Op: "scan reconciliation", ID: lotID + "/" + highwayID, Err: err}
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func scanReconciliation(row rowScanner) (recon.Reconciliation, error) {
	var rec recon.Reconciliation
	var elementType, verdict, status string
	var distance sql.NullFloat64
	var matched sql.NullString
	var candidatesJSON []byte
	var decidedAt sql.NullTime

	err := row.Scan(&rec.ID, &rec.NeedID, &rec.LotID, &rec.HighwayID, &elementType,
		&verdict, &rec.ReasonCode, &distance, &matched, &candidatesJSON,
		&status, &rec.DecidedBy, &decidedAt, &rec.Justification, &rec.CreatedAt)
	if err != nil {
		return recon.Reconciliation{}, err
	}

	rec.ElementType = recon.ElementType(elementType)
	rec.Verdict = recon.Verdict(verdict)
	rec.Status = recon.Status(status)
	if distance.Valid {
		rec.DistanceMeters = &distance.Float64
	}
	if matched.Valid && matched.String != "" {
		rec.MatchedElementID = &matched.String
	}
	if decidedAt.Valid {
		t := decidedAt.Time
		rec.DecidedAt = &t
	}
	if len(candidatesJSON) > 0 {
		if err := json.Unmarshal(candidatesJSON, &rec.Candidates); err != nil {
			return recon.Reconciliation{}, fmt.Errorf("failed to unmarshal candidates: %w", err)
		}
	}
	return rec, nil
}

func (p *Postgres) Counters(ctx context.Context, lotID, highwayID string, elementType recon.ElementType) (recon.Counters, error) {
	counters := recon.Counters{LotID: lotID, HighwayID: highwayID, ElementType: elementType}
	err := p.db.QueryRowContext(ctx, `
		SELECT baseline_active, created_by_match_active, total_active, baseline_inactive, total_all
		FROM counters
		WHERE lot_id = $1 AND highway_id = $2 AND element_type = $3
	`, lotID, highwayID, string(elementType)).Scan(
		&counters.BaselineActive, &counters.CreatedByMatchActive,
		&counters.TotalActive, &counters.BaselineInactive, &counters.TotalAll)
	if err == sql.ErrNoRows {
		return counters, nil
	}
	if err != nil {
		return recon.Counters{}, &recon.TransientStoreError{Op: "get counters", ID: lotID + "/" + highwayID, Err: err}
	}
	return counters, nil
}

func (p *Postgres) ApproveTx(ctx context.Context, reconciliationID, approverID string,
	apply func(ctx context.Context, ops inventory.Ops) error) (recon.Reconciliation, error) {

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return recon.Reconciliation{}, &recon.TransientStoreError{Op: "begin approve", ID: reconciliationID, Err: err}
	}
	defer tx.Rollback()

	rec, err := lockReconciliation(ctx, tx, reconciliationID)
	if err != nil {
		return recon.Reconciliation{}, err
	}
	if rec.Status != recon.StatusPendingApproval {
		return recon.Reconciliation{}, &recon.InvalidStateTransition{
			ReconciliationID: reconciliationID,
			Current:          rec.Status,
			Attempted:        recon.StatusApproved,
		}
	}

	if err := apply(ctx, &pgOps{tx: tx}); err != nil {
		return recon.Reconciliation{}, translateConflict(err, reconciliationID)
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		UPDATE reconciliation
		SET status = 'approved', decided_by = $2, decided_at = $3
		WHERE reconciliation_id = $1
	`, reconciliationID, approverID, now); err != nil {
		return recon.Reconciliation{}, &recon.TransientStoreError{Op: "approve", ID: reconciliationID, Err: err}
	}

	if err := tx.Commit(); err != nil {
		return recon.Reconciliation{}, translateConflict(err, reconciliationID)
	}

	rec.Status = recon.StatusApproved
	rec.DecidedBy = approverID
	rec.DecidedAt = &now
	return rec, nil
}

func (p *Postgres) RejectTx(ctx context.Context, reconciliationID, approverID, justification string) (recon.Reconciliation, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return recon.Reconciliation{}, &recon.TransientStoreError{Op: "begin reject", ID: reconciliationID, Err: err}
	}
	defer tx.Rollback()

	rec, err := lockReconciliation(ctx, tx, reconciliationID)
	if err != nil {
		return recon.Reconciliation{}, err
	}
	if rec.Status != recon.StatusPendingApproval {
		return recon.Reconciliation{}, &recon.InvalidStateTransition{
			ReconciliationID: reconciliationID,
			Current:          rec.Status,
			Attempted:        recon.StatusRejected,
		}
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		UPDATE reconciliation
		SET status = 'rejected', decided_by = $2, decided_at = $3, justification = $4
		WHERE reconciliation_id = $1
	`, reconciliationID, approverID, now, justification); err != nil {
		return recon.Reconciliation{}, &recon.TransientStoreError{Op: "reject", ID: reconciliationID, Err: err}
	}

	if err := tx.Commit(); err != nil {
		return recon.Reconciliation{}, &recon.TransientStoreError{Op: "commit reject", ID: reconciliationID, Err: err}
	}

	rec.Status = recon.StatusRejected
	rec.DecidedBy = approverID
	rec.DecidedAt = &now
	rec.Justification = justification
	return rec, nil
}

func lockReconciliation(ctx context.Context, tx *sql.Tx, id string) (recon.Reconciliation, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT `+reconciliationColumns+`
		FROM reconciliation
		WHERE reconciliation_id = $1
		FOR UPDATE
	`, id)
	rec, err := scanReconciliation(row)
	if err == sql.ErrNoRows {
		return recon.Reconciliation{}, &recon.NotFoundError{Kind: "reconciliation", ID: id}
	}
	if err != nil {
		return recon.Reconciliation{}, &recon.TransientStoreError{Op: "lock reconciliation", ID: id, Err: err}
	}
	return rec, nil
}

// translateConflict maps serialization and deadlock failures to the
// engine's ConflictError so the ledger can retry once.
func translateConflict(err error, reconciliationID string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return &recon.ConflictError{ReconciliationID: reconciliationID}
		}
	}
	return err
}

// pgOps runs the mutator's primitive operations inside the approval
// transaction. GetElement takes FOR UPDATE so concurrent approvals of
// the same element serialize on the row.
type pgOps struct {
	tx *sql.Tx
}

func (o *pgOps) GetElement(ctx context.Context, id string) (recon.InventoryElement, error) {
	row := o.tx.QueryRowContext(ctx, `
		SELECT `+elementColumns+`
		FROM inventory_element
		WHERE element_id = $1
		FOR UPDATE
	`, id)
	el, err := scanElement(row)
	if err == sql.ErrNoRows {
		return recon.InventoryElement{}, &recon.NotFoundError{Kind: "element", ID: id}
	}
	if err != nil {
		return recon.InventoryElement{}, &recon.TransientStoreError{Op: "lock element", ID: id, Err: err}
	}
	return el, nil
}

func (o *pgOps) CreateElement(ctx context.Context, el recon.InventoryElement) error {
	var lat, lon interface{}
	if el.Coordinate != nil {
		lat, lon = el.Coordinate.Latitude, el.Coordinate.Longitude
	}
	_, err := o.tx.ExecContext(ctx, `
		INSERT INTO inventory_element (
			element_id, lot_id, highway_id, element_type, km_reference,
			latitude, longitude, origin, active, reconciliation_id,
			code, subtype, description
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, el.ID, el.LotID, el.HighwayID, string(el.ElementType), el.KmReference,
		lat, lon, string(el.Origin), el.Active, el.ReconciliationID,
		el.Code, el.Subtype, el.Description)
	if err != nil {
		return &recon.TransientStoreError{Op: "create element", ID: el.ID, Err: err}
	}
	return nil
}

func (o *pgOps) SetElementActive(ctx context.Context, id string, active bool) error {
	_, err := o.tx.ExecContext(ctx, `
		UPDATE inventory_element SET active = $2 WHERE element_id = $1
	`, id, active)
	if err != nil {
		return &recon.TransientStoreError{Op: "set element active", ID: id, Err: err}
	}
	return nil
}

func (o *pgOps) RecountCounters(ctx context.Context, lotID, highwayID string, elementType recon.ElementType) (recon.Counters, error) {
	counters := recon.Counters{LotID: lotID, HighwayID: highwayID, ElementType: elementType}
	err := o.tx.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE active AND origin = 'baseline'),
			COUNT(*) FILTER (WHERE active AND origin = 'created-by-match'),
			COUNT(*) FILTER (WHERE NOT active AND origin = 'baseline'),
			COUNT(*)
		FROM inventory_element
		WHERE lot_id = $1 AND highway_id = $2 AND element_type = $3
	`, lotID, highwayID, string(elementType)).Scan(
		&counters.BaselineActive, &counters.CreatedByMatchActive,
		&counters.BaselineInactive, &counters.TotalAll)
	if err != nil {
		return recon.Counters{}, &recon.TransientStoreError{Op: "recount counters", ID: lotID + "/" + highwayID, Err: err}
	}
	counters.TotalActive = counters.BaselineActive + counters.CreatedByMatchActive

	_, err = o.tx.ExecContext(ctx, `
		INSERT INTO counters (
			lot_id, highway_id, element_type,
			baseline_active, created_by_match_active, total_active,
			baseline_inactive, total_all, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (lot_id, highway_id, element_type) DO UPDATE SET
			baseline_active = EXCLUDED.baseline_active,
			created_by_match_active = EXCLUDED.created_by_match_active,
			total_active = EXCLUDED.total_active,
			baseline_inactive = EXCLUDED.baseline_inactive,
			total_all = EXCLUDED.total_all,
			updated_at = now()
	`, lotID, highwayID, string(elementType),
		counters.BaselineActive, counters.CreatedByMatchActive, counters.TotalActive,
		counters.BaselineInactive, counters.TotalAll)
	if err != nil {
		return recon.Counters{}, &recon.TransientStoreError{Op: "persist counters", ID: lotID + "/" + highwayID, Err: err}
	}

	return counters, nil
}

func nullFloat(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}

func nullString(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}
