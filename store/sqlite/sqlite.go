/*
Package sqlite provides a SQLite-backed implementation of the commission ports.

PURPOSE:
  Implements commission.Store, commission.BookingReader,
  commission.PayoutStore and commission.ExecutionLogStore using SQLite. The
  same SQL runs on PostgreSQL with minor dialect changes.

KEY TABLES:
  bookings:           Local copy of the external booking store (read-only to the engine)
  commissions:        One row per booking; status moves forward only
  payouts:            Payout header with breakdown totals
  payout_commissions: Which commissions a payout includes (commission_id UNIQUE)
  execution_logs:     One audit row per lifecycle run

COMPARE-AND-SWAP:
  Every status change is

    UPDATE commissions SET status = ?, ... WHERE id = ? AND status = ?

  and the row count tells the caller whether it won. No read-modify-write.

NO DELETES:
  There is no DELETE on commissions or payouts.

MONEY:
  Decimal amounts are stored as TEXT (decimal.String) and scanned straight
  into decimal.Decimal, so no value passes through float64. A column that
  does not parse fails the read instead of becoming zero.

WAL MODE:
  Opened with WAL so readers do not block the single writer.

USAGE:
  store, err := sqlite.New("./data/commissions.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - commission/store.go: Interface definitions
  - commission/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/warp/commission-engine/commission"
)

// Fixed-width so stored timestamps sort lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements the commission ports using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Each pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS bookings (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		total TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS commissions (
		id TEXT PRIMARY KEY,
		booking_id TEXT NOT NULL UNIQUE,
		agent_id TEXT NOT NULL,
		status TEXT NOT NULL,
		booking_total TEXT NOT NULL,
		flight_commission TEXT NOT NULL,
		hotel_commission TEXT NOT NULL,
		activity_commission TEXT NOT NULL,
		transfer_commission TEXT NOT NULL,
		other_commission TEXT NOT NULL,
		trip_start_date TEXT NOT NULL,
		trip_end_date TEXT NOT NULL,
		hold_until_date TEXT,
		released_at TEXT,
		payout_id TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Candidate scan for the lifecycle run (hot path)
	CREATE INDEX IF NOT EXISTS idx_commissions_status
		ON commissions(status);
	-- Payout selection and agent views
	CREATE INDEX IF NOT EXISTS idx_commissions_agent_status
		ON commissions(agent_id, status);
	CREATE INDEX IF NOT EXISTS idx_commissions_payout
		ON commissions(payout_id) WHERE payout_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS payouts (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		total_amount TEXT NOT NULL,
		flight_total TEXT NOT NULL,
		hotel_total TEXT NOT NULL,
		activity_total TEXT NOT NULL,
		transfer_total TEXT NOT NULL,
		other_total TEXT NOT NULL,
		total_booking_value TEXT NOT NULL,
		total_commissions INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payouts_agent
		ON payouts(agent_id, created_at DESC);

	-- A commission can appear in at most one payout.
	CREATE TABLE IF NOT EXISTS payout_commissions (
		payout_id TEXT NOT NULL REFERENCES payouts(id),
		commission_id TEXT NOT NULL UNIQUE REFERENCES commissions(id),
		position INTEGER NOT NULL,
		PRIMARY KEY (payout_id, commission_id)
	);

	CREATE TABLE IF NOT EXISTS execution_logs (
		id TEXT PRIMARY KEY,
		execution_time TEXT NOT NULL,
		items_checked INTEGER NOT NULL,
		items_transitioned INTEGER NOT NULL,
		items_failed INTEGER NOT NULL,
		trips_started INTEGER NOT NULL,
		trips_completed INTEGER NOT NULL,
		commissions_released INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		triggered_by TEXT NOT NULL,
		errors_json TEXT,
		truncated BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE INDEX IF NOT EXISTS idx_execution_logs_time
		ON execution_logs(execution_time DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// BOOKINGS (commission.BookingReader)
// =============================================================================

// SaveBooking upserts a booking record. Bookings are owned by the external
// booking system; this keeps the local copy in sync.
func (s *Store) SaveBooking(ctx context.Context, b commission.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO bookings (id, status, start_date, end_date, total, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			total = excluded.total,
			updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		b.ID, b.Status, formatTime(b.StartDate), formatTime(b.EndDate),
		b.Total.String(), formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("failed to save booking: %w", err)
	}
	return nil
}

func (s *Store) GetBooking(ctx context.Context, id commission.BookingID) (commission.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var b commission.Booking
	var status, start, end string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, status, start_date, end_date, total FROM bookings WHERE id = ?`, id,
	).Scan(&b.ID, &status, &start, &end, &b.Total)
	if errors.Is(err, sql.ErrNoRows) {
		return commission.Booking{}, commission.ErrBookingNotFound
	}
	if err != nil {
		return commission.Booking{}, fmt.Errorf("failed to get booking: %w", err)
	}

	b.Status = commission.BookingStatus(status)
	b.StartDate = parseTime(start)
	b.EndDate = parseTime(end)
	return b, nil
}

// =============================================================================
// COMMISSIONS (commission.Store)
// =============================================================================

const commissionColumns = `
	id, booking_id, agent_id, status, booking_total,
	flight_commission, hotel_commission, activity_commission, transfer_commission, other_commission,
	trip_start_date, trip_end_date, hold_until_date, released_at, payout_id,
	created_at, updated_at`

// CreateCommission inserts a pending commission.
func (s *Store) CreateCommission(ctx context.Context, c commission.Commission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `INSERT INTO commissions (` + commissionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		c.ID, c.BookingID, c.AgentID, c.Status, c.BookingTotal.String(),
		c.Components.Flight.String(), c.Components.Hotel.String(), c.Components.Activity.String(),
		c.Components.Transfer.String(), c.Components.Other.String(),
		formatTime(c.TripStartDate), formatTime(c.TripEndDate),
		nullTime(c.HoldUntilDate), nullTime(c.ReleasedAt), nullPayoutID(c.PayoutID),
		formatTime(c.CreatedAt), formatTime(c.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return commission.ErrDuplicateBooking
		}
		return fmt.Errorf("failed to create commission: %w", err)
	}
	return nil
}

func (s *Store) GetCommission(ctx context.Context, id commission.CommissionID) (commission.Commission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cs, err := queryCommissions(ctx, s.db,
		`SELECT `+commissionColumns+` FROM commissions WHERE id = ?`, id)
	if err != nil {
		return commission.Commission{}, err
	}
	if len(cs) == 0 {
		return commission.Commission{}, commission.ErrCommissionNotFound
	}
	return cs[0], nil
}

func (s *Store) ListActiveCommissions(ctx context.Context) ([]commission.Commission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + commissionColumns + ` FROM commissions
		WHERE status NOT IN (?, ?)
		ORDER BY trip_start_date ASC, id ASC`
	return queryCommissions(ctx, s.db, query, commission.StatusAvailable, commission.StatusPaidOut)
}

func (s *Store) ListAgentCommissions(ctx context.Context, agentID commission.AgentID, status *commission.Status) ([]commission.Commission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listAgentCommissions(ctx, s.db, agentID, status)
}

func listAgentCommissions(ctx context.Context, db execer, agentID commission.AgentID, status *commission.Status) ([]commission.Commission, error) {
	if status != nil {
		return queryCommissions(ctx, db, `SELECT `+commissionColumns+` FROM commissions
			WHERE agent_id = ? AND status = ?
			ORDER BY created_at ASC, id ASC`, agentID, *status)
	}
	return queryCommissions(ctx, db, `SELECT `+commissionColumns+` FROM commissions
		WHERE agent_id = ?
		ORDER BY created_at ASC, id ASC`, agentID)
}

// TransitionCommission applies t only if the row is still in t.From.
func (s *Store) TransitionCommission(ctx context.Context, t commission.Transition) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		UPDATE commissions SET
			status = ?,
			hold_until_date = COALESCE(?, hold_until_date),
			released_at = COALESCE(?, released_at),
			updated_at = ?
		WHERE id = ? AND status = ?
	`
	res, err := s.db.ExecContext(ctx, query,
		t.To, nullTime(t.HoldUntilDate), nullTime(t.ReleasedAt), formatTime(t.At),
		t.ID, t.From,
	)
	if err != nil {
		return false, fmt.Errorf("failed to transition commission: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}

	// Distinguish a lost race from a missing row.
	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM commissions WHERE id = ?`, t.ID).Scan(&exists)
	if err != nil {
		return false, err
	}
	if exists == 0 {
		return false, commission.ErrCommissionNotFound
	}
	return false, nil
}

func queryCommissions(ctx context.Context, db execer, query string, args ...any) ([]commission.Commission, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query commissions: %w", err)
	}
	defer rows.Close()

	var out []commission.Commission
	for rows.Next() {
		var c commission.Commission
		var status string
		var tripStart, tripEnd, createdAt, updatedAt string
		var holdUntil, releasedAt, payoutID sql.NullString

		if err := rows.Scan(
			&c.ID, &c.BookingID, &c.AgentID, &status, &c.BookingTotal,
			&c.Components.Flight, &c.Components.Hotel, &c.Components.Activity,
			&c.Components.Transfer, &c.Components.Other,
			&tripStart, &tripEnd, &holdUntil, &releasedAt, &payoutID,
			&createdAt, &updatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan commission: %w", err)
		}

		c.Status = commission.Status(status)
		c.TripStartDate = parseTime(tripStart)
		c.TripEndDate = parseTime(tripEnd)
		c.HoldUntilDate = parseNullTime(holdUntil)
		c.ReleasedAt = parseNullTime(releasedAt)
		if payoutID.Valid {
			pid := commission.PayoutID(payoutID.String)
			c.PayoutID = &pid
		}
		c.CreatedAt = parseTime(createdAt)
		c.UpdatedAt = parseTime(updatedAt)

		out = append(out, c)
	}
	return out, rows.Err()
}

// =============================================================================
// PAYOUTS (commission.PayoutStore)
// =============================================================================

// WithPayoutTx executes fn within a database transaction.
func (s *Store) WithPayoutTx(ctx context.Context, fn func(commission.PayoutTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&payoutTx{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

type payoutTx struct {
	tx *sql.Tx
}

func (pt *payoutTx) ListAvailable(ctx context.Context, agentID commission.AgentID) ([]commission.Commission, error) {
	status := commission.StatusAvailable
	return listAgentCommissions(ctx, pt.tx, agentID, &status)
}

func (pt *payoutTx) CreatePayout(ctx context.Context, p commission.Payout) error {
	query := `
		INSERT INTO payouts (id, agent_id, total_amount, flight_total, hotel_total, activity_total,
			transfer_total, other_total, total_booking_value, total_commissions, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	b := p.Breakdown
	if _, err := pt.tx.ExecContext(ctx, query,
		p.ID, p.AgentID, p.TotalAmount.String(),
		b.Flight.String(), b.Hotel.String(), b.Activity.String(), b.Transfer.String(), b.Other.String(),
		b.TotalBookingValue.String(), b.TotalCommissions, formatTime(p.CreatedAt),
	); err != nil {
		return fmt.Errorf("failed to insert payout: %w", err)
	}

	for i, id := range p.CommissionIDs {
		if _, err := pt.tx.ExecContext(ctx,
			`INSERT INTO payout_commissions (payout_id, commission_id, position) VALUES (?, ?, ?)`,
			p.ID, id, i,
		); err != nil {
			if isUniqueConstraintError(err) {
				return fmt.Errorf("commission %s already in a payout: %w", id, commission.ErrConcurrentModification)
			}
			return fmt.Errorf("failed to link commission %s: %w", id, err)
		}
	}
	return nil
}

func (pt *payoutTx) MarkPaidOut(ctx context.Context, id commission.CommissionID, payoutID commission.PayoutID, at time.Time) (bool, error) {
	res, err := pt.tx.ExecContext(ctx, `
		UPDATE commissions SET status = ?, payout_id = ?, updated_at = ?
		WHERE id = ? AND status = ? AND payout_id IS NULL
	`, commission.StatusPaidOut, payoutID, formatTime(at), id, commission.StatusAvailable)
	if err != nil {
		return false, fmt.Errorf("failed to mark commission paid out: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

const payoutColumns = `id, agent_id, total_amount, flight_total, hotel_total, activity_total,
	transfer_total, other_total, total_booking_value, total_commissions, created_at`

func (s *Store) GetPayout(ctx context.Context, id commission.PayoutID) (commission.Payout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ps, err := s.queryPayouts(ctx, `SELECT `+payoutColumns+` FROM payouts WHERE id = ?`, id)
	if err != nil {
		return commission.Payout{}, err
	}
	if len(ps) == 0 {
		return commission.Payout{}, commission.ErrPayoutNotFound
	}
	return ps[0], nil
}

// ListPayouts returns an agent's payouts, newest first.
func (s *Store) ListPayouts(ctx context.Context, agentID commission.AgentID) ([]commission.Payout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryPayouts(ctx, `SELECT `+payoutColumns+` FROM payouts
		WHERE agent_id = ? ORDER BY created_at DESC, id DESC`, agentID)
}

func (s *Store) queryPayouts(ctx context.Context, query string, args ...any) ([]commission.Payout, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payouts: %w", err)
	}

	var out []commission.Payout
	for rows.Next() {
		var p commission.Payout
		var createdAt string
		bd := &p.Breakdown
		if err := rows.Scan(
			&p.ID, &p.AgentID, &p.TotalAmount,
			&bd.Flight, &bd.Hotel, &bd.Activity, &bd.Transfer, &bd.Other,
			&bd.TotalBookingValue, &bd.TotalCommissions, &createdAt,
		); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan payout: %w", err)
		}
		p.CreatedAt = parseTime(createdAt)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	// Separate pass: the single in-memory connection is busy while rows is open.
	for i := range out {
		ids, err := s.payoutCommissionIDs(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].CommissionIDs = ids
	}
	return out, nil
}

func (s *Store) payoutCommissionIDs(ctx context.Context, payoutID commission.PayoutID) ([]commission.CommissionID, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT commission_id FROM payout_commissions WHERE payout_id = ? ORDER BY position ASC`, payoutID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []commission.CommissionID
	for rows.Next() {
		var id commission.CommissionID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// =============================================================================
// EXECUTION LOGS (commission.ExecutionLogStore)
// =============================================================================

func (s *Store) SaveExecutionLog(ctx context.Context, l commission.ExecutionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errorsJSON sql.NullString
	if len(l.Errors) > 0 {
		raw, err := json.Marshal(l.Errors)
		if err != nil {
			return fmt.Errorf("failed to encode run errors: %w", err)
		}
		errorsJSON = sql.NullString{String: string(raw), Valid: true}
	}

	query := `
		INSERT INTO execution_logs (id, execution_time, items_checked, items_transitioned, items_failed,
			trips_started, trips_completed, commissions_released, duration_ms, triggered_by, errors_json, truncated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		l.ID, formatTime(l.ExecutionTime), l.ItemsChecked, l.ItemsTransitioned, l.ItemsFailed,
		l.TripsStarted, l.TripsCompleted, l.CommissionsReleased, l.DurationMs(),
		l.TriggeredBy, errorsJSON, l.Truncated,
	)
	if err != nil {
		return fmt.Errorf("failed to save execution log: %w", err)
	}
	return nil
}

// ListExecutionLogs returns a page of logs, newest first, and the total count.
func (s *Store) ListExecutionLogs(ctx context.Context, limit, offset int) ([]commission.ExecutionLog, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM execution_logs`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count execution logs: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, execution_time, items_checked, items_transitioned, items_failed,
			trips_started, trips_completed, commissions_released, duration_ms, triggered_by,
			errors_json, truncated
		FROM execution_logs
		ORDER BY execution_time DESC, rowid DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list execution logs: %w", err)
	}
	defer rows.Close()

	logs := []commission.ExecutionLog{}
	for rows.Next() {
		var l commission.ExecutionLog
		var execTime, triggeredBy string
		var durationMs int64
		var errorsJSON sql.NullString
		if err := rows.Scan(
			&l.ID, &execTime, &l.ItemsChecked, &l.ItemsTransitioned, &l.ItemsFailed,
			&l.TripsStarted, &l.TripsCompleted, &l.CommissionsReleased, &durationMs, &triggeredBy,
			&errorsJSON, &l.Truncated,
		); err != nil {
			return nil, 0, err
		}
		l.ExecutionTime = parseTime(execTime)
		l.Duration = time.Duration(durationMs) * time.Millisecond
		l.TriggeredBy = commission.TriggeredBy(triggeredBy)
		if errorsJSON.Valid {
			if err := json.Unmarshal([]byte(errorsJSON.String), &l.Errors); err != nil {
				return nil, 0, fmt.Errorf("failed to decode run errors for %s: %w", l.ID, err)
			}
		}
		logs = append(logs, l)
	}
	return logs, total, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func nullPayoutID(id *commission.PayoutID) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*id), Valid: true}
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) &&
		(sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique || sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
}
