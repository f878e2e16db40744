package hold

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/train-seat-reservation/internal/model"
)

// MySQLRepository stores holds in the holds and hold_seats tables.
// Passengers are kept as a JSON column.
type MySQLRepository struct {
	db *sql.DB
}

func NewMySQLRepository(db *sql.DB) *MySQLRepository { return &MySQLRepository{db: db} }

func (r *MySQLRepository) Create(ctx context.Context, h *model.Hold) error {
	passengers, err := json.Marshal(h.Passengers)
	if err != nil {
		return err
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO holds (id, schedule_id, owner_id, passengers, status, booking_id, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, '', ?, ?)`,
		h.ID, h.ScheduleID, h.OwnerID, passengers, h.Status, h.CreatedAt.UTC(), h.ExpiresAt.UTC()); err != nil {
		return fmt.Errorf("insert hold: %w", err)
	}

	query := `INSERT INTO hold_seats (hold_id, seat_id, position) VALUES `
	args := make([]any, 0, len(h.SeatIDs)*3)
	for i, seatID := range h.SeatIDs {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?)"
		args = append(args, h.ID, seatID, i)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert hold seats: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

const holdColumns = `id, schedule_id, owner_id, passengers, status, booking_id, created_at, expires_at, resolved_at`

func scanHold(sc interface{ Scan(...any) error }) (*model.Hold, error) {
	var (
		h          model.Hold
		passengers []byte
		resolved   sql.NullTime
	)
	if err := sc.Scan(&h.ID, &h.ScheduleID, &h.OwnerID, &passengers, &h.Status, &h.BookingID,
		&h.CreatedAt, &h.ExpiresAt, &resolved); err != nil {
		return nil, err
	}
	if len(passengers) > 0 {
		if err := json.Unmarshal(passengers, &h.Passengers); err != nil {
			return nil, fmt.Errorf("hold %s passengers: %w", h.ID, err)
		}
	}
	if resolved.Valid {
		t := resolved.Time
		h.ResolvedAt = &t
	}
	return &h, nil
}

func (r *MySQLRepository) seatIDs(ctx context.Context, holdID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT seat_id FROM hold_seats WHERE hold_id = ? ORDER BY position`, holdID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (r *MySQLRepository) Get(ctx context.Context, id string) (*model.Hold, error) {
	h, err := scanHold(r.db.QueryRowContext(ctx, `SELECT `+holdColumns+` FROM holds WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("hold %s: %w", id, model.ErrHoldNotFound)
	}
	if err != nil {
		return nil, err
	}
	if h.SeatIDs, err = r.seatIDs(ctx, id); err != nil {
		return nil, err
	}
	return h, nil
}

func (r *MySQLRepository) Resolve(ctx context.Context, id string, to model.HoldStatus, bookingID string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE holds SET status = ?, booking_id = ?, resolved_at = ? WHERE id = ? AND status = ?`,
		to, bookingID, at.UTC(), id, model.HoldActive)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	var status model.HoldStatus
	err = r.db.QueryRowContext(ctx, `SELECT status FROM holds WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("hold %s: %w", id, model.ErrHoldNotFound)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("hold %s already %s: %w", id, status, model.ErrConflict)
}

func (r *MySQLRepository) ListActive(ctx context.Context) ([]*model.Hold, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+holdColumns+` FROM holds WHERE status = ? ORDER BY expires_at`, model.HoldActive)
	if err != nil {
		return nil, err
	}
	var out []*model.Hold
	for rows.Next() {
		h, err := scanHold(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, h)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, h := range out {
		if h.SeatIDs, err = r.seatIDs(ctx, h.ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}
