package reservation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/train-seat-reservation/internal/model"
)

// MySQLRepository stores bookings in bookings and booking_seats. The
// unique key on bookings.hold_id enforces one booking per hold.
type MySQLRepository struct {
	db *sql.DB
}

func NewMySQLRepository(db *sql.DB) *MySQLRepository { return &MySQLRepository{db: db} }

const mysqlDuplicateEntry = 1062

func (r *MySQLRepository) Create(ctx context.Context, b *model.Booking) error {
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
		`INSERT INTO bookings (id, reference, schedule_id, hold_id, owner_id, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.Reference, b.ScheduleID, b.HoldID, b.OwnerID, b.Status, b.CreatedAt.UTC()); err != nil {
		var me *mysql.MySQLError
		if errors.As(err, &me) && me.Number == mysqlDuplicateEntry {
			return fmt.Errorf("booking for hold %s: %w", b.HoldID, model.ErrConflict)
		}
		return fmt.Errorf("insert booking: %w", err)
	}

	query := `INSERT INTO booking_seats (booking_id, seat_id, passenger_name, passenger_document, position) VALUES `
	args := make([]any, 0, len(b.Seats)*5)
	for i, s := range b.Seats {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?, ?, ?)"
		args = append(args, b.ID, s.SeatID, s.Passenger.Name, s.Passenger.DocumentID, i)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert booking seats: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

const bookingColumns = `id, reference, schedule_id, hold_id, owner_id, status, created_at, cancelled_at`

func scanBooking(sc interface{ Scan(...any) error }) (*model.Booking, error) {
	var (
		b         model.Booking
		cancelled sql.NullTime
	)
	if err := sc.Scan(&b.ID, &b.Reference, &b.ScheduleID, &b.HoldID, &b.OwnerID, &b.Status, &b.CreatedAt, &cancelled); err != nil {
		return nil, err
	}
	if cancelled.Valid {
		t := cancelled.Time
		b.CancelledAt = &t
	}
	return &b, nil
}

func (r *MySQLRepository) seats(ctx context.Context, bookingID string) ([]model.BookedSeat, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT seat_id, passenger_name, passenger_document FROM booking_seats WHERE booking_id = ? ORDER BY position`, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.BookedSeat
	for rows.Next() {
		var s model.BookedSeat
		if err := rows.Scan(&s.SeatID, &s.Passenger.Name, &s.Passenger.DocumentID); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *MySQLRepository) Get(ctx context.Context, id string) (*model.Booking, error) {
	b, err := scanBooking(r.db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("booking %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if b.Seats, err = r.seats(ctx, id); err != nil {
		return nil, err
	}
	return b, nil
}

func (r *MySQLRepository) GetByHold(ctx context.Context, holdID string) (*model.Booking, error) {
	b, err := scanBooking(r.db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE hold_id = ?`, holdID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("booking for hold %s: %w", holdID, model.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if b.Seats, err = r.seats(ctx, b.ID); err != nil {
		return nil, err
	}
	return b, nil
}

func (r *MySQLRepository) Cancel(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE bookings SET status = ?, cancelled_at = ? WHERE id = ? AND status = ?`,
		model.BookingCancelled, at.UTC(), id, model.BookingConfirmed)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 1 {
		return nil
	}
	var exists int
	err = r.db.QueryRowContext(ctx, `SELECT 1 FROM bookings WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("booking %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("booking %s already cancelled: %w", id, model.ErrConflict)
}

func (r *MySQLRepository) ListBySchedule(ctx context.Context, scheduleID string) ([]*model.Booking, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE schedule_id = ? ORDER BY created_at`, scheduleID)
	if err != nil {
		return nil, err
	}
	var out []*model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, b := range out {
		if b.Seats, err = r.seats(ctx, b.ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}
