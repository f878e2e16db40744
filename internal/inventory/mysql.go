package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/iliyamo/train-seat-reservation/internal/model"
)

// MySQLStore keeps seats in the schedule_seats table. Every transition is a
// conditional UPDATE on (status, owner_id); a batch runs in one transaction
// and is rolled back as soon as one row fails to match.
type MySQLStore struct {
	observers
	db  *sql.DB
	now func() time.Time
}

func NewMySQLStore(db *sql.DB, now func() time.Time) *MySQLStore {
	if now == nil {
		now = time.Now
	}
	return &MySQLStore{db: db, now: now}
}

const seatColumns = `schedule_id, seat_id, carriage_id, carriage_no, code, seat_row, seat_col, position, class, status, owner_id, version, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSeat(sc rowScanner) (model.Seat, error) {
	var s model.Seat
	err := sc.Scan(&s.ScheduleID, &s.SeatID, &s.CarriageID, &s.CarriageNo, &s.Code, &s.Row, &s.Column,
		&s.Position, &s.Class, &s.Status, &s.OwnerID, &s.Version, &s.UpdatedAt)
	return s, err
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func (s *MySQLStore) Seats(ctx context.Context, scheduleID string) ([]model.Seat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+seatColumns+` FROM schedule_seats WHERE schedule_id = ? ORDER BY carriage_no, seat_row, seat_col`, scheduleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Seat
	for rows.Next() {
		seat, err := scanSeat(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, seat)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("schedule %s: %w", scheduleID, model.ErrNotFound)
	}
	return out, nil
}

func (s *MySQLStore) Seat(ctx context.Context, scheduleID, seatID string) (model.Seat, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+seatColumns+` FROM schedule_seats WHERE schedule_id = ? AND seat_id = ?`, scheduleID, seatID)
	seat, err := scanSeat(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Seat{}, fmt.Errorf("seat %s on schedule %s: %w", seatID, scheduleID, model.ErrNotFound)
	}
	return seat, err
}

func (s *MySQLStore) Statuses(ctx context.Context, scheduleID string, seatIDs []string) (map[string]model.SeatStatus, error) {
	if len(seatIDs) == 0 {
		return map[string]model.SeatStatus{}, nil
	}
	args := make([]any, 0, len(seatIDs)+1)
	args = append(args, scheduleID)
	for _, id := range seatIDs {
		args = append(args, id)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT seat_id, status FROM schedule_seats WHERE schedule_id = ? AND seat_id IN (`+placeholders(len(seatIDs))+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]model.SeatStatus, len(seatIDs))
	for rows.Next() {
		var id string
		var st model.SeatStatus
		if err := rows.Scan(&id, &st); err != nil {
			return nil, err
		}
		out[id] = st
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, id := range seatIDs {
		if _, ok := out[id]; !ok {
			return nil, fmt.Errorf("seat %s on schedule %s: %w", id, scheduleID, model.ErrNotFound)
		}
	}
	return out, nil
}

func (s *MySQLStore) CompareAndSet(ctx context.Context, scheduleID string, t Transition, opts ...Option) error {
	return s.BulkCompareAndSet(ctx, scheduleID, []Transition{t}, opts...)
}

// BulkCompareAndSet updates rows in seat id order so that two batches over
// overlapping seats always take row locks in the same order. Every
// transition is attempted before a conflict rolls the batch back, so the
// ConflictError names all seats that did not match.
func (s *MySQLStore) BulkCompareAndSet(ctx context.Context, scheduleID string, ts []Transition, opts ...Option) (err error) {
	defer func() { observeCAS("mysql", len(ts), err) }()
	if err := validateBatch(scheduleID, ts); err != nil {
		return err
	}
	o := buildOptions(opts)
	sorted := append([]Transition(nil), ts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].SeatID < sorted[j].SeatID })

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	now := s.now().UTC()
	var conflicts []string
	for _, t := range sorted {
		res, err := tx.ExecContext(ctx,
			`UPDATE schedule_seats SET status = ?, owner_id = ?, version = version + 1, updated_at = ?
			 WHERE schedule_id = ? AND seat_id = ? AND status = ? AND owner_id = ?`,
			t.To, t.ToOwner, now, scheduleID, t.SeatID, t.From, t.FromOwner)
		if err != nil {
			return fmt.Errorf("update seat %s: %w", t.SeatID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			conflicts = append(conflicts, t.SeatID)
		}
	}
	if len(conflicts) > 0 {
		return &ConflictError{ScheduleID: scheduleID, SeatIDs: conflicts}
	}
	// The rows are locked by this transaction, so no competing writer can
	// slip in between this check and the commit.
	if !o.deadline.IsZero() && !s.now().Before(o.deadline) {
		return expiredErr(o.deadline)
	}

	classes, err := seatClasses(ctx, tx, scheduleID, sorted)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true

	ev := ChangeEvent{ScheduleID: scheduleID, Changes: make([]Change, 0, len(ts))}
	for _, t := range ts {
		ev.Changes = append(ev.Changes, Change{SeatID: t.SeatID, Class: classes[t.SeatID], From: t.From, To: t.To})
	}
	s.notify(ev)
	return nil
}

func seatClasses(ctx context.Context, tx *sql.Tx, scheduleID string, ts []Transition) (map[string]model.CarriageClass, error) {
	args := make([]any, 0, len(ts)+1)
	args = append(args, scheduleID)
	for _, t := range ts {
		args = append(args, t.SeatID)
	}
	rows, err := tx.QueryContext(ctx,
		`SELECT seat_id, class FROM schedule_seats WHERE schedule_id = ? AND seat_id IN (`+placeholders(len(ts))+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]model.CarriageClass, len(ts))
	for rows.Next() {
		var id string
		var c model.CarriageClass
		if err := rows.Scan(&id, &c); err != nil {
			return nil, err
		}
		out[id] = c
	}
	return out, rows.Err()
}

func (s *MySQLStore) ReplaceCarriageSeats(ctx context.Context, scheduleID, carriageID string, seats []model.Seat) error {
	if err := validateSeats(scheduleID, carriageID, seats); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	rows, err := tx.QueryContext(ctx,
		`SELECT seat_id, status, class FROM schedule_seats WHERE schedule_id = ? AND carriage_id = ? FOR UPDATE`,
		scheduleID, carriageID)
	if err != nil {
		return err
	}
	var removed []Change
	var occupied []string
	for rows.Next() {
		var c Change
		if err := rows.Scan(&c.SeatID, &c.From, &c.Class); err != nil {
			rows.Close()
			return err
		}
		if c.From != model.SeatFree {
			occupied = append(occupied, c.SeatID)
		}
		removed = append(removed, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	if len(occupied) > 0 {
		return &ConflictError{ScheduleID: scheduleID, SeatIDs: occupied}
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM schedule_seats WHERE schedule_id = ? AND carriage_id = ?`, scheduleID, carriageID); err != nil {
		return err
	}

	ev := ChangeEvent{ScheduleID: scheduleID, Changes: removed}
	if len(seats) > 0 {
		now := s.now().UTC()
		query := `INSERT INTO schedule_seats (` + seatColumns + `) VALUES `
		args := make([]any, 0, len(seats)*13)
		for i, seat := range seats {
			if i > 0 {
				query += ","
			}
			query += "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
			args = append(args, seat.ScheduleID, seat.SeatID, seat.CarriageID, seat.CarriageNo, seat.Code,
				seat.Row, seat.Column, seat.Position, seat.Class, model.SeatFree, "", 1, now)
			ev.Changes = append(ev.Changes, Change{SeatID: seat.SeatID, Class: seat.Class, To: model.SeatFree})
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert seats: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	s.notify(ev)
	return nil
}
