package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/train-seat-reservation/internal/model"
)

// MySQLRepository keeps the catalog in the trains, carriages, schedules and
// schedule_carriages tables. schedule_carriages rows are snapshots and are
// never updated when the source carriage changes.
type MySQLRepository struct {
	db *sql.DB
}

func NewMySQLRepository(db *sql.DB) *MySQLRepository { return &MySQLRepository{db: db} }

const mysqlDuplicateEntry = 1062

func duplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}

func (r *MySQLRepository) CreateTrain(ctx context.Context, t *model.Train) error {
	const q = `INSERT INTO trains (id, code, name, service_class, created_at) VALUES (?, ?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, q, t.ID, t.Code, t.Name, t.Class, t.CreatedAt.UTC()); err != nil {
		if duplicate(err) {
			return fmt.Errorf("train code %s: %w", t.Code, model.ErrConflict)
		}
		return fmt.Errorf("insert train: %w", err)
	}
	return nil
}

func (r *MySQLRepository) GetTrain(ctx context.Context, id string) (*model.Train, error) {
	const q = `SELECT id, code, name, service_class, created_at FROM trains WHERE id = ?`
	var t model.Train
	err := r.db.QueryRowContext(ctx, q, id).Scan(&t.ID, &t.Code, &t.Name, &t.Class, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("train %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

const carriageColumns = `id, train_id, number, class, quota, created_at, updated_at`

func scanCarriage(sc interface{ Scan(...any) error }) (*model.Carriage, error) {
	var c model.Carriage
	if err := sc.Scan(&c.ID, &c.TrainID, &c.Number, &c.Class, &c.Quota, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *MySQLRepository) CreateCarriage(ctx context.Context, c *model.Carriage) error {
	q := `INSERT INTO carriages (` + carriageColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, q, c.ID, c.TrainID, c.Number, c.Class, c.Quota, c.CreatedAt.UTC(), c.UpdatedAt.UTC()); err != nil {
		if duplicate(err) {
			return fmt.Errorf("carriage %d of train %s: %w", c.Number, c.TrainID, model.ErrConflict)
		}
		return fmt.Errorf("insert carriage: %w", err)
	}
	return nil
}

func (r *MySQLRepository) GetCarriage(ctx context.Context, id string) (*model.Carriage, error) {
	c, err := scanCarriage(r.db.QueryRowContext(ctx, `SELECT `+carriageColumns+` FROM carriages WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("carriage %s: %w", id, model.ErrNotFound)
	}
	return c, err
}

func (r *MySQLRepository) ListCarriages(ctx context.Context, trainID string) ([]model.Carriage, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+carriageColumns+` FROM carriages WHERE train_id = ? ORDER BY number`, trainID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Carriage
	for rows.Next() {
		c, err := scanCarriage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (r *MySQLRepository) UpdateCarriageQuota(ctx context.Context, id string, quota int) (*model.Carriage, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE carriages SET quota = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, quota, id)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// MySQL reports zero affected rows when the value is unchanged.
		if _, err := r.GetCarriage(ctx, id); err != nil {
			return nil, err
		}
	}
	return r.GetCarriage(ctx, id)
}

func (r *MySQLRepository) CreateSchedule(ctx context.Context, s *model.Schedule) error {
	const q = `INSERT INTO schedules (id, train_id, origin, destination, departs_at, arrives_at, created_at)
	           VALUES (?, ?, ?, ?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, q, s.ID, s.TrainID, s.Origin, s.Destination,
		s.DepartsAt.UTC(), s.ArrivesAt.UTC(), s.CreatedAt.UTC()); err != nil {
		if duplicate(err) {
			return fmt.Errorf("schedule %s: %w", s.ID, model.ErrConflict)
		}
		return fmt.Errorf("insert schedule: %w", err)
	}
	return nil
}

const scheduleSelect = `SELECT s.id, s.train_id, t.code, t.name, s.origin, s.destination, s.departs_at, s.arrives_at, s.created_at
	FROM schedules s JOIN trains t ON t.id = s.train_id`

func scanSchedule(sc interface{ Scan(...any) error }) (*model.Schedule, error) {
	var s model.Schedule
	if err := sc.Scan(&s.ID, &s.TrainID, &s.TrainCode, &s.TrainName, &s.Origin, &s.Destination,
		&s.DepartsAt, &s.ArrivesAt, &s.CreatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *MySQLRepository) GetSchedule(ctx context.Context, id string) (*model.Schedule, error) {
	s, err := scanSchedule(r.db.QueryRowContext(ctx, scheduleSelect+` WHERE s.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("schedule %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	snap, err := r.snapshots(ctx, `WHERE schedule_id = ?`, id)
	if err != nil {
		return nil, err
	}
	s.Carriages = snap[id]
	return s, nil
}

func (r *MySQLRepository) ListSchedules(ctx context.Context) ([]model.Schedule, error) {
	rows, err := r.db.QueryContext(ctx, scheduleSelect+` ORDER BY s.departs_at, s.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	snap, err := r.snapshots(ctx, "")
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Carriages = snap[out[i].ID]
	}
	return out, nil
}

// snapshots loads attached carriages grouped by schedule id.
func (r *MySQLRepository) snapshots(ctx context.Context, where string, args ...any) (map[string][]model.Carriage, error) {
	q := strings.TrimSpace(`SELECT schedule_id, carriage_id, train_id, number, class, quota, attached_at
		FROM schedule_carriages ` + where + ` ORDER BY schedule_id, number`)
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string][]model.Carriage)
	for rows.Next() {
		var (
			scheduleID string
			c          model.Carriage
		)
		if err := rows.Scan(&scheduleID, &c.ID, &c.TrainID, &c.Number, &c.Class, &c.Quota, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.UpdatedAt = c.CreatedAt
		out[scheduleID] = append(out[scheduleID], c)
	}
	return out, rows.Err()
}

func (r *MySQLRepository) AttachCarriage(ctx context.Context, scheduleID string, c model.Carriage) error {
	const q = `INSERT INTO schedule_carriages (schedule_id, carriage_id, train_id, number, class, quota, attached_at)
	           VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)`
	if _, err := r.db.ExecContext(ctx, q, scheduleID, c.ID, c.TrainID, c.Number, c.Class, c.Quota); err != nil {
		if duplicate(err) {
			return fmt.Errorf("carriage %d already attached to schedule %s: %w", c.Number, scheduleID, model.ErrConflict)
		}
		return fmt.Errorf("attach carriage: %w", err)
	}
	return nil
}

func (r *MySQLRepository) DetachCarriage(ctx context.Context, scheduleID, carriageID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM schedule_carriages WHERE schedule_id = ? AND carriage_id = ?`, scheduleID, carriageID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("carriage %s on schedule %s: %w", carriageID, scheduleID, model.ErrNotFound)
	}
	return nil
}
