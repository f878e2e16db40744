package layout

import (
	"context"
	"fmt"

	"github.com/go-kratos/kratos/v2/log"

	"github.com/iliyamo/train-seat-reservation/internal/inventory"
	"github.com/iliyamo/train-seat-reservation/internal/model"
)

// Generate derives exactly c.Quota free seats in row-major order. Codes are
// the 1-based row number followed by the column letter (1A, 1B, ...); the
// last row is partial when the quota is not a multiple of the row width.
func Generate(scheduleID string, c model.Carriage, r Rule) ([]model.Seat, error) {
	if c.Quota <= 0 {
		return nil, model.Invalid("quota", "carriage %d quota must be positive", c.Number)
	}
	if err := r.validate(); err != nil {
		return nil, err
	}
	positions := columnPositions(r.Groups)
	cols := len(positions)

	seats := make([]model.Seat, 0, c.Quota)
	for i := 0; i < c.Quota; i++ {
		row, col := i/cols+1, i%cols
		code := fmt.Sprintf("%d%c", row, 'A'+col)
		seats = append(seats, model.Seat{
			ScheduleID: scheduleID,
			SeatID:     model.SeatKey(c.Number, code),
			CarriageID: c.ID,
			CarriageNo: c.Number,
			Code:       code,
			Row:        row,
			Column:     col + 1,
			Position:   positions[col],
			Class:      c.Class,
			Status:     model.SeatFree,
			Version:    1,
		})
	}
	return seats, nil
}

// columnPositions marks the outermost columns as window seats and the
// columns next to an aisle as aisle seats.
func columnPositions(groups []int) []model.SeatPosition {
	var out []model.SeatPosition
	for gi, g := range groups {
		for j := 0; j < g; j++ {
			first, last := gi == 0 && j == 0, gi == len(groups)-1 && j == g-1
			switch {
			case first || last:
				out = append(out, model.PositionWindow)
			case j == 0 || j == g-1:
				out = append(out, model.PositionAisle)
			default:
				out = append(out, model.PositionMiddle)
			}
		}
	}
	return out
}

// Generator writes generated seats into the inventory store.
type Generator struct {
	store inventory.Store
	rules Rules
	log   *log.Helper
}

func NewGenerator(store inventory.Store, rules Rules, logger log.Logger) *Generator {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Generator{store: store, rules: rules, log: log.NewHelper(log.With(logger, "module", "layout"))}
}

// Generate replaces the seats of carriage c on the schedule. It fails with
// model.ErrConflict when any existing seat of the carriage is held or
// booked, in which case nothing changes.
func (g *Generator) Generate(ctx context.Context, scheduleID string, c model.Carriage) ([]model.Seat, error) {
	rule, err := g.rules.For(c.Class)
	if err != nil {
		return nil, err
	}
	seats, err := Generate(scheduleID, c, rule)
	if err != nil {
		return nil, err
	}
	if err := g.store.ReplaceCarriageSeats(ctx, scheduleID, c.ID, seats); err != nil {
		return nil, fmt.Errorf("carriage %d on schedule %s: %w", c.Number, scheduleID, err)
	}
	g.log.Infof("generated %d seats for carriage %d (%s) on schedule %s", len(seats), c.Number, c.Class, scheduleID)
	return seats, nil
}
