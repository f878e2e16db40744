package layout

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/train-seat-reservation/internal/inventory"
	"github.com/iliyamo/train-seat-reservation/internal/model"
)

func codes(seats []model.Seat) []string {
	out := make([]string, len(seats))
	for i, s := range seats {
		out[i] = s.Code
	}
	return out
}

func TestGenerateQuotaFourTwoPlusTwo(t *testing.T) {
	c := model.Carriage{ID: "c1", Number: 1, Class: model.ClassExecutive, Quota: 4}
	seats, err := Generate("sch", c, Rule{Class: model.ClassExecutive, Groups: []int{2, 2}})
	require.NoError(t, err)

	assert.Equal(t, []string{"1A", "1B", "1C", "1D"}, codes(seats))
	for _, s := range seats {
		assert.Equal(t, model.SeatFree, s.Status)
		assert.Equal(t, "sch", s.ScheduleID)
	}
	assert.Equal(t, []model.SeatPosition{model.PositionWindow, model.PositionAisle, model.PositionAisle, model.PositionWindow},
		[]model.SeatPosition{seats[0].Position, seats[1].Position, seats[2].Position, seats[3].Position})
}

func TestGeneratePartialLastRow(t *testing.T) {
	c := model.Carriage{ID: "c3", Number: 3, Class: model.ClassEconomy, Quota: 7}
	seats, err := Generate("sch", c, DefaultRules()[model.ClassEconomy])
	require.NoError(t, err)

	assert.Equal(t, []string{"1A", "1B", "1C", "1D", "1E", "2A", "2B"}, codes(seats))
	assert.Equal(t, "3-2B", seats[6].SeatID)
	assert.Equal(t, model.PositionMiddle, seats[3].Position)
	assert.Equal(t, 2, seats[6].Row)
	assert.Equal(t, 2, seats[6].Column)
}

func TestGenerateIsDeterministic(t *testing.T) {
	c := model.Carriage{ID: "c1", Number: 1, Class: model.ClassBusiness, Quota: 40}
	a, err := Generate("sch", c, DefaultRules()[model.ClassBusiness])
	require.NoError(t, err)
	b, err := Generate("sch", c, DefaultRules()[model.ClassBusiness])
	require.NoError(t, err)
	assert.Equal(t, a, b)

	seen := map[string]bool{}
	for _, s := range a {
		assert.False(t, seen[s.Code], s.Code)
		seen[s.Code] = true
	}
}

func TestGenerateRejectsBadInput(t *testing.T) {
	_, err := Generate("sch", model.Carriage{Quota: 0}, DefaultRules()[model.ClassEconomy])
	assert.ErrorIs(t, err, model.ErrValidation)
	_, err = Generate("sch", model.Carriage{Quota: 4}, Rule{Groups: []int{2, 0}})
	assert.ErrorIs(t, err, model.ErrValidation)
	_, err = Generate("sch", model.Carriage{Quota: 4}, Rule{Groups: []int{20, 20}})
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestGeneratorRefusesOccupiedCarriage(t *testing.T) {
	ctx := context.Background()
	store := inventory.NewMemoryStore(nil)
	g := NewGenerator(store, nil, log.DefaultLogger)
	c := model.Carriage{ID: "c1", Number: 1, Class: model.ClassExecutive, Quota: 4}

	_, err := g.Generate(ctx, "sch", c)
	require.NoError(t, err)
	require.NoError(t, store.CompareAndSet(ctx, "sch", inventory.Transition{
		SeatID: "1-1A", From: model.SeatFree, To: model.SeatBooked, ToOwner: "b1",
	}))

	c.Quota = 8
	_, err = g.Generate(ctx, "sch", c)
	assert.ErrorIs(t, err, model.ErrConflict)
	seats, err := store.Seats(ctx, "sch")
	require.NoError(t, err)
	assert.Len(t, seats, 4)
}

func TestLoadRulesMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "layout.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rules:\n  - class: economy\n    groups: [3, 3]\n"), 0o644))

	rules, err := LoadRules(path)
	require.NoError(t, err)
	assert.Equal(t, 6, rules[model.ClassEconomy].Columns())
	assert.Equal(t, 4, rules[model.ClassExecutive].Columns())

	require.NoError(t, os.WriteFile(path, []byte("rules:\n  - class: cargo\n    groups: [2]\n"), 0o644))
	_, err = LoadRules(path)
	assert.ErrorIs(t, err, model.ErrValidation)

	rules, err = LoadRules("")
	require.NoError(t, err)
	assert.Equal(t, DefaultRules(), rules)
}
