package model

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypedErrorsMatchSentinels(t *testing.T) {
	var err error = &SeatUnavailableError{ScheduleID: "s1", SeatIDs: []string{"1-1A", "1-1B"}}
	wrapped := fmt.Errorf("place hold: %w", err)

	assert.ErrorIs(t, wrapped, ErrSeatUnavailable)
	assert.NotErrorIs(t, wrapped, ErrConflict)
	assert.Contains(t, err.Error(), "1-1A,1-1B")

	var sue *SeatUnavailableError
	require.True(t, errors.As(wrapped, &sue))
	assert.Equal(t, "s1", sue.ScheduleID)

	verr := Invalid("passengers", "got %d, want %d", 1, 2)
	assert.ErrorIs(t, verr, ErrValidation)
	assert.Equal(t, "validation failed: passengers: got 1, want 2", verr.Error())
}

func TestParseCarriageClass(t *testing.T) {
	cases := []struct {
		in   string
		want CarriageClass
		ok   bool
	}{
		{"economy", ClassEconomy, true},
		{" Business ", ClassBusiness, true},
		{"EXECUTIVE", ClassExecutive, true},
		{"sleeper", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseCarriageClass(tc.in)
			if !tc.ok {
				assert.ErrorIs(t, err, ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestHoldExpiryBoundary(t *testing.T) {
	exp := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	h := &Hold{Status: HoldActive, ExpiresAt: exp}

	assert.False(t, h.Expired(exp.Add(-time.Nanosecond)))
	assert.True(t, h.Expired(exp))
	assert.False(t, h.Status.Terminal())
	assert.True(t, HoldReleased.Terminal())

	c := h.Clone()
	c.SeatIDs = append(c.SeatIDs, "x")
	assert.Empty(t, h.SeatIDs)
}

func TestScheduleSnapshotHelpers(t *testing.T) {
	s := Schedule{Carriages: []Carriage{
		{ID: "c1", Class: ClassEconomy},
		{ID: "c2", Class: ClassExecutive},
		{ID: "c3", Class: ClassEconomy},
	}}
	c, ok := s.Carriage("c2")
	require.True(t, ok)
	assert.Equal(t, ClassExecutive, c.Class)
	assert.Equal(t, []CarriageClass{ClassEconomy, ClassExecutive}, s.Classes())

	cp := s.Clone()
	cp.Carriages[0].Quota = 99
	assert.Zero(t, s.Carriages[0].Quota)
	assert.Equal(t, "3-12E", SeatKey(3, "12E"))
}
