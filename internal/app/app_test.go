package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/train-seat-reservation/internal/auth"
	"github.com/iliyamo/train-seat-reservation/internal/config"
	"github.com/iliyamo/train-seat-reservation/internal/queue"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type published struct {
	mu     sync.Mutex
	topics []string
}

func (p *published) Publish(_ context.Context, topic string, _ any) error {
	p.mu.Lock()
	p.topics = append(p.topics, topic)
	p.mu.Unlock()
	return nil
}

type harness struct {
	t      *testing.T
	app    *App
	clock  *clock
	events *published
	admin  string
}

const secret = "test-secret"

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := config.Config{
		Env: "test", Port: "0", StoreDriver: config.DriverMemory, JWTSecret: secret,
		HoldTTL: 10 * time.Minute, SweepInterval: time.Second, SweepBatch: 100, MaxSweepRetries: 3,
	}
	c := &clock{t: time.Date(2026, 8, 1, 6, 0, 0, 0, time.UTC)}
	events := &published{}
	a, err := New(cfg, log.DefaultLogger, Deps{Now: c.Now, Publisher: events})
	require.NoError(t, err)
	tok, err := auth.NewAccessToken(secret, "ops", auth.RoleAdmin, time.Hour, time.Now())
	require.NoError(t, err)
	return &harness{t: t, app: a, clock: c, events: events, admin: tok.Token}
}

func (h *harness) call(method, path, session string, body any, out any) int {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(h.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if session == "admin" {
		req.Header.Set("Authorization", "Bearer "+h.admin)
	} else if session != "" {
		req.Header.Set("X-Session-ID", session)
	}
	rec := httptest.NewRecorder()
	h.app.Echo.ServeHTTP(rec, req)
	if out != nil && rec.Body.Len() > 0 {
		require.NoError(h.t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec.Code
}

type idOnly struct {
	ID string `json:"id"`
}

// seed creates one train with an executive carriage of four seats on a
// Gambir to Bandung schedule and returns the schedule and carriage ids.
func (h *harness) seed() (string, string) {
	var train, car, sch idOnly
	require.Equal(h.t, http.StatusCreated, h.call(http.MethodPost, "/v1/admin/trains", "admin",
		map[string]any{"code": "ARG-7", "name": "Argo Parahyangan"}, &train))
	require.Equal(h.t, http.StatusCreated, h.call(http.MethodPost, "/v1/admin/trains/"+train.ID+"/carriages", "admin",
		map[string]any{"number": 1, "class": "executive", "quota": 4}, &car))
	dep := time.Date(2026, 8, 2, 7, 30, 0, 0, time.UTC)
	require.Equal(h.t, http.StatusCreated, h.call(http.MethodPost, "/v1/admin/schedules", "admin",
		map[string]any{"train_id": train.ID, "origin": "Gambir", "destination": "Bandung",
			"departs_at": dep, "arrives_at": dep.Add(3 * time.Hour)}, &sch))
	require.Equal(h.t, http.StatusCreated, h.call(http.MethodPost, "/v1/admin/schedules/"+sch.ID+"/carriages", "admin",
		map[string]any{"carriage_id": car.ID}, nil))
	return sch.ID, car.ID
}

func holdBody(seats ...string) map[string]any {
	passengers := make([]map[string]string, len(seats))
	for i := range seats {
		passengers[i] = map[string]string{"name": "Passenger"}
	}
	return map[string]any{"seat_ids": seats, "passengers": passengers}
}

func TestAdminRoutesRequireAdminToken(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, http.StatusUnauthorized, h.call(http.MethodPost, "/v1/admin/trains", "s1", map[string]any{"code": "X", "name": "Y"}, nil))
	assert.Equal(t, http.StatusBadRequest, h.call(http.MethodPost, "/v1/admin/trains", "admin", map[string]any{"code": "X"}, nil))
}

func TestBookingFlowOverHTTP(t *testing.T) {
	h := newHarness(t)
	schID, carID := h.seed()

	var search struct {
		Data []struct {
			Available map[string]int `json:"available"`
		} `json:"data"`
		Total int `json:"total"`
	}
	require.Equal(t, http.StatusOK, h.call(http.MethodGet, "/v1/search?from=gambir&to=bandung&date=2026-08-02&class=executive", "s1", nil, &search))
	require.Equal(t, 1, search.Total)
	assert.Equal(t, 4, search.Data[0].Available["EXECUTIVE"])

	var seatMap struct {
		Carriages []struct {
			Free int `json:"free"`
			Rows []struct {
				Seats []struct {
					SeatID string `json:"seat_id"`
				} `json:"seats"`
			} `json:"rows"`
		} `json:"carriages"`
	}
	require.Equal(t, http.StatusOK, h.call(http.MethodGet, "/v1/schedules/"+schID+"/seats", "s1", nil, &seatMap))
	require.Len(t, seatMap.Carriages, 1)
	assert.Equal(t, 4, seatMap.Carriages[0].Free)
	assert.Equal(t, "1-1A", seatMap.Carriages[0].Rows[0].Seats[0].SeatID)

	var held struct {
		ID        string    `json:"id"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	require.Equal(t, http.StatusCreated, h.call(http.MethodPost, "/v1/schedules/"+schID+"/holds", "s1", holdBody("1-1A", "1-1B"), &held))
	assert.WithinDuration(t, h.clock.Now().Add(10*time.Minute), held.ExpiresAt, time.Millisecond)

	var conflict map[string]any
	assert.Equal(t, http.StatusConflict, h.call(http.MethodPost, "/v1/schedules/"+schID+"/holds", "s2", holdBody("1-1B", "1-1C"), &conflict))
	assert.Equal(t, "seat_unavailable", conflict["error"])
	assert.Equal(t, http.StatusNotFound, h.call(http.MethodGet, "/v1/holds/"+held.ID, "s2", nil, nil))
	assert.Equal(t, http.StatusNotFound, h.call(http.MethodPost, "/v1/holds/"+held.ID+"/confirm", "s2", nil, nil))

	var booking struct {
		ID        string `json:"id"`
		Reference string `json:"reference"`
		Status    string `json:"status"`
	}
	require.Equal(t, http.StatusCreated, h.call(http.MethodPost, "/v1/holds/"+held.ID+"/confirm", "s1", nil, &booking))
	assert.Equal(t, "CONFIRMED", booking.Status)
	assert.Regexp(t, `^TRN-2026-[0-9A-F]{8}$`, booking.Reference)

	var again idOnly
	require.Equal(t, http.StatusCreated, h.call(http.MethodPost, "/v1/holds/"+held.ID+"/confirm", "s1", nil, &again))
	assert.Equal(t, booking.ID, again.ID)

	reset := "/v1/admin/schedules/" + schID + "/carriages/" + carID + "/reset"
	assert.Equal(t, http.StatusConflict, h.call(http.MethodPost, reset, "admin", nil, nil))

	require.Equal(t, http.StatusOK, h.call(http.MethodDelete, "/v1/bookings/"+booking.ID, "s1", nil, &booking))
	assert.Equal(t, "CANCELLED", booking.Status)
	require.Equal(t, http.StatusOK, h.call(http.MethodDelete, "/v1/bookings/"+booking.ID, "s1", nil, &booking))
	assert.Equal(t, http.StatusOK, h.call(http.MethodPost, reset, "admin", nil, nil))

	assert.Equal(t, []string{queue.TopicBookingConfirmed, queue.TopicBookingCancelled}, h.events.topics)
}

func TestExpiredHoldOverHTTP(t *testing.T) {
	h := newHarness(t)
	schID, _ := h.seed()

	var held idOnly
	require.Equal(t, http.StatusCreated, h.call(http.MethodPost, "/v1/schedules/"+schID+"/holds", "s1", holdBody("1-2A"), &held))
	h.clock.Advance(10 * time.Minute)

	assert.Equal(t, http.StatusGone, h.call(http.MethodPost, "/v1/holds/"+held.ID+"/confirm", "s1", nil, nil))

	n, err := h.app.Sweeper.RunNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Contains(t, h.events.topics, queue.TopicHoldExpired)

	var out map[string]any
	require.Equal(t, http.StatusOK, h.call(http.MethodDelete, "/v1/holds/"+held.ID, "s1", nil, &out))
	assert.Equal(t, "already_terminal", out["outcome"])
	assert.Equal(t, http.StatusCreated, h.call(http.MethodPost, "/v1/schedules/"+schID+"/holds", "s2", holdBody("1-2A"), nil))
}

func TestValidationErrorsOverHTTP(t *testing.T) {
	h := newHarness(t)
	schID, _ := h.seed()

	body := holdBody("1-1A", "1-1B")
	body["passengers"] = []map[string]string{{"name": "Only one"}}
	assert.Equal(t, http.StatusBadRequest, h.call(http.MethodPost, "/v1/schedules/"+schID+"/holds", "s1", body, nil))
	assert.Equal(t, http.StatusBadRequest, h.call(http.MethodPost, "/v1/schedules/"+schID+"/holds", "s1", holdBody("9-9Z"), nil))
	assert.Equal(t, http.StatusBadRequest, h.call(http.MethodGet, "/v1/search?from=Gambir&to=Bandung&date=02-08-2026", "s1", nil, nil))
	assert.Equal(t, http.StatusNotFound, h.call(http.MethodGet, "/v1/schedules/nope/seats", "s1", nil, nil))
}

func TestRestoreRebuildsIndex(t *testing.T) {
	h := newHarness(t)
	schID, _ := h.seed()
	require.Equal(t, http.StatusCreated, h.call(http.MethodPost, "/v1/schedules/"+schID+"/holds", "s1", holdBody("1-1A"), nil))

	require.NoError(t, h.app.Restore(context.Background()))
	assert.Equal(t, 3, h.app.Index.Available(schID)["EXECUTIVE"])
	assert.GreaterOrEqual(t, h.app.Holds.Pending(), 1)
}
