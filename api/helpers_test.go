package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/warp/reservation-engine/booking"
	"github.com/warp/reservation-engine/booking/store"
	"github.com/warp/reservation-engine/metrics"
)

// monday is the fixed "now" of the API tests: Monday 2026-03-02 09:00 UTC.
var monday = time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)

type testServer struct {
	t       *testing.T
	mem     *store.Memory
	handler *Handler
	metrics *metrics.Collector
	router  http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	mem := store.NewMemory()
	m := metrics.New()
	h := NewHandler(mem, booking.SchedulerConfig{Workers: 2}, booking.Options{
		Clock:   booking.FixedClock(monday),
		Retry:   booking.RetryPolicy{MaxAttempts: 3, Base: time.Millisecond},
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics: m,
	})
	return &testServer{
		t:       t,
		mem:     mem,
		handler: h,
		metrics: m,
		router:  NewRouter(h, WithMetrics(m)),
	}
}

// do sends a request with an optional JSON body.
func (s *testServer) do(method, path string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// subscribe upserts an active 12 week subscription through the API and
// returns the subscriber id.
func (s *testServer) subscribe(tier booking.Tier, start time.Time) string {
	s.t.Helper()
	id := booking.NewID()
	rec := s.do(http.MethodPut, "/api/subscriptions", SubscriptionRequest{
		SubscriberID: id,
		Tier:         string(tier),
		StartDate:    start.Format(dateLayout),
		EndDate:      start.AddDate(0, 0, 12*7-1).Format(dateLayout),
		Active:       true,
	})
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())
	return id
}

// createSlot creates a slot through the API and returns its id.
func (s *testServer) createSlot(date time.Time, start string, capacity int) string {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/slots", CreateSlotRequest{
		Date:      date.Format(dateLayout),
		StartTime: start,
		Capacity:  capacity,
	})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[SlotDTO](s.t, rec).ID
}

func (s *testServer) book(subscriber, slot string) *httptest.ResponseRecorder {
	s.t.Helper()
	return s.do(http.MethodPost, "/api/reservations", BookRequest{SubscriberID: subscriber, SlotID: slot})
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
