package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/NotCoffee418/sml_power_meter/pkg/meterdb"
	"github.com/NotCoffee418/sml_power_meter/pkg/obis"
	"github.com/NotCoffee418/sml_power_meter/pkg/types"
	"github.com/stretchr/testify/require"
)

type fixedLatest struct {
	reading types.MeterReading
	ok      bool
}

func (f fixedLatest) Get() (types.MeterReading, bool) {
	return f.reading, f.ok
}

type fakeQuerier struct {
	got string
}

func (q *fakeQuerier) ReadonlyQuery(_ context.Context, statement string) (*meterdb.QueryResult, error) {
	q.got = statement
	if strings.HasPrefix(statement, "DROP") {
		return nil, errors.New("attempt to write a readonly database")
	}
	return &meterdb.QueryResult{
		Columns:   []string{"n"},
		RowsCount: 1,
		Rows:      [][]any{{int64(3)}},
	}, nil
}

var reading = types.MeterReading{
	CapturedAt:  time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	TimeSource:  types.TimeSourceIngestion,
	TotalEnergy: types.Quantity{Value: 1234.5, Unit: obis.UnitWattHour},
	Lines: [3]types.Quantity{
		{Value: 23, Unit: obis.UnitWatt},
		{Value: -1.5, Unit: obis.UnitWatt},
		{Value: 120, Unit: obis.UnitWatt},
	},
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

func TestRoot(t *testing.T) {
	h := New(fixedLatest{}, nil, nil).Handler()
	rec := do(t, h, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "POST /api/query")

	require.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/nope", "").Code)
}

func TestNowWithoutReading(t *testing.T) {
	h := New(fixedLatest{}, nil, nil).Handler()
	for _, path := range []string{"/now", "/api/now"} {
		rec := do(t, h, http.MethodGet, path, "")
		require.Equal(t, http.StatusNoContent, rec.Code, path)
		require.Empty(t, rec.Body.String(), path)
	}
}

func TestNow(t *testing.T) {
	h := New(fixedLatest{reading: reading, ok: true}, nil, nil).Handler()

	rec := do(t, h, http.MethodGet, "/now", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Meter Reading: 1234.5 Wh")
	require.Contains(t, rec.Body.String(), "Line Two: -1.5 W")

	rec = do(t, h, http.MethodGet, "/api/now", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var got types.MeterReading
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.True(t, reading.CapturedAt.Equal(got.CapturedAt))
	require.Equal(t, reading.Lines, got.Lines)
}

func TestQuery(t *testing.T) {
	q := &fakeQuerier{}
	h := New(fixedLatest{}, q, nil).Handler()

	rec := do(t, h, http.MethodPost, "/api/query", " SELECT COUNT(*) AS n FROM readings \n")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "SELECT COUNT(*) AS n FROM readings", q.got)
	require.JSONEq(t, `{"columns":["n"],"took_ms":0,"rows_count":1,"rows":[[3]]}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/api/query", "DROP TABLE readings")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.JSONEq(t, `{"error":"attempt to write a readonly database"}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/api/query", "   ")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	require.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodGet, "/api/query", "").Code)
}

func TestQueryWithoutDatabase(t *testing.T) {
	h := New(fixedLatest{}, nil, nil).Handler()
	rec := do(t, h, http.MethodPost, "/api/query", "SELECT 1")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodGet, "/ws", "").Code)
}

func TestQueryAgainstDatabase(t *testing.T) {
	ctx := context.Background()
	path := t.TempDir() + "/meter.db"
	db, err := meterdb.Open(path)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Store(ctx, reading))

	ro, err := meterdb.OpenReadonly(path)
	require.NoError(t, err)
	defer ro.Close()

	h := New(fixedLatest{}, ro, nil).Handler()
	rec := do(t, h, http.MethodPost, "/api/query", "SELECT total_energy_wh FROM readings")
	require.Equal(t, http.StatusOK, rec.Code)

	var res meterdb.QueryResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Equal(t, 1, res.RowsCount)
	require.Equal(t, []any{1234.5}, res.Rows[0])

	rec = do(t, h, http.MethodPost, "/api/query", "DELETE FROM readings")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsRoute(t *testing.T) {
	h := New(fixedLatest{}, nil, nil).Handler()
	rec := do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "sml_frames_total")
}

func TestListenAndServeShutsDown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- New(fixedLatest{}, nil, nil).ListenAndServe(ctx, "127.0.0.1:0")
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestRequestsAreCountedByRoute(t *testing.T) {
	h := New(fixedLatest{}, nil, nil).Handler()
	do(t, h, http.MethodGet, "/api/now", "")

	rec := do(t, h, http.MethodGet, "/metrics", "")
	require.Contains(t, rec.Body.String(), `sml_http_requests_total{code="204",route="/api/now"}`)
}
