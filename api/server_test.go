package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bds-warehouse/config"
	"bds-warehouse/controlplane"
	"bds-warehouse/models"
	"bds-warehouse/pipeline"
	"bds-warehouse/storage"
	"bds-warehouse/utils"
)

var day1 = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

type stubSource struct {
	rows    []models.RawListing
	entered chan struct{}
	release chan struct{}
}

func (s *stubSource) Crawl(context.Context) ([]models.RawListing, error) {
	if s.entered != nil {
		close(s.entered)
		<-s.release
	}
	return s.rows, nil
}

func newServer(t *testing.T, src *stubSource) (*Server, *pipeline.Pipeline) {
	t.Helper()
	stores := storage.SingleStore(storage.OpenMemory(t))
	p := pipeline.New(&config.Config{DataDir: t.TempDir(), Author: "System"}, stores, src, nil, utils.NewNopLogger())
	p.Runner().SetClock(func() time.Time { return day1 })
	return NewServer(p, stores, utils.NewNopLogger()), p
}

func do(t *testing.T, s *Server, method, target string, out any) int {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, req)
	if out != nil {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), out), rr.Body.String())
	}
	return rr.Code
}

func seed(t *testing.T, p *pipeline.Pipeline) {
	t.Helper()
	_, err := p.RunAll(context.Background())
	require.NoError(t, err)
}

func listings() []models.RawListing {
	return []models.RawListing{
		{Key: "1", Name: "Căn hộ A", Price: "2 tỷ", Area: "40 m²", PropertyType: "Căn hộ",
			District: "Quận 7", City: "Hồ Chí Minh", PostingDate: "2024-05-20"},
		{Key: "2", Name: "Nhà phố B", Price: "6 tỷ", Area: "60 m²", PropertyType: "Nhà phố",
			District: "Quận 1", City: "Hồ Chí Minh", PostingDate: "2024-05-28"},
	}
}

func TestHealth(t *testing.T) {
	s, _ := newServer(t, &stubSource{})
	var body map[string]string
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/health", &body))
	assert.Equal(t, "ok", body["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newServer(t, &stubSource{})
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "go_goroutines")
}

func TestRunStageOutcomes(t *testing.T) {
	s, _ := newServer(t, &stubSource{rows: listings()})

	var skipped controlplane.Result
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/stages/transform/run", &skipped))
	assert.True(t, skipped.Skipped)

	var res controlplane.Result
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/stages/crawl/run", &res))
	assert.Equal(t, models.ProcessSuccess, res.Status)

	var errBody ErrorResponse
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodPost, "/stages/publish/run", &errBody))
	assert.Contains(t, errBody.Message, "publish")

	assert.Equal(t, http.StatusMethodNotAllowed, do(t, s, http.MethodGet, "/stages/crawl/run", nil))
}

func TestRunStageFailureReturns500(t *testing.T) {
	s, p := newServer(t, &stubSource{})
	_, err := p.RunStage(context.Background(), "", controlplane.StageCrawl)
	require.ErrorIs(t, err, pipeline.ErrNothingCrawled)

	var res controlplane.Result
	assert.Equal(t, http.StatusInternalServerError, do(t, s, http.MethodPost, "/stages/crawl/run", &res))
	assert.Equal(t, models.ProcessFailure, res.Status)
	assert.Contains(t, res.Error, "no listings")
}

func TestRunStageBusy(t *testing.T) {
	src := &stubSource{rows: listings(), entered: make(chan struct{}), release: make(chan struct{})}
	s, _ := newServer(t, src)

	done := make(chan int, 1)
	go func() {
		req := httptest.NewRequest(http.MethodPost, "/stages/crawl/run", nil)
		rr := httptest.NewRecorder()
		s.ServeHTTP(rr, req)
		done <- rr.Code
	}()

	<-src.entered
	var body ErrorResponse
	assert.Equal(t, http.StatusConflict, do(t, s, http.MethodPost, "/stages/load_staging/run", &body))
	close(src.release)
	assert.Equal(t, http.StatusOK, <-done)
}

func TestBatchesAndProcesses(t *testing.T) {
	s, p := newServer(t, &stubSource{rows: listings()})
	seed(t, p)

	var batches []models.FileRecord
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/batches?status=OK", &batches))
	require.Len(t, batches, 1)
	assert.Equal(t, models.BatchOK, batches[0].Status)

	var none []models.FileRecord
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/batches?status=EF,TF", &none))
	assert.Empty(t, none)

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/batches?status=XX", nil))

	var detail batchDetail
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/batches/1", &detail))
	assert.Equal(t, int64(1), detail.Batch.ID)
	assert.Len(t, detail.Processes, 5)

	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/batches/42", nil))

	var procs []models.ProcessRecord
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/processes?limit=2", &procs))
	require.Len(t, procs, 2)
	assert.Equal(t, controlplane.StageLoadMart, procs[0].Name)

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/processes?limit=-1", nil))
}

func TestListingEndpoints(t *testing.T) {
	s, p := newServer(t, &stubSource{rows: listings()})
	seed(t, p)

	var current []models.ListingView
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/listings/current?district=Qu%E1%BA%ADn%201", &current))
	require.Len(t, current, 1)
	assert.Equal(t, "2", current[0].Key)
	assert.Equal(t, "Nhà phố", current[0].PropertyType)

	var asOf []models.ListingView
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/listings?as_of=2024-06-01", &asOf))
	assert.Len(t, asOf, 2)

	var before []models.ListingView
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/listings?as_of=2024-05-31", &before))
	assert.Empty(t, before)

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/listings?as_of=yesterday", nil))

	var history []models.ListingView
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/listings/1/history", &history))
	require.Len(t, history, 1)
	assert.True(t, history[0].IsCurrent)

	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/listings/999/history", nil))
}

func TestMartEndpoints(t *testing.T) {
	s, p := newServer(t, &stubSource{rows: listings()})
	seed(t, p)

	var districts []models.DistrictAggregate
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/mart/districts", &districts))
	assert.Len(t, districts, 2)

	var months []models.TypeMonthAggregate
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/mart/type-months", &months))
	require.Len(t, months, 2)
	assert.Equal(t, 2024, months[0].Year)
	assert.Equal(t, 5, months[0].Month)
}
