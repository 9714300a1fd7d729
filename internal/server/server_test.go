package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irjudson/lumina/internal/catalog"
	"github.com/irjudson/lumina/internal/config"
	"github.com/irjudson/lumina/internal/database"
)

func TestSubmitJobRunsToCompletion(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/jobs", map[string]interface{}{
		"job_type": "noop",
	})
	require.Equal(t, http.StatusAccepted, w.Code)

	body := decode(t, w)
	jobID, _ := body["id"].(string)
	require.NotEmpty(t, jobID)
	assert.Equal(t, "noop", body["job_type"])

	f.awaitJobStatus(t, jobID, database.JobStatusSuccess)
}

func TestSubmitJobUnknownType(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/jobs", map[string]interface{}{
		"job_type": "transcode",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode(t, w)["error"], "unknown job type")
}

func TestSubmitJobUnknownCatalog(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/jobs", map[string]interface{}{
		"job_type":   "noop",
		"catalog_id": "missing",
	})
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestSubmitJobRejectsMissingJobType(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/jobs", map[string]interface{}{
		"catalog_id": "whatever",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid request body", decode(t, w)["error"])
}

func TestListJobsFilters(t *testing.T) {
	f := newFixture(t)
	cat := f.seedCatalog(t)

	w := f.do(t, http.MethodPost, "/api/jobs", map[string]interface{}{
		"job_type":   "noop",
		"catalog_id": cat.ID,
	})
	require.Equal(t, http.StatusAccepted, w.Code)
	jobID := decode(t, w)["id"].(string)
	f.awaitJobStatus(t, jobID, database.JobStatusSuccess)

	w = f.do(t, http.MethodGet, "/api/jobs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["count"])

	w = f.do(t, http.MethodGet, "/api/jobs?status="+database.JobStatusFailed, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, decode(t, w)["count"])

	w = f.do(t, http.MethodGet, "/api/jobs?catalog_id="+cat.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["count"])
}

func TestGetJobNotFound(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/jobs/nope", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Job not found", decode(t, w)["error"])
}

func TestCancelRunningJob(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/jobs", map[string]interface{}{
		"job_type": "wait",
	})
	require.Equal(t, http.StatusAccepted, w.Code)
	jobID := decode(t, w)["id"].(string)
	f.awaitJobStatus(t, jobID, database.JobStatusRunning)

	w = f.do(t, http.MethodPost, "/api/jobs/"+jobID+"/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, database.JobStatusCancelled, decode(t, w)["status"])

	// A second cancel of an already cancelled job is a no-op.
	w = f.do(t, http.MethodPost, "/api/jobs/"+jobID+"/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestCancelCompletedJobConflicts(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/jobs", map[string]interface{}{
		"job_type": "noop",
	})
	require.Equal(t, http.StatusAccepted, w.Code)
	jobID := decode(t, w)["id"].(string)
	f.awaitJobStatus(t, jobID, database.JobStatusSuccess)

	w = f.do(t, http.MethodPost, "/api/jobs/"+jobID+"/cancel", nil)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, decode(t, w)["error"], "already "+database.JobStatusSuccess)
}

func TestCancelUnknownJob(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/jobs/nope/cancel", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestJobProgressTail(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/jobs", map[string]interface{}{
		"job_type": "noop",
	})
	require.Equal(t, http.StatusAccepted, w.Code)
	jobID := decode(t, w)["id"].(string)
	f.awaitJobStatus(t, jobID, database.JobStatusSuccess)

	w = f.do(t, http.MethodGet, "/api/jobs/"+jobID+"/progress", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, jobID, body["job_id"])
	events, ok := body["events"].([]interface{})
	require.True(t, ok)
	require.NotEmpty(t, events)
	first := events[0].(map[string]interface{})
	assert.Equal(t, jobID, first["job_id"])
}

func TestJobProgressRejectsBadLimit(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/jobs/nope/progress?limit=0", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestJobProgressUnknownJob(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/jobs/nope/progress", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateAndGetCatalog(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/catalogs", map[string]interface{}{
		"name":               "family-photos",
		"source_directories": []string{"/photos/2024"},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	body := decode(t, w)
	catID, _ := body["id"].(string)
	require.NotEmpty(t, catID)
	assert.Equal(t, "family-photos", body["name"])

	w = f.do(t, http.MethodGet, "/api/catalogs/"+catID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "family-photos", decode(t, w)["name"])

	w = f.do(t, http.MethodGet, "/api/catalogs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["count"])
}

func TestCreateCatalogRejectsMissingName(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/catalogs", map[string]interface{}{
		"source_directories": []string{"/photos"},
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetCatalogNotFound(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/catalogs/nope", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestListCatalogImagesPaged(t *testing.T) {
	f := newFixture(t)
	cat := f.seedCatalog(t)
	f.seedImage(t, cat.ID, "/photos/a.jpg", nil)
	f.seedImage(t, cat.ID, "/photos/b.jpg", nil)
	f.seedImage(t, cat.ID, "/photos/c.jpg", func(img *database.Image) {
		img.Status = database.ImageStatusComplete
	})

	w := f.do(t, http.MethodGet, "/api/catalogs/"+cat.ID+"/images", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 3, decode(t, w)["count"])

	w = f.do(t, http.MethodGet, "/api/catalogs/"+cat.ID+"/images?limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, decode(t, w)["count"])

	w = f.do(t, http.MethodGet, "/api/catalogs/"+cat.ID+"/images?status="+database.ImageStatusComplete, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.EqualValues(t, 1, body["count"])

	w = f.do(t, http.MethodGet, "/api/catalogs/"+cat.ID+"/images?limit=bogus", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/api/catalogs/nope/images", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestListCatalogDuplicates(t *testing.T) {
	f := newFixture(t)
	cat := f.seedCatalog(t)
	a := f.seedImage(t, cat.ID, "/photos/a.jpg", nil)
	b := f.seedImage(t, cat.ID, "/photos/b.jpg", nil)

	require.NoError(t, f.store.ReplaceDuplicateGroups(cat.ID, []catalog.DuplicateGroupRecord{
		{
			PrimaryImageID: a.ID,
			SimilarityType: database.SimilarityExact,
			Confidence:     100,
			Members: []catalog.DuplicateMemberRecord{
				{ImageID: a.ID, SimilarityScore: 100},
				{ImageID: b.ID, SimilarityScore: 100},
			},
		},
	}))

	w := f.do(t, http.MethodGet, "/api/catalogs/"+cat.ID+"/duplicates", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.EqualValues(t, 1, body["count"])

	groups := body["groups"].([]interface{})
	require.Len(t, groups, 1)
	group := groups[0].(map[string]interface{})
	assert.Equal(t, a.ID, group["primary_image_id"])
	assert.Equal(t, database.SimilarityExact, group["similarity_type"])
	assert.Len(t, group["members"].([]interface{}), 2)
}

func TestListCatalogBursts(t *testing.T) {
	f := newFixture(t)
	cat := f.seedCatalog(t)
	a := f.seedImage(t, cat.ID, "/photos/a.jpg", nil)
	b := f.seedImage(t, cat.ID, "/photos/b.jpg", nil)

	start := time.Date(2024, 6, 14, 10, 0, 0, 0, time.UTC)
	require.NoError(t, f.store.ReplaceBurstGroups(cat.ID, []catalog.BurstRecord{
		{
			ImageIDs:        []string{a.ID, b.ID},
			StartTime:       start,
			EndTime:         start.Add(2 * time.Second),
			DurationSeconds: 2,
			BestImageID:     &a.ID,
			SelectionMethod: database.SelectionQuality,
		},
	}))

	w := f.do(t, http.MethodGet, "/api/catalogs/"+cat.ID+"/bursts", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.EqualValues(t, 1, body["count"])

	bursts := body["bursts"].([]interface{})
	require.Len(t, bursts, 1)
	burst := bursts[0].(map[string]interface{})
	assert.EqualValues(t, 2, burst["image_count"])
}

func TestSystemStatus(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/system/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.NotEmpty(t, body["go_version"])
	assert.EqualValues(t, 0, body["running_count"])
	assert.Contains(t, body, "cpu_percent")
	assert.Contains(t, body, "memory_percent")
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestListEvents(t *testing.T) {
	f := newFixture(t)
	cat := f.seedCatalog(t)

	w := f.do(t, http.MethodPost, "/api/jobs", map[string]interface{}{
		"job_type":   "noop",
		"catalog_id": cat.ID,
	})
	require.Equal(t, http.StatusAccepted, w.Code)
	jobID := decode(t, w)["id"].(string)
	f.awaitJobStatus(t, jobID, database.JobStatusSuccess)

	// The bus delivers asynchronously; poll until the submit event
	// shows up in the recent ring.
	require.Eventually(t, func() bool {
		w := f.do(t, http.MethodGet, "/api/events", nil)
		if w.Code != http.StatusOK {
			return false
		}
		var body map[string]interface{}
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			return false
		}
		count, _ := body["count"].(float64)
		return count >= 1
	}, 5*time.Second, 20*time.Millisecond)

	w = f.do(t, http.MethodGet, "/api/events?limit=bogus", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCORSHeadersWhenEnabled(t *testing.T) {
	f := newFixture(t)

	cfg := config.DefaultConfig()
	cfg.Server.EnableCORS = true
	srv := New(cfg, f.store, f.ctrl, nil, f.bus)

	req := httptest.NewRequest(http.MethodOptions, "/api/jobs", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
