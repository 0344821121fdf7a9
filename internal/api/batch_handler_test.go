package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"pagepress/internal/database"
	"pagepress/internal/entitlement"
)

type fakeQuota struct {
	remaining int
	tier      entitlement.Tier
}

func (q *fakeQuota) Remaining(context.Context, uint) (int, error) {
	return q.remaining, nil
}

func (q *fakeQuota) PlanTier(context.Context, uint) (entitlement.Tier, error) {
	if q.tier == "" {
		return entitlement.TierFree, nil
	}
	return q.tier, nil
}

type fakeEnqueuer struct {
	enqueued []*asynq.Task
}

func (f *fakeEnqueuer) Enqueue(task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	f.enqueued = append(f.enqueued, task)
	return &asynq.TaskInfo{ID: "test-task"}, nil
}

type fakeRateCounter struct {
	counts map[string]int64
}

func newFakeRateCounter() *fakeRateCounter {
	return &fakeRateCounter{counts: map[string]int64{}}
}

func (f *fakeRateCounter) Incr(_ context.Context, key string) *redis.IntCmd {
	f.counts[key]++
	return redis.NewIntResult(f.counts[key], nil)
}

func (f *fakeRateCounter) Expire(_ context.Context, _ string, _ time.Duration) *redis.BoolCmd {
	return redis.NewBoolResult(true, nil)
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&database.User{},
		&database.Document{},
		&database.BatchRun{},
		&database.BatchItem{},
		&database.Asset{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newJSONRequest(t *testing.T, method, target string, payload any) *http.Request {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestSubmitBatch_RejectsEmptySpecs(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := &BatchHandler{
		db:          newTestDB(t),
		quota:       &fakeQuota{remaining: 10},
		redisClient: newFakeRateCounter(),
		maxSpecs:    25,
	}

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = newJSONRequest(t, http.MethodPost, "/v1/batches", gin.H{"specs": []gin.H{}})
	c.Set("userID", uint(1))

	h.SubmitBatch(c)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d body=%s", w.Code, w.Body.String())
	}
}

func TestSubmitBatch_RejectsTooManySpecs(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := &BatchHandler{
		db:          newTestDB(t),
		quota:       &fakeQuota{remaining: 100},
		redisClient: newFakeRateCounter(),
		maxSpecs:    2,
	}

	specs := []gin.H{
		{"name": "a", "prompt": "p"},
		{"name": "b", "prompt": "p"},
		{"name": "c", "prompt": "p"},
	}
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = newJSONRequest(t, http.MethodPost, "/v1/batches", gin.H{"specs": specs})
	c.Set("userID", uint(1))

	h.SubmitBatch(c)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d body=%s", w.Code, w.Body.String())
	}
}

func TestSubmitBatch_RejectsInsufficientQuota(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := &BatchHandler{
		db:          newTestDB(t),
		quota:       &fakeQuota{remaining: 1},
		redisClient: newFakeRateCounter(),
		maxSpecs:    25,
	}

	specs := []gin.H{
		{"name": "a", "prompt": "p"},
		{"name": "b", "prompt": "p"},
	}
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = newJSONRequest(t, http.MethodPost, "/v1/batches", gin.H{"specs": specs})
	c.Set("userID", uint(1))

	h.SubmitBatch(c)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d body=%s", w.Code, w.Body.String())
	}
}

func TestSubmitBatch_EnforcesDailyLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	counter := newFakeRateCounter()
	h := &BatchHandler{
		db:          newTestDB(t),
		asynqClient: &fakeEnqueuer{},
		quota:       &fakeQuota{remaining: 100},
		redisClient: counter,
		maxSpecs:    25,
	}

	// 预热计数器到当日上限。
	for i := 0; i < maxBatchSubmitsPerDay; i++ {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = newJSONRequest(t, http.MethodPost, "/v1/batches", gin.H{
			"specs":  []gin.H{{"name": "a", "prompt": "p"}},
			"format": "csv",
		})
		c.Set("userID", uint(1))
		h.SubmitBatch(c)
	}

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = newJSONRequest(t, http.MethodPost, "/v1/batches", gin.H{
		"specs": []gin.H{{"name": "a", "prompt": "p"}},
	})
	c.Set("userID", uint(1))

	h.SubmitBatch(c)

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 got %d body=%s", w.Code, w.Body.String())
	}
}

func TestSubmitBatch_AcceptedAndEnqueued(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	enqueuer := &fakeEnqueuer{}
	h := &BatchHandler{
		db:          db,
		asynqClient: enqueuer,
		quota:       &fakeQuota{remaining: 10},
		redisClient: newFakeRateCounter(),
		maxSpecs:    25,
	}

	specs := []gin.H{
		{"name": "Topic A", "prompt": "make a catalog"},
		{"name": "Topic B", "prompt": "make a price list"},
	}
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = newJSONRequest(t, http.MethodPost, "/v1/batches", gin.H{"specs": specs, "format": "pdf"})
	c.Set("userID", uint(1))

	h.SubmitBatch(c)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202 got %d body=%s", w.Code, w.Body.String())
	}
	if len(enqueuer.enqueued) != 1 {
		t.Fatalf("expected 1 enqueued task, got %d", len(enqueuer.enqueued))
	}

	var run database.BatchRun
	if err := db.First(&run).Error; err != nil {
		t.Fatalf("load run: %v", err)
	}
	if run.Status != "pending" || run.Format != "pdf" {
		t.Errorf("run = %+v, want pending pdf", run)
	}
}

func TestGetBatch_ReturnsItemsInPositionOrder(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	h := &BatchHandler{db: db, quota: &fakeQuota{remaining: 10}, redisClient: newFakeRateCounter()}

	run := database.BatchRun{UserID: 7, Format: "pdf", Status: "completed"}
	if err := db.Create(&run).Error; err != nil {
		t.Fatalf("seed run: %v", err)
	}
	items := []database.BatchItem{
		{BatchRunID: run.ID, Position: 1, Name: "second", Status: "failed", Reason: "quota exhausted"},
		{BatchRunID: run.ID, Position: 0, Name: "first", Status: "success", ArtifactKey: "batch-artifacts/1/001-first.pdf"},
	}
	if err := db.Create(&items).Error; err != nil {
		t.Fatalf("seed items: %v", err)
	}

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/v1/batches/1", nil)
	c.Params = gin.Params{{Key: "id", Value: "1"}}
	c.Set("userID", uint(7))

	h.GetBatch(c)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d body=%s", w.Code, w.Body.String())
	}

	var resp batchRunResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(resp.Items))
	}
	if resp.Items[0].Name != "first" || resp.Items[1].Name != "second" {
		t.Errorf("items out of order: %+v", resp.Items)
	}
	if resp.Items[1].Reason != "quota exhausted" {
		t.Errorf("failure reason not surfaced: %+v", resp.Items[1])
	}
}

func TestGetBatch_HidesForeignRuns(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	h := &BatchHandler{db: db, quota: &fakeQuota{remaining: 10}, redisClient: newFakeRateCounter()}

	run := database.BatchRun{UserID: 7, Format: "pdf", Status: "completed"}
	if err := db.Create(&run).Error; err != nil {
		t.Fatalf("seed run: %v", err)
	}

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/v1/batches/1", nil)
	c.Params = gin.Params{{Key: "id", Value: "1"}}
	c.Set("userID", uint(8))

	h.GetBatch(c)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d body=%s", w.Code, w.Body.String())
	}
}

func TestGetBundleLink_ConflictWhenNotReady(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	h := &BatchHandler{db: db, quota: &fakeQuota{remaining: 10}, redisClient: newFakeRateCounter()}

	run := database.BatchRun{UserID: 7, Format: "pdf", Status: "running"}
	if err := db.Create(&run).Error; err != nil {
		t.Fatalf("seed run: %v", err)
	}

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/v1/batches/1/download-link", nil)
	c.Params = gin.Params{{Key: "id", Value: "1"}}
	c.Set("userID", uint(7))

	h.GetBundleLink(c)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d body=%s", w.Code, w.Body.String())
	}
}
