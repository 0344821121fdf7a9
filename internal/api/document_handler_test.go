package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"

	"pagepress/internal/database"
)

func validDocumentContent(t *testing.T) datatypes.JSON {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"title": "Atelier Nord",
		"theme": map[string]any{"template_id": "classic"},
		"sections": []map[string]any{
			{"kind": "about", "about": map[string]any{"heading": "About", "body": "Hand made goods."}},
			{"kind": "price_table", "price_table": map[string]any{"rows": []map[string]any{
				{"id": "r1", "label": "Consultation", "price": "$50"},
			}}},
		},
	})
	if err != nil {
		t.Fatalf("marshal content: %v", err)
	}
	return raw
}

func TestCreateDocument_RejectsInvalidContent(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := &DocumentHandler{db: newTestDB(t), maxDocuments: 10}

	// 同一列表内重复 ID 在入库前就该被拒绝。
	content := map[string]any{
		"sections": []map[string]any{
			{"kind": "price_table", "price_table": map[string]any{"rows": []map[string]any{
				{"id": "dup", "label": "A", "price": "$1"},
				{"id": "dup", "label": "B", "price": "$2"},
			}}},
		},
	}
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = newJSONRequest(t, http.MethodPost, "/v1/documents", gin.H{
		"title":   "broken",
		"content": content,
	})
	c.Set("userID", uint(1))

	h.CreateDocument(c)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d body=%s", w.Code, w.Body.String())
	}
}

func TestCreateDocument_EnforcesLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	h := &DocumentHandler{db: db, maxDocuments: 1}

	if err := db.Create(&database.Document{Title: "existing", UserID: 1, Content: validDocumentContent(t)}).Error; err != nil {
		t.Fatalf("seed document: %v", err)
	}

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = newJSONRequest(t, http.MethodPost, "/v1/documents", gin.H{
		"title":   "second",
		"content": json.RawMessage(validDocumentContent(t)),
	})
	c.Set("userID", uint(1))

	h.CreateDocument(c)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d body=%s", w.Code, w.Body.String())
	}
}

func TestExportDocument_CSVRespondsInline(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	h := &DocumentHandler{db: db, maxDocuments: 10}

	doc := database.Document{Title: "Atelier Nord", UserID: 1, Content: validDocumentContent(t)}
	if err := db.Create(&doc).Error; err != nil {
		t.Fatalf("seed document: %v", err)
	}

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/v1/documents/1/export?format=csv", nil)
	c.Params = gin.Params{{Key: "id", Value: "1"}}
	c.Set("userID", uint(1))

	h.ExportDocument(c)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d body=%s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("Content-Type"); !strings.HasPrefix(got, "text/csv") {
		t.Errorf("content type = %q, want text/csv", got)
	}
	if got := w.Header().Get("Content-Disposition"); !strings.Contains(got, "Atelier Nord.csv") {
		t.Errorf("disposition = %q, want attachment filename", got)
	}
	if !strings.Contains(w.Body.String(), "# Pricing") {
		t.Errorf("csv body missing pricing block: %q", w.Body.String())
	}
}

func TestExportDocument_PDFEnqueuesTask(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	enqueuer := &fakeEnqueuer{}
	h := &DocumentHandler{db: db, asynqClient: enqueuer, maxDocuments: 10}

	doc := database.Document{Title: "Atelier Nord", UserID: 1, Content: validDocumentContent(t)}
	if err := db.Create(&doc).Error; err != nil {
		t.Fatalf("seed document: %v", err)
	}

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/v1/documents/1/export?format=pdf", nil)
	c.Params = gin.Params{{Key: "id", Value: "1"}}
	c.Set("userID", uint(1))

	h.ExportDocument(c)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202 got %d body=%s", w.Code, w.Body.String())
	}
	if len(enqueuer.enqueued) != 1 {
		t.Fatalf("expected 1 enqueued task, got %d", len(enqueuer.enqueued))
	}

	var reloaded database.Document
	if err := db.First(&reloaded, doc.ID).Error; err != nil {
		t.Fatalf("reload document: %v", err)
	}
	if reloaded.Status != "processing" {
		t.Errorf("status = %q, want processing", reloaded.Status)
	}
}

func TestExportDocument_UnknownFormat(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := &DocumentHandler{db: newTestDB(t), maxDocuments: 10}

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/v1/documents/1/export?format=docx", nil)
	c.Params = gin.Params{{Key: "id", Value: "1"}}
	c.Set("userID", uint(1))

	h.ExportDocument(c)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d body=%s", w.Code, w.Body.String())
	}
}

func TestGetDownloadLink_ConflictWhenNotReady(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	h := &DocumentHandler{db: db, maxDocuments: 10}

	doc := database.Document{Title: "doc", UserID: 1, Content: validDocumentContent(t)}
	if err := db.Create(&doc).Error; err != nil {
		t.Fatalf("seed document: %v", err)
	}

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/v1/documents/1/download-link", nil)
	c.Params = gin.Params{{Key: "id", Value: "1"}}
	c.Set("userID", uint(1))

	h.GetDownloadLink(c)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d body=%s", w.Code, w.Body.String())
	}
}

func TestGetDocument_HidesForeignDocuments(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	h := &DocumentHandler{db: db, maxDocuments: 10}

	doc := database.Document{Title: "doc", UserID: 1, Content: validDocumentContent(t)}
	if err := db.Create(&doc).Error; err != nil {
		t.Fatalf("seed document: %v", err)
	}

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/v1/documents/1", nil)
	c.Params = gin.Params{{Key: "id", Value: "1"}}
	c.Set("userID", uint(2))

	h.GetDocument(c)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d body=%s", w.Code, w.Body.String())
	}
}
