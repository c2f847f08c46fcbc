package reconciliation

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestReconciliationHandlers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reports := NewDatabase(openTestDB(t))
	p := NewProcessor(NewReconciler(nil, Thresholds{}),
		staticSource([]Holding{samsung(100, 75000)}),
		staticSource([]Holding{samsung(100, 75000)}),
		WithStore(reports))

	h := NewGinHandlers(p, reports)
	r := gin.New()
	r.GET("/reconciliation/latest", h.LatestReportHandler())
	r.POST("/reconciliation/run", h.RunHandler())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/reconciliation/latest", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("before any run: code=%d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/reconciliation/run", nil))
	if w.Code != http.StatusCreated {
		t.Fatalf("run: code=%d", w.Code)
	}
	var env struct {
		Data Report `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatal(err)
	}
	if env.Data.Status != StatusOK || env.Data.MatchedPositions != 1 {
		t.Fatalf("report=%+v", env.Data)
	}

	// a fresh process serves the stored report
	restarted := NewGinHandlers(NewProcessor(NewReconciler(nil, Thresholds{}), staticSource(nil), staticSource(nil)), reports)
	r2 := gin.New()
	r2.GET("/reconciliation/latest", restarted.LatestReportHandler())
	w = httptest.NewRecorder()
	r2.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/reconciliation/latest", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("stored report: code=%d", w.Code)
	}
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatal(err)
	}
	if env.Data.Status != StatusOK {
		t.Fatalf("status=%s", env.Data.Status)
	}
}
