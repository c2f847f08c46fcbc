package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/PAFGYM/k-quant-system-sub002/internal/auth"
)

func TestJWTAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := auth.NewService("mw-secret", time.Hour)
	svc.RegisterOperator("desk", "pw")
	tok, err := svc.GenerateToken(auth.Credentials{OperatorKey: "desk", OperatorSecret: "pw"})
	if err != nil {
		t.Fatal(err)
	}

	r := gin.New()
	r.GET("/private", JWTAuth(svc), func(c *gin.Context) {
		c.String(http.StatusOK, auth.OperatorID(c))
	})

	tests := []struct {
		name   string
		header string
		code   int
	}{
		{"valid", "Bearer " + tok.Token, http.StatusOK},
		{"lowercase scheme", "bearer " + tok.Token, http.StatusOK},
		{"missing", "", http.StatusUnauthorized},
		{"malformed", tok.Token, http.StatusUnauthorized},
		{"bad token", "Bearer abc.def.ghi", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/private", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			r.ServeHTTP(w, req)
			if w.Code != tt.code {
				t.Fatalf("code=%d, expected %d", w.Code, tt.code)
			}
			if tt.code == http.StatusOK && w.Body.String() != "desk" {
				t.Fatalf("operator=%q", w.Body.String())
			}
		})
	}
}

func TestRateLimiter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl := NewRateLimiter()
	rl.SetLimit("/api/v1/auth", 1, 2)

	r := gin.New()
	r.Use(rl.Handler())
	r.POST("/api/v1/auth/token", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/auth/token", nil))
		codes = append(codes, w.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("codes=%v", codes)
	}

	for i := 0; i < 20; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("unlimited path throttled on request %d", i)
		}
	}
}
