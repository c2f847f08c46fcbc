package auth

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func newTestService() *Service {
	s := NewService("test-secret", time.Hour)
	s.RegisterOperator("desk", "s3cret")
	return s
}

func TestGenerateAndValidate(t *testing.T) {
	s := newTestService()

	tok, err := s.GenerateToken(Credentials{OperatorKey: "desk", OperatorSecret: "s3cret"})
	if err != nil {
		t.Fatal(err)
	}
	claims, err := s.ValidateToken(tok.Token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.OperatorID != "desk" || claims.Subject != "desk" {
		t.Fatalf("claims=%+v", claims)
	}
}

func TestGenerateTokenBadCredentials(t *testing.T) {
	tests := []struct {
		name  string
		creds Credentials
	}{
		{"wrong secret", Credentials{OperatorKey: "desk", OperatorSecret: "nope"}},
		{"unknown operator", Credentials{OperatorKey: "ghost", OperatorSecret: "s3cret"}},
	}
	s := newTestService()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.GenerateToken(tt.creds); !errors.Is(err, ErrInvalidCredentials) {
				t.Fatalf("err=%v", err)
			}
		})
	}
}

func TestValidateTokenRejects(t *testing.T) {
	s := newTestService()
	tok, err := s.GenerateToken(Credentials{OperatorKey: "desk", OperatorSecret: "s3cret"})
	if err != nil {
		t.Fatal(err)
	}

	other := NewService("another-secret", time.Hour)
	if _, err := other.ValidateToken(tok.Token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("foreign signature accepted: %v", err)
	}

	s.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := s.ValidateToken(tok.Token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired token accepted: %v", err)
	}

	if _, err := s.ValidateToken("garbage"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err=%v", err)
	}
}

func TestGenerateTokenHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/auth/token", NewGinHandlers(newTestService()).GenerateTokenHandler())

	tests := []struct {
		body string
		code int
	}{
		{`{"operator_key":"desk","operator_secret":"s3cret"}`, http.StatusCreated},
		{`{"operator_key":"desk","operator_secret":"bad"}`, http.StatusUnauthorized},
		{`{"operator_key":"desk"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/auth/token", bytes.NewBufferString(tt.body))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)
		if w.Code != tt.code {
			t.Fatalf("%s: code=%d, expected %d", tt.body, w.Code, tt.code)
		}
	}
}
