package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"github.com/PAFGYM/k-quant-system-sub002/pkg/response"
)

var (
	ErrInvalidCredentials = errors.New("invalid operator credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrTokenGeneration    = errors.New("failed to generate token")
)

const DefaultTokenTTL = 12 * time.Hour

// Credentials identify an operator of the trading core
type Credentials struct {
	OperatorKey    string `json:"operator_key" binding:"required"`
	OperatorSecret string `json:"operator_secret" binding:"required"`
}

type TokenResponse struct {
	Token      string    `json:"jwt_token"`
	Expiration time.Time `json:"expiration"`
}

// Claims carried by operator tokens
type Claims struct {
	jwt.RegisteredClaims
	OperatorID  string   `json:"operator_id"`
	Permissions []string `json:"permissions"`
}

// Service issues and verifies operator tokens
type Service struct {
	mu        sync.RWMutex
	jwtSecret []byte
	ttl       time.Duration
	operators map[string]string // key -> secret
	now       func() time.Time
}

func NewService(jwtSecret string, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Service{
		jwtSecret: []byte(jwtSecret),
		ttl:       ttl,
		operators: make(map[string]string),
		now:       time.Now,
	}
}

// RegisterOperator adds or replaces an operator credential pair.
func (s *Service) RegisterOperator(key, secret string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.operators[key] = secret
}

// GenerateToken signs an HS256 token for a registered operator.
func (s *Service) GenerateToken(creds Credentials) (*TokenResponse, error) {
	if !s.validCredentials(creds) {
		log.Warn().Str("component", "auth").Str("operator_id", creds.OperatorKey).Msg("rejected operator login")
		return nil, ErrInvalidCredentials
	}

	now := s.now()
	expiration := now.Add(s.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   creds.OperatorKey,
			ExpiresAt: jwt.NewNumericDate(expiration),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
		OperatorID:  creds.OperatorKey,
		Permissions: []string{"trade", "safety"},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenGeneration, err)
	}
	return &TokenResponse{Token: signed, Expiration: expiration}, nil
}

// ValidateToken verifies signature and expiry and returns the claims.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.OperatorID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *Service) validCredentials(creds Credentials) bool {
	s.mu.RLock()
	secret, ok := s.operators[creds.OperatorKey]
	s.mu.RUnlock()
	return ok && subtle.ConstantTimeCompare([]byte(secret), []byte(creds.OperatorSecret)) == 1
}

// GinHandlers contains HTTP handlers for authentication endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// GenerateTokenHandler handles POST requests exchanging operator credentials for a token
func (h *GinHandlers) GenerateTokenHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var creds Credentials
		if err := c.ShouldBindJSON(&creds); err != nil {
			response.BadRequest(c, "invalid request body")
			return
		}

		token, err := h.service.GenerateToken(creds)
		if errors.Is(err, ErrInvalidCredentials) {
			response.Unauthorized(c, err.Error())
			return
		}
		response.Handle(c, token, err)
	}
}

// OperatorID returns the operator set on the context by the auth middleware.
func OperatorID(c *gin.Context) string {
	return c.GetString("operatorID")
}
