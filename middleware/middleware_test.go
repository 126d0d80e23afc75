package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"safewalk/models"
	"safewalk/utils"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func okHandler(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

func serve(router *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRateLimitersPassWithoutRedis(t *testing.T) {
	router := gin.New()
	router.Use(RateLimitMiddleware(nil, "production"))
	router.POST("/trigger", func(c *gin.Context) {
		c.Set("sessionID", "s1")
		c.Next()
	}, EmergencyRateLimit(nil), SOSDebounce(nil, time.Second), okHandler)

	for i := 0; i < 10; i++ {
		w := serve(router, httptest.NewRequest(http.MethodPost, "/trigger", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, w.Code)
		}
	}
}

func TestRateLimitKeys(t *testing.T) {
	tests := []struct {
		strategy  RateLimitStrategy
		sessionID string
		want      string
	}{
		{StrategyIP, "s1", "rl:ip:203.0.113.7"},
		{StrategySession, "s1", "rl:session:s1"},
		{StrategySession, "", ""},
		{StrategySessionOrIP, "", "rl:ip:203.0.113.7"},
		{StrategySessionOrIP, "s1", "rl:session:s1"},
		{StrategyGlobal, "s1", "rl:global"},
	}

	for _, tt := range tests {
		limiter := NewRateLimiter(RateLimitConfig{KeyPrefix: "rl"}, tt.strategy)

		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		c.Request.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
		if tt.sessionID != "" {
			c.Set("sessionID", tt.sessionID)
		}

		if got := limiter.getKey(c); got != tt.want {
			t.Errorf("%s/%q: got key %q, want %q", tt.strategy, tt.sessionID, got, tt.want)
		}
	}
}

func TestCORS(t *testing.T) {
	router := gin.New()
	router.Use(CORSMiddleware("production", []string{"https://safewalk.example", "*.preview.example"}))
	router.GET("/api", okHandler)
	router.OPTIONS("/api", okHandler)

	t.Run("configured origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api", nil)
		req.Header.Set("Origin", "https://safewalk.example")
		w := serve(router, req)

		if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://safewalk.example" {
			t.Errorf("expected origin echoed, got %q", got)
		}
		if got := w.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
			t.Errorf("expected credentials allowed, got %q", got)
		}
	})

	t.Run("app shell and wildcard subdomain", func(t *testing.T) {
		for _, origin := range []string{"capacitor://localhost", "https://pr-12.preview.example"} {
			req := httptest.NewRequest(http.MethodGet, "/api", nil)
			req.Header.Set("Origin", origin)
			w := serve(router, req)

			if got := w.Header().Get("Access-Control-Allow-Origin"); got != origin {
				t.Errorf("%s: expected origin echoed, got %q", origin, got)
			}
		}
	})

	t.Run("unknown origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api", nil)
		req.Header.Set("Origin", "https://evil.example")
		w := serve(router, req)

		if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("expected no CORS headers, got %q", got)
		}

		req = httptest.NewRequest(http.MethodOptions, "/api", nil)
		req.Header.Set("Origin", "https://evil.example")
		if w := serve(router, req); w.Code != http.StatusForbidden {
			t.Errorf("expected 403 preflight, got %d", w.Code)
		}
	})

	t.Run("preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api", nil)
		req.Header.Set("Origin", "https://safewalk.example")
		req.Header.Set("Access-Control-Request-Method", "PUT")
		req.Header.Set("Access-Control-Request-Headers", "Authorization, X-Secret")
		w := serve(router, req)

		if w.Code != http.StatusNoContent {
			t.Fatalf("expected 204, got %d", w.Code)
		}
		if got := w.Header().Get("Access-Control-Allow-Headers"); got != "Authorization" {
			t.Errorf("expected only Authorization allowed, got %q", got)
		}
		if !strings.Contains(w.Header().Get("Access-Control-Allow-Methods"), "PUT") {
			t.Errorf("expected PUT allowed, got %q", w.Header().Get("Access-Control-Allow-Methods"))
		}
	})

	t.Run("no origin", func(t *testing.T) {
		w := serve(router, httptest.NewRequest(http.MethodGet, "/api", nil))
		if w.Code != http.StatusOK || w.Header().Get("Access-Control-Allow-Origin") != "" {
			t.Errorf("expected a plain response, got %d %v", w.Code, w.Header())
		}
	})
}

func TestRequestIDAndResponseTime(t *testing.T) {
	router := gin.New()
	router.Use(RequestIDMiddleware(), LoggerForEnvironment("test"), ResponseTimeMiddleware())
	router.GET("/api", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"request_id": c.GetString("request_id")})
	})

	req := httptest.NewRequest(http.MethodGet, "/api", nil)
	req.Header.Set("X-Request-ID", "req-1")
	w := serve(router, req)

	if got := w.Header().Get("X-Request-ID"); got != "req-1" {
		t.Errorf("expected request id to be kept, got %q", got)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte(`"request_id":"req-1"`)) {
		t.Errorf("expected handler to see the request id, got %s", w.Body.String())
	}
	if got := w.Header().Get("X-Response-Time"); !strings.HasSuffix(got, "ms") {
		t.Errorf("expected X-Response-Time, got %q", got)
	}
}

func TestRedactPhones(t *testing.T) {
	body := `{"name":"Mom","phone":"+1 (555) 123-4567"}`
	got := redactPhones(body)

	if strings.Contains(got, "123") {
		t.Errorf("expected phone to be masked, got %s", got)
	}
	if !strings.Contains(got, "4567") || !strings.Contains(got, `"name":"Mom"`) {
		t.Errorf("expected last digits and other fields kept, got %s", got)
	}
}

func TestErrorHandlerRecoversPanics(t *testing.T) {
	router := gin.New()
	router.Use(NewErrorHandler("test", logrus.StandardLogger()).Handle())
	router.GET("/panic", func(c *gin.Context) {
		panic("boom")
	})
	router.NoRoute(func(c *gin.Context) {
		NotFound(c, "Route not found")
	})

	if w := serve(router, httptest.NewRequest(http.MethodGet, "/panic", nil)); w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 after panic, got %d", w.Code)
	}
	if w := serve(router, httptest.NewRequest(http.MethodGet, "/missing", nil)); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestErrorHandlerMapsHandlerErrors(t *testing.T) {
	var contact struct {
		Phone string `validate:"required"`
	}
	validationErr := validator.New().Struct(contact)

	tests := []struct {
		name     string
		err      error
		bind     bool
		wantCode int
		wantErr  string
	}{
		{"service error", utils.NewConflictError(utils.ErrCodeContactLimit, "too many"), false, http.StatusConflict, utils.ErrCodeContactLimit},
		{"validation errors", validationErr, true, http.StatusBadRequest, utils.ErrCodeValidation},
		{"malformed body", errors.New("unexpected EOF"), true, http.StatusBadRequest, utils.ErrCodeBadRequest},
		{"no documents", mongo.ErrNoDocuments, false, http.StatusNotFound, models.ErrCodeNotFound},
		{"wrapped driver timeout", utils.NewDatabaseError("list emergencies", context.DeadlineExceeded), false, http.StatusGatewayTimeout, "DATABASE_TIMEOUT"},
		{"anything else", errors.New("boom"), false, http.StatusInternalServerError, models.ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.Use(NewErrorHandler("test", logrus.StandardLogger()).Handle())
			router.GET("/fail", func(c *gin.Context) {
				ginErr := c.Error(tt.err)
				if tt.bind {
					ginErr.SetType(gin.ErrorTypeBind)
				}
			})

			w := serve(router, httptest.NewRequest(http.MethodGet, "/fail", nil))
			if w.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d: %s", tt.wantCode, w.Code, w.Body.String())
			}

			var resp models.APIResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Success || resp.Error == nil || resp.Error.Code != tt.wantErr {
				t.Fatalf("expected error code %s, got %s", tt.wantErr, w.Body.String())
			}
		})
	}
}

func TestErrorHandlerLeavesAnsweredRequests(t *testing.T) {
	router := gin.New()
	router.Use(NewErrorHandler("test", logrus.StandardLogger()).Handle())
	router.GET("/answered", func(c *gin.Context) {
		_ = c.Error(errors.New("logged only"))
		c.String(http.StatusOK, "ok")
	})

	w := serve(router, httptest.NewRequest(http.MethodGet, "/answered", nil))
	if w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Fatalf("expected the handler's own answer, got %d %s", w.Code, w.Body.String())
	}
}
