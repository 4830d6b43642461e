package server

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/tutorhub/internal/auth"
	"github.com/MarcoPoloResearchLab/tutorhub/internal/gamification"
	"github.com/MarcoPoloResearchLab/tutorhub/internal/store"
	"github.com/MarcoPoloResearchLab/tutorhub/internal/tasks"
	"github.com/MarcoPoloResearchLab/tutorhub/internal/timer"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	testSigningSecret = "test-signing-secret"
	testIssuer        = "tauth"
	testCookieName    = "app_session"
	testStudentID     = "student-1"
	testTeacherID     = "teacher-1"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(start time.Time) *testClock {
	return &testClock{now: start}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(delta time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(delta)
	c.mu.Unlock()
}

type testHarness struct {
	handler    http.Handler
	dispatcher *RealtimeDispatcher
	ledger     *gamification.Ledger
	timer      *timer.Service
	tasks      *tasks.Service
	clock      *testClock
	validator  *auth.SessionValidator
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	clock := newTestClock(time.Date(2024, 9, 2, 9, 0, 0, 0, time.UTC))
	logger := zap.NewNop()
	engineStore, err := store.New(store.NewMemoryBackend(), logger)
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}

	ledger, err := gamification.NewLedger(gamification.LedgerConfig{
		Store:    engineStore,
		Clock:    clock.Now,
		Location: time.UTC,
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("failed to construct ledger: %v", err)
	}
	timerService, err := timer.NewService(timer.ServiceConfig{
		Store:    engineStore,
		Ledger:   ledger,
		Settings: timer.DefaultSettings(),
		Clock:    clock.Now,
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("failed to construct timer service: %v", err)
	}
	taskService, err := tasks.NewService(tasks.ServiceConfig{
		Store:  engineStore,
		Ledger: ledger,
		Clock:  clock.Now,
		Logger: logger,
	})
	if err != nil {
		t.Fatalf("failed to construct task service: %v", err)
	}
	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        testIssuer,
		CookieName:    testCookieName,
	})
	if err != nil {
		t.Fatalf("failed to construct session validator: %v", err)
	}

	dispatcher := NewRealtimeDispatcher()
	handler, err := NewHTTPHandler(Dependencies{
		SessionValidator:  validator,
		Ledger:            ledger,
		Timer:             timerService,
		Tasks:             taskService,
		Realtime:          dispatcher,
		HeartbeatInterval: time.Hour,
		Clock:             clock.Now,
		Logger:            logger,
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}

	return &testHarness{
		handler:    handler,
		dispatcher: dispatcher,
		ledger:     ledger,
		timer:      timerService,
		tasks:      taskService,
		clock:      clock,
		validator:  validator,
	}
}

func mintSessionCookie(t *testing.T, userID string, roles ...string) *http.Cookie {
	t.Helper()
	now := time.Now()
	claims := auth.SessionClaims{
		UserID:    userID,
		UserRoles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testIssuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
			NotBefore: jwt.NewNumericDate(now.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSigningSecret))
	if err != nil {
		t.Fatalf("failed to sign session: %v", err)
	}
	return &http.Cookie{Name: testCookieName, Value: signed}
}

func (h *testHarness) do(t *testing.T, method, path, body string, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var request *http.Request
	if body == "" {
		request = httptest.NewRequest(method, path, http.NoBody)
	} else {
		request = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		request.Header.Set("Content-Type", "application/json")
	}
	if cookie != nil {
		request.AddCookie(cookie)
	}
	recorder := httptest.NewRecorder()
	h.handler.ServeHTTP(recorder, request)
	return recorder
}
