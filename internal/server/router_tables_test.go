package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/twogether/internal/auth"
	"github.com/MarcoPoloResearchLab/twogether/internal/backend"
	"github.com/MarcoPoloResearchLab/twogether/internal/realtime"
	"github.com/MarcoPoloResearchLab/twogether/internal/remote"
	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type testStack struct {
	handler    http.Handler
	issuer     *auth.TokenIssuer
	dispatcher *realtime.Dispatcher[remote.Event]
}

func newTestStack(t *testing.T) testStack {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:twogether_server_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(backend.Models()...); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	dispatcher := realtime.NewDispatcher[remote.Event](8)
	service, err := backend.NewService(backend.ServiceConfig{
		Database:   db,
		IDProvider: backend.NewUUIDProvider(),
		Publisher:  dispatcher,
		Logger:     zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to build backend service: %v", err)
	}
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("test-signing-secret"),
		TokenTTL:      time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to build token issuer: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Tokens: issuer,
		Tables: service,
		Feed:   dispatcher,
		Logger: zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}
	return testStack{handler: handler, issuer: issuer, dispatcher: dispatcher}
}

func (s testStack) token(t *testing.T, userID string) string {
	t.Helper()
	token, _, err := s.issuer.IssueAccessToken(context.Background(), userID)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return token
}

func (s testStack) do(t *testing.T, method, target, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		payload = bytes.NewReader(encoded)
	} else {
		payload = bytes.NewReader(nil)
	}
	request := httptest.NewRequest(method, target, payload)
	request.Header.Set("Authorization", "Bearer "+token)
	request.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	s.handler.ServeHTTP(recorder, request)
	return recorder
}

func activePartnershipRow() map[string]any {
	return map[string]any{"id": "p-1", "user1_id": "user-a", "user2_id": "user-b", "status": "active"}
}

func TestCurrentUserEndpoint(t *testing.T) {
	stack := newTestStack(t)
	recorder := stack.do(t, http.MethodGet, "/auth/v1/user", stack.token(t, "user-a"), nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	var payload userResponsePayload
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if payload.ID != "user-a" {
		t.Fatalf("expected user-a, got %s", payload.ID)
	}
}

func TestTableEndpointsRoundTrip(t *testing.T) {
	stack := newTestStack(t)
	tokenA := stack.token(t, "user-a")
	tokenB := stack.token(t, "user-b")

	if recorder := stack.do(t, http.MethodPost, "/rest/v1/partnerships", tokenA, activePartnershipRow()); recorder.Code != http.StatusCreated {
		t.Fatalf("expected partnership insert 201, got %d: %s", recorder.Code, recorder.Body.String())
	}

	challenge := map[string]any{
		"id":             "c-1",
		"partnership_id": "p-1",
		"title":          "Stargazing",
		"category":       "outdoors",
		"tags":           []string{"night"},
		"status":         "todo",
		"created_by":     "user-a",
		"xp_reward":      20,
	}
	if recorder := stack.do(t, http.MethodPost, "/rest/v1/challenges", tokenA, challenge); recorder.Code != http.StatusCreated {
		t.Fatalf("expected challenge insert 201, got %d: %s", recorder.Code, recorder.Body.String())
	}
	challenge["status"] = "done"
	if recorder := stack.do(t, http.MethodPost, "/rest/v1/challenges", tokenB, challenge); recorder.Code != http.StatusOK {
		t.Fatalf("expected challenge update 200, got %d", recorder.Code)
	}

	recorder := stack.do(t, http.MethodGet, "/rest/v1/challenges?partnership_id=eq.p-1", tokenB, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected select 200, got %d", recorder.Code)
	}
	var rows []map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &rows); err != nil {
		t.Fatalf("failed to decode rows: %v", err)
	}
	if len(rows) != 1 || rows[0]["status"] != "done" {
		t.Fatalf("unexpected rows %v", rows)
	}

	if recorder := stack.do(t, http.MethodDelete, "/rest/v1/challenges?id=eq.c-1", tokenA, nil); recorder.Code != http.StatusNoContent {
		t.Fatalf("expected delete 204, got %d", recorder.Code)
	}
	recorder = stack.do(t, http.MethodGet, "/rest/v1/challenges?partnership_id=eq.p-1", tokenA, nil)
	if err := json.Unmarshal(recorder.Body.Bytes(), &rows); err != nil {
		t.Fatalf("failed to decode rows: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected no rows after delete, got %d", len(rows))
	}
}

func TestTableEndpointsMapErrors(t *testing.T) {
	stack := newTestStack(t)
	tokenA := stack.token(t, "user-a")
	stack.do(t, http.MethodPost, "/rest/v1/partnerships", tokenA, activePartnershipRow())

	tests := []struct {
		name   string
		method string
		target string
		token  string
		body   any
		status int
	}{
		{name: "unknown table", method: http.MethodGet, target: "/rest/v1/secrets?id=eq.1", token: tokenA, status: http.StatusNotFound},
		{name: "missing filter", method: http.MethodGet, target: "/rest/v1/challenges", token: tokenA, status: http.StatusBadRequest},
		{name: "unsupported operator", method: http.MethodGet, target: "/rest/v1/challenges?id=gt.1", token: tokenA, status: http.StatusBadRequest},
		{name: "invalid row", method: http.MethodPost, target: "/rest/v1/pets", token: tokenA, body: map[string]any{"partnership_id": "p-1", "level": 0}, status: http.StatusBadRequest},
		{
			name:   "non member write",
			method: http.MethodPost,
			target: "/rest/v1/pets",
			token:  stack.token(t, "intruder"),
			body:   map[string]any{"partnership_id": "p-1", "name": "Mochi", "level": 1},
			status: http.StatusForbidden,
		},
		{name: "bad token", method: http.MethodGet, target: "/auth/v1/user", token: "garbage", status: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := stack.do(t, tt.method, tt.target, tt.token, tt.body)
			if recorder.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, recorder.Code, recorder.Body.String())
			}
		})
	}
}
