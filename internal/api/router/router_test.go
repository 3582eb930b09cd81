package router

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"campus-portal/config"
	"campus-portal/internal/academic"
	"campus-portal/internal/api/handler"
	"campus-portal/internal/dto"
	"campus-portal/internal/repository"
	"campus-portal/internal/service"
	"campus-portal/pkg/jwt"
	"campus-portal/pkg/response"
)

type testServer struct {
	engine *gin.Engine
	jwtMgr *jwt.Manager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg := &config.Config{
		Server:    config.ServerConfig{Port: 8080, MaxBodyBytes: 1 << 20},
		Store:     config.StoreConfig{Role: "master"},
		Auth:      config.AuthConfig{JWTSecret: "router-test-secret-0123456789", Issuer: "campus-portal", AccessTokenTTL: 15 * time.Minute},
		Calendar:  config.CalendarConfig{Timezone: "UTC", DefaultLanguage: "zh-Hant", MaxWindowDays: 92},
		RateLimit: config.RateLimitConfig{Requests: 60, Window: time.Minute},
	}

	db, err := gorm.Open(sqlite.Open("file:"+strings.ReplaceAll(t.Name(), "/", "_")+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("打开 SQLite 失败: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	if err := db.AutoMigrate(repository.Models()...); err != nil {
		t.Fatalf("AutoMigrate 失败: %v", err)
	}

	repo := repository.NewRepository(db, repository.NewAdapter(time.UTC), repository.RoleMaster)
	svc := service.NewService(cfg, service.Deps{Repo: repo, Tables: academic.Default(time.UTC)}, zap.NewNop())
	jwtMgr := jwt.NewManager(&cfg.Auth)
	engine := Setup(cfg, handler.NewHandler(svc, cfg.Calendar.MaxWindowDays), jwtMgr, svc.Auth, nil, zap.NewNop())

	return &testServer{engine: engine, jwtMgr: jwtMgr}
}

func (s *testServer) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, data interface{}) response.Response {
	t.Helper()
	resp := response.Response{Data: data}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("响应不是合法 JSON: %v (%s)", err, w.Body.String())
	}
	return resp
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	w := s.do("GET", "/health", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"role":"master"`) {
		t.Errorf("unexpected health response %d %s", w.Code, w.Body.String())
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
}

func TestCalendarFlow(t *testing.T) {
	s := newTestServer(t)
	access, _ := s.jwtMgr.GenerateAccessToken("u-1")

	if w := s.do("GET", "/api/v1/events?start=2024-03-01T00:00:00Z&end=2024-03-31T23:59:00Z", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}

	start := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	count := 3
	w := s.do("POST", "/api/v1/events", access, dto.EventRequest{
		Title:  "Lecture",
		Start:  start,
		End:    start.Add(time.Hour),
		Repeat: &dto.RepeatPayload{Type: "weekly", Interval: 1, Count: &count},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d %s", w.Code, w.Body.String())
	}
	var created dto.EventResponse
	decode(t, w, &created)

	w = s.do("GET", "/api/v1/events?start=2024-03-01T00:00:00Z&end=2024-03-31T23:59:00Z", access, nil)
	var lanes dto.ListEventsResponse
	decode(t, w, &lanes)
	if len(lanes.Timed) != 3 {
		t.Fatalf("expected 3 timed occurrences, got %d", len(lanes.Timed))
	}

	// 静态路由与 :id 共存
	if w := s.do("GET", "/api/v1/events/conflicts?start=2024-03-01T00:00:00Z&end=2024-03-31T23:59:00Z", access, nil); w.Code != http.StatusOK {
		t.Errorf("conflicts: expected 200, got %d", w.Code)
	}
	if w := s.do("GET", "/api/v1/events/"+created.ID, access, nil); w.Code != http.StatusOK {
		t.Errorf("get: expected 200, got %d", w.Code)
	}

	other, _ := s.jwtMgr.GenerateAccessToken("u-2")
	if w := s.do("GET", "/api/v1/events/"+created.ID, other, nil); w.Code != http.StatusNotFound {
		t.Errorf("other user: expected 404, got %d", w.Code)
	}

	w = s.do("DELETE", "/api/v1/events/"+created.ID+"/occurrence?scope=this&occurrence_start=2024-03-11T09:00:00Z", access, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete this: expected 200, got %d %s", w.Code, w.Body.String())
	}
	w = s.do("GET", "/api/v1/events?start=2024-03-01T00:00:00Z&end=2024-03-31T23:59:00Z", access, nil)
	lanes = dto.ListEventsResponse{}
	decode(t, w, &lanes)
	if len(lanes.Timed) != 2 {
		t.Errorf("expected 2 occurrences after deleting one, got %d", len(lanes.Timed))
	}
}

func TestReplicationRoutes(t *testing.T) {
	s := newTestServer(t)
	access, _ := s.jwtMgr.GenerateAccessToken("u-1")
	replica, _ := s.jwtMgr.GenerateReplicaToken("u-1", time.Hour)

	start := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	if w := s.do("POST", "/api/v1/events", access, dto.EventRequest{Title: "Meeting", Start: start, End: start.Add(time.Hour)}); w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d", w.Code)
	}

	// 副本 Token 只能访问复制接口
	if w := s.do("GET", "/api/v1/events?start=2024-03-01T00:00:00Z&end=2024-03-31T23:59:00Z", replica, nil); w.Code != http.StatusUnauthorized {
		t.Errorf("replica token on calendar API: expected 401, got %d", w.Code)
	}

	w := s.do("GET", "/api/v1/replication/events/pull?batch_size=10", replica, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("pull: expected 200, got %d %s", w.Code, w.Body.String())
	}
	var pulled dto.PullResponse
	decode(t, w, &pulled)
	if len(pulled.Documents) != 1 || pulled.Documents[0].Title != "Meeting" {
		t.Fatalf("unexpected pull result: %+v", pulled.Documents)
	}
	if pulled.Checkpoint.ID != pulled.Documents[0].ID {
		t.Errorf("checkpoint should point at the last document: %+v", pulled.Checkpoint)
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	s := newTestServer(t)
	access, _ := s.jwtMgr.GenerateAccessToken("u-1")

	if w := s.do("POST", "/api/v1/auth/logout", access, nil); w.Code != http.StatusOK {
		t.Fatalf("logout: expected 200, got %d", w.Code)
	}
	if w := s.do("GET", "/api/v1/timetable/sync/records", access, nil); w.Code != http.StatusUnauthorized {
		t.Errorf("expected revoked token to be rejected, got %d", w.Code)
	}
}
