package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"meshforge/internal/api/auth"
	"meshforge/internal/api/middleware"
	"meshforge/internal/config"
	"meshforge/internal/model"
	"meshforge/internal/pkg/metrics"

	"github.com/gin-gonic/gin"
)

type mockDirectory struct {
	getUserFunc   func(ctx context.Context, email string) (*model.User, error)
	getTokensFunc func(ctx context.Context, userID uint) (*model.APIToken, error)
	listFunc      func(ctx context.Context, role string) ([]UserWithTokens, error)
	setFunc       func(ctx context.Context, userID uint, tokens int) error
	setCalls      int
}

func (m *mockDirectory) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return m.getUserFunc(ctx, email)
}

func (m *mockDirectory) GetUserTokens(ctx context.Context, userID uint) (*model.APIToken, error) {
	return m.getTokensFunc(ctx, userID)
}

func (m *mockDirectory) ListUsersWithTokens(ctx context.Context, role string) ([]UserWithTokens, error) {
	return m.listFunc(ctx, role)
}

func (m *mockDirectory) SetAvailableTokens(ctx context.Context, userID uint, tokens int) error {
	m.setCalls++
	return m.setFunc(ctx, userID, tokens)
}

type mockCredits struct {
	getFunc    func(ctx context.Context, userID uint) (int, error)
	debitFunc  func(ctx context.Context, userID uint, cost int) error
	debitCalls int
}

func (m *mockCredits) GetAvailableTokens(ctx context.Context, userID uint) (int, error) {
	return m.getFunc(ctx, userID)
}

func (m *mockCredits) Debit(ctx context.Context, userID uint, cost int) error {
	m.debitCalls++
	return m.debitFunc(ctx, userID, cost)
}

type mockConverter struct {
	convertFunc  func(ctx context.Context, imagePath string) (string, error)
	convertCalls int
}

func (m *mockConverter) Convert(ctx context.Context, imagePath string) (string, error) {
	m.convertCalls++
	return m.convertFunc(ctx, imagePath)
}

// setIdentity 替代 JWT 中间件，直接注入身份。
func setIdentity(userID int, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("userID", userID)
		c.Set("email", "test@example.com")
		c.Set("role", role)
		c.Next()
	}
}

func newTestServer(t *testing.T, dir UserDirectory, credits CreditStore, conv *mockConverter) (*Server, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	metrics.InitMetrics()

	s := &Server{
		cfg: &config.Config{
			App: config.AppConfig{
				UploadDir:     t.TempDir(),
				InitialTokens: 20,
			},
			Conversion: config.ConversionConfig{
				Timeout: 5 * time.Second,
			},
		},
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		directory: dir,
		credits:   credits,
	}
	if conv != nil {
		s.converter = conv
	}

	r := gin.New()
	r.GET("/user/:email", setIdentity(9, model.RoleRegular), s.handleGetUser)
	r.GET("/user/tokens/:userId", setIdentity(9, model.RoleRegular), s.handleGetUserTokens)
	r.POST("/home/upload", setIdentity(9, model.RoleRegular), s.handleUpload)
	r.GET("/admin", setIdentity(1, model.RoleAdmin), middleware.RequireAdmin(), s.handleAdminListUsers)
	r.PATCH("/admin/manageAPI/:user_id", setIdentity(1, model.RoleAdmin), middleware.RequireAdmin(), s.handleAdminManageTokens)
	s.router = r
	return s, r
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestGetUser(t *testing.T) {
	dir := &mockDirectory{
		getUserFunc: func(ctx context.Context, email string) (*model.User, error) {
			if email != "bob@example.com" {
				return nil, auth.ErrUserNotFound
			}
			return &model.User{ID: 7, Email: email, Password: "$2a$12$secret", Role: model.RoleRegular}, nil
		},
	}
	_, r := newTestServer(t, dir, &mockCredits{}, nil)

	w := doJSON(t, r, http.MethodGet, "/user/bob@example.com", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	body := w.Body.String()
	if !strings.Contains(body, `"email":"bob@example.com"`) || !strings.Contains(body, `"user_id":7`) {
		t.Fatalf("unexpected body: %s", body)
	}
	if strings.Contains(body, "secret") || strings.Contains(body, "password") {
		t.Fatalf("password hash must not leak: %s", body)
	}
}

func TestGetUser_NotFound(t *testing.T) {
	dir := &mockDirectory{
		getUserFunc: func(ctx context.Context, email string) (*model.User, error) {
			return nil, auth.ErrUserNotFound
		},
	}
	_, r := newTestServer(t, dir, &mockCredits{}, nil)

	w := doJSON(t, r, http.MethodGet, "/user/ghost@example.com", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "User not found.") {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
}

func TestGetUserTokens(t *testing.T) {
	dir := &mockDirectory{
		getTokensFunc: func(ctx context.Context, userID uint) (*model.APIToken, error) {
			if userID != 7 {
				return nil, auth.ErrUserNotFound
			}
			return &model.APIToken{ID: 3, AvailableTokens: 15, TokensUsed: 5}, nil
		},
	}
	_, r := newTestServer(t, dir, &mockCredits{}, nil)

	w := doJSON(t, r, http.MethodGet, "/user/tokens/7", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	body := w.Body.String()
	if !strings.Contains(body, `"available_tokens":15`) || !strings.Contains(body, `"tokens_used":5`) {
		t.Fatalf("unexpected body: %s", body)
	}
}

func TestGetUserTokens_BadAndUnknownID(t *testing.T) {
	dir := &mockDirectory{
		getTokensFunc: func(ctx context.Context, userID uint) (*model.APIToken, error) {
			return nil, auth.ErrUserNotFound
		},
	}
	_, r := newTestServer(t, dir, &mockCredits{}, nil)

	if w := doJSON(t, r, http.MethodGet, "/user/tokens/abc", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-numeric id, got %d", w.Code)
	}
	if w := doJSON(t, r, http.MethodGet, "/user/tokens/999", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown id, got %d", w.Code)
	}
}

func TestAdminListUsers(t *testing.T) {
	dir := &mockDirectory{
		listFunc: func(ctx context.Context, role string) ([]UserWithTokens, error) {
			if role != model.RoleRegular {
				t.Fatalf("expected regular role filter, got %q", role)
			}
			return []UserWithTokens{
				{UserID: 2, Email: "a@b.com", AvailableTokens: 20, TokensUsed: 0},
				{UserID: 3, Email: "c@d.com", AvailableTokens: 5, TokensUsed: 15},
			}, nil
		},
	}
	_, r := newTestServer(t, dir, &mockCredits{}, nil)

	w := doJSON(t, r, http.MethodGet, "/admin", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Message  string           `json:"message"`
		AllUsers []UserWithTokens `json:"allUsers"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.AllUsers) != 2 || resp.AllUsers[1].TokensUsed != 15 {
		t.Fatalf("unexpected user list: %+v", resp.AllUsers)
	}
}

func TestAdminManageTokens(t *testing.T) {
	dir := &mockDirectory{
		setFunc: func(ctx context.Context, userID uint, tokens int) error {
			if userID != 42 || tokens != 7 {
				t.Fatalf("unexpected args: user=%d tokens=%d", userID, tokens)
			}
			return nil
		},
	}
	_, r := newTestServer(t, dir, &mockCredits{}, nil)

	w := doJSON(t, r, http.MethodPatch, "/admin/manageAPI/42", map[string]int{"available_tokens": 7})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "Tokens updated successfully.") {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
	if dir.setCalls != 1 {
		t.Fatalf("expected one update, got %d", dir.setCalls)
	}
}

func TestAdminManageTokens_Validation(t *testing.T) {
	dir := &mockDirectory{
		setFunc: func(ctx context.Context, userID uint, tokens int) error { return nil },
	}
	_, r := newTestServer(t, dir, &mockCredits{}, nil)

	missing := doJSON(t, r, http.MethodPatch, "/admin/manageAPI/42", map[string]string{})
	if missing.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing field, got %d", missing.Code)
	}
	if !strings.Contains(missing.Body.String(), "available_tokens is required.") {
		t.Fatalf("unexpected body: %s", missing.Body.String())
	}

	negative := doJSON(t, r, http.MethodPatch, "/admin/manageAPI/42", map[string]int{"available_tokens": -1})
	if negative.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative value, got %d", negative.Code)
	}

	badID := doJSON(t, r, http.MethodPatch, "/admin/manageAPI/abc", map[string]int{"available_tokens": 5})
	if badID.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad user id, got %d", badID.Code)
	}

	if dir.setCalls != 0 {
		t.Fatalf("store must not be touched on validation failure")
	}
}

func TestAdminManageTokens_UserNotFound(t *testing.T) {
	dir := &mockDirectory{
		setFunc: func(ctx context.Context, userID uint, tokens int) error {
			return auth.ErrUserNotFound
		},
	}
	_, r := newTestServer(t, dir, &mockCredits{}, nil)

	w := doJSON(t, r, http.MethodPatch, "/admin/manageAPI/999", map[string]int{"available_tokens": 5})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "User not found.") {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
}

func TestHealthz_NoBackends(t *testing.T) {
	s, _ := newTestServer(t, &mockDirectory{}, &mockCredits{}, nil)

	r := gin.New()
	r.GET("/healthz", s.handleHealthz)

	w := doJSON(t, r, http.MethodGet, "/healthz", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without backends, got %d", w.Code)
	}
}
