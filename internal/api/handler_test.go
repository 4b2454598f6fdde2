package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/avelichko/walink/internal/domain"
	"github.com/avelichko/walink/internal/netlink"
	"github.com/avelichko/walink/internal/session"
)

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected application/json, got %s", ct)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestError(t *testing.T) {
	w := httptest.NewRecorder()

	Error(w, http.StatusBadRequest, "bad input")

	resp := w.Result()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got["error"] != "bad input" {
		t.Errorf("Expected error message, got %v", got["error"])
	}
}

type idleConn struct {
	events chan netlink.Event
}

func (c *idleConn) Events() <-chan netlink.Event                          { return c.events }
func (c *idleConn) RequestPairingCode(context.Context, string) (string, error) {
	return "", errors.New("not supported")
}
func (c *idleConn) QueryExistence(context.Context, string) (bool, error)    { return false, nil }
func (c *idleConn) LookupDisplayName(context.Context, string) (string, error) { return "", nil }
func (c *idleConn) LookupAvatarURL(context.Context, string) (string, error) { return "", nil }
func (c *idleConn) SendText(context.Context, string, string) error          { return nil }
func (c *idleConn) Logout(context.Context) error                            { return nil }
func (c *idleConn) Terminate()                                              {}

type idleDialer struct{}

func (idleDialer) Dial(context.Context, domain.TenantID, *domain.CredentialState) (netlink.Conn, error) {
	return &idleConn{events: make(chan netlink.Event)}, nil
}

type memCredStore struct {
	pingErr error
}

func (s *memCredStore) Load(context.Context, domain.TenantID) (*domain.CredentialState, error) {
	return nil, nil
}
func (s *memCredStore) Save(context.Context, *domain.CredentialState) error { return nil }
func (s *memCredStore) Erase(context.Context, domain.TenantID) error        { return nil }
func (s *memCredStore) Ping(context.Context) error                          { return s.pingErr }
func (s *memCredStore) Close() error                                        { return nil }

type silentNotifier struct{}

func (silentNotifier) Text(context.Context, domain.TenantID, string) error { return nil }
func (silentNotifier) Image(context.Context, domain.TenantID, string, []byte) error {
	return nil
}
func (silentNotifier) Document(context.Context, domain.TenantID, string, []byte) error {
	return nil
}

func newTestHandler(t *testing.T) (*Handler, *session.Registry) {
	t.Helper()
	reg := session.NewRegistry(idleDialer{}, &memCredStore{}, silentNotifier{},
		session.NewBus(), nil, session.SupervisorConfig{})
	t.Cleanup(func() { reg.Close(context.Background()) })
	return NewHandler(reg, &memCredStore{}, session.NewBus()), reg
}

func TestListSessions(t *testing.T) {
	h, reg := newTestHandler(t)

	if _, err := reg.GetOrCreate(context.Background(), "100"); err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}

	r := chi.NewRouter()
	h.RegisterRoutes(r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var got struct {
		Sessions []domain.SessionInfo `json:"sessions"`
	}
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(got.Sessions) != 1 {
		t.Fatalf("Expected 1 session, got %d", len(got.Sessions))
	}
	if got.Sessions[0].TenantID != "100" {
		t.Errorf("Expected tenant 100, got %s", got.Sessions[0].TenantID)
	}
}

func TestRemoveSession(t *testing.T) {
	h, reg := newTestHandler(t)

	if _, err := reg.GetOrCreate(context.Background(), "100"); err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}

	r := chi.NewRouter()
	h.RegisterRoutes(r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/sessions/100", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if reg.Get("100") != nil {
		t.Error("Expected session to be removed")
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/sessions/999", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for unknown tenant, got %d", w.Code)
	}
}

func TestHealth(t *testing.T) {
	store := &memCredStore{}
	h := NewHealthHandler(store)

	w := httptest.NewRecorder()
	h.Health(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	store.pingErr = errors.New("database locked")
	w = httptest.NewRecorder()
	h.Health(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", w.Code)
	}
}
