package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/study-planner/internal/store"
)

func newRepo(t *testing.T) store.Repository {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "identity.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestMiddlewareIssuesCookieAndCreatesUser(t *testing.T) {
	repo := newRepo(t)

	var gotUser, gotSession string
	h := Middleware(repo, true)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		gotUser = UserIDFromContext(r.Context())
		gotSession = SessionIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set(SessionHeaderName, "tab-1")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if !isValidAnonID(gotUser) {
		t.Fatalf("Expected generated anonymous id, got %q", gotUser)
	}
	if gotSession != "tab-1" {
		t.Errorf("Expected session tab-1, got %q", gotSession)
	}

	cookies := w.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != AnonCookieName || cookies[0].Value != gotUser {
		t.Errorf("Expected identity cookie for %s, got %+v", gotUser, cookies)
	}

	user, err := repo.GetUser(context.Background(), gotUser)
	if err != nil || user == nil {
		t.Fatalf("Expected user row, got %v, %v", user, err)
	}
	if !strings.HasPrefix(user.Username, "anon-") {
		t.Errorf("Expected derived username, got %q", user.Username)
	}
}

func TestMiddlewareReusesValidCookie(t *testing.T) {
	repo := newRepo(t)
	id := "anon_0123456789abcdef0123456789abcdef"

	var gotUser string
	h := Middleware(repo, true)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		gotUser = UserIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: AnonCookieName, Value: id})
	h.ServeHTTP(httptest.NewRecorder(), req)

	if gotUser != id {
		t.Errorf("Expected %s, got %s", id, gotUser)
	}
}

func TestEnsureUserTouchesLastSeen(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	id := "anon_0123456789abcdef0123456789abcdef"
	start := time.Unix(1_750_000_000, 0)

	if err := ensureUser(ctx, repo, id, start); err != nil {
		t.Fatalf("ensureUser failed: %v", err)
	}
	if err := ensureUser(ctx, repo, id, start.Add(time.Hour)); err != nil {
		t.Fatalf("ensureUser failed: %v", err)
	}

	user, err := repo.GetUser(ctx, id)
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if !user.LastSeenAt.Equal(start.Add(time.Hour)) {
		t.Errorf("Expected last seen %v, got %v", start.Add(time.Hour), user.LastSeenAt)
	}
}

func TestSanitizeSessionID(t *testing.T) {
	tests := map[string]string{
		"":         DefaultSessionIDValue,
		"  ":       DefaultSessionIDValue,
		"tab 1":    DefaultSessionIDValue,
		"tab-1":    "tab-1",
		"a.b:c_d":  "a.b:c_d",
		"<script>": DefaultSessionIDValue,
	}
	for in, want := range tests {
		if got := sanitizeSessionID(in); got != want {
			t.Errorf("sanitizeSessionID(%q): expected %q, got %q", in, want, got)
		}
	}
}

func TestWithIdentity(t *testing.T) {
	ctx := WithIdentity(context.Background(), "cli", "")
	if UserIDFromContext(ctx) != "cli" {
		t.Errorf("Expected cli, got %q", UserIDFromContext(ctx))
	}
	if SessionIDFromContext(ctx) != DefaultSessionIDValue {
		t.Errorf("Expected default session, got %q", SessionIDFromContext(ctx))
	}
}

func TestGenerateAnonIDIsValid(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 10; i++ {
		id, err := generateAnonID()
		if err != nil {
			t.Fatalf("generateAnonID failed: %v", err)
		}
		if !isValidAnonID(id) {
			t.Errorf("Expected valid anonymous id, got %q", id)
		}
		if seen[id] {
			t.Errorf("Duplicate id %q", id)
		}
		seen[id] = true
	}
}
