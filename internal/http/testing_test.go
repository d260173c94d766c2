package http

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Impact-Hub-Antwerp/circular-passport/internal/config"
	"github.com/Impact-Hub-Antwerp/circular-passport/internal/model"
	"github.com/Impact-Hub-Antwerp/circular-passport/internal/repository"
	"github.com/Impact-Hub-Antwerp/circular-passport/internal/session"
)

// fakeStore is an in-memory Store with the same semantics the Postgres
// store draws from its constraints: unique emails, one completion per
// (user, activity), seeded catalog.
type fakeStore struct {
	users       map[string]model.User // keyed by email
	activities  map[string]model.Activity
	completions map[string]map[string]time.Time // user id -> code -> completed at
	clock       time.Time
	failWith    error
}

func newFakeStore() *fakeStore {
	f := &fakeStore{
		users:       make(map[string]model.User),
		activities:  make(map[string]model.Activity),
		completions: make(map[string]map[string]time.Time),
		clock:       time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC),
	}
	for i := 1; i <= model.TotalActivities; i++ {
		code := fmt.Sprintf("%sA%02d", model.QRPrefix, i)
		f.activities[code] = model.Activity{Code: code, Title: fmt.Sprintf("Activity %d", i)}
	}
	return f
}

func (f *fakeStore) tick() time.Time {
	f.clock = f.clock.Add(time.Minute)
	return f.clock
}

func (f *fakeStore) FindOrCreateUser(_ context.Context, name, email string) (model.User, bool, error) {
	if f.failWith != nil {
		return model.User{}, false, f.failWith
	}
	if user, ok := f.users[email]; ok {
		return user, false, nil
	}
	user := model.User{ID: uuid.NewString(), Name: name, Email: email, CreatedAt: f.tick()}
	f.users[email] = user
	return user, true, nil
}

func (f *fakeStore) GetUserByID(_ context.Context, userID string) (model.User, error) {
	for _, user := range f.users {
		if user.ID == userID {
			return user, nil
		}
	}
	return model.User{}, repository.ErrNotFound
}

func (f *fakeStore) GetActivity(_ context.Context, code string) (model.Activity, error) {
	activity, ok := f.activities[code]
	if !ok {
		return model.Activity{}, repository.ErrNotFound
	}
	return activity, nil
}

func (f *fakeStore) RecordCompletion(_ context.Context, userID, code string) (bool, int64, error) {
	if f.failWith != nil {
		return false, 0, f.failWith
	}
	done, ok := f.completions[userID]
	if !ok {
		done = make(map[string]time.Time)
		f.completions[userID] = done
	}
	added := false
	if _, exists := done[code]; !exists {
		done[code] = f.tick()
		added = true
	}
	return added, int64(len(done)), nil
}

func (f *fakeStore) CountCompletions(_ context.Context, userID string) (int64, error) {
	return int64(len(f.completions[userID])), nil
}

func (f *fakeStore) ListCompletions(_ context.Context, userID string, limit int) ([]model.ProgressItem, error) {
	items := make([]model.ProgressItem, 0, len(f.completions[userID]))
	for code, at := range f.completions[userID] {
		items = append(items, model.ProgressItem{
			Code:        code,
			Title:       f.activities[code].Title,
			CompletedAt: at,
		})
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].CompletedAt.After(items[j].CompletedAt)
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (f *fakeStore) CountUsers(_ context.Context) (int64, error) {
	return int64(len(f.users)), nil
}

func (f *fakeStore) ListUserProgress(_ context.Context) ([]model.UserProgress, error) {
	rows := make([]model.UserProgress, 0, len(f.users))
	for _, user := range f.users {
		rows = append(rows, model.UserProgress{
			Name:  user.Name,
			Email: user.Email,
			Count: int64(len(f.completions[user.ID])),
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count != rows[j].Count {
			return rows[i].Count > rows[j].Count
		}
		return rows[i].Name < rows[j].Name
	})
	return rows, nil
}

const testAdminKey = "test-admin-key"

func newTestServer(store Store) *Server {
	cfg := config.Config{
		SessionSecret: "test-secret",
		SessionTTL:    time.Hour,
		AdminKey:      testAdminKey,
	}
	sessions := session.NewManager(cfg.SessionSecret, cfg.SessionTTL, nil)
	return NewServer(cfg, store, sessions)
}

// register drives the real registration endpoint and returns the session
// cookie plus the resulting user id.
func register(t *testing.T, handler http.Handler, store *fakeStore, name, email string) (*http.Cookie, string) {
	t.Helper()
	form := url.Values{"name": {name}, "email": {email}}
	req := httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusSeeOther {
		t.Fatalf("register: expected 303, got %d (%s)", rec.Code, rec.Body.String())
	}
	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == session.CookieName {
			cookie = c
		}
	}
	if cookie == nil || cookie.Value == "" {
		t.Fatalf("register: expected session cookie to be set")
	}
	user, ok := store.users[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		t.Fatalf("register: user %s not stored", email)
	}
	return cookie, user.ID
}

func scan(t *testing.T, handler http.Handler, cookie *http.Cookie, code string) *httptest.ResponseRecorder {
	t.Helper()
	form := url.Values{"code": {code}}
	req := httptest.NewRequest(http.MethodPost, "/api/scan", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}
