package http

import (
	"context"
	"crypto/hmac"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Impact-Hub-Antwerp/circular-passport/internal/config"
	"github.com/Impact-Hub-Antwerp/circular-passport/internal/model"
	"github.com/Impact-Hub-Antwerp/circular-passport/internal/observability"
	"github.com/Impact-Hub-Antwerp/circular-passport/internal/repository"
	"github.com/Impact-Hub-Antwerp/circular-passport/internal/session"
)

// Store is the persistence surface the handlers need.
type Store interface {
	FindOrCreateUser(ctx context.Context, name, email string) (model.User, bool, error)
	GetUserByID(ctx context.Context, userID string) (model.User, error)
	GetActivity(ctx context.Context, code string) (model.Activity, error)
	RecordCompletion(ctx context.Context, userID, code string) (bool, int64, error)
	CountCompletions(ctx context.Context, userID string) (int64, error)
	ListCompletions(ctx context.Context, userID string, limit int) ([]model.ProgressItem, error)
	CountUsers(ctx context.Context) (int64, error)
	ListUserProgress(ctx context.Context) ([]model.UserProgress, error)
}

const appName = "Digital Circular Passport"

const dashboardItems = 10

type Server struct {
	cfg      config.Config
	store    Store
	sessions *session.Manager
}

func NewServer(cfg config.Config, store Store, sessions *session.Manager) *Server {
	return &Server{cfg: cfg, store: store, sessions: sessions}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/", s.handleHome)
	r.Get("/register", s.handleRegisterPage)
	r.Post("/register", s.handleRegister)
	r.Get("/logout", s.handleLogout)
	r.Get("/admin/students", s.handleAdminStudents)

	r.With(s.authMiddleware).Get("/app", s.handleDashboard)
	r.With(s.authMiddleware).Get("/scan", s.handleScanPage)
	r.With(s.authMiddleware).Post("/api/scan", s.handleScan)
	r.With(s.authMiddleware).Get("/progress", s.handleProgress)

	return r
}

// Auth

type userKey struct{}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := s.sessionUser(r)
		if userID == "" {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		ctx := context.WithValue(r.Context(), userKey{}, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// sessionUser resolves the session cookie to a user id, or "" when the
// request carries no usable session.
func (s *Server) sessionUser(r *http.Request) string {
	cookie, err := r.Cookie(session.CookieName)
	if err != nil || cookie.Value == "" {
		return ""
	}
	userID, err := s.sessions.Verify(r.Context(), cookie.Value)
	if err != nil {
		return ""
	}
	return userID
}

func userIDFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(userKey{}).(string)
	return userID
}

// Responses

type dashboardResponse struct {
	App   string             `json:"app"`
	User  userResponse       `json:"user"`
	Count int64              `json:"count"`
	Total int                `json:"total"`
	Items []progressResponse `json:"items"`
}

type userResponse struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type progressResponse struct {
	Code        string `json:"code"`
	Title       string `json:"title"`
	CompletedAt string `json:"completed_at"`
}

type scanResponse struct {
	OK    bool  `json:"ok"`
	Added bool  `json:"added"`
	Count int64 `json:"count"`
	Total int   `json:"total"`
}

type progressPageResponse struct {
	Count int64              `json:"count"`
	Total int                `json:"total"`
	Items []progressResponse `json:"items"`
}

type adminStudentsResponse struct {
	OK         bool                   `json:"ok"`
	TotalUsers int64                  `json:"total_users"`
	Total      int                    `json:"total"`
	Students   []adminStudentResponse `json:"students"`
}

type adminStudentResponse struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Count int64  `json:"count"`
}

// Handlers

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	if s.sessionUser(r) != "" {
		http.Redirect(w, r, "/app", http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, "/register", http.StatusSeeOther)
}

func (s *Server) handleRegisterPage(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"app": appName, "register": "POST /register"})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid form")
		return
	}
	name := strings.TrimSpace(r.PostFormValue("name"))
	email := strings.ToLower(strings.TrimSpace(r.PostFormValue("email")))
	if name == "" || email == "" {
		writeError(w, http.StatusBadRequest, "Missing name or email")
		return
	}

	user, created, err := s.store.FindOrCreateUser(r.Context(), name, email)
	if err != nil {
		observability.RecordRegistration("error")
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if created {
		observability.RecordRegistration("created")
	} else {
		observability.RecordRegistration("existing")
	}

	token, err := s.sessions.Issue(user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	s.setSessionCookie(w, token)
	http.Redirect(w, r, "/app", http.StatusSeeOther)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())

	user, err := s.store.GetUserByID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	count, err := s.store.CountCompletions(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	items, err := s.store.ListCompletions(r.Context(), userID, dashboardItems)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	writeJSON(w, http.StatusOK, dashboardResponse{
		App:   appName,
		User:  userResponse{Name: user.Name, Email: user.Email},
		Count: count,
		Total: model.TotalActivities,
		Items: mapProgress(items),
	})
}

func (s *Server) handleScanPage(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"prefix": model.QRPrefix, "scan": "POST /api/scan"})
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())

	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid form")
		return
	}
	code := strings.TrimSpace(r.PostFormValue("code"))

	if !validQR(code) {
		observability.RecordScan("invalid")
		writeError(w, http.StatusBadRequest, "Invalid QR")
		return
	}
	if _, err := s.store.GetActivity(r.Context(), code); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			observability.RecordScan("unknown")
			writeError(w, http.StatusNotFound, "Unknown activity")
			return
		}
		observability.RecordScan("error")
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	added, count, err := s.store.RecordCompletion(r.Context(), userID, code)
	if err != nil {
		observability.RecordScan("error")
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if added {
		observability.RecordScan("added")
	} else {
		observability.RecordScan("duplicate")
	}

	writeJSON(w, http.StatusOK, scanResponse{
		OK:    true,
		Added: added,
		Count: count,
		Total: model.TotalActivities,
	})
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())

	count, err := s.store.CountCompletions(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	items, err := s.store.ListCompletions(r.Context(), userID, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	writeJSON(w, http.StatusOK, progressPageResponse{
		Count: count,
		Total: model.TotalActivities,
		Items: mapProgress(items),
	})
}

func (s *Server) handleAdminStudents(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if s.cfg.AdminKey == "" || !hmac.Equal([]byte(key), []byte(s.cfg.AdminKey)) {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	totalUsers, err := s.store.CountUsers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	rows, err := s.store.ListUserProgress(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	students := make([]adminStudentResponse, 0, len(rows))
	for _, row := range rows {
		students = append(students, adminStudentResponse{Name: row.Name, Email: row.Email, Count: row.Count})
	}
	writeJSON(w, http.StatusOK, adminStudentsResponse{
		OK:         true,
		TotalUsers: totalUsers,
		Total:      model.TotalActivities,
		Students:   students,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(session.CookieName); err == nil && cookie.Value != "" {
		_ = s.sessions.Revoke(r.Context(), cookie.Value)
	}
	s.clearSessionCookie(w)
	http.Redirect(w, r, "/register", http.StatusSeeOther)
}

// Cookies

func (s *Server) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.cfg.SessionTTL / time.Second),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     session.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// Utilities

// validQR reports whether code is the fixed prefix followed by "A" and
// exactly two digits. Existence in the catalog is a separate check.
func validQR(code string) bool {
	if !strings.HasPrefix(code, model.QRPrefix) {
		return false
	}
	suffix := code[len(model.QRPrefix):]
	if len(suffix) != 3 || suffix[0] != 'A' {
		return false
	}
	return isDigit(suffix[1]) && isDigit(suffix[2])
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

func mapProgress(items []model.ProgressItem) []progressResponse {
	resp := make([]progressResponse, 0, len(items))
	for _, item := range items {
		resp = append(resp, progressResponse{
			Code:        item.Code,
			Title:       item.Title,
			CompletedAt: item.CompletedAt.UTC().Format(time.RFC3339),
		})
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{"ok": false, "error": message})
}
