package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"geoportal/api/internal/auth"
	"geoportal/api/internal/authpw"
	"geoportal/api/internal/content"
	"geoportal/api/internal/session"
	"geoportal/api/internal/validation"
)

// maxUploadBytes caps workbook and matrix uploads.
const maxUploadBytes = 25 << 20

type HTTPServer struct {
	service    *Service
	corsOrigin string
	logger     zerolog.Logger
}

func NewHTTPServer(service *Service, corsOrigin string, logger zerolog.Logger) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, logger: logger}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"stores": map[string]any{"status": "ok"},
		}
		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["stores"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	// Auth routes (no session required)
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signin" {
		s.handleAuthSignIn(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/reset-password/request" {
		s.handleAuthRequestReset(w, r)
		return
	}
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/reset-password" {
		s.handleAuthResetPassword(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "username": nil})
			return
		}
		sess, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "username": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"username":      sess.Username,
			"displayName":   sess.DisplayName,
			"mustChange":    sess.MustChange,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/refresh" {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		sess, err := s.service.Refresh(r.Context(), body.RefreshToken)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
			return
		}
		writeSession(w, sess)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/logout" {
		sess := Session{}
		if token := bearerToken(r); token != "" {
			if parsed, err := s.service.SessionFromToken(r.Context(), token); err == nil {
				sess = parsed
			}
		}
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = decodeBody(r, &body)
		_ = s.service.Logout(r.Context(), sess, body.RefreshToken)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	// Everything below needs a session.
	sess, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/change-password" {
		s.handleAuthChangePassword(w, r, sess)
		return
	}

	// A user flagged must_change is locked out of the rest of the API
	// until the password is replaced.
	if sess.MustChange {
		writeError(w, http.StatusForbidden, "PASSWORD_CHANGE_REQUIRED", "Password change required before continuing", nil)
		return
	}

	segments := splitPath(r.URL.Path)

	if len(segments) >= 2 && segments[0] == "api" && segments[1] == "workbooks" {
		s.handleWorkbooks(w, r, sess, segments[2:])
		return
	}
	if len(segments) >= 2 && segments[0] == "api" && segments[1] == "validation" {
		s.handleValidation(w, r, sess, segments[2:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// ---- Auth handlers ----

func (s *HTTPServer) handleAuthSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	sess, err := s.service.SignIn(r.Context(), body.Username, body.Password)
	if err != nil {
		if errors.Is(err, authpw.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid username or password", nil)
			return
		}
		s.respondError(w, err)
		return
	}
	writeSession(w, sess)
}

func (s *HTTPServer) handleAuthChangePassword(w http.ResponseWriter, r *http.Request, sess Session) {
	var body struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
		RepeatPassword  string `json:"repeatPassword"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	fresh, err := s.service.ChangePassword(r.Context(), sess, body.CurrentPassword, body.NewPassword, body.RepeatPassword)
	if err != nil {
		s.respondError(w, err)
		return
	}
	writeSession(w, fresh)
}

func (s *HTTPServer) handleAuthRequestReset(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	code, err := s.service.RequestPasswordReset(r.Context(), body.Username)
	if err != nil {
		// response stays a uniform 200 so callers cannot probe for accounts
		s.logger.Warn().Err(err).Msg("password reset request failed")
	}

	response := map[string]any{
		"message": "If the account exists, a reset code has been sent",
	}
	// Dev bypass: surface the code when email delivery is not configured
	if code != "" {
		response["devResetCode"] = code
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *HTTPServer) handleAuthResetPassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username    string `json:"username"`
		Code        string `json:"code"`
		NewPassword string `json:"newPassword"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	if err := s.service.ResetPassword(r.Context(), body.Username, body.Code, body.NewPassword); err != nil {
		s.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Password reset successfully"})
}

// ---- Workbook handlers ----

func (s *HTTPServer) handleWorkbooks(w http.ResponseWriter, r *http.Request, sess Session, rest []string) {
	if r.Method == http.MethodPost && len(rest) == 0 {
		data, err := readUpload(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_UPLOAD", err.Error(), nil)
			return
		}
		id, sites, err := s.service.UploadWorkbook(data)
		if err != nil {
			s.respondError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"id": id, "sites": sites})
		return
	}

	if len(rest) >= 2 && rest[1] == "sites" {
		workbookID := rest[0]

		if r.Method == http.MethodGet && len(rest) == 2 {
			wb, err := s.service.Workbook(workbookID)
			if err != nil {
				s.respondError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"sites": wb.SiteNames()})
			return
		}

		siteName, err := url.PathUnescape(rest[2])
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_PATH", "Bad site name", nil)
			return
		}

		if r.Method == http.MethodGet && len(rest) == 3 {
			detail, err := s.service.SiteDetail(workbookID, siteName, r.URL.Query().Get("date"))
			if err != nil {
				s.respondError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, detail)
			return
		}

		if r.Method == http.MethodGet && len(rest) == 4 && rest[3] == "series" {
			result, err := s.service.Series(workbookID, siteName, seriesQuery(r))
			if err != nil {
				s.respondError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, result)
			return
		}

		if r.Method == http.MethodPost && len(rest) == 4 && rest[3] == "report" {
			var body struct {
				Date    string `json:"date"`
				Param   string `json:"param"`
				Freq    string `json:"freq"`
				Agg     string `json:"agg"`
				Smooth  string `json:"smooth"`
				Window  int    `json:"window"`
				ErrMode string `json:"errMode"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			q := SeriesQuery{
				Param:   body.Param,
				Freq:    body.Freq,
				Agg:     body.Agg,
				Smooth:  body.Smooth,
				Window:  body.Window,
				ErrMode: body.ErrMode,
			}
			result, err := s.service.Report(r.Context(), workbookID, siteName, body.Date, q)
			if err != nil {
				s.respondError(w, err)
				return
			}
			w.Header().Set("Content-Type", result.MimeType)
			w.Header().Set("Content-Disposition", "attachment; filename=\""+result.Filename+"\"")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(result.Data)
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func seriesQuery(r *http.Request) SeriesQuery {
	q := r.URL.Query()
	window, _ := strconv.Atoi(q.Get("window"))
	return SeriesQuery{
		Param:   q.Get("param"),
		Freq:    q.Get("freq"),
		Agg:     q.Get("agg"),
		Smooth:  q.Get("smooth"),
		Window:  window,
		ErrMode: q.Get("errMode"),
	}
}

// ---- Validation handlers ----

func (s *HTTPServer) handleValidation(w http.ResponseWriter, r *http.Request, sess Session, rest []string) {
	if r.Method == http.MethodGet && len(rest) == 0 {
		table, err := s.service.LoadValidation(r.Context())
		if err != nil {
			s.respondError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, table)
		return
	}

	if r.Method == http.MethodPost && len(rest) == 1 && rest[0] == "import" {
		data, err := readUpload(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_UPLOAD", err.Error(), nil)
			return
		}
		res, count, err := s.service.ImportValidationMatrix(r.Context(), data, sess.DisplayName)
		if err != nil {
			s.respondError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"saved": res, "rows": count})
		return
	}

	if r.Method == http.MethodPost && len(rest) == 1 && rest[0] == "save" {
		var body struct {
			Decisions []DecisionInput `json:"decisions"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		res, err := s.service.SaveValidation(r.Context(), body.Decisions, sess.DisplayName)
		if err != nil {
			s.respondError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"saved": res})
		return
	}

	if r.Method == http.MethodPost && len(rest) == 1 && rest[0] == "batch" {
		var body struct {
			Date       string   `json:"date"`
			Sites      []string `json:"sites"`
			Status     string   `json:"status"`
			Observacao *string  `json:"observacao"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		res, err := s.service.BatchValidation(r.Context(), body.Date, body.Sites, body.Status, body.Observacao, sess.DisplayName)
		if err != nil {
			s.respondError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"saved": res})
		return
	}

	if r.Method == http.MethodGet && len(rest) == 1 && rest[0] == "calendar" {
		month := r.URL.Query().Get("month")
		if month == "" {
			month = time.Now().UTC().Format("2006-01")
		}
		grid, err := s.service.ValidationCalendar(r.Context(), month)
		if err != nil {
			s.respondError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"month": month, "weeks": grid})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// ---- Plumbing ----

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	sess, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return sess, true
}

func (s *HTTPServer) respondError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		s.logger.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", writer.status).
			Int64("duration_ms", time.Since(started).Milliseconds()).
			Msg("request")
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
}

func writeSession(w http.ResponseWriter, sess Session) {
	writeJSON(w, http.StatusOK, map[string]any{
		"accessToken":  sess.Token,
		"refreshToken": sess.RefreshToken,
		"username":     sess.Username,
		"displayName":  sess.DisplayName,
		"mustChange":   sess.MustChange,
		"expiresAt":    sess.ExpiresAt.Unix(),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

// readUpload accepts a raw xlsx body or the "file" field of a multipart
// form.
func readUpload(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			return nil, fmt.Errorf("invalid multipart form")
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			return nil, fmt.Errorf("missing file field")
		}
		defer file.Close()
		return io.ReadAll(io.LimitReader(file, maxUploadBytes))
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty upload")
	}
	return data, nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, authpw.ErrInvalidCredentials):
		return http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid username or password", nil
	case errors.Is(err, authpw.ErrPasswordMismatch),
		errors.Is(err, authpw.ErrPasswordTooShort),
		errors.Is(err, authpw.ErrInvalidResetCode):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.Is(err, session.ErrTokenNotFound):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.Is(err, content.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, content.ErrSHAConflict), errors.Is(err, validation.ErrSaveConflict):
		return http.StatusConflict, "CONFLICT", "Document was modified concurrently, reload and retry", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
