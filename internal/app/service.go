// Package app wires the geoportal services together and exposes them over
// HTTP: password auth against the GitHub users document, workbook ingestion
// and charts, PDF reports, and the validation workflow.
package app

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"geoportal/api/internal/archive"
	"geoportal/api/internal/auth"
	"geoportal/api/internal/authpw"
	"geoportal/api/internal/chart"
	"geoportal/api/internal/config"
	"geoportal/api/internal/content"
	"geoportal/api/internal/email"
	"geoportal/api/internal/report"
	"geoportal/api/internal/session"
	"geoportal/api/internal/sheet"
	"geoportal/api/internal/timeseries"
	"geoportal/api/internal/userstore"
	"geoportal/api/internal/util"
	"geoportal/api/internal/validation"
)

// workbookTTL bounds how long an uploaded workbook stays cached in memory.
const workbookTTL = 12 * time.Hour

type Session struct {
	Token        string
	RefreshToken string
	Username     string
	DisplayName  string
	MustChange   bool
	JTI          string
	ExpiresAt    time.Time
}

type workbookEntry struct {
	wb       *sheet.Workbook
	uploaded time.Time
}

type Service struct {
	cfg        config.Config
	authpw     *authpw.Service
	sessions   session.Store
	email      *email.Service
	dataStore  content.Store
	validation *validation.Service
	reports    *report.Service
	archive    archive.Store
	logger     zerolog.Logger

	now func() time.Time

	mu        sync.Mutex
	workbooks map[string]*workbookEntry
}

func NewService(
	cfg config.Config,
	users *userstore.Store,
	dataStore content.Store,
	sessions session.Store,
	mailer *email.Service,
	arch archive.Store,
	logger zerolog.Logger,
) *Service {
	return &Service{
		cfg:        cfg,
		authpw:     authpw.NewService(users),
		sessions:   sessions,
		email:      mailer,
		dataStore:  dataStore,
		validation: validation.NewService(dataStore, cfg.DataRoot),
		reports:    report.NewService(),
		archive:    arch,
		logger:     logger,
		now:        time.Now,
		workbooks:  make(map[string]*workbookEntry),
	}
}

func (s *Service) Ping(ctx context.Context) error {
	if err := s.dataStore.Ping(ctx); err != nil {
		return fmt.Errorf("content store: %w", err)
	}
	if err := s.sessions.Ping(ctx); err != nil {
		return fmt.Errorf("session store: %w", err)
	}
	return nil
}

func (s *Service) SMTPConfigured() bool {
	return s.email != nil && s.email.IsConfigured()
}

// ---- Sessions ----

func (s *Service) SignIn(ctx context.Context, username, password string) (Session, error) {
	resp, err := s.authpw.SignIn(ctx, authpw.SignInRequest{Username: username, Password: password})
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, resp.Username, resp.DisplayName, resp.MustChange)
}

func (s *Service) issueSession(ctx context.Context, username, displayName string, mustChange bool) (Session, error) {
	now := s.now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:        username,
		Name:       displayName,
		MustChange: mustChange,
		JTI:        jti,
		Exp:        expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	data := session.TokenData{
		Username:    username,
		DisplayName: displayName,
		MustChange:  mustChange,
		CreatedAt:   now,
	}
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), data, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		Username:     username,
		DisplayName:  displayName,
		MustChange:   mustChange,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	data, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, data.Username, data.DisplayName, data.MustChange)
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.sessions.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}
	return Session{
		Token:       token,
		Username:    claims.Sub,
		DisplayName: claims.Name,
		MustChange:  claims.MustChange,
		JTI:         claims.JTI,
		ExpiresAt:   time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, sess Session, refreshToken string) error {
	if sess.JTI != "" {
		_ = s.sessions.RevokeAccessToken(ctx, sess.JTI, sess.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// ---- Password management ----

// ChangePassword runs the full must-change flow: on success the current
// access token is revoked and a fresh session without the flag is issued.
func (s *Service) ChangePassword(ctx context.Context, sess Session, current, newPassword, repeat string) (Session, error) {
	err := s.authpw.ChangePassword(ctx, authpw.ChangePasswordRequest{
		Username:        sess.Username,
		CurrentPassword: current,
		NewPassword:     newPassword,
		RepeatPassword:  repeat,
	})
	if err != nil {
		return Session{}, err
	}
	_ = s.sessions.RevokeAccessToken(ctx, sess.JTI, sess.ExpiresAt)
	return s.issueSession(ctx, sess.Username, sess.DisplayName, false)
}

// RequestPasswordReset issues a reset code. When SMTP is configured and the
// username looks like an address, the code is mailed; the returned code is
// only surfaced to the caller in the dev bypass.
func (s *Service) RequestPasswordReset(ctx context.Context, username string) (string, error) {
	code, err := s.authpw.RequestPasswordReset(ctx, username)
	if err != nil || code == "" {
		return "", err
	}
	if s.SMTPConfigured() && strings.Contains(username, "@") {
		if err := s.email.SendResetCode(username, username, code); err != nil {
			s.logger.Warn().Err(err).Msg("reset code email failed")
		}
		return "", nil
	}
	return code, nil
}

func (s *Service) ResetPassword(ctx context.Context, username, code, newPassword string) error {
	return s.authpw.ResetPassword(ctx, authpw.ResetPasswordRequest{
		Username:    username,
		Code:        code,
		NewPassword: newPassword,
	})
}

// ---- Workbooks ----

// UploadWorkbook parses and caches an uploaded xlsx, returning its handle
// and the site list.
func (s *Service) UploadWorkbook(data []byte) (string, []string, error) {
	wb, err := sheet.Load(bytes.NewReader(data))
	if err != nil {
		return "", nil, domainError(http.StatusUnprocessableEntity, "INVALID_WORKBOOK", err.Error(), nil)
	}
	id := util.NewID("wbk")

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneWorkbooksLocked()
	s.workbooks[id] = &workbookEntry{wb: wb, uploaded: s.now()}
	return id, wb.SiteNames(), nil
}

func (s *Service) Workbook(id string) (*sheet.Workbook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.workbooks[id]
	if !ok || s.now().Sub(entry.uploaded) > workbookTTL {
		delete(s.workbooks, id)
		return nil, domainError(http.StatusNotFound, "WORKBOOK_NOT_FOUND", "Workbook not found or expired", nil)
	}
	return entry.wb, nil
}

func (s *Service) pruneWorkbooksLocked() {
	cutoff := s.now().Add(-workbookTTL)
	for id, entry := range s.workbooks {
		if entry.uploaded.Before(cutoff) {
			delete(s.workbooks, id)
		}
	}
}

func (s *Service) site(workbookID, name string) (*sheet.Site, error) {
	wb, err := s.Workbook(workbookID)
	if err != nil {
		return nil, err
	}
	site, ok := wb.Site(name)
	if !ok {
		return nil, domainError(http.StatusNotFound, "SITE_NOT_FOUND", "Site not found in workbook", nil)
	}
	return site, nil
}

// SiteDetail is the per-date metric panel of one site.
type SiteDetail struct {
	Site      string            `json:"site"`
	Date      string            `json:"date"`
	Dates     []string          `json:"dates"`
	Latitude  *float64          `json:"latitude,omitempty"`
	Longitude *float64          `json:"longitude,omitempty"`
	Metrics   map[string]string `json:"metrics"`
	ImageURL  string            `json:"image_url,omitempty"`
	Satellite string            `json:"satellite,omitempty"`
}

func (s *Service) SiteDetail(workbookID, name, dateLabel string) (*SiteDetail, error) {
	site, err := s.site(workbookID, name)
	if err != nil {
		return nil, err
	}
	if len(site.Columns) == 0 {
		return nil, domainError(http.StatusUnprocessableEntity, "NO_DATE_COLUMNS", "Sheet has no date columns", nil)
	}

	col := site.Columns[len(site.Columns)-1]
	if dateLabel != "" {
		found, ok := site.ColumnByLabel(dateLabel)
		if !ok {
			return nil, domainError(http.StatusNotFound, "DATE_NOT_FOUND", "Date not present in sheet", nil)
		}
		col = found
	}

	detail := &SiteDetail{
		Site:      name,
		Date:      col.Label,
		Latitude:  site.Latitude,
		Longitude: site.Longitude,
		Metrics:   site.Record(col.Header),
	}
	for _, c := range site.Columns {
		detail.Dates = append(detail.Dates, c.Label)
	}
	if raw, ok := site.Value(col.Header, sheet.ParamImage); ok {
		detail.ImageURL = sheet.ResolveImageURL(raw, s.cfg.AssetBaseURL)
	}
	if sat, ok := site.Value(col.Header, sheet.ParamSatellite); ok {
		detail.Satellite = sat
	}
	return detail, nil
}

// SeriesQuery selects and post-processes one parameter series.
type SeriesQuery struct {
	Param   string
	Freq    string
	Agg     string
	Smooth  string
	Window  int
	ErrMode string
}

// SeriesResult carries the processed series plus the overlays the charts
// draw: trend line and P10-P90 band.
type SeriesResult struct {
	Param    string                `json:"param"`
	Points   []timeseries.Point    `json:"points"`
	Bars     []timeseries.ErrPoint `json:"bars,omitempty"`
	Trend    []timeseries.Point    `json:"trend,omitempty"`
	BandLow  *float64              `json:"band_low,omitempty"`
	BandHigh *float64              `json:"band_high,omitempty"`
}

func (s *Service) Series(workbookID, name string, q SeriesQuery) (*SeriesResult, error) {
	site, err := s.site(workbookID, name)
	if err != nil {
		return nil, err
	}

	paramName := q.Param
	if paramName == "" {
		paramName = string(sheet.ParamMethaneRate)
	}
	param, ok := sheet.ParamByName(paramName)
	if !ok {
		return nil, domainError(http.StatusUnprocessableEntity, "UNKNOWN_PARAM", "Unknown parameter", map[string]any{"param": q.Param})
	}

	freq, err := timeseries.ParseFrequency(q.Freq)
	if err != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	}
	agg, err := timeseries.ParseAggregation(q.Agg)
	if err != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	}
	smooth, err := timeseries.ParseSmoothing(q.Smooth)
	if err != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	}
	errMode, err := timeseries.ParseErrMode(q.ErrMode)
	if err != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	}
	window := q.Window
	if window < 1 {
		window = 3
	}

	raw := toSeries(site.Series(param))
	processed := timeseries.Smooth(timeseries.Resample(raw, freq, agg), smooth, window)

	result := &SeriesResult{Param: string(param), Points: processed}

	if trend, ok := timeseries.Trend(processed); ok {
		result.Trend = trend
	}
	if lo, hi, ok := timeseries.Band(processed); ok {
		result.BandLow, result.BandHigh = &lo, &hi
	}

	// bar view pairs the value with its uncertainty
	if param == sheet.ParamMethaneRate {
		result.Bars = timeseries.ResampleWithError(
			pairSeries(raw, toSeries(site.Series(sheet.ParamUncertainty))),
			freq, agg, errMode,
		)
	}
	return result, nil
}

func toSeries(pts []sheet.Point) []timeseries.Point {
	out := make([]timeseries.Point, len(pts))
	for i, p := range pts {
		out[i] = timeseries.Point{Date: p.Date, Value: p.Value}
	}
	return out
}

// pairSeries left-joins uncertainties onto values by date.
func pairSeries(values, errs []timeseries.Point) []timeseries.ErrPoint {
	byDate := make(map[time.Time]float64, len(errs))
	for _, e := range errs {
		byDate[e.Date] = e.Value
	}
	out := make([]timeseries.ErrPoint, len(values))
	for i, v := range values {
		p := timeseries.ErrPoint{Date: v.Date, Value: v.Value, Err: math.NaN()}
		if e, ok := byDate[v.Date]; ok {
			p.Err = e
		}
		out[i] = p
	}
	return out
}

// ---- Reports ----

// Report builds the per-site PDF for the selected date and chart settings,
// then mirrors it to the archive when one is configured.
func (s *Service) Report(ctx context.Context, workbookID, name string, dateLabel string, q SeriesQuery) (*report.Result, error) {
	detail, err := s.SiteDetail(workbookID, name, dateLabel)
	if err != nil {
		return nil, err
	}
	series, err := s.Series(workbookID, name, q)
	if err != nil {
		return nil, err
	}

	site, err := s.site(workbookID, name)
	if err != nil {
		return nil, err
	}
	col, _ := site.ColumnByLabel(detail.Date)

	metric := func(p sheet.Param) string {
		v, _ := site.Value(col.Header, p)
		return v
	}
	data := report.Data{
		Site:      name,
		DateLabel: detail.Date,
		Metrics: []report.Metric{
			{Label: "Taxa Metano", Value: metric(sheet.ParamMethaneRate)},
			{Label: "Incerteza", Value: metric(sheet.ParamUncertainty)},
			{Label: "Velocidade do Vento", Value: metric(sheet.ParamWindSpeed)},
			{Label: "Satélite", Value: metric(sheet.ParamSatellite)},
		},
		Latitude:  detail.Latitude,
		Longitude: detail.Longitude,
		ImageURL:  detail.ImageURL,
	}

	line := chart.Line("Série temporal — Taxa de Metano", series.Points, series.Trend)
	bar := chart.BarWithError("Taxa de Metano com barras de erro", series.Bars)
	box := chart.Box("Distribuição mensal — Taxa de Metano", toSeries(site.Series(sheet.ParamMethaneRate)))

	result, err := s.reports.Generate(ctx, data, line, bar, box)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("reports/%s/%s", sanitizeSegment(name), result.Filename)
	if err := s.archive.Upload(ctx, key, result.Data, result.MimeType); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("report archive failed")
	}
	return result, nil
}

func sanitizeSegment(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r == ' ':
			return '-'
		}
		return -1
	}, s)
}

// ---- Validation ----

type ValidationTable struct {
	Rows   []validation.Row `json:"rows"`
	Source string           `json:"source,omitempty"`
}

func (s *Service) LoadValidation(ctx context.Context) (*ValidationTable, error) {
	rows, source, err := s.validation.Load(ctx)
	if err != nil {
		return nil, err
	}
	return &ValidationTable{Rows: rows, Source: source}, nil
}

// ImportValidationMatrix explodes a scheduling matrix and saves it as the
// new baseline snapshot.
func (s *Service) ImportValidationMatrix(ctx context.Context, data []byte, author string) (*validation.SaveResult, int, error) {
	rows, err := validation.ImportMatrix(bytes.NewReader(data))
	if err != nil {
		return nil, 0, domainError(http.StatusUnprocessableEntity, "INVALID_MATRIX", err.Error(), nil)
	}
	res, err := s.saveValidation(ctx, rows, author)
	if err != nil {
		return nil, 0, err
	}
	return res, len(rows), nil
}

// DecisionInput is one edited grid row as sent by the client.
type DecisionInput struct {
	SiteName   string  `json:"site_name"`
	Date       string  `json:"date"`
	Status     *string `json:"status"`
	Observacao *string `json:"observacao"`
	Validador  *string `json:"validador"`
}

func (s *Service) SaveValidation(ctx context.Context, decisions []DecisionInput, author string) (*validation.SaveResult, error) {
	baseline, _, err := s.validation.Load(ctx)
	if err != nil {
		return nil, err
	}

	edits := make(map[validation.Key]validation.Decision, len(decisions))
	for _, d := range decisions {
		if _, err := time.Parse("2006-01-02", d.Date); err != nil {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid date "+d.Date, nil)
		}
		dec := validation.Decision{Observacao: d.Observacao, Validador: d.Validador}
		if d.Status != nil {
			status, err := validation.ParseStatus(*d.Status)
			if err != nil {
				return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
			}
			dec.Status = &status
		}
		edits[validation.Key{Site: d.SiteName, Date: d.Date}] = dec
	}

	merged := validation.Merge(baseline, edits, s.now())
	return s.saveValidation(ctx, merged, author)
}

func (s *Service) BatchValidation(ctx context.Context, date string, sites []string, statusRaw string, observacao *string, author string) (*validation.SaveResult, error) {
	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid date "+date, nil)
	}
	status, err := validation.ParseStatus(statusRaw)
	if err != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	}

	baseline, _, err := s.validation.Load(ctx)
	if err != nil {
		return nil, err
	}
	updated := validation.BatchDecide(baseline, day, sites, status, observacao, author, s.now())
	return s.saveValidation(ctx, updated, author)
}

func (s *Service) saveValidation(ctx context.Context, rows []validation.Row, author string) (*validation.SaveResult, error) {
	res, err := s.validation.Save(ctx, rows, author)
	if err != nil {
		return nil, err
	}
	if data, encErr := validation.EncodeSnapshot(rows); encErr == nil {
		if err := s.archive.Upload(ctx, res.Path, data,
			"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"); err != nil {
			s.logger.Warn().Err(err).Str("key", res.Path).Msg("snapshot archive failed")
		}
	}
	return res, nil
}

// ValidationCalendar lays out one month of the validation table.
func (s *Service) ValidationCalendar(ctx context.Context, month string) ([6][7]validation.DayCell, error) {
	var grid [6][7]validation.DayCell
	m, err := time.Parse("2006-01", month)
	if err != nil {
		return grid, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid month "+month, nil)
	}
	rows, _, err := s.validation.Load(ctx)
	if err != nil {
		return grid, err
	}
	return validation.MonthGrid(rows, m.Year(), m.Month()), nil
}
