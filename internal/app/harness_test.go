package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"geoportal/api/internal/archive"
	"geoportal/api/internal/authpw"
	"geoportal/api/internal/config"
	"geoportal/api/internal/content"
	"geoportal/api/internal/session"
	"geoportal/api/internal/userstore"
)

// fakeContent is an in-memory content.Store with GitHub sha semantics.
type fakeContent struct {
	mu    sync.Mutex
	files map[string][]byte
	shas  map[string]string
	seq   int
}

func newFakeContent() *fakeContent {
	return &fakeContent{files: make(map[string][]byte), shas: make(map[string]string)}
}

func (f *fakeContent) Get(ctx context.Context, path string) (content.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[path]
	if !ok {
		return content.File{}, content.ErrNotFound
	}
	return content.File{Data: data, SHA: f.shas[path]}, nil
}

func (f *fakeContent) Put(ctx context.Context, path string, data []byte, message, sha string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	current, exists := f.shas[path]
	if (exists && sha != current) || (!exists && sha != "") {
		return "", content.ErrSHAConflict
	}
	f.seq++
	newSHA := fmt.Sprintf("sha-%d", f.seq)
	f.files[path] = data
	f.shas[path] = newSHA
	return newSHA, nil
}

func (f *fakeContent) List(ctx context.Context, dir string) ([]content.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := strings.Trim(dir, "/") + "/"
	seen := make(map[string]bool)
	var entries []content.Entry
	for path := range f.files {
		if !strings.HasPrefix(path, prefix) {
			continue
		}
		name, _, nested := strings.Cut(strings.TrimPrefix(path, prefix), "/")
		if seen[name] {
			continue
		}
		seen[name] = true
		typ := "file"
		entryPath := path
		if nested {
			typ = "dir"
			entryPath = prefix + name
		}
		entries = append(entries, content.Entry{Name: name, Path: entryPath, Type: typ})
	}
	if len(entries) == 0 {
		return nil, content.ErrNotFound
	}
	return entries, nil
}

func (f *fakeContent) Ping(ctx context.Context) error { return nil }

type testEnv struct {
	server  *httptest.Server
	store   *fakeContent
	service *Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := newFakeContent()
	seedUsers(t, store)

	cfg := config.Config{
		JWTSecret:    "test-secret",
		AccessTTL:    time.Hour,
		RefreshTTL:   24 * time.Hour,
		CORSOrigin:   "*",
		UsersPath:    "users.json",
		DataRoot:     "data/validado",
		AssetBaseURL: "https://assets.example",
	}
	users := userstore.New(store, cfg.UsersPath)
	svc := NewService(cfg, users, store, session.NewMemoryStore(), nil, archive.Noop{}, zerolog.Nop())
	httpServer := NewHTTPServer(svc, cfg.CORSOrigin, zerolog.Nop())

	ts := httptest.NewServer(httpServer.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{server: ts, store: store, service: svc}
}

// seedUsers writes a users document with one regular account and one still
// flagged must_change.
func seedUsers(t *testing.T, store *fakeContent) {
	t.Helper()
	hash, err := authpw.HashPassword("correct-horse-1")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	doc := userstore.Document{Users: map[string]userstore.Record{
		"maria": {PasswordHash: hash, Name: "Maria Silva"},
		"novato": {
			PasswordHash: hash,
			Name:         "Novo Usuário",
			MustChange:   true,
		},
	}}
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal users: %v", err)
	}
	if _, err := store.Put(context.Background(), "users.json", data, "seed", ""); err != nil {
		t.Fatalf("seed users: %v", err)
	}
}

func (e *testEnv) request(t *testing.T, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	var payload map[string]any
	if len(raw) > 0 && strings.Contains(resp.Header.Get("Content-Type"), "json") {
		_ = json.Unmarshal(raw, &payload)
	}
	if payload == nil {
		payload = map[string]any{"_raw": string(raw)}
	}
	return resp, payload
}

func (e *testEnv) signIn(t *testing.T, username, password string) (token, refresh string) {
	t.Helper()
	resp, body := e.request(t, http.MethodPost, "/api/auth/signin", "", map[string]string{
		"username": username,
		"password": password,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("signin status = %d body = %v", resp.StatusCode, body)
	}
	token, _ = body["accessToken"].(string)
	refresh, _ = body["refreshToken"].(string)
	if token == "" || refresh == "" {
		t.Fatalf("signin response missing tokens: %v", body)
	}
	return token, refresh
}

// siteWorkbook builds a one-site xlsx with two dated columns.
func siteWorkbook(t *testing.T) []byte {
	t.Helper()
	f := excelize.NewFile()
	f.SetSheetName("Sheet1", "SITE-A")
	rows := [][]interface{}{
		{"Site", "Lat", "Long", "Data", "Col2"},
		{"Data", nil, nil, "05/10/2025", "06/11/2025"},
		{"Taxa Metano", -22.97, -43.18, 12.5, 13.1},
		{"Incerteza", nil, nil, 1.2, 1.4},
		{"Velocidade do Vento", nil, nil, 3.4, 2.8},
		{"Satelite", nil, nil, "GHGSat-C10", "GHGSat-C10"},
		{"Imagem", nil, nil, "images/site-a-out.png", "images/site-a-nov.png"},
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow("SITE-A", cell, &row); err != nil {
			t.Fatalf("SetSheetRow: %v", err)
		}
	}
	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		t.Fatalf("write workbook: %v", err)
	}
	return buf.Bytes()
}
