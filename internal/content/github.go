package content

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// GitHubStore talks to the GitHub Contents API:
// GET/PUT /repos/{repo}/contents/{path}. GitHub enforces the optimistic lock
// server-side by rejecting a PUT whose sha is stale.
type GitHubStore struct {
	apiBase string
	repo    string
	branch  string
	token   string
	client  *http.Client

	retries int
	backoff time.Duration
}

func NewGitHubStore(apiBase, repo, branch, token string) *GitHubStore {
	return &GitHubStore{
		apiBase: strings.TrimRight(apiBase, "/"),
		repo:    repo,
		branch:  branch,
		token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
		retries: 3,
		backoff: 500 * time.Millisecond,
	}
}

type contentsResponse struct {
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
	SHA      string `json:"sha"`
}

type putRequest struct {
	Message string `json:"message"`
	Content string `json:"content"`
	Branch  string `json:"branch"`
	SHA     string `json:"sha,omitempty"`
}

type putResponse struct {
	Content struct {
		SHA string `json:"sha"`
	} `json:"content"`
}

func (s *GitHubStore) Get(ctx context.Context, path string) (File, error) {
	resp, err := s.do(ctx, http.MethodGet, s.contentsURL(path, true), nil)
	if err != nil {
		return File{}, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return File{}, fmt.Errorf("get %s: %w", path, ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return File{}, statusError("get", path, resp)
	}

	var payload contentsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return File{}, fmt.Errorf("decode contents response: %w", err)
	}
	data, err := base64.StdEncoding.DecodeString(stripNewlines(payload.Content))
	if err != nil {
		return File{}, fmt.Errorf("decode base64 content for %s: %w", path, err)
	}
	return File{Data: data, SHA: payload.SHA}, nil
}

func (s *GitHubStore) Put(ctx context.Context, path string, data []byte, message, sha string) (string, error) {
	body, err := json.Marshal(putRequest{
		Message: message,
		Content: base64.StdEncoding.EncodeToString(data),
		Branch:  s.branch,
		SHA:     sha,
	})
	if err != nil {
		return "", fmt.Errorf("marshal put request: %w", err)
	}

	resp, err := s.do(ctx, http.MethodPut, s.contentsURL(path, false), body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
	case http.StatusConflict, http.StatusUnprocessableEntity:
		// GitHub answers 409 for a stale sha and 422 for a missing one on an
		// existing path.
		return "", fmt.Errorf("put %s: %w", path, ErrSHAConflict)
	case http.StatusNotFound:
		return "", fmt.Errorf("put %s: %w", path, ErrNotFound)
	default:
		return "", statusError("put", path, resp)
	}

	var payload putResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode put response: %w", err)
	}
	return payload.Content.SHA, nil
}

func (s *GitHubStore) List(ctx context.Context, path string) ([]Entry, error) {
	resp, err := s.do(ctx, http.MethodGet, s.contentsURL(path, true), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("list %s: %w", path, ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return nil, statusError("list", path, resp)
	}

	var items []struct {
		Name string `json:"name"`
		Path string `json:"path"`
		SHA  string `json:"sha"`
		Type string `json:"type"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("decode listing for %s: %w", path, err)
	}
	entries := make([]Entry, 0, len(items))
	for _, item := range items {
		entries = append(entries, Entry{Name: item.Name, Path: item.Path, SHA: item.SHA, Type: item.Type})
	}
	return entries, nil
}

func (s *GitHubStore) Ping(ctx context.Context) error {
	resp, err := s.do(ctx, http.MethodGet, fmt.Sprintf("%s/repos/%s", s.apiBase, s.repo), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError("ping", s.repo, resp)
	}
	return nil
}

// do issues the request with a bounded retry on transport errors and 5xx
// responses. Client errors are returned to the caller immediately: retrying a
// stale-sha PUT can never succeed.
func (s *GitHubStore) do(ctx context.Context, method, rawURL string, body []byte) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= s.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.backoff * time.Duration(attempt)):
			}
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/vnd.github+json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if s.token != "" {
			req.Header.Set("Authorization", "Bearer "+s.token)
		}

		resp, err := s.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode >= 500 {
			lastErr = statusError(method, rawURL, resp)
			resp.Body.Close()
			continue
		}
		return resp, nil
	}
	return nil, fmt.Errorf("github request failed after %d attempts: %w", s.retries+1, lastErr)
}

func (s *GitHubStore) contentsURL(path string, withRef bool) string {
	escaped := (&url.URL{Path: strings.TrimLeft(path, "/")}).EscapedPath()
	raw := fmt.Sprintf("%s/repos/%s/contents/%s", s.apiBase, s.repo, escaped)
	if withRef && s.branch != "" {
		raw += "?ref=" + url.QueryEscape(s.branch)
	}
	return raw
}

func statusError(op, target string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("github %s %s: status %d: %s", op, target, resp.StatusCode, strings.TrimSpace(string(body)))
}

func stripNewlines(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' {
			return -1
		}
		return r
	}, s)
}
