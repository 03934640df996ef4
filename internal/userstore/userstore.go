// Package userstore persists the users document (users.json) in the content
// store. The blob sha read alongside the document must be presented on save,
// which makes GitHub reject racing writers instead of silently losing one.
package userstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"geoportal/api/internal/content"
)

// Record is one user entry. The "password" key historically holds the bcrypt
// hash, never plaintext.
type Record struct {
	PasswordHash string `json:"password"`
	Name         string `json:"name"`
	MustChange   bool   `json:"must_change"`
	Reset        *Reset `json:"reset,omitempty"`
}

// Reset is a pending forgot-password code. It is consumed once and removed.
type Reset struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
}

type Document struct {
	Users map[string]Record `json:"users"`
}

type Store struct {
	content content.Store
	path    string
}

func New(contentStore content.Store, path string) *Store {
	return &Store{content: contentStore, path: path}
}

// Load fetches the users document and the sha to present on the next save.
func (s *Store) Load(ctx context.Context) (Document, string, error) {
	file, err := s.content.Get(ctx, s.path)
	if err != nil {
		return Document{}, "", fmt.Errorf("load users document: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(file.Data, &doc); err != nil {
		return Document{}, "", fmt.Errorf("decode users document: %w", err)
	}
	if doc.Users == nil {
		doc.Users = map[string]Record{}
	}
	return doc, file.SHA, nil
}

// Save writes the document back under the sha read by Load and returns the new
// sha. A stale sha surfaces as content.ErrSHAConflict.
func (s *Store) Save(ctx context.Context, doc Document, message, sha string) (string, error) {
	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal users document: %w", err)
	}
	newSHA, err := s.content.Put(ctx, s.path, append(payload, '\n'), message, sha)
	if err != nil {
		return "", fmt.Errorf("save users document: %w", err)
	}
	return newSHA, nil
}
