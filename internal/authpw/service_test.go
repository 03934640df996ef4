package authpw

import (
	"context"
	"errors"
	"testing"
	"time"

	"geoportal/api/internal/userstore"

	"golang.org/x/crypto/bcrypt"
)

type fakeUsers struct {
	doc       userstore.Document
	sha       string
	saveCalls int
	saveErr   error
}

func (f *fakeUsers) Load(_ context.Context) (userstore.Document, string, error) {
	return f.doc, f.sha, nil
}

func (f *fakeUsers) Save(_ context.Context, doc userstore.Document, _, _ string) (string, error) {
	f.saveCalls++
	if f.saveErr != nil {
		return "", f.saveErr
	}
	f.doc = doc
	return "new-sha", nil
}

func mustHash(t *testing.T, plain string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	return string(hash)
}

func seededUsers(t *testing.T, mustChange bool) *fakeUsers {
	t.Helper()
	return &fakeUsers{
		doc: userstore.Document{Users: map[string]userstore.Record{
			"ana": {
				PasswordHash: mustHash(t, "correct-horse"),
				Name:         "Ana Souza",
				MustChange:   mustChange,
			},
		}},
		sha: "sha-1",
	}
}

func TestSignInSuccessCarriesMustChange(t *testing.T) {
	svc := NewService(seededUsers(t, true))

	resp, err := svc.SignIn(context.Background(), SignInRequest{Username: "ana", Password: "correct-horse"})
	if err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if resp.DisplayName != "Ana Souza" {
		t.Fatalf("unexpected display name %q", resp.DisplayName)
	}
	if !resp.MustChange {
		t.Fatalf("expected MustChange")
	}
}

func TestSignInGenericErrorForUnknownUserAndWrongPassword(t *testing.T) {
	svc := NewService(seededUsers(t, false))
	ctx := context.Background()

	_, errUnknown := svc.SignIn(ctx, SignInRequest{Username: "nobody", Password: "whatever"})
	_, errWrong := svc.SignIn(ctx, SignInRequest{Username: "ana", Password: "wrong"})

	if !errors.Is(errUnknown, ErrInvalidCredentials) {
		t.Fatalf("unknown user: expected ErrInvalidCredentials, got %v", errUnknown)
	}
	if !errors.Is(errWrong, ErrInvalidCredentials) {
		t.Fatalf("wrong password: expected ErrInvalidCredentials, got %v", errWrong)
	}
	if errUnknown.Error() != errWrong.Error() {
		t.Fatalf("error messages must match: %q vs %q", errUnknown, errWrong)
	}
}

func TestChangePasswordRejectionsWriteNothing(t *testing.T) {
	cases := []struct {
		name string
		req  ChangePasswordRequest
		want error
	}{
		{
			name: "mismatched repeat",
			req:  ChangePasswordRequest{Username: "ana", CurrentPassword: "correct-horse", NewPassword: "longenough1", RepeatPassword: "longenough2"},
			want: ErrPasswordMismatch,
		},
		{
			name: "too short",
			req:  ChangePasswordRequest{Username: "ana", CurrentPassword: "correct-horse", NewPassword: "short", RepeatPassword: "short"},
			want: ErrPasswordTooShort,
		},
		{
			name: "wrong current",
			req:  ChangePasswordRequest{Username: "ana", CurrentPassword: "nope", NewPassword: "longenough1", RepeatPassword: "longenough1"},
			want: ErrInvalidCredentials,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			users := seededUsers(t, true)
			before := users.doc.Users["ana"].PasswordHash
			svc := NewService(users)

			err := svc.ChangePassword(context.Background(), tc.req)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if users.saveCalls != 0 {
				t.Fatalf("expected no save attempt, got %d", users.saveCalls)
			}
			if users.doc.Users["ana"].PasswordHash != before {
				t.Fatalf("stored hash mutated on rejected change")
			}
		})
	}
}

func TestChangePasswordReplacesHashAndClearsMustChange(t *testing.T) {
	users := seededUsers(t, true)
	svc := NewService(users)

	err := svc.ChangePassword(context.Background(), ChangePasswordRequest{
		Username:        "ana",
		CurrentPassword: "correct-horse",
		NewPassword:     "brand-new-secret",
		RepeatPassword:  "brand-new-secret",
	})
	if err != nil {
		t.Fatalf("ChangePassword failed: %v", err)
	}
	rec := users.doc.Users["ana"]
	if rec.MustChange {
		t.Fatalf("must_change not cleared")
	}
	if bcrypt.CompareHashAndPassword([]byte(rec.PasswordHash), []byte("brand-new-secret")) != nil {
		t.Fatalf("new password does not verify")
	}
	if bcrypt.CompareHashAndPassword([]byte(rec.PasswordHash), []byte("correct-horse")) == nil {
		t.Fatalf("old password still verifies")
	}
}

func TestRequestPasswordResetUnknownUserIsSilent(t *testing.T) {
	users := seededUsers(t, false)
	svc := NewService(users)

	code, err := svc.RequestPasswordReset(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	if code != "" {
		t.Fatalf("expected empty code for unknown user, got %q", code)
	}
	if users.saveCalls != 0 {
		t.Fatalf("expected no save for unknown user")
	}
}

func TestResetPasswordConsumesCodeOnce(t *testing.T) {
	users := seededUsers(t, false)
	svc := NewService(users)
	ctx := context.Background()

	code, err := svc.RequestPasswordReset(ctx, "ana")
	if err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	if len(code) != 6 {
		t.Fatalf("expected 6-digit code, got %q", code)
	}

	req := ResetPasswordRequest{Username: "ana", Code: code, NewPassword: "another-secret1"}
	if err := svc.ResetPassword(ctx, req); err != nil {
		t.Fatalf("ResetPassword failed: %v", err)
	}
	if users.doc.Users["ana"].Reset != nil {
		t.Fatalf("reset code not removed after use")
	}

	if err := svc.ResetPassword(ctx, req); !errors.Is(err, ErrInvalidResetCode) {
		t.Fatalf("expected ErrInvalidResetCode on reuse, got %v", err)
	}
}

func TestResetPasswordExpiredCodeRejected(t *testing.T) {
	users := seededUsers(t, false)
	svc := NewService(users)
	ctx := context.Background()

	code, err := svc.RequestPasswordReset(ctx, "ana")
	if err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}

	svc.now = func() time.Time { return time.Now().Add(16 * time.Minute) }
	err = svc.ResetPassword(ctx, ResetPasswordRequest{Username: "ana", Code: code, NewPassword: "another-secret1"})
	if !errors.Is(err, ErrInvalidResetCode) {
		t.Fatalf("expected ErrInvalidResetCode, got %v", err)
	}
}
