package app

import (
	"net/http"
	"testing"
)

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.request(t, http.MethodGet, "/api/health", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["ok"] != true {
		t.Errorf("body = %v", body)
	}
}

func TestReady(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.request(t, http.MethodGet, "/api/ready", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d body = %v", resp.StatusCode, body)
	}
	if body["status"] != "ready" {
		t.Errorf("body = %v", body)
	}
}

func TestSignInAndSession(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.signIn(t, "maria", "correct-horse-1")

	resp, body := env.request(t, http.MethodGet, "/api/session", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["authenticated"] != true || body["username"] != "maria" || body["displayName"] != "Maria Silva" {
		t.Errorf("session = %v", body)
	}
	if body["mustChange"] != false {
		t.Errorf("mustChange = %v", body["mustChange"])
	}
}

func TestSignInWrongPassword(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.request(t, http.MethodPost, "/api/auth/signin", "", map[string]string{
		"username": "maria",
		"password": "wrong",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d body = %v", resp.StatusCode, body)
	}
	if body["code"] != "INVALID_CREDENTIALS" {
		t.Errorf("code = %v", body["code"])
	}
}

func TestMustChangeLockout(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.signIn(t, "novato", "correct-horse-1")

	// locked out of regular routes
	resp, body := env.request(t, http.MethodGet, "/api/validation", token, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d body = %v", resp.StatusCode, body)
	}
	if body["code"] != "PASSWORD_CHANGE_REQUIRED" {
		t.Errorf("code = %v", body["code"])
	}

	// change-password stays reachable and returns a fresh session
	resp, body = env.request(t, http.MethodPost, "/api/auth/change-password", token, map[string]string{
		"currentPassword": "correct-horse-1",
		"newPassword":     "battery-staple-2",
		"repeatPassword":  "battery-staple-2",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("change-password status = %d body = %v", resp.StatusCode, body)
	}
	if body["mustChange"] != false {
		t.Errorf("fresh session mustChange = %v", body["mustChange"])
	}
	fresh, _ := body["accessToken"].(string)

	// old token is revoked, new one works
	resp, _ = env.request(t, http.MethodGet, "/api/validation", token, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("old token status = %d", resp.StatusCode)
	}
	resp, _ = env.request(t, http.MethodGet, "/api/validation", fresh, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("fresh token status = %d", resp.StatusCode)
	}
}

func TestChangePasswordMismatchRejected(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.signIn(t, "maria", "correct-horse-1")

	resp, body := env.request(t, http.MethodPost, "/api/auth/change-password", token, map[string]string{
		"currentPassword": "correct-horse-1",
		"newPassword":     "battery-staple-2",
		"repeatPassword":  "different",
	})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d body = %v", resp.StatusCode, body)
	}

	// original password still valid
	env.signIn(t, "maria", "correct-horse-1")
}

func TestRefreshRotates(t *testing.T) {
	env := newTestEnv(t)
	_, refresh := env.signIn(t, "maria", "correct-horse-1")

	resp, body := env.request(t, http.MethodPost, "/api/session/refresh", "", map[string]string{
		"refreshToken": refresh,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh status = %d body = %v", resp.StatusCode, body)
	}
	if tok, _ := body["accessToken"].(string); tok == "" {
		t.Error("missing new access token")
	}

	// the first refresh token is single-use
	resp, _ = env.request(t, http.MethodPost, "/api/session/refresh", "", map[string]string{
		"refreshToken": refresh,
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("reused refresh status = %d", resp.StatusCode)
	}
}

func TestLogoutRevokesAccessToken(t *testing.T) {
	env := newTestEnv(t)
	token, refresh := env.signIn(t, "maria", "correct-horse-1")

	resp, _ := env.request(t, http.MethodPost, "/api/session/logout", token, map[string]string{
		"refreshToken": refresh,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout status = %d", resp.StatusCode)
	}

	resp, _ = env.request(t, http.MethodGet, "/api/validation", token, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("post-logout status = %d", resp.StatusCode)
	}
}

func TestResetPasswordFlow(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.request(t, http.MethodPost, "/api/auth/reset-password/request", "", map[string]string{
		"username": "maria",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("request status = %d", resp.StatusCode)
	}
	code, _ := body["devResetCode"].(string)
	if code == "" {
		t.Fatalf("dev bypass should return the code, body = %v", body)
	}

	resp, body = env.request(t, http.MethodPost, "/api/auth/reset-password", "", map[string]string{
		"username":    "maria",
		"code":        code,
		"newPassword": "battery-staple-2",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reset status = %d body = %v", resp.StatusCode, body)
	}

	env.signIn(t, "maria", "battery-staple-2")
}

func TestResetRequestUnknownUserSilent(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.request(t, http.MethodPost, "/api/auth/reset-password/request", "", map[string]string{
		"username": "ghost",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if _, ok := body["devResetCode"]; ok {
		t.Error("unknown user must not receive a code")
	}
}
