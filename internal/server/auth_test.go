package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestOpenGateAuthenticatesEveryone(t *testing.T) {
	env := newTestEnv(t, "")
	recorder := env.do(t, http.MethodPut, "/api/v0", map[string]any{
		"type": "status", "user": "hans", "status": "public",
	}, false)
	assertStatusCode(t, recorder, http.StatusOK)
}

func TestBasicAuthIssuesSessionCookie(t *testing.T) {
	env := newTestEnv(t, "hunter2")

	recorder := env.do(t, http.MethodGet, "/api/v0/all?id=last", nil, true)
	assertStatusCode(t, recorder, http.StatusOK)

	cookie := sessionCookieFrom(recorder)
	if cookie == nil || cookie.Value == "" {
		t.Fatal("expected a session cookie after basic auth")
	}
	if cookie.Value == env.password {
		t.Fatal("the cookie must not carry the raw password")
	}
	if !cookie.HttpOnly {
		t.Fatal("expected an http-only cookie")
	}

	// the cookie alone authenticates the next request
	req := httptest.NewRequest(http.MethodGet, "/api/v0/all?id=last", nil)
	req.AddCookie(cookie)
	next := httptest.NewRecorder()
	env.handler.ServeHTTP(next, req)
	assertStatusCode(t, next, http.StatusOK)
}

func TestWrongPasswordStaysPublic(t *testing.T) {
	env := newTestEnv(t, "hunter2")

	req := httptest.NewRequest(http.MethodGet, "/api/v0/all?id=last", nil)
	req.SetBasicAuth("", "wrong")
	recorder := httptest.NewRecorder()
	env.handler.ServeHTTP(recorder, req)
	assertStatusCode(t, recorder, http.StatusUnauthorized)
	if recorder.Header().Get("WWW-Authenticate") != "Basic" {
		t.Fatal("expected a Basic challenge")
	}
}

func TestStaleCookieIsCleared(t *testing.T) {
	env := newTestEnv(t, "hunter2")

	req := httptest.NewRequest(http.MethodGet, "/api/v0/all?id=last", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: "forged"})
	recorder := httptest.NewRecorder()
	env.handler.ServeHTTP(recorder, req)
	assertStatusCode(t, recorder, http.StatusUnauthorized)

	cleared := sessionCookieFrom(recorder)
	if cleared == nil || cleared.Value != "" || cleared.MaxAge >= 0 {
		t.Fatalf("expected the stale cookie to be cleared, got %+v", cleared)
	}
}

func TestPublicReadsWorkWithoutCredentials(t *testing.T) {
	env := newTestEnv(t, "hunter2")
	recorder := env.do(t, http.MethodGet, "/api/v0/status", nil, false)
	assertStatusCode(t, recorder, http.StatusOK)
}

func TestNewAuthGateSaltValidation(t *testing.T) {
	if _, err := NewAuthGate("secret", "zz", nil); err == nil {
		t.Fatal("expected an error for a malformed salt")
	}
	if _, err := NewAuthGate("secret", strings.Repeat("ab", 16), nil); err == nil {
		t.Fatal("expected an error for a short salt")
	}
	if _, err := NewAuthGate("secret", strings.Repeat("ab", 32), nil); err != nil {
		t.Fatalf("expected a 64 hex char salt to pass, got %v", err)
	}
}

func TestCookieDeterministicWithFixedSalt(t *testing.T) {
	salt := strings.Repeat("0f", 32)
	first, err := NewAuthGate("secret", salt, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := NewAuthGate("secret", salt, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.cookie != second.cookie {
		t.Fatal("expected a fixed salt to derive a stable cookie")
	}

	random, err := NewAuthGate("secret", "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if random.cookie == first.cookie {
		t.Fatal("expected a random salt to derive a different cookie")
	}
}

func sessionCookieFrom(recorder *httptest.ResponseRecorder) *http.Cookie {
	for _, cookie := range recorder.Result().Cookies() {
		if cookie.Name == sessionCookieName {
			return cookie
		}
	}
	return nil
}
