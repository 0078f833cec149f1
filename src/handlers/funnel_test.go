package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keygate/keygate-server/src/models"
	"github.com/keygate/keygate-server/src/services"
)

func TestHandleGate(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/gate", nil)
	req.Host = "keys.example.com"
	req.Header.Set("X-Forwarded-Proto", "https")
	w := httptest.NewRecorder()
	env.router().ServeHTTP(w, req)

	assertStatusCode(t, w, http.StatusOK)
	assert.Equal(t, "https://keys.example.com/get-key", decodeJSON(t, w)["url"])
}

func TestHandleGetKey_ReturnsConfig(t *testing.T) {
	env := newTestEnv(t)

	w := doGet(env.router(), "/get-key")

	assertStatusCode(t, w, http.StatusOK)
	body := decodeJSON(t, w)
	groups, ok := body["groups"].([]interface{})
	require.True(t, ok)
	assert.Len(t, groups, 2)
	assert.Equal(t, "https://work.ink/test", body["taskUrl"])
	first := groups[0].(map[string]interface{})["items"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "youtube", first["type"])
	assert.Equal(t, "channel-subscribe", first["category"])
	second := groups[1].(map[string]interface{})["items"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "external-task", second["category"])

	n, err := env.events.Count(context.Background(), models.EventFunnelEntry, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestWorkinkReturn_IssuesAndRemembers(t *testing.T) {
	env := newTestEnv(t)
	r := env.router()

	w := doGet(r, "/workink-return?token=tok-1")
	assertStatusCode(t, w, http.StatusOK)

	body := decodeJSON(t, w)
	key := body["key"].(map[string]interface{})
	assert.Equal(t, true, key["created"])
	issued := key["key"].(string)
	assert.Len(t, issued, 8)

	var cookie *http.Cookie
	for _, ck := range w.Result().Cookies() {
		if ck.Name == FunnelTokenCookie {
			cookie = ck
		}
	}
	require.NotNil(t, cookie)
	assert.Equal(t, "tok-1", cookie.Value)
	assert.Equal(t, 3600, cookie.MaxAge)
	assert.True(t, cookie.HttpOnly)

	// Revisiting with the same token returns the same key without verifying again.
	w = doGet(r, "/workink-return?token=tok-1")
	assertStatusCode(t, w, http.StatusOK)
	again := decodeJSON(t, w)["key"].(map[string]interface{})
	assert.Equal(t, issued, again["key"])
	assert.Equal(t, false, again["created"])
	assert.Equal(t, int32(1), env.verifier.calls)

	// The cookie short-circuits the funnel.
	req := httptest.NewRequest(http.MethodGet, "/get-key", nil)
	req.AddCookie(cookie)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assertStatusCode(t, w, http.StatusOK)
	fromCookie := decodeJSON(t, w)["key"].(map[string]interface{})
	assert.Equal(t, issued, fromCookie["key"])
}

func TestWorkinkReturn_Errors(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		verifier *fakeVerifier
		code     int
	}{
		{"missing token", "", &fakeVerifier{valid: true}, http.StatusBadRequest},
		{"rejected", "token=bad", &fakeVerifier{valid: false}, http.StatusForbidden},
		{"provider down", "token=x", &fakeVerifier{err: fmt.Errorf("%w: timeout", services.ErrVerifierUnavailable)}, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.issuance = services.NewIssuanceService(env.keys, env.tokens, env.events, tt.verifier, nil, nil, time.Hour)

			w := doGet(env.router(), "/workink-return?"+tt.query)

			assertStatusCode(t, w, tt.code)
			assert.Empty(t, w.Result().Cookies())
			page, err := env.keys.List(context.Background(), models.KeyQuery{Page: 1, PageSize: 10, Now: time.Now()})
			require.NoError(t, err)
			assert.Zero(t, page.Total)
		})
	}
}

func TestHandleAdvance(t *testing.T) {
	env := newTestEnv(t)
	r := env.router()
	started := time.Now().Add(-time.Minute).UTC().Format(time.RFC3339)

	tests := []struct {
		name      string
		body      string
		code      int
		satisfied bool
		next      float64
	}{
		{"nothing done", `{"progress":[]}`, http.StatusOK, false, 0},
		{"dwell not reported", `{"progress":[[{"completed":true}]]}`, http.StatusOK, false, 0},
		{"first group", `{"progress":[[{"completed":true,"startedAt":"` + started + `"}]]}`, http.StatusOK, false, 1},
		{"all groups", `{"progress":[[{"completed":true,"startedAt":"` + started + `"}],[{"completed":true}]]}`, http.StatusOK, true, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/funnel/advance", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			r.ServeHTTP(w, req)

			assertStatusCode(t, w, tt.code)
			body := decodeJSON(t, w)
			assert.Equal(t, tt.satisfied, body["satisfied"])
			assert.Equal(t, tt.next, body["nextGroup"])
			if tt.satisfied {
				assert.Equal(t, "https://work.ink/test", body["taskUrl"])
			} else {
				assert.NotContains(t, body, "taskUrl")
			}
		})
	}

	n, err := env.events.Count(context.Background(), models.EventCheckpointAdvance, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, len(tests), n)
}

func TestHandleAdvance_BadBody(t *testing.T) {
	env := newTestEnv(t)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/funnel/advance", strings.NewReader("{"))
	env.router().ServeHTTP(w, req)

	assertStatusCode(t, w, http.StatusBadRequest)
	assertJSONError(t, w, "invalid request body")
}
