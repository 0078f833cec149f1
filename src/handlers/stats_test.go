package handlers

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatsSummary(t *testing.T) {
	env := newTestEnv(t)
	r := env.router()

	w := doGet(r, "/workink-return?token=stats-tok")
	assertStatusCode(t, w, http.StatusOK)
	key := decodeJSON(t, w)["key"].(map[string]interface{})["key"].(string)
	doGet(r, "/check?key="+key)
	doGet(r, "/get-key")

	w = doGet(r, "/stats")
	assertStatusCode(t, w, http.StatusOK)
	body := decodeJSON(t, w)
	assert.Equal(t, "memory", body["storage"])

	keys := body["keys"].(map[string]interface{})
	assert.Equal(t, float64(1), keys["total"])
	assert.Equal(t, float64(1), keys["active"])

	events := body["events"].(map[string]interface{})
	assert.Equal(t, float64(1), events["created_7d"])
	assert.Equal(t, float64(1), events["used_7d"])

	traffic := body["traffic"].(map[string]interface{})
	assert.Equal(t, float64(1), traffic["getKey"])
}

func TestAdminStats_Range(t *testing.T) {
	env := newTestEnv(t)
	r := env.router()

	tests := []struct {
		query string
		days  int
	}{
		{"", 7},
		{"?range=1", 1},
		{"?range=90", 30},
		{"?range=0", 1},
		{"?range=abc", 7},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			w := adminRequest(t, env, r, http.MethodGet, "/admin/stats"+tt.query, "")
			assertStatusCode(t, w, http.StatusOK)
			body := decodeJSON(t, w)
			assert.Equal(t, float64(tt.days), body["range"])
			daily, ok := body["daily"].(map[string]interface{})
			require.True(t, ok)
			assert.Len(t, daily["days"], tt.days)
			assert.Len(t, daily["checks"], tt.days)
		})
	}
}
