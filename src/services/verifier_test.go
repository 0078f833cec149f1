package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkinkVerifier_Verify(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"valid":true,"info":{}}`))
	}))
	defer srv.Close()

	v := NewWorkinkVerifier(srv.URL + "/_api/v2/token/isValid/")
	res, err := v.Verify(context.Background(), "tok-123")
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, "/_api/v2/token/isValid/tok-123", gotPath)
	assert.Equal(t, "deleteToken=1&forbiddenOnFail=0", gotQuery)
}

func TestWorkinkVerifier_Invalid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"valid":false}`))
	}))
	defer srv.Close()

	res, err := NewWorkinkVerifier(srv.URL).Verify(context.Background(), "t")
	require.NoError(t, err)
	assert.False(t, res.Valid)
}

func TestWorkinkVerifier_Unavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewWorkinkVerifier(srv.URL).Verify(context.Background(), "t")
	assert.ErrorIs(t, err, ErrVerifierUnavailable)

	_, err = NewWorkinkVerifier("http://127.0.0.1:1").Verify(context.Background(), "t")
	assert.ErrorIs(t, err, ErrVerifierUnavailable)
}
