package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keygate/keygate-server/src/models"
)

func TestWebhookNotifier_Delivers(t *testing.T) {
	received := make(chan webhookPayload, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p webhookPayload
		_ = json.NewDecoder(r.Body).Decode(&p)
		received <- p
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, 10)
	n.Start(context.Background())
	defer n.Stop()

	n.KeyCreated(&models.KeyRecord{Key: "NOTIFY01", Source: models.SourceExternalFunnel})

	select {
	case p := <-received:
		assert.Contains(t, p.Content, "NOTIFY01")
		assert.Contains(t, p.Content, "never")
	case <-time.After(5 * time.Second):
		t.Fatal("notification not delivered")
	}
}

func TestWebhookNotifier_DropsWhenFull(t *testing.T) {
	n := NewWebhookNotifier("http://127.0.0.1:1", 1)

	n.KeyCreated(&models.KeyRecord{Key: "A"})
	n.KeyCreated(&models.KeyRecord{Key: "B"})

	require.Len(t, n.queue, 1)
	rec := <-n.queue
	assert.Equal(t, "A", rec.Key)
}

func TestWebhookNotifier_SetURL(t *testing.T) {
	received := make(chan webhookPayload, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p webhookPayload
		_ = json.NewDecoder(r.Body).Decode(&p)
		received <- p
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier("", 10)
	n.KeyCreated(&models.KeyRecord{Key: "SKIPPED1"})
	assert.Len(t, n.queue, 0, "no target means nothing is queued")

	n.Start(context.Background())
	defer n.Stop()
	n.SetURL(srv.URL)
	assert.Equal(t, srv.URL, n.URL())
	n.KeyCreated(&models.KeyRecord{Key: "SWITCH01"})

	select {
	case p := <-received:
		assert.Contains(t, p.Content, "SWITCH01")
	case <-time.After(5 * time.Second):
		t.Fatal("notification not delivered after SetURL")
	}
}
