package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mdplane/internal/store"
)

func TestDispatchDeliversSignedEnvelope(t *testing.T) {
	var received atomic.Bool
	var gotSig, gotBody string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := make([]byte, r.ContentLength)
		_, _ = r.Body.Read(body)
		gotBody = string(body)
		gotSig = r.Header.Get("X-Mdplane-Signature")
		received.Store(true)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s, err := store.Open(":memory:")
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()
	_, err = s.CreateWorkspace(ctx, "ws_1", "demo")
	require.NoError(t, err)
	_, err = s.CreateWebhookSubscription(ctx, store.WebhookSubscription{
		ID: "sub_1", WorkspaceID: "ws_1", URL: srv.URL, EventFilter: "file.created", Secret: "shh",
	})
	require.NoError(t, err)

	d := New(s, zap.NewNop(), true)
	d.Dispatch(ctx, Event{Type: "file.created", WorkspaceID: "ws_1", Path: "/a.md"})

	require.Eventually(t, func() bool { return received.Load() }, time.Second, 10*time.Millisecond)

	mac := hmac.New(sha256.New, []byte("shh"))
	mac.Write([]byte(gotBody))
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	require.Equal(t, want, gotSig)

	var decoded Event
	require.NoError(t, json.Unmarshal([]byte(gotBody), &decoded))
	require.Equal(t, "file.created", decoded.Type)
}

func TestDispatchSkipsNonMatchingEventType(t *testing.T) {
	var called atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called.Store(true)
	}))
	defer srv.Close()

	s, err := store.Open(":memory:")
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()
	_, _ = s.CreateWorkspace(ctx, "ws_1", "demo")
	_, err = s.CreateWebhookSubscription(ctx, store.WebhookSubscription{
		ID: "sub_1", WorkspaceID: "ws_1", URL: srv.URL, EventFilter: "file.deleted", Secret: "shh",
	})
	require.NoError(t, err)

	d := New(s, zap.NewNop(), true)
	d.Dispatch(ctx, Event{Type: "file.created", WorkspaceID: "ws_1"})

	time.Sleep(50 * time.Millisecond)
	require.False(t, called.Load())
}

func TestMatchesFolderScope(t *testing.T) {
	sub := store.WebhookSubscription{EventFilter: "*", FolderPath: "/docs/"}
	require.True(t, matches(sub, Event{Type: "file.updated", Path: "/docs/readme.md"}))
	require.False(t, matches(sub, Event{Type: "file.updated", Path: "/docs-backup/readme.md"}))
}
