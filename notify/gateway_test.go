package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQuickResponseOptions(t *testing.T) {
	opts := QuickResponseOptions()
	require.LessOrEqual(t, len(opts), 6)

	freeText := 0
	ratings := map[int]bool{}
	for _, o := range opts {
		if o.FreeText {
			freeText++
			continue
		}
		ratings[o.Rating] = true
	}
	require.Equal(t, 1, freeText)
	for r := 1; r <= 5; r++ {
		require.True(t, ratings[r], "rating %d", r)
	}
}

func TestGatewayDispatcherPostsWithToken(t *testing.T) {
	var mu sync.Mutex
	var gotPath, gotAuth string
	var got ClaimDelivery

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	d := NewGatewayDispatcher(srv.URL+"/", "secret", srv.Client(), 0, 1)
	err := d.DeliverClaim(context.Background(), ClaimDelivery{
		UserID:     "u1",
		ClaimID:    "c1",
		ItemType:   "netflix",
		Attachment: Attachment{Name: "a.txt", Content: []byte("user:pass")},
		Deadline:   time.Date(2025, 1, 1, 0, 15, 0, 0, time.UTC),
		Options:    QuickResponseOptions(),
	})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "/dm/claims", gotPath)
	require.Equal(t, "Bearer secret", gotAuth)
	require.Equal(t, "c1", got.ClaimID)
	require.Equal(t, []byte("user:pass"), got.Attachment.Content)
}

func TestGatewayDispatcherDeliveryFailure(t *testing.T) {
	status := http.StatusForbidden
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte("cannot send messages to this user"))
	}))
	defer srv.Close()

	d := NewGatewayDispatcher(srv.URL, "secret", srv.Client(), 100, 5)

	err := d.Notify(context.Background(), Notice{UserID: "u1", Title: "hi"})
	require.ErrorIs(t, err, ErrDeliveryFailed)

	status = http.StatusInternalServerError
	err = d.Log(context.Background(), "g1", "hello")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrDeliveryFailed)
}
