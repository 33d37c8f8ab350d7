package receivers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tipjar "github.com/surgesocial/tipjar/pkg"
)

func confirmedMsg() tipjar.Message {
	return tipjar.Message{
		EventType: tipjar.TIP_CONFIRMED,
		Message:   []byte(`{"id":"t1","status":"confirmed"}`),
		ID:        "t1-CONFIRMED-0",
	}
}

func TestGenerateSha256HMAC(t *testing.T) {
	h := hmac.New(sha256.New, []byte("secret"))
	h.Write([]byte("1700000000.{}"))
	assert.Equal(t, hex.EncodeToString(h.Sum(nil)), generateSha256HMAC("1700000000", []byte("{}"), "secret"))
	assert.Equal(t, "", generateSha256HMAC("1700000000", []byte("{}"), ""))
}

func TestTopic(t *testing.T) {
	assert.Equal(t, "TIP.CONFIRMED", Topic(confirmedMsg()))
	assert.Equal(t, "USR.tip_received", Topic(tipjar.Message{EventType: tipjar.USR_TIP_RECEIVED}))
}

func TestCallbackSignedAndRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		body, _ := io.ReadAll(r.Body)
		ts := r.Header.Get("X-Tipjar-Timestamp")
		assert.Equal(t, "sha256="+generateSha256HMAC(ts, body, "s3cret"), r.Header.Get("X-Tipjar-Signature"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var got struct {
			Type  string `json:"type"`
			Event string `json:"event"`
			ID    string `json:"id"`
		}
		assert.NoError(t, json.Unmarshal(body, &got))
		assert.Equal(t, "TIP", got.Type)
		assert.Equal(t, "CONFIRMED", got.Event)
		assert.Equal(t, "t1-CONFIRMED-0", got.ID)

		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewCallbackSender(tipjar.CallbackConfig{Path: srv.URL, HMACSecret: "s3cret"}, tipjar.NewMessageBus())
	s.delay = time.Millisecond
	err := s.postWithRetry(context.Background(), confirmedMsg())
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestCallbackGivesUp(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Empty(t, r.Header.Get("X-Tipjar-Signature"), "unsigned without a secret")
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s := NewCallbackSender(tipjar.CallbackConfig{Path: srv.URL}, tipjar.NewMessageBus())
	s.delay = time.Millisecond
	err := s.postWithRetry(context.Background(), confirmedMsg())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 502")
	assert.Equal(t, int32(CALLBACK_MAX_RETRIES+1), atomic.LoadInt32(&calls))
}

func TestCallbackService(t *testing.T) {
	got := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- string(body)
	}))
	defer srv.Close()

	s := NewCallbackSender(tipjar.CallbackConfig{Path: srv.URL}, tipjar.NewMessageBus())
	started, stopped, stop := make(chan bool, 1), make(chan bool), make(chan context.Context, 1)
	require.NoError(t, s.Run(started, stopped, stop))
	<-started

	s.GetChan() <- confirmedMsg()
	select {
	case body := <-got:
		assert.Contains(t, body, `"status":"confirmed"`)
	case <-time.After(5 * time.Second):
		t.Fatal("callback was not delivered")
	}

	stop <- context.Background()
	<-stopped
}

func TestMessageLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.log")
	l := NewMessageLogger(path)
	started, stopped, stop := make(chan bool, 1), make(chan bool), make(chan context.Context, 1)
	require.NoError(t, l.Run(started, stopped, stop))
	<-started

	l.GetChan() <- confirmedMsg()
	require.Eventually(t, func() bool {
		b, _ := os.ReadFile(path)
		return strings.Contains(string(b), "TIP:CONFIRMED (t1-CONFIRMED-0)")
	}, 5*time.Second, 10*time.Millisecond)

	stop <- context.Background()
	<-stopped
}
