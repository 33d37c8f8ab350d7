package receivers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	tipjar "github.com/surgesocial/tipjar/pkg"
	"github.com/surgesocial/tipjar/pkg/conductor"
)

const (
	CALLBACK_MAX_RETRIES   = 6
	CALLBACK_INITIAL_DELAY = 1 * time.Second
	CALLBACK_MAX_DELAY     = 32 * time.Second
)

// CallbackSender POSTs bus events as JSON to a configured URL, signed
// with HMAC-SHA256 when a secret is configured.
type CallbackSender struct {
	// incoming msgs
	Rec        chan tipjar.Message
	Path       string
	HMACSecret string
	Bus        tipjar.MessageBus
	client     *http.Client
	delay      time.Duration // first retry delay
}

var _ conductor.Service = CallbackSender{}

func NewCallbackSender(config tipjar.CallbackConfig, bus tipjar.MessageBus) CallbackSender {
	return CallbackSender{
		Rec:        make(chan tipjar.Message, 1000),
		Path:       config.Path,
		HMACSecret: config.HMACSecret,
		Bus:        bus,
		client:     &http.Client{Timeout: 30 * time.Second},
		delay:      CALLBACK_INITIAL_DELAY,
	}
}

// Implements tipjar.MessageSubscriber
func (s CallbackSender) GetChan() chan tipjar.Message {
	return s.Rec
}

// Implements conductor.Service
func (s CallbackSender) Run(started, stopped chan bool, stop chan context.Context) error {
	go func() {
		ctx, cancel := context.WithCancel(context.Background())
		wg := sync.WaitGroup{}
		started <- true
		for {
			select {
			// handle stopping the service
			case <-stop:
				cancel() // abandon retries in progress
				wg.Wait()
				close(stopped)
				return
			case msg := <-s.Rec:
				// deliver concurrently so one slow endpoint response
				// does not hold up the following events.
				wg.Add(1)
				go func() {
					defer wg.Done()
					err := s.postWithRetry(ctx, msg)
					if err != nil && msg.EventType.Type() != "SYS" {
						s.Bus.Send(tipjar.SYS_ERR, fmt.Sprintf("CallbackSender: %s: %v", s.Path, err))
					}
				}()
			}
		}
	}()
	return nil
}

// Reads config and sets up any configured callbacks
func SetupCallbacks(cond *conductor.Conductor, bus tipjar.MessageBus, conf tipjar.Config) {
	for name, c := range conf.Callbacks {
		s := NewCallbackSender(c, bus)
		cond.Service(fmt.Sprintf("Callback sender for: %s", c.Path), s)
		subscribe(bus, s, "Callback", name, c.Types)
	}
}

// generateSha256HMAC signs "timestamp.payload" so receivers can reject
// replays of old deliveries.
func generateSha256HMAC(timestamp string, payload []byte, secret string) string {
	if secret == "" {
		return ""
	}
	dataToSign := []byte(fmt.Sprintf("%s.%s", timestamp, string(payload)))
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(dataToSign)
	return hex.EncodeToString(h.Sum(nil))
}

func (s CallbackSender) postWithRetry(ctx context.Context, msg tipjar.Message) error {
	objJSON, err := json.Marshal(msg)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("failed to serialize message: %w", err))
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.delay
	b.MaxInterval = CALLBACK_MAX_DELAY
	b.MaxElapsedTime = 0 // bounded by retries

	attempt := 0
	op := func() error {
		attempt++
		return s.post(ctx, objJSON)
	}
	notify := func(err error, delay time.Duration) {
		log.Printf("CallbackSender: %s: attempt %d failed, retrying in %v: %v\n", s.Path, attempt, delay, err)
	}
	err = backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(b, CALLBACK_MAX_RETRIES), ctx), notify)
	if err != nil {
		return fmt.Errorf("giving up after %d attempts: %w", attempt, err)
	}
	return nil
}

// post makes one delivery attempt; the request is rebuilt every time
// because a sent body cannot be replayed.
func (s CallbackSender) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, "POST", s.Path, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.HMACSecret != "" {
		timestampStr := strconv.FormatInt(time.Now().Unix(), 10)
		signature := generateSha256HMAC(timestampStr, body, s.HMACSecret)
		req.Header.Set("X-Tipjar-Signature", fmt.Sprintf("sha256=%s", signature))
		req.Header.Set("X-Tipjar-Timestamp", timestampStr)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
