package intrusion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"
)

// WebhookAlerter posts each alert as JSON to a URL. Delivery is
// fire-and-forget: Alert returns once the request is scheduled.
type WebhookAlerter struct {
	url     string
	client  *http.Client
	headers map[string]string

	wg sync.WaitGroup
}

// NewWebhookAlerter creates an alerter for url. A nil client gets a 5s
// timeout.
func NewWebhookAlerter(url string, client *http.Client, headers map[string]string) (*WebhookAlerter, error) {
	if url == "" {
		return nil, errors.New("webhook url is required")
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	h := make(map[string]string, len(headers))
	for k, v := range headers {
		h[k] = v
	}
	return &WebhookAlerter{url: url, client: client, headers: h}, nil
}

// Alert implements Alerter.
func (w *WebhookAlerter) Alert(_ context.Context, alert Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return err
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := w.post(body); err != nil {
			log.Printf("goVerify: intrusion webhook: %v", err)
		}
	}()
	return nil
}

// Wait blocks until every scheduled delivery has finished.
func (w *WebhookAlerter) Wait() {
	w.wg.Wait()
}

func (w *WebhookAlerter) post(body []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), w.client.Timeout+time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
