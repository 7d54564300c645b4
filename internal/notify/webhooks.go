package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const defaultWebhookTimeout = 5 * time.Second

// Hook is one webhook endpoint. An empty Events list subscribes to every
// event kind.
type Hook struct {
	URL            string
	Events         []string
	Secret         string
	TimeoutSeconds int
}

// Webhooks POSTs each event as JSON to every subscribed hook. Deliveries run
// off the caller's goroutine; a failed delivery is logged and dropped.
type Webhooks struct {
	hooks  []hookTarget
	client *http.Client
	seq    atomic.Int64
	wg     sync.WaitGroup
}

type hookTarget struct {
	hook   Hook
	filter eventFilter
	client *http.Client
}

func NewWebhooks(hooks []Hook) *Webhooks {
	w := &Webhooks{client: &http.Client{Timeout: defaultWebhookTimeout}}
	for _, h := range hooks {
		if strings.TrimSpace(h.URL) == "" {
			continue
		}
		client := w.client
		if h.TimeoutSeconds > 0 {
			client = &http.Client{Timeout: time.Duration(h.TimeoutSeconds) * time.Second}
		}
		w.hooks = append(w.hooks, hookTarget{hook: h, filter: newEventFilter(h.Events), client: client})
	}
	return w
}

type webhookBody struct {
	Delivery int64  `json:"delivery"`
	Type     string `json:"type"`
	CaseID   string `json:"case_id"`
	Payload  any    `json:"payload"`
}

func (w *Webhooks) Notify(ctx context.Context, e Event) {
	if len(w.hooks) == 0 {
		return
	}
	delivery := w.seq.Add(1)
	data, err := json.Marshal(webhookBody{
		Delivery: delivery,
		Type:     e.Kind(),
		CaseID:   e.CaseID(),
		Payload:  e,
	})
	if err != nil {
		log.Printf("webhook: encode %s failed: %v", e.Kind(), err)
		return
	}
	for _, t := range w.hooks {
		if !t.filter.match(e.Kind()) {
			continue
		}
		t := t
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			if err := t.post(e.Kind(), delivery, data); err != nil {
				log.Printf("webhook: deliver to %s failed: %v", t.hook.URL, err)
			}
		}()
	}
}

// Wait blocks until in-flight deliveries finish. Intended for shutdown and
// tests.
func (w *Webhooks) Wait() {
	w.wg.Wait()
}

func (t hookTarget) post(kind string, delivery int64, data []byte) error {
	req, err := http.NewRequest(http.MethodPost, t.hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Caseflow-Event", kind)
	req.Header.Set("X-Caseflow-Delivery", fmt.Sprintf("%d", delivery))
	if strings.TrimSpace(t.hook.Secret) != "" {
		req.Header.Set("X-Caseflow-Secret", t.hook.Secret)
	}
	res, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	if len(events) == 0 {
		return eventFilter{all: true}
	}
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		key := strings.TrimSpace(evt)
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}
