package server

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
	"time"

	"careline/internal/config"
	"careline/internal/feed"
	"careline/internal/store"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
)

// webhookDispatcher pushes change feed rows to the plan's webhook
// targets. Each target keeps its own cursor, initialized to the feed's
// tail so only changes after startup are delivered.
type webhookDispatcher struct {
	store    *store.Store
	webhooks []config.WebhookConfig
	client   *http.Client
	interval time.Duration
	stop     chan struct{}
	mu       sync.Mutex
	cursors  map[int]int64
}

// startWebhookDispatcher returns a func stopping the dispatcher
// goroutine; callers invoke it before closing the store.
func startWebhookDispatcher(s *store.Store, hooks []config.WebhookConfig) func() {
	if len(hooks) == 0 {
		return func() {}
	}
	d := &webhookDispatcher{
		store:    s,
		webhooks: hooks,
		client:   &http.Client{Timeout: defaultWebhookTimeout},
		interval: defaultWebhookInterval,
		stop:     make(chan struct{}),
		cursors:  make(map[int]int64),
	}
	go d.run()
	var once sync.Once
	return func() { once.Do(func() { close(d.stop) }) }
}

func (d *webhookDispatcher) run() {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		d.dispatchAll()
		select {
		case <-ticker.C:
		case <-d.stop:
			return
		}
	}
}

func (d *webhookDispatcher) dispatchAll() {
	for i, hook := range d.webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		d.dispatchWebhook(i, hook)
	}
}

func (d *webhookDispatcher) dispatchWebhook(idx int, hook config.WebhookConfig) {
	ctx := context.Background()
	cursor := d.cursorFor(idx)
	changes, err := d.store.Changes(ctx, defaultWebhookBatch, cursor)
	if err != nil {
		log.Printf("webhook: fetch changes failed: %v", err)
		return
	}
	filter := newChangeFilter(hook.Events)
	for _, c := range changes {
		if !filter.match(c.Type) {
			d.setCursor(idx, c.ID)
			continue
		}
		if err := d.post(ctx, hook, c); err != nil {
			log.Printf("webhook: deliver to %s failed: %v", hook.URL, err)
			return
		}
		d.setCursor(idx, c.ID)
	}
}

func (d *webhookDispatcher) cursorFor(idx int) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.cursors[idx]; ok {
		return cur
	}
	cur, err := d.store.LatestChangeID(context.Background())
	if err != nil {
		log.Printf("webhook: init cursor failed: %v", err)
		cur = 0
	}
	d.cursors[idx] = cur
	return cur
}

func (d *webhookDispatcher) setCursor(idx int, value int64) {
	d.mu.Lock()
	d.cursors[idx] = value
	d.mu.Unlock()
}

func (d *webhookDispatcher) post(ctx context.Context, hook config.WebhookConfig, c feed.Change) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Careline-Event", c.Type)
	req.Header.Set("X-Careline-Delivery", fmt.Sprintf("%d", c.ID))
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Careline-Secret", hook.Secret)
	}
	res, err := d.client.Do(req)
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

type changeFilter struct {
	all bool
	set map[string]struct{}
}

func newChangeFilter(events []string) changeFilter {
	if len(events) == 0 {
		return changeFilter{all: true}
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
		return changeFilter{all: true}
	}
	return changeFilter{set: set}
}

func (f changeFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}
