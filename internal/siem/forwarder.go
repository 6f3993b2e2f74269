// Package siem forwards security events to external log destinations. Forwarded
// copies are intentionally separate from the Postgres audit store because they have
// different consumers — the store serves the admin API and compliance reports, while
// forwarded events feed a SIEM or log aggregator that correlates them with signals
// from other services. The package supports multiple simultaneous destinations
// (file, webhook) via the Forwarder interface; delivery is best-effort and never
// blocks or fails the write path that raised the event.
package siem

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/finvest-platform/audit-service/internal/db/models"
)

// Record is the wire shape of a forwarded security event. The model structs carry
// no JSON tags on purpose; this struct owns the external format so SIEM parsers
// are insulated from internal model changes.
type Record struct {
	Timestamp   time.Time              `json:"timestamp"`
	EventID     string                 `json:"event_id,omitempty"`
	Kind        string                 `json:"kind"`
	IPAddress   string                 `json:"ip_address,omitempty"`
	UserAgent   string                 `json:"user_agent,omitempty"`
	ActorID     string                 `json:"actor_id,omitempty"`
	Description string                 `json:"description,omitempty"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

// NewRecord converts a persisted security event into its forwarded form. The
// AdditionalData map is already sanitized by the recorder before it gets here.
func NewRecord(event *models.SecurityEvent) *Record {
	r := &Record{
		Timestamp:   event.CreatedAt,
		EventID:     event.ID,
		Kind:        string(event.Kind),
		IPAddress:   event.IPAddress,
		Description: event.Description,
		Details:     event.AdditionalData,
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	if event.UserAgent != nil {
		r.UserAgent = *event.UserAgent
	}
	if event.ActorID != nil {
		r.ActorID = *event.ActorID
	}
	return r
}

// Forwarder delivers security event records to one destination.
type Forwarder interface {
	// Forward sends one record to the destination.
	Forward(ctx context.Context, rec *Record) error
	// Close flushes buffered records and releases resources.
	Close() error
}

// Config selects and configures a single destination.
type Config struct {
	Enabled bool           `json:"enabled"`
	Type    string         `json:"type"` // "webhook" or "file"
	Webhook *WebhookConfig `json:"webhook,omitempty"`
	File    *FileConfig    `json:"file,omitempty"`
}

// WebhookConfig holds webhook forwarder configuration.
type WebhookConfig struct {
	URL string `json:"url"`
	// Headers are added to every request, typically an auth token.
	Headers map[string]string `json:"headers,omitempty"`
	Timeout time.Duration     `json:"timeout"`
	// BatchSize is how many records to collect before sending (0 = send each
	// record individually).
	BatchSize     int           `json:"batch_size"`
	FlushInterval time.Duration `json:"flush_interval"`
}

// FileConfig holds file forwarder configuration.
type FileConfig struct {
	Path string `json:"path"`
	// MaxSizeMB triggers rotation; 0 disables it.
	MaxSizeMB  int `json:"max_size_mb"`
	MaxBackups int `json:"max_backups"`
}

// MultiForwarder fans records out to every configured destination.
type MultiForwarder struct {
	forwarders []Forwarder
	logger     *slog.Logger
	mu         sync.RWMutex
}

// NewMultiForwarder builds forwarders for every enabled config entry.
func NewMultiForwarder(configs []Config, logger *slog.Logger) (*MultiForwarder, error) {
	mf := &MultiForwarder{
		forwarders: make([]Forwarder, 0),
		logger:     logger,
	}

	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}

		var fw Forwarder
		var err error

		switch cfg.Type {
		case "webhook":
			if cfg.Webhook == nil {
				return nil, fmt.Errorf("webhook config is required for webhook forwarder")
			}
			fw, err = NewWebhookForwarder(cfg.Webhook, logger)
		case "file":
			if cfg.File == nil {
				return nil, fmt.Errorf("file config is required for file forwarder")
			}
			fw, err = NewFileForwarder(cfg.File)
		default:
			return nil, fmt.Errorf("unknown forwarder type: %s", cfg.Type)
		}

		if err != nil {
			return nil, fmt.Errorf("failed to create %s forwarder: %w", cfg.Type, err)
		}

		mf.forwarders = append(mf.forwarders, fw)
	}

	return mf, nil
}

// Forward sends the record to all destinations. One destination failing does not
// stop delivery to the others; the last error is returned.
func (mf *MultiForwarder) Forward(ctx context.Context, rec *Record) error {
	mf.mu.RLock()
	defer mf.mu.RUnlock()

	var lastErr error
	for _, fw := range mf.forwarders {
		if err := fw.Forward(ctx, rec); err != nil {
			lastErr = err
			mf.logger.Error("siem forward failed", slog.String("error", err.Error()))
		}
	}
	return lastErr
}

// Close closes all destinations.
func (mf *MultiForwarder) Close() error {
	mf.mu.Lock()
	defer mf.mu.Unlock()

	var lastErr error
	for _, fw := range mf.forwarders {
		if err := fw.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// WebhookForwarder posts records to an HTTP endpoint, optionally batched.
type WebhookForwarder struct {
	cfg       *WebhookConfig
	logger    *slog.Logger
	client    *http.Client
	batchCh   chan *Record
	batch     []*Record
	batchMu   sync.Mutex
	closeCh   chan struct{}
	closeOnce sync.Once
}

// NewWebhookForwarder creates a webhook forwarder. With BatchSize > 0 a background
// goroutine collects records and flushes them on size or interval.
func NewWebhookForwarder(cfg *WebhookConfig, logger *slog.Logger) (*WebhookForwarder, error) {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	wf := &WebhookForwarder{
		cfg:     cfg,
		logger:  logger,
		client:  &http.Client{Timeout: timeout},
		batchCh: make(chan *Record, 1000),
		batch:   make([]*Record, 0),
		closeCh: make(chan struct{}),
	}

	if cfg.BatchSize > 0 {
		go wf.processBatches()
	}

	return wf, nil
}

func (wf *WebhookForwarder) processBatches() {
	flushInterval := wf.cfg.FlushInterval
	if flushInterval == 0 {
		flushInterval = 5 * time.Second
	}

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case rec := <-wf.batchCh:
			wf.batchMu.Lock()
			wf.batch = append(wf.batch, rec)
			if len(wf.batch) >= wf.cfg.BatchSize {
				wf.flushBatch()
			}
			wf.batchMu.Unlock()
		case <-ticker.C:
			wf.batchMu.Lock()
			if len(wf.batch) > 0 {
				wf.flushBatch()
			}
			wf.batchMu.Unlock()
		case <-wf.closeCh:
			// Flush whatever is left before shutting down.
			wf.batchMu.Lock()
			if len(wf.batch) > 0 {
				wf.flushBatch()
			}
			wf.batchMu.Unlock()
			return
		}
	}
}

// flushBatch sends the current batch. Caller holds batchMu.
func (wf *WebhookForwarder) flushBatch() {
	if len(wf.batch) == 0 {
		return
	}

	data, err := json.Marshal(wf.batch)
	if err != nil {
		wf.logger.Error("failed to marshal siem batch", slog.String("error", err.Error()))
		wf.batch = wf.batch[:0]
		return
	}

	timeout := wf.cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := wf.sendRequest(ctx, data); err != nil {
		wf.logger.Error("failed to send siem batch", slog.String("error", err.Error()))
	}

	wf.batch = wf.batch[:0]
}

// Forward queues the record when batching is enabled, otherwise posts it directly.
func (wf *WebhookForwarder) Forward(ctx context.Context, rec *Record) error {
	if wf.cfg.BatchSize > 0 {
		select {
		case wf.batchCh <- rec:
			return nil
		default:
			// Queue full; fall through to a direct send rather than dropping.
		}
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal siem record: %w", err)
	}

	return wf.sendRequest(ctx, data)
}

func (wf *WebhookForwarder) sendRequest(ctx context.Context, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wf.cfg.URL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range wf.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := wf.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}

// Close flushes any pending batch and stops the batch goroutine.
func (wf *WebhookForwarder) Close() error {
	wf.closeOnce.Do(func() {
		close(wf.closeCh)
	})
	return nil
}

// FileForwarder appends records as JSON lines to a local file, with size-based
// rotation. Intended for hosts where a log agent tails the file into the SIEM.
type FileForwarder struct {
	cfg  *FileConfig
	file *os.File
	mu   sync.Mutex
}

// NewFileForwarder opens (or creates) the destination file in append mode.
func NewFileForwarder(cfg *FileConfig) (*FileForwarder, error) {
	file, err := os.OpenFile(cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open siem log file: %w", err)
	}

	return &FileForwarder{
		cfg:  cfg,
		file: file,
	}, nil
}

// Forward writes the record as one JSON line.
func (ff *FileForwarder) Forward(ctx context.Context, rec *Record) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	if ff.cfg.MaxSizeMB > 0 {
		info, err := ff.file.Stat()
		if err == nil && info.Size() > int64(ff.cfg.MaxSizeMB)*1024*1024 {
			if err := ff.rotate(); err != nil {
				return fmt.Errorf("failed to rotate siem log: %w", err)
			}
		}
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal siem record: %w", err)
	}

	if _, err := ff.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write siem record: %w", err)
	}

	return nil
}

// rotate shifts backups up by one and reopens a fresh file. Caller holds mu.
func (ff *FileForwarder) rotate() error {
	if err := ff.file.Close(); err != nil {
		return err
	}

	for i := ff.cfg.MaxBackups - 1; i >= 1; i-- {
		oldPath := fmt.Sprintf("%s.%d", ff.cfg.Path, i)
		newPath := fmt.Sprintf("%s.%d", ff.cfg.Path, i+1)
		_ = os.Rename(oldPath, newPath)
	}

	_ = os.Rename(ff.cfg.Path, ff.cfg.Path+".1")

	if ff.cfg.MaxBackups > 0 {
		_ = os.Remove(fmt.Sprintf("%s.%d", ff.cfg.Path, ff.cfg.MaxBackups+1))
	}

	file, err := os.OpenFile(ff.cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}

	ff.file = file
	return nil
}

// Close closes the file.
func (ff *FileForwarder) Close() error {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return ff.file.Close()
}
