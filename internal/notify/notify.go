// Package notify delivers operator alerts: every alert is logged, and when an
// ntfy topic is configured it is also pushed there.
package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/claimpilot/internal/config"
)

const userAgent = "claimpilot/1"

// Service sends alerts.
type Service struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

// New builds a Service. Without a topic alerts are only logged.
func New(cfg config.NotifyConfig, logger *zap.Logger) *Service {
	s := &Service{logger: logger.Named("notify")}
	topic := strings.TrimSpace(cfg.NtfyTopic)
	if topic == "" {
		return s
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	s.endpoint = topic
	s.client = &http.Client{Timeout: timeout}
	return s
}

// Notify logs the alert and pushes it when a topic is configured.
func (s *Service) Notify(ctx context.Context, title, message string) error {
	s.logger.Info("Operator alert.", zap.String("title", title), zap.String("message", message))
	if s.client == nil {
		return nil
	}
	if err := s.send(ctx, title, message); err != nil {
		s.logger.Warn("Failed to push alert.", zap.Error(err))
		return err
	}
	return nil
}

func (s *Service) send(ctx context.Context, title, message string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, strings.NewReader(message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	req.Header.Set("Title", "ClaimPilot - "+title)
	req.Header.Set("Tags", "claimpilot")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
