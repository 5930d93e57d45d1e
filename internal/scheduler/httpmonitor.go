package scheduler

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/manlab-io/manlab/internal/metrics"
	"github.com/manlab-io/manlab/internal/store"
)

// runHTTPCheck implements the §4.5 HTTP-monitor algorithm: build a request
// honoring method/timeout, capture status/keyword-match/TLS-leaf-expiry, and
// persist a check row plus touch the config's last-run/last-success.
func (s *Scheduler) runHTTPCheck(ctx context.Context, configID uuid.UUID) {
	cfgs, err := s.monitors.ListEnabledHTTPConfigs(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to reload http monitor configs at tick time")
		return
	}

	var cfg *store.HttpMonitorConfig
	for i := range cfgs {
		if cfgs[i].ID == configID {
			cfg = &cfgs[i]
			break
		}
	}
	if cfg == nil {
		return // disabled or deleted since scheduling
	}

	check, success := probeHTTP(ctx, *cfg)
	check.ConfigID = cfg.ID

	outcome := "success"
	if !success {
		outcome = "failure"
	}
	metrics.MonitorRunsTotal.WithLabelValues("http", outcome).Inc()

	if err := s.monitors.RecordHTTPCheck(ctx, &check); err != nil {
		s.log.Error().Err(err).Str("config", cfg.ID.String()).Msg("failed to record http check")
	}
	if err := s.monitors.TouchHTTPConfig(ctx, cfg.ID, success); err != nil {
		s.log.Error().Err(err).Str("config", cfg.ID.String()).Msg("failed to touch http monitor config")
	}
}

func probeHTTP(ctx context.Context, cfg store.HttpMonitorConfig) (store.HttpMonitorCheck, bool) {
	check := store.HttpMonitorCheck{CreatedAt: time.Now()}

	method := cfg.Method
	if method == "" {
		method = http.MethodGet
	}
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, cfg.URL, nil)
	if err != nil {
		check.Error = err.Error()
		return check, false
	}

	client := &http.Client{Timeout: timeout}

	start := time.Now()
	resp, err := client.Do(req)
	check.ResponseTimeMS = time.Since(start).Milliseconds()
	if err != nil {
		check.Error = err.Error()
		return check, false
	}
	defer resp.Body.Close()

	check.StatusCode = resp.StatusCode

	statusOK := resp.StatusCode >= 200 && resp.StatusCode < 300
	if cfg.ExpectedStatus != 0 {
		statusOK = resp.StatusCode == cfg.ExpectedStatus
	}

	keywordMatched := true
	if cfg.BodyKeyword != "" {
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		keywordMatched = readErr == nil && strings.Contains(string(body), cfg.BodyKeyword)
	}
	check.KeywordMatched = keywordMatched

	if resp.TLS != nil && len(resp.TLS.PeerCertificates) > 0 {
		daysLeft := int(time.Until(resp.TLS.PeerCertificates[0].NotAfter).Hours() / 24)
		check.TLSDaysLeft = &daysLeft
	}

	success := statusOK && keywordMatched
	if !success {
		check.Error = "expected status " + strconv.Itoa(cfg.ExpectedStatus) + " or keyword not matched"
	}
	return check, success
}
