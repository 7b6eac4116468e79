package report_http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/davarch/ci-runner/internal/domain"
)

// Client posts finished run summaries to an external status endpoint.
type Client struct {
	url   string
	token string
	hc    *http.Client
}

func New(url string, token string, timeout time.Duration) *Client {
	tr := &http.Transport{
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		TLSHandshakeTimeout: 5 * time.Second,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		url:   url,
		token: token,
		hc:    &http.Client{Transport: tr, Timeout: timeout},
	}
}

type jobSummaryDTO struct {
	Name            string `json:"name"`
	Status          string `json:"status"`
	FirstFailedStep *int   `json:"first_failed_step,omitempty"`
	Error           string `json:"error,omitempty"`
}

type summaryDTO struct {
	RunID      string          `json:"run_id"`
	Pipeline   string          `json:"pipeline"`
	Branch     string          `json:"branch"`
	Kind       string          `json:"kind"`
	Status     string          `json:"status"`
	DurationMS int64           `json:"duration_ms"`
	Jobs       []jobSummaryDTO `json:"jobs"`
}

func (c *Client) Report(ctx context.Context, res domain.PipelineResult) error {
	body, err := json.Marshal(toSummary(res))
	if err != nil {
		return err
	}

	op := func() error {
		req, _ := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.hc.Do(req)
		if err != nil {
			return err
		}

		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode == http.StatusTooManyRequests {
			if ra := resp.Header.Get("Retry-After"); ra != "" {
				if sec, _ := strconv.Atoi(ra); sec > 0 {
					select {
					case <-time.After(time.Duration(sec) * time.Second):
					case <-ctx.Done():
						return ctx.Err()
					}
					return fmt.Errorf("retry after due to 429")
				}
			}

			return fmt.Errorf("report endpoint 429")
		}

		if resp.StatusCode >= 500 {
			return fmt.Errorf("report endpoint %s", resp.Status)
		}

		if resp.StatusCode >= 300 {
			return backoff.Permanent(fmt.Errorf("report endpoint %s", resp.Status))
		}

		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 300 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	bo.MaxElapsedTime = 5 * time.Second

	return backoff.Retry(op, backoff.WithContext(bo, ctx))
}

func toSummary(res domain.PipelineResult) summaryDTO {
	out := summaryDTO{
		RunID:      res.RunID,
		Pipeline:   res.Pipeline,
		Branch:     res.Event.Branch,
		Kind:       string(res.Event.Kind),
		Status:     string(res.OverallStatus),
		DurationMS: res.Duration.Milliseconds(),
	}

	names := make([]string, 0, len(res.JobResults))
	for name := range res.JobResults {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		jr := res.JobResults[name]
		out.Jobs = append(out.Jobs, jobSummaryDTO{
			Name:            jr.JobName,
			Status:          string(jr.Status),
			FirstFailedStep: jr.FirstFailedStep,
			Error:           jr.Err,
		})
	}

	return out
}
