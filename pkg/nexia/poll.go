package nexia

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

const (
	defaultPollInterval = 1 * time.Second
	defaultMaxPolls     = 10
)

// pollForCompletion drives the completion side of an asynchronous command.
// Commands that run on the physical unit (sensor selection, state refresh)
// answer immediately with a polling_path; this polls that path until the
// unit reports a terminal status or the budget runs out.  The return value
// reports whether a terminal status was seen.
func (h *Home) pollForCompletion(ctx context.Context, pollURL string) (bool, error) {
	for i := 0; i < h.cfg.MaxPolls; i++ {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(h.cfg.PollInterval):
		}

		body, err := h.get(ctx, pollURL)
		if err != nil {
			return false, err
		}
		// The poll endpoint answers the literal string "null" while the
		// unit is still working.
		if strings.TrimSpace(string(body)) == "null" {
			continue
		}

		var status struct {
			Status string `json:"status"`
		}
		if err := json.Unmarshal(body, &status); err != nil {
			return false, &ProtocolError{Message: "malformed poll response: " + err.Error()}
		}
		if status.Status != "success" {
			h.log.Warnf("polling %s returned status %q", pollURL, status.Status)
		}
		return true, nil
	}

	h.log.Warnf("gave up polling %s after %d attempts", pollURL, h.cfg.MaxPolls)
	return false, nil
}

// firePolledCommand posts a command whose effect completes asynchronously,
// then waits on the advertised polling path.  Responses without a polling
// path complete synchronously.
func (h *Home) firePolledCommand(ctx context.Context, requestURL string, payload interface{}) (bool, error) {
	body, err := h.post(ctx, requestURL, payload)
	if err != nil {
		return false, err
	}

	var envelope struct {
		Result struct {
			PollingPath string `json:"polling_path"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return false, &ProtocolError{Message: "malformed command response: " + err.Error()}
	}
	if envelope.Result.PollingPath == "" {
		return true, nil
	}

	pollURL, err := h.ResolveURL(envelope.Result.PollingPath)
	if err != nil {
		return false, err
	}
	return h.pollForCompletion(ctx, pollURL)
}
