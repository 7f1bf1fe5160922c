// Package dispatch is the Subscriber Dispatcher: it POSTs event payloads
// to configured webhook subscribers and honours must-succeed semantics,
// including polling async subscribers to completion.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/poolbroker/pkg/config"
	"github.com/cuemby/poolbroker/pkg/metrics"
)

const (
	pollInterval    = 2 * time.Second
	maxPollAttempts = 1800
	requestTimeout  = 10 * time.Second
)

// Payload is the JSON body POSTed to a subscriber.
type Payload struct {
	Item   json.RawMessage `json:"item"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Outcome is the per-subscriber result from one Dispatch call.
type Outcome struct {
	Name        string
	Succeeded   bool
	MustSucceed bool
	Message     string
}

// Result is the overall outcome of dispatching an event to a subscriber
// group: either every must-succeed subscriber acknowledged, or the first
// must-succeed failure that short-circuited the remainder.
type Result struct {
	Outcomes []Outcome
	Failed   *Outcome
}

// Dispatcher fires HTTP POSTs to webhook subscribers using a single
// shared, pooled client (spec §5 resource policy).
type Dispatcher struct {
	client          *http.Client
	pollInterval    time.Duration
	maxPollAttempts int
}

// New builds a Dispatcher with a shared HTTP client and the production
// poll cadence (2s interval, ~1 hour bound).
func New() *Dispatcher {
	return &Dispatcher{
		client:          &http.Client{Timeout: requestTimeout},
		pollInterval:    pollInterval,
		maxPollAttempts: maxPollAttempts,
	}
}

// NewWithPolling builds a Dispatcher with a custom poll cadence, used by
// tests that cannot afford the production 2-second interval.
func NewWithPolling(interval time.Duration, maxAttempts int) *Dispatcher {
	return &Dispatcher{
		client:          &http.Client{Timeout: requestTimeout},
		pollInterval:    interval,
		maxPollAttempts: maxAttempts,
	}
}

// Dispatch POSTs payload to every subscriber in subs, in map iteration
// order (stable within a run but otherwise unspecified per spec §4.B),
// and short-circuits on the first must-succeed failure. event labels the
// dispatch-duration histogram and the subscriber-group this call belongs
// to ("borrow", "return", or "submit").
func (d *Dispatcher) Dispatch(ctx context.Context, event string, subs map[string]config.SubscriberDef, payload Payload) Result {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.DispatchDuration, event)

	var res Result
	for name, def := range subs {
		outcome := d.dispatchOne(ctx, name, def, payload)
		if !outcome.Succeeded {
			metrics.SubscriberFailuresTotal.WithLabelValues(name, strconv.FormatBool(def.MustSucceed)).Inc()
		}
		res.Outcomes = append(res.Outcomes, outcome)
		if def.MustSucceed && !outcome.Succeeded {
			res.Failed = &outcome
			return res
		}
	}
	return res
}

func (d *Dispatcher) dispatchOne(ctx context.Context, name string, def config.SubscriberDef, payload Payload) Outcome {
	body, err := json.Marshal(payload)
	if err != nil {
		return Outcome{Name: name, MustSucceed: def.MustSucceed, Message: fmt.Sprintf("encode payload: %v", err)}
	}

	respBody, err := d.post(ctx, def.Post, body)
	if err != nil {
		return Outcome{Name: name, MustSucceed: def.MustSucceed, Message: err.Error()}
	}

	if !def.MustSucceed {
		return Outcome{Name: name, Succeeded: true, MustSucceed: false}
	}
	if !def.Async {
		return Outcome{Name: name, Succeeded: true, MustSucceed: true}
	}
	return d.pollAsync(ctx, name, def, respBody)
}

func (d *Dispatcher) post(ctx context.Context, postURL string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, postURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", postURL, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s returned status %d", postURL, resp.StatusCode)
	}
	if err != nil {
		return nil, fmt.Errorf("read response from %s: %w", postURL, err)
	}
	return respBody, nil
}

type asyncAck struct {
	OperationID string `json:"operation_id"`
	Status      string `json:"status"`
}

type statusPoll struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// pollAsync parses the initial ack, derives the status URL, and polls it
// to completion per spec §4.B rule 4.
func (d *Dispatcher) pollAsync(ctx context.Context, name string, def config.SubscriberDef, ackBody []byte) Outcome {
	var ack asyncAck
	if err := json.Unmarshal(ackBody, &ack); err != nil || ack.OperationID == "" {
		return Outcome{Name: name, MustSucceed: true, Message: fmt.Sprintf("%s: malformed async ack", name)}
	}

	statusURL, err := deriveStatusURL(def.Post, ack.OperationID)
	if err != nil {
		return Outcome{Name: name, MustSucceed: true, Message: fmt.Sprintf("%s: %v", name, err)}
	}

	for attempt := 0; attempt < d.maxPollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return Outcome{Name: name, MustSucceed: true, Message: fmt.Sprintf("%s: cancelled while polling", name)}
		case <-time.After(d.pollInterval):
		}

		body, err := d.get(ctx, statusURL)
		if err != nil {
			return Outcome{Name: name, MustSucceed: true, Message: fmt.Sprintf("%s: %v", name, err)}
		}

		var poll statusPoll
		if err := json.Unmarshal(body, &poll); err != nil {
			return Outcome{Name: name, MustSucceed: true, Message: fmt.Sprintf("%s: malformed status response", name)}
		}

		switch strings.ToLower(poll.Status) {
		case "succeeded", "success", "ok":
			return Outcome{Name: name, Succeeded: true, MustSucceed: true}
		case "failed", "error":
			msg := poll.Message
			if msg == "" {
				msg = fmt.Sprintf("%s reported failure", name)
			}
			return Outcome{Name: name, MustSucceed: true, Message: msg}
		default:
			// keep polling
		}
	}

	return Outcome{Name: name, MustSucceed: true, Message: fmt.Sprintf("%s: timed out waiting for completion", name)}
}

func (d *Dispatcher) get(ctx context.Context, statusURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build status request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("status poll failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("status endpoint returned %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// deriveStatusURL replaces postURL's path with /operations/status and sets
// the id query parameter, per spec §4.B rule 4.
func deriveStatusURL(postURL, operationID string) (string, error) {
	u, err := url.Parse(postURL)
	if err != nil {
		return "", fmt.Errorf("parse post url: %w", err)
	}
	u.Path = "/operations/status"
	q := u.Query()
	q.Set("id", operationID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

