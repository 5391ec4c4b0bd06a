// Package remote talks to the hotel supplier API. The invoker layer keeps a
// single fault taxonomy for every operation: transport failures, undecodable
// payloads, and business-level rejections are distinguished here so the
// workflow above never inspects HTTP details.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	apperrors "github.com/LockTrip/b2b-integration/pkg/errors"
	"github.com/LockTrip/b2b-integration/pkg/logger"
)

var operationDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "supplier_operation_duration_seconds",
		Help:    "Duration of supplier operations",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"operation", "outcome"},
)

// Doer abstracts the HTTP client so the invoker can run behind the circuit
// breaker in production and a plain transport in tests. Do may retry
// transparently; DoOnce must make exactly one attempt.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
	DoOnce(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Invoker executes named supplier operations with JSON arguments.
type Invoker interface {
	// Invoke executes an idempotent operation; the transport may retry it.
	Invoke(ctx context.Context, operation string, args any) (json.RawMessage, error)

	// InvokeOnce executes an operation exactly once at the transport layer.
	// Required for the confirm step: an ambiguous failure there must surface
	// as a fault rather than risk a duplicate charge.
	InvokeOnce(ctx context.Context, operation string, args any) (json.RawMessage, error)
}

// envelope is the supplier's uniform response wrapper.
type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// HTTPInvoker is the production Invoker. Each operation maps to
// POST <baseURL>/<operation> with a JSON body.
type HTTPInvoker struct {
	baseURL string
	apiKey  string
	client  Doer
}

// NewHTTPInvoker creates an invoker against the supplier base URL.
func NewHTTPInvoker(baseURL, apiKey string, client Doer) *HTTPInvoker {
	return &HTTPInvoker{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  client,
	}
}

func (i *HTTPInvoker) Invoke(ctx context.Context, operation string, args any) (json.RawMessage, error) {
	return i.invoke(ctx, operation, args, i.client.Do)
}

func (i *HTTPInvoker) InvokeOnce(ctx context.Context, operation string, args any) (json.RawMessage, error) {
	return i.invoke(ctx, operation, args, i.client.DoOnce)
}

func (i *HTTPInvoker) invoke(ctx context.Context, operation string, args any, do func(context.Context, *http.Request) (*http.Response, error)) (json.RawMessage, error) {
	log := logger.FromContext(ctx)
	started := time.Now()

	body, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("marshal %s args: %w", operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.baseURL+"/"+operation, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if i.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+i.apiKey)
	}

	resp, err := do(ctx, req)
	if err != nil {
		operationDuration.WithLabelValues(operation, "transport_fault").Observe(time.Since(started).Seconds())
		log.Error("supplier call failed",
			slog.String("operation", operation),
			slog.String("error", err.Error()),
		)
		return nil, apperrors.TransportFault(fmt.Errorf("%s: %w", operation, err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		operationDuration.WithLabelValues(operation, "transport_fault").Observe(time.Since(started).Seconds())
		return nil, apperrors.TransportFault(fmt.Errorf("%s: read body: %w", operation, err))
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		operationDuration.WithLabelValues(operation, "malformed_response").Observe(time.Since(started).Seconds())
		return nil, apperrors.MalformedResponse(operation, err)
	}

	switch {
	case env.Status == "error" || env.Error != nil:
		operationDuration.WithLabelValues(operation, "rejected").Observe(time.Since(started).Seconds())
		message := "supplier rejected the operation"
		if env.Error != nil && env.Error.Message != "" {
			message = env.Error.Message
		}
		log.Warn("supplier rejected operation",
			slog.String("operation", operation),
			slog.String("message", message),
		)
		return nil, apperrors.BusinessRejection(message)
	case resp.StatusCode != http.StatusOK:
		operationDuration.WithLabelValues(operation, "transport_fault").Observe(time.Since(started).Seconds())
		return nil, apperrors.TransportFault(fmt.Errorf("%s: unexpected status %d", operation, resp.StatusCode))
	case env.Status != "ok":
		operationDuration.WithLabelValues(operation, "malformed_response").Observe(time.Since(started).Seconds())
		return nil, apperrors.MalformedResponse(operation, fmt.Errorf("unknown envelope status %q", env.Status))
	}

	operationDuration.WithLabelValues(operation, "ok").Observe(time.Since(started).Seconds())
	log.Debug("supplier call completed",
		slog.String("operation", operation),
		slog.Duration("duration", time.Since(started)),
	)
	return env.Data, nil
}
