package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/pr-cybr/notionsync/internal/delivery"
)

var ErrInvalidPayload = errors.New("payload is not a JSON object")

// DecodePayload parses a webhook body into a generic object. Numbers stay as
// json.Number so large ids are not rounded.
func DecodePayload(r io.Reader) (map[string]any, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if payload == nil {
		return nil, ErrInvalidPayload
	}
	return payload, nil
}

// HandleDelivery decodes a queued delivery and dispatches it. A delivery
// that does not decode is logged and returned as an error.
func (r *Router) HandleDelivery(ctx context.Context, d delivery.Delivery) (Result, error) {
	payload, err := DecodePayload(bytes.NewReader(d.Payload))
	if err != nil {
		r.logger.ErrorContext(ctx, "Queued delivery could not be decoded",
			"event", "delivery.invalid",
			"delivery_id", d.ID,
			"event_name", d.Event,
			"error", err.Error(),
		)
		return Result{}, err
	}
	return r.Dispatch(ctx, d.Event, payload), nil
}

// Worker returns the function drained from the delivery queue. When a
// delivery's sync is incomplete its id is forgotten by ledger, so GitHub's
// redelivery of it runs the sync again instead of being dropped as a
// duplicate.
func (r *Router) Worker(ledger delivery.Ledger) func(ctx context.Context, d delivery.Delivery) {
	return func(ctx context.Context, d delivery.Delivery) {
		result, err := r.HandleDelivery(ctx, d)
		if err != nil || !result.Incomplete() || ledger == nil {
			return
		}
		if err := ledger.Forget(ctx, d.ID); err != nil {
			r.logger.WarnContext(ctx, "Unable to forget failed delivery",
				"event", "delivery.forget_error",
				"delivery_id", d.ID,
				"error", err.Error(),
			)
			return
		}
		r.logger.InfoContext(ctx, "Delivery sync incomplete; redelivery will be accepted",
			"event", "delivery.forgotten",
			"delivery_id", d.ID,
			"event_name", d.Event,
			"failed", result.Failed,
			"errors", result.Errors,
		)
	}
}
