// Package bus carries inspection records and manual check-now triggers over
// NATS as JSON, with OpenTelemetry trace propagation through message headers.
package bus

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// Subject scheme. The VIN is the last token so consumers can subscribe per
// vehicle or with a wildcard.
const (
	recordSubjectPrefix = "itp.record."
	checkSubjectPrefix  = "itp.check."
)

// RecordSubject is where records for one vehicle are published.
func RecordSubject(vin string) string { return recordSubjectPrefix + sanitizeToken(vin) }

// CheckSubject is where manual refresh triggers for one vehicle arrive.
func CheckSubject(vin string) string { return checkSubjectPrefix + sanitizeToken(vin) }

// CheckSubjectAll subscribes to refresh triggers for every vehicle.
func CheckSubjectAll() string { return checkSubjectPrefix + "*" }

// CheckRequest asks the watcher to refresh one vehicle now.
type CheckRequest struct {
	VIN string `json:"vin"`
}

// sanitizeToken keeps identifiers legal as NATS subject tokens.
func sanitizeToken(vin string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ':
			return '_'
		}
		return r
	}, strings.ToUpper(vin))
}

// headerCarrier adapts nats.Msg headers for OTel TextMapCarrier.
type headerCarrier nats.Msg

func (c *headerCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *headerCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *headerCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

// Publish serializes v as JSON and publishes it to subject. Trace context
// from ctx is injected into the message headers.
func Publish[T any](ctx context.Context, nc *nats.Conn, subject string, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	msg := &nats.Msg{Subject: subject, Data: data}
	otel.GetTextMapPropagator().Inject(ctx, (*headerCarrier)(msg))
	return nc.PublishMsg(msg)
}

// Subscribe registers a handler for JSON messages of type T. Trace context is
// extracted from message headers. Malformed messages are dropped.
func Subscribe[T any](nc *nats.Conn, subject string, handler func(context.Context, T)) (*nats.Subscription, error) {
	return nc.Subscribe(subject, func(msg *nats.Msg) {
		var v T
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			return
		}
		ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*headerCarrier)(msg))
		handler(ctx, v)
	})
}
