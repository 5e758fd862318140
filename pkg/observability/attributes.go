// Package observability provides Switchboard-specific instrumentation helpers.
package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Switchboard-specific semantic convention attributes.
var (
	// Entity attributes
	AttrEntityID   = attribute.Key("switchboard.entity.id")
	AttrEntityType = attribute.Key("switchboard.entity.type")

	// Envelope lifecycle attributes
	AttrEnvelopeState  = attribute.Key("switchboard.envelope.state")
	AttrEnvelopeEpoch  = attribute.Key("switchboard.envelope.epoch")
	AttrEnvelopeAction = attribute.Key("switchboard.envelope.action")

	// Execution attributes
	AttrExecutionID     = attribute.Key("switchboard.execution.id")
	AttrExecutionField  = attribute.Key("switchboard.execution.field")
	AttrExecutionStatus = attribute.Key("switchboard.execution.status")

	// Policy evaluation attributes
	AttrPolicyDomain   = attribute.Key("switchboard.policy.domain")
	AttrPolicyAction   = attribute.Key("switchboard.policy.action")
	AttrPolicyDecision = attribute.Key("switchboard.policy.decision")
	AttrPolicyLatency  = attribute.Key("switchboard.policy.latency_ms")

	// Credential/crypto attributes
	AttrCryptoAlgorithm = attribute.Key("switchboard.crypto.algorithm")
	AttrCryptoOperation = attribute.Key("switchboard.crypto.operation")
	AttrCryptoKeyID     = attribute.Key("switchboard.crypto.key_id")
)

// EnvelopeOperation creates attributes for envelope lifecycle transitions.
func EnvelopeOperation(entityID, state, action string, epoch int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEntityID.String(entityID),
		AttrEnvelopeState.String(state),
		AttrEnvelopeAction.String(action),
		AttrEnvelopeEpoch.Int64(epoch),
	}
}

// ExecutionOperation creates attributes for guarded cartridge executions.
func ExecutionOperation(entityID, executionID, field, status string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEntityID.String(entityID),
		AttrExecutionID.String(executionID),
		AttrExecutionField.String(field),
		AttrExecutionStatus.String(status),
	}
}

// PolicyOperation creates attributes for a policy engine evaluation.
func PolicyOperation(domain, action, decision string, latencyMs float64) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrPolicyDomain.String(domain),
		AttrPolicyAction.String(action),
		AttrPolicyDecision.String(decision),
		AttrPolicyLatency.Float64(latencyMs),
	}
}

// CryptoOperation creates attributes for credential/webhook cryptographic operations.
func CryptoOperation(algorithm, operation, keyID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrCryptoAlgorithm.String(algorithm),
		AttrCryptoOperation.String(operation),
		AttrCryptoKeyID.String(keyID),
	}
}

// SpanFromContext extracts the span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanStatus sets the span status based on error.
func SetSpanStatus(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if err != nil {
		span.RecordError(err)
	}
}
