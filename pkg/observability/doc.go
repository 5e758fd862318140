// Package observability provides OpenTelemetry tracing and metrics for
// Switchboard services, following the orchestrator's single-choke-point
// design: every envelope transition, guarded execution, and policy
// evaluation can be wrapped in a tracked span with RED metrics attached.
//
// Initialize the provider at process startup:
//
//	prov, err := observability.New(ctx, &observability.Config{
//		ServiceName:  "switchboard",
//		OTLPEndpoint: "otel-collector:4317",
//		SampleRate:   0.1, // 10% sampling in production
//	})
//	defer prov.Shutdown(ctx)
//
// Track an operation from start to finish, recording RED metrics and a
// span in one call:
//
//	ctx, done := prov.TrackOperation(ctx, "orchestrator.execute",
//		observability.EnvelopeOperation(envelopeID, "pending", "approve", epoch)...)
//	defer func() { done(err) }()
package observability
