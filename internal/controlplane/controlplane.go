// Package controlplane defines the abstraction over the compute APIs that
// stop and start instances.  Each backend (EC2, GCE, Docker) implements the
// ControlPlane interface so the restart sequence stays provider-agnostic.
package controlplane

import (
	"context"
	"log/slog"
)

// ControlPlane is the contract every compute backend must satisfy.
//
// Both calls are requests, not confirmations: the provider acknowledges the
// state transition it has begun and returns immediately.  Implementations
// must not poll for the transition to complete and must not retry on their
// own -- whatever the underlying SDK does implicitly is all there is.
type ControlPlane interface {
	// StopInstances requests that every instance in ids be stopped.
	// The ids are passed through unvalidated; unknown or already-stopped
	// instances surface as whatever the provider reports.
	StopInstances(ctx context.Context, ids []string) (Ack, error)

	// StartInstances requests that every instance in ids be started.
	StartInstances(ctx context.Context, ids []string) (Ack, error)
}

// Transition is the provider's view of a single instance's state change.
// PreviousState and CurrentState are provider-native state names
// ("running", "stopping", "TERMINATED", ...) and may be empty when the
// backend does not report them.
type Transition struct {
	InstanceID    string
	PreviousState string
	CurrentState  string
}

// Ack is the acknowledgement returned by a stop or start request.
type Ack struct {
	// Transitions lists the state changes the provider reported.
	Transitions []Transition

	// Operations holds backend operation references (e.g. GCE zone
	// operation names), if the backend issues any.
	Operations []string
}

// LogValue renders the acknowledgement compactly for slog.
func (a Ack) LogValue() slog.Value {
	attrs := make([]slog.Attr, 0, len(a.Transitions)+1)
	for _, t := range a.Transitions {
		attrs = append(attrs, slog.String(t.InstanceID, t.PreviousState+"->"+t.CurrentState))
	}
	if len(a.Operations) > 0 {
		attrs = append(attrs, slog.Any("operations", a.Operations))
	}
	return slog.GroupValue(attrs...)
}
