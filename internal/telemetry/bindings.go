package telemetry

import "log/slog"

// ExternalSink receives a copy of every event and terminal artifact.
// Implementations must not block for long; failures are logged and dropped.
type ExternalSink interface {
	OnEvent(ev Event)
	OnArtifact(a *Artifact)
}

// Bindings fans run telemetry out to the authoritative sinks plus any
// registered external ones. The file sinks remain the source of truth;
// external fan-out is strictly best-effort.
type Bindings struct {
	Events   *EventSink
	Artifact *ArtifactSink

	external []ExternalSink
	logger   *slog.Logger
}

// NewBindings wires the authoritative sinks together.
func NewBindings(events *EventSink, artifact *ArtifactSink, logger *slog.Logger) *Bindings {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bindings{Events: events, Artifact: artifact, logger: logger}
}

// Attach registers an external sink.
func (b *Bindings) Attach(s ExternalSink) {
	b.external = append(b.external, s)
}

// Emit records one event and fans it out.
func (b *Bindings) Emit(name string, fields map[string]any) {
	b.Events.Emit(name, fields)
	for _, s := range b.external {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("external event sink panicked", "event", name, "panic", r)
				}
			}()
			s.OnEvent(Event{Name: name, Fields: fields})
		}()
	}
}

// WriteArtifact persists the artifact and fans it out.
func (b *Bindings) WriteArtifact(a *Artifact) error {
	err := b.Artifact.Write(a)
	for _, s := range b.external {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("external artifact sink panicked", "panic", r)
				}
			}()
			s.OnArtifact(a)
		}()
	}
	return err
}
