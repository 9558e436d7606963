package results

import (
	"context"
	"errors"
	"fmt"
	"path"
	"slices"

	"github.com/terminail/autodroid-sub001/internal/script"
)

// Sink persists or forwards one result.
type Sink interface {
	Save(ctx context.Context, res script.Result) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, res script.Result) error

// Save calls f.
func (f SinkFunc) Save(ctx context.Context, res script.Result) error {
	return f(ctx, res)
}

// ArtifactStore stores artifact bytes and returns a URL for them.
type ArtifactStore interface {
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
}

// Logger is the logging interface used by the pipeline.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type namedSink struct {
	name string
	sink Sink
}

// Pipeline uploads artifacts and fans results out to sinks.
type Pipeline struct {
	store  ArtifactStore
	sinks  []namedSink
	logger Logger
}

// NewPipeline creates a pipeline. A nil store drops artifact bytes.
func NewPipeline(store ArtifactStore) *Pipeline {
	return &Pipeline{store: store, logger: noopLogger{}}
}

// SetLogger sets the pipeline logger.
func (p *Pipeline) SetLogger(logger Logger) {
	p.logger = logger
}

// Add registers a sink. Sinks run in registration order.
func (p *Pipeline) Add(name string, s Sink) {
	p.sinks = append(p.sinks, namedSink{name: name, sink: s})
}

// Sinks returns the registered sink names.
func (p *Pipeline) Sinks() []string {
	names := make([]string, len(p.sinks))
	for i, s := range p.sinks {
		names[i] = s.name
	}
	return names
}

// Save uploads artifacts and delivers res to every sink.
func (p *Pipeline) Save(ctx context.Context, res script.Result) error {
	res = p.upload(ctx, res)

	var errs []error
	for _, s := range p.sinks {
		if err := s.sink.Save(ctx, res); err != nil {
			p.logger.Error("result sink failed",
				"sink", s.name,
				"task_id", res.TaskID,
				"error", err,
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}

// upload returns a copy of res whose artifacts carry URLs instead of bytes.
func (p *Pipeline) upload(ctx context.Context, res script.Result) script.Result {
	if len(res.Artifacts) == 0 {
		return res
	}
	res.Artifacts = slices.Clone(res.Artifacts)

	prefix := res.TaskID
	if prefix == "" {
		prefix = "untracked"
	}
	for i := range res.Artifacts {
		a := &res.Artifacts[i]
		data := a.Data
		a.Data = nil
		if len(data) == 0 || p.store == nil {
			continue
		}
		url, err := p.store.Put(ctx, path.Join(prefix, a.Name), a.ContentType, data)
		if err != nil {
			p.logger.Warn("artifact upload failed",
				"task_id", res.TaskID,
				"artifact", a.Name,
				"error", err,
			)
			continue
		}
		a.URL = url
	}
	return res
}
