package bundle

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	bv "github.com/gofhir/bundlevalidator"
	"github.com/gofhir/bundlevalidator/engine"
	"github.com/gofhir/bundlevalidator/parser"
	"github.com/gofhir/bundlevalidator/pkg/logger"
	"github.com/gofhir/bundlevalidator/pkg/requestid"
)

// EntryValidator validates a single bundle entry. Any failure inside the
// job is logged and turned into an empty contribution, so Validate never
// returns an error and never panics.
type EntryValidator struct {
	engine     engine.Engine
	serializer parser.Serializer
	opts       *bv.Options
	logger     *logger.Logger
	metrics    *bv.Metrics
	tracer     trace.Tracer
}

// NewEntryValidator creates an entry validator. A nil serializer defaults to
// parser.NewJSON(), nil opts to bv.DefaultOptions() and a nil logger to
// logger.Default().
func NewEntryValidator(eng engine.Engine, ser parser.Serializer, opts *bv.Options, log *logger.Logger, metrics *bv.Metrics) *EntryValidator {
	if ser == nil {
		ser = parser.NewJSON()
	}
	if opts == nil {
		opts = bv.DefaultOptions()
	}
	if log == nil {
		log = logger.Default()
	}
	if metrics == nil {
		metrics = bv.NewMetrics()
	}
	return &EntryValidator{
		engine:     eng,
		serializer: ser,
		opts:       opts,
		logger:     log,
		metrics:    metrics,
		tracer:     tracer(),
	}
}

// Validate returns the retained findings for entry.
func (v *EntryValidator) Validate(ctx context.Context, entry bv.Entry) []bv.Issue {
	ctx, span := v.tracer.Start(ctx, "bundle.entry", trace.WithAttributes(
		attribute.Int("fhir.entry.index", entry.Index),
		attribute.String("fhir.resource.type", entry.Ref.ResourceType),
		attribute.String("fhir.resource.id", entry.Ref.ResourceID),
	))
	defer span.End()

	issues, err := v.validate(ctx, entry)
	if err == nil {
		span.SetAttributes(attribute.Int("fhir.issues", len(issues)))
		return issues
	}

	var entryErr *bv.EntryError
	if !errors.As(err, &entryErr) {
		entryErr = &bv.EntryError{Ref: entry.Ref, Stage: bv.StageEngine, Err: err}
	}
	span.RecordError(entryErr)
	span.SetStatus(codes.Error, string(entryErr.Stage))
	return v.isolate(ctx, entry, entryErr)
}

func (v *EntryValidator) validate(ctx context.Context, entry bv.Entry) (issues []bv.Issue, err error) {
	defer func() {
		if r := recover(); r != nil {
			issues = nil
			err = &bv.EntryError{Ref: entry.Ref, Stage: bv.StagePanic, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	if v.engine == nil {
		return nil, &bv.EntryError{Ref: entry.Ref, Stage: bv.StageEngine, Err: bv.ErrEngineUnavailable}
	}

	data, err := v.serializer.Serialize(entry)
	if err != nil {
		return nil, &bv.EntryError{Ref: entry.Ref, Stage: bv.StageSerialize, Err: err}
	}

	strategy := SelectStrategy(entry)
	if !v.opts.AllProfiles {
		strategy = strategy.FirstOnly()
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("fhir.strategy", strategy.String()))

	msgs, err := v.invoke(ctx, strategy, data)
	if err != nil {
		var entryErr *bv.EntryError
		if errors.As(err, &entryErr) {
			entryErr.Ref = entry.Ref
			return nil, entryErr
		}
		return nil, &bv.EntryError{Ref: entry.Ref, Stage: bv.StageEngine, Err: err}
	}

	for _, m := range msgs {
		sev := m.Level.Severity()
		v.metrics.RecordIssue(sev)
		if !v.opts.Keeps(sev) {
			continue
		}
		code := m.Code
		if code == "" {
			code = bv.IssueTypeInvalid
		}
		issues = append(issues, bv.NewIssue(sev, code, entry.Ref).
			Message(m.Text).
			At(m.Location).
			Position(m.Line, m.Column).
			Build())
	}
	return issues, nil
}

type engineResult struct {
	msgs []engine.Message
	err  error
}

// invoke calls the engine, bounded by the entry timeout when one is set.
// A call that outlives the timeout is abandoned; its goroutine exits when
// the engine returns.
func (v *EntryValidator) invoke(ctx context.Context, s Strategy, data []byte) ([]engine.Message, error) {
	if v.opts.EntryTimeout <= 0 {
		return s.run(ctx, v.engine, data)
	}

	ctx, cancel := context.WithTimeout(ctx, v.opts.EntryTimeout)
	defer cancel()

	done := make(chan engineResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- engineResult{err: &bv.EntryError{Stage: bv.StagePanic, Err: fmt.Errorf("panic: %v", r)}}
			}
		}()
		msgs, err := s.run(ctx, v.engine, data)
		done <- engineResult{msgs: msgs, err: err}
	}()

	select {
	case res := <-done:
		return res.msgs, res.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &bv.EntryError{
				Stage: bv.StageTimeout,
				Err:   fmt.Errorf("engine did not answer within %s: %w", v.opts.EntryTimeout, ctx.Err()),
			}
		}
		return nil, &bv.EntryError{Stage: bv.StageEngine, Err: ctx.Err()}
	}
}

// isolate logs err and returns the contribution of a failed entry.
func (v *EntryValidator) isolate(ctx context.Context, entry bv.Entry, err *bv.EntryError) []bv.Issue {
	id, _ := requestid.FromContext(ctx)
	v.logger.Error(err.Error(),
		"request_id", id,
		"entry", entry.Index,
		"full_url", entry.Ref.FullURL,
		"stage", string(err.Stage),
	)
	v.metrics.RecordEntryFailure(err.Stage)

	if !v.opts.EntryFailureIssues {
		return nil
	}
	code := bv.IssueTypeException
	if err.Stage == bv.StageTimeout {
		code = bv.IssueTypeTimeout
	}
	return []bv.Issue{
		bv.NewIssue(bv.SeverityError, code, entry.Ref).
			Message(err.Error()).
			At(entry.Ref.ResourceType).
			Build(),
	}
}
