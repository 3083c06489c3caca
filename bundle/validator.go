// Package bundle validates FHIR bundles by fanning their entries out to a
// shared worker pool and joining the findings into one Outcome.
package bundle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	bv "github.com/gofhir/bundlevalidator"
	"github.com/gofhir/bundlevalidator/engine"
	"github.com/gofhir/bundlevalidator/parser"
	"github.com/gofhir/bundlevalidator/pkg/logger"
	"github.com/gofhir/bundlevalidator/pkg/requestid"
	"github.com/gofhir/bundlevalidator/worker"
)

const tracerName = "github.com/gofhir/bundlevalidator/bundle"

func tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// Config holds the collaborators of a Validator. Only Engine is required.
type Config struct {
	Engine     engine.Engine
	Parser     parser.Parser
	Serializer parser.Serializer
	Assembler  bv.Assembler
	Logger     *logger.Logger
	Metrics    *bv.Metrics

	// Pool is shared with other validators when set and is not closed by
	// Close. When nil the Validator starts its own pool from the options.
	Pool *worker.Pool
}

// Validator validates bundles. It is safe for concurrent use; every call owns
// its own aggregate while all calls share one worker pool.
type Validator struct {
	opts      *bv.Options
	parser    parser.Parser
	assembler bv.Assembler
	logger    *logger.Logger
	metrics   *bv.Metrics
	entries   *EntryValidator
	pool      *worker.Pool
	ownsPool  bool
	tracer    trace.Tracer
}

// NewValidator creates a Validator for eng with default collaborators.
func NewValidator(eng engine.Engine, opts ...bv.Option) (*Validator, error) {
	return New(Config{Engine: eng}, opts...)
}

// New creates a Validator from cfg. It fails with bv.ErrEngineUnavailable
// when no engine is configured.
func New(cfg Config, opts ...bv.Option) (*Validator, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("%w: no conformance engine configured", bv.ErrEngineUnavailable)
	}

	o := bv.DefaultOptions().Apply(opts...)

	if cfg.Parser == nil {
		cfg.Parser = parser.NewDetect()
	}
	if cfg.Serializer == nil {
		cfg.Serializer = parser.NewJSON()
	}
	if cfg.Assembler == nil {
		cfg.Assembler = bv.DefaultAssembler
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = bv.NewMetrics()
	}

	v := &Validator{
		opts:      o,
		parser:    cfg.Parser,
		assembler: cfg.Assembler,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		entries:   NewEntryValidator(cfg.Engine, cfg.Serializer, o, cfg.Logger, cfg.Metrics),
		pool:      cfg.Pool,
		tracer:    tracer(),
	}
	if v.pool == nil {
		v.pool = worker.NewPool(o.WorkerCount, o.QueueSize)
		v.ownsPool = true
	}
	return v, nil
}

// Close stops the worker pool if the Validator created it.
func (v *Validator) Close() {
	if v.ownsPool {
		v.pool.Close()
	}
}

// Options returns a copy of the effective options.
func (v *Validator) Options() bv.Options {
	o := *v.opts
	o.Severities = append([]bv.Severity(nil), v.opts.Severities...)
	return o
}

// Metrics returns the validator's counters.
func (v *Validator) Metrics() *bv.Metrics {
	return v.metrics
}

// Pool returns the worker pool entry jobs run on.
func (v *Validator) Pool() *worker.Pool {
	return v.pool
}

// ValidateDocument parses raw and validates the resulting bundle. A document
// that cannot be parsed fails with an error wrapping bv.ErrMalformedDocument
// and no entry is validated.
func (v *Validator) ValidateDocument(ctx context.Context, raw []byte) (*bv.Outcome, error) {
	ctx, id := requestid.Ensure(ctx)
	req := newRequest(id, v.logger)

	b, err := v.parser.Parse(raw)
	if err != nil {
		if !errors.Is(err, bv.ErrMalformedDocument) {
			err = fmt.Errorf("%w: %w", bv.ErrMalformedDocument, err)
		}
		return nil, v.reject(req, err)
	}
	req.to(StateParsed)
	return v.run(ctx, req, b)
}

// ValidateBundle validates an already parsed bundle.
//
// Issues in the returned Outcome are the union of the findings of every
// entry. Their order follows job completion and is not stable between calls.
func (v *Validator) ValidateBundle(ctx context.Context, b *bv.Bundle) (*bv.Outcome, error) {
	ctx, id := requestid.Ensure(ctx)
	req := newRequest(id, v.logger)

	if b == nil {
		return nil, v.reject(req, bv.MalformedDocumentError("nil bundle"))
	}
	req.to(StateParsed)
	return v.run(ctx, req, b)
}

func (v *Validator) reject(req *request, err error) error {
	req.to(StateRejected)
	v.metrics.RecordRejected()
	v.logger.Warn("bundle rejected", "request_id", req.id, "error", err)
	return err
}

func (v *Validator) fail(req *request, span trace.Span, err error) error {
	req.to(StateFailed)
	v.metrics.RecordFailed()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	v.logger.Error("bundle validation failed", "request_id", req.id, "error", err)
	return err
}

func (v *Validator) run(ctx context.Context, req *request, b *bv.Bundle) (*bv.Outcome, error) {
	start := time.Now()
	ctx, span := v.tracer.Start(ctx, "bundle.validate", trace.WithAttributes(
		attribute.String("request.id", req.id),
		attribute.String("fhir.bundle.id", b.ID),
		attribute.Int("fhir.bundle.entries", b.Len()),
	))
	defer span.End()

	agg := bv.NewAggregate(b.Len())
	group := v.pool.Group(ctx).OnPanic(func(r any) {
		v.logger.Error("entry job panicked", "request_id", req.id, "panic", r)
	})

	submit := group.Go
	if v.opts.ShedLoad {
		submit = group.TryGo
	}

	req.to(StateDispatched)
	var dispatchErr error
	for _, entry := range b.Entries {
		err := submit(func(ctx context.Context) {
			issues := v.entries.Validate(ctx, entry)
			if err := agg.Append(issues); err != nil {
				v.logger.Error("entry issues dropped", "request_id", req.id, "entry", entry.Index, "error", err)
			}
		})
		if err != nil {
			dispatchErr = err
			break
		}
	}

	req.to(StateAwaitingCompletion)
	group.Wait()
	agg.Seal()
	req.to(StateSealed)

	if err := ctx.Err(); err != nil {
		return nil, v.fail(req, span, fmt.Errorf("bundle validation canceled: %w", err))
	}
	if errors.Is(dispatchErr, worker.ErrQueueFull) {
		return nil, v.fail(req, span, fmt.Errorf("%w: dispatched %d of %d entries: %w",
			bv.ErrOverloaded, group.Submitted(), b.Len(), dispatchErr))
	}
	if dispatchErr != nil {
		return nil, v.fail(req, span, fmt.Errorf("%w: dispatched %d of %d entries: %w",
			bv.ErrEngineUnavailable, group.Submitted(), b.Len(), dispatchErr))
	}
	if n := agg.Contributions(); n != b.Len() {
		return nil, v.fail(req, span, fmt.Errorf("%w: %d of %d entry jobs reported",
			bv.ErrEngineUnavailable, n, b.Len()))
	}

	out, err := v.assemble(agg.Issues())
	if err != nil {
		return nil, v.fail(req, span, err)
	}
	req.to(StateAssembled)

	out.RequestID = req.id
	out.Entries = b.Len()
	out.Duration = time.Since(start)
	v.metrics.RecordRequest(out.Duration, out.Entries, out.Success)
	span.SetAttributes(
		attribute.Bool("fhir.outcome.success", out.Success),
		attribute.Int("fhir.outcome.issues", len(out.Issues)),
	)

	req.to(StateReturned)
	v.logger.Info("bundle validated",
		"request_id", req.id,
		"entries", out.Entries,
		"issues", len(out.Issues),
		"success", out.Success,
		"duration", out.Duration,
	)
	return out, nil
}

// assemble runs the assembler, converting a panic or a nil outcome into
// bv.ErrEngineUnavailable.
func (v *Validator) assemble(issues []bv.Issue) (out *bv.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("%w: assembler panicked: %v", bv.ErrEngineUnavailable, r)
		}
	}()
	out = v.assembler.Assemble(issues)
	if out == nil {
		return nil, fmt.Errorf("%w: assembler returned no outcome", bv.ErrEngineUnavailable)
	}
	return out, nil
}
