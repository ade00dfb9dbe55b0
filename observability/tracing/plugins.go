package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/GoCodeAlone/sitebuilder/extension"
	"github.com/GoCodeAlone/sitebuilder/sdk"
	"github.com/GoCodeAlone/sitebuilder/store"
)

// Runner wraps an extension.Runner so every entrypoint run gets a span.
type Runner struct {
	next   extension.Runner
	tracer trace.Tracer
}

// NewRunner wraps next. If tracer is nil, the global tracer provider is used.
func NewRunner(next extension.Runner, tracer trace.Tracer) *Runner {
	if tracer == nil {
		tracer = otel.GetTracerProvider().Tracer("sitebuilder.plugins")
	}
	return &Runner{next: next, tracer: tracer}
}

func (r *Runner) RunBuilder(ctx context.Context, p *store.Plugin, api sdk.Builder) error {
	ctx, span := r.start(ctx, p, "Builder")
	defer span.End()
	return record(span, r.next.RunBuilder(ctx, p, api))
}

func (r *Runner) RunDashboard(ctx context.Context, p *store.Plugin, api sdk.Dashboard) error {
	ctx, span := r.start(ctx, p, "Dashboard")
	defer span.End()
	return record(span, r.next.RunDashboard(ctx, p, api))
}

func (r *Runner) start(ctx context.Context, p *store.Plugin, entry string) (context.Context, trace.Span) {
	return r.tracer.Start(ctx, "plugin."+entry,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("plugin.id", p.ID),
			attribute.String("plugin.version", p.Version),
			attribute.Bool("plugin.official", p.IsOfficial),
		),
	)
}

func record(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}
