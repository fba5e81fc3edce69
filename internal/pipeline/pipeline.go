// Package pipeline runs one display build end to end: it loads the input
// table, derives the metadata schema, renders every panel and writes the
// display under the output root.
//
// # Overview
//
// A build is a single call with four traced stages:
//
//	load       -> read the table (csv, xlsx, json) or take an in-memory one
//	build      -> infer variable kinds and apply overrides and the default state
//	render_all -> render one panel asset per row into a scratch directory
//	serialize  -> check the row/asset join and swap the display into place
//
// The asset report returned by render_all is passed to serialize explicitly;
// no stage reads state left behind by another.
//
// # Failure policy
//
// A row whose panel fails to render fails the whole build by default and
// the output root is left untouched. With the exclude policy the row is
// dropped and reported in Result.Excluded.
//
// # Usage
//
//	cfg := config.NewBuildConfig("gapminder")
//	cfg.Input.Path = "gapminder.csv"
//	cfg.Panel.Column = "plot"
//
//	res, err := pipeline.Build(ctx, cfg, logger)
package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/trellis/pkg/config"
	"github.com/ajitpratap0/trellis/pkg/display"
	"github.com/ajitpratap0/trellis/pkg/errors"
	"github.com/ajitpratap0/trellis/pkg/logger"
	"github.com/ajitpratap0/trellis/pkg/metrics"
	"github.com/ajitpratap0/trellis/pkg/observability"
	"github.com/ajitpratap0/trellis/pkg/panel"
	"github.com/ajitpratap0/trellis/pkg/schema"
	"github.com/ajitpratap0/trellis/pkg/state"
	"github.com/ajitpratap0/trellis/pkg/table"
)

// Result describes a finished build
type Result struct {
	// Display is the display as written, with its resolved panel source
	Display *display.Display
	// Report is the render outcome; nil for remote and dynamic sources
	Report *panel.AssetReport
	// Excluded lists rows dropped under the exclude policy, in row order
	Excluded []string
	// Root is the output root the display was written under
	Root     string
	Duration time.Duration
}

// Pipeline builds one display from a BuildConfig
type Pipeline struct {
	cfg      *config.BuildConfig
	table    *table.Table
	renderer panel.Renderer
	logger   *zap.Logger
	tracer   *observability.StageTracer
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithTable builds from an in-memory table instead of cfg.Input.Path
func WithTable(t *table.Table) Option {
	return func(p *Pipeline) { p.table = t }
}

// WithRenderer replaces the default panel dispatch
func WithRenderer(r panel.Renderer) Option {
	return func(p *Pipeline) {
		if r != nil {
			p.renderer = r
		}
	}
}

// New validates cfg and returns a pipeline for it
func New(cfg *config.BuildConfig, log *zap.Logger, opts ...Option) (*Pipeline, error) {
	if cfg == nil {
		return nil, errors.New(errors.ErrorTypeConfig, "no build configuration")
	}
	if log == nil {
		log = zap.NewNop()
	}
	p := &Pipeline{
		cfg:    cfg,
		logger: log,
		tracer: observability.NewStageTracer(cfg.Name),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.table == nil && cfg.Input.Path == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "input.path is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid build configuration for "+cfg.Name).
			WithDetail("display", cfg.Name)
	}
	if p.renderer == nil {
		base := ""
		if cfg.Input.Path != "" {
			base = filepath.Dir(cfg.Input.Path)
		}
		p.renderer = panel.Dispatch{BaseDir: base}
	}
	return p, nil
}

// Build is New followed by Run
func Build(ctx context.Context, cfg *config.BuildConfig, log *zap.Logger, opts ...Option) (*Result, error) {
	p, err := New(cfg, log, opts...)
	if err != nil {
		metrics.BuildsTotal.WithLabelValues(metrics.StatusFailure).Inc()
		return nil, err
	}
	return p.Run(ctx)
}

// Run executes the build. Nothing under the output root changes unless the
// build succeeds.
func (p *Pipeline) Run(ctx context.Context) (res *Result, err error) {
	ctx = logger.WithDisplay(ctx, p.cfg.Name)
	ctx, span := p.tracer.StartSpan(ctx, "build_display")
	op := observability.NewOperationLogger(ctx, p.logger, "build")
	log := p.logger.With(logger.ContextFields(ctx)...)
	defer func() {
		span.Finish(err)
		metrics.BuildsTotal.WithLabelValues(metrics.Status(err)).Inc()
		if err != nil {
			op.LogError("display build failed", err)
		}
	}()

	op.LogStart("building display",
		zap.String("input", p.cfg.Input.Path),
		zap.String("root", p.cfg.Output.Root))
	start := time.Now()

	var t *table.Table
	if err := p.tracer.Trace(ctx, "load", func(context.Context) error {
		var err error
		t, err = p.load()
		return err
	}); err != nil {
		return nil, err
	}

	var d *display.Display
	if err := p.tracer.Trace(ctx, "build", func(context.Context) error {
		var err error
		d, err = p.build(t, log)
		return err
	}); err != nil {
		return nil, err
	}

	res = &Result{Root: p.cfg.Output.Root}
	if p.cfg.Panel.Source.IsLocal() {
		scratch, err := os.MkdirTemp("", "trellis-render-"+d.Name+"-")
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to create render directory")
		}
		defer func() { _ = os.RemoveAll(scratch) }()

		if err := p.tracer.Trace(ctx, "render_all", func(ctx context.Context) error {
			var err error
			res.Report, err = p.render(ctx, d, scratch, log)
			return err
		}); err != nil {
			return nil, err
		}

		if d, res.Excluded, err = p.applyPolicy(d, res.Report); err != nil {
			return nil, err
		}
		for _, key := range res.Excluded {
			op.Warn("row excluded, its panel did not render",
				zap.String("key", key),
				zap.Error(res.Report.Failed[key]))
		}
	}

	if err := p.tracer.Trace(ctx, "serialize", func(context.Context) error {
		var err error
		res.Display, err = display.NewWriter(p.cfg.Output.Root, log).Serialize(d, res.Report)
		return err
	}); err != nil {
		return nil, err
	}

	res.Duration = time.Since(start)
	op.LogComplete("display built",
		zap.Int("panels", res.Display.N()),
		zap.Int("excluded", len(res.Excluded)),
		zap.Int("views", len(res.Display.Views)))
	return res, nil
}

func (p *Pipeline) load() (*table.Table, error) {
	if p.table != nil {
		return p.table, nil
	}
	return table.Load(p.cfg.Input.Path, table.ReadOptions{
		Format: p.cfg.Input.Format,
		Sheet:  p.cfg.Input.Sheet,
	})
}

func (p *Pipeline) build(t *table.Table, log *zap.Logger) (*display.Display, error) {
	overrides, err := Overrides(p.cfg.Variables)
	if err != nil {
		return nil, err
	}

	engineOpts := []schema.Option{
		schema.WithFactorThresholds(p.cfg.Inference.MaxFactorLevels, p.cfg.Inference.FactorRatio),
	}
	if len(p.cfg.Inference.CurrencyHints) > 0 {
		engineOpts = append(engineOpts, schema.WithCurrencyHints(p.cfg.Inference.CurrencyHints...))
	}
	engine := schema.NewTypeInferenceEngine(log, engineOpts...)

	d, err := display.NewBuilder(engine, log).Build(t, display.Options{
		Name:        p.cfg.Name,
		Description: p.cfg.Description,
		Group:       p.cfg.Group,
		Tags:        p.cfg.Tags,
		PanelColumn: p.cfg.Panel.Column,
		PanelSource: PanelSource(p.cfg.Panel.Source),
		KeyColumn:   p.cfg.Panel.KeyColumn,
		Overrides:   overrides,
	})
	if err != nil {
		return nil, err
	}

	d.State = ApplyState(d.State, p.cfg.State)
	if err := state.Validate(d.Frame, d.State); err != nil {
		return nil, errors.Wrap(err, errors.TypeOf(err), "configured state of display "+d.Name+" is invalid").
			WithDetail("display", d.Name)
	}
	return d, nil
}

func (p *Pipeline) render(ctx context.Context, d *display.Display, dir string, log *zap.Logger) (*panel.AssetReport, error) {
	opts := panel.Options{
		Workers: p.cfg.Panel.GetWorkers(),
		Logger:  log,
	}
	if p.cfg.Panel.RetryAttempts > 1 {
		opts.Retry = panel.NewRetryPolicy(p.cfg.Panel.RetryAttempts, p.cfg.Panel.RetryDelay)
	}
	return panel.RenderAll(ctx, p.renderer, d.Keys(), d.PanelValues, dir, opts)
}

func (p *Pipeline) applyPolicy(d *display.Display, report *panel.AssetReport) (*display.Display, []string, error) {
	policy, err := panel.ParsePolicy(p.cfg.Panel.Policy)
	if err != nil {
		return nil, nil, err
	}
	excluded, err := report.Apply(policy)
	if err != nil {
		return nil, nil, err
	}
	if len(excluded) == 0 {
		return d, nil, nil
	}
	kept, err := d.Exclude(excluded)
	if err != nil {
		return nil, nil, err
	}
	return kept, excluded, nil
}

// Overrides converts configured variable settings into inference overrides
func Overrides(vars map[string]config.VariableConfig) (map[string]schema.Override, error) {
	out := make(map[string]schema.Override, len(vars))
	for name, vc := range vars {
		ov := schema.Override{
			Label:       vc.Label,
			Description: vc.Description,
			Levels:      append([]string(nil), vc.Levels...),
			Format:      vc.Format,
		}
		if vc.Kind != "" {
			kind, err := schema.ParseKind(vc.Kind)
			if err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeConfig, "variable "+name+" has an unknown kind").
					WithDetail("variable", name)
			}
			ov.Kind = kind
		}
		out[name] = ov
	}
	return out, nil
}

// PanelSource maps the configured source to a panel source. Local sources
// return nil and are resolved from the rendered assets.
func PanelSource(sc config.SourceConfig) schema.PanelSource {
	switch sc.Type {
	case config.SourceURL:
		return schema.RemoteURLSource{BaseURL: sc.BaseURL, Ext: sc.Ext}
	case config.SourceDynamic:
		return schema.DynamicSource{URLTemplate: sc.URLTemplate, Ext: sc.Ext}
	default:
		return nil
	}
}

// ApplyState layers the configured defaults over the inferred state.
// Labels replace the inferred ones only when some are configured.
func ApplyState(s state.State, sc config.StateConfig) state.State {
	out := s.Clone()
	if sc.NCol > 0 {
		out.Layout.NCol = sc.NCol
	}
	if sc.NRow > 0 {
		out.Layout.NRow = sc.NRow
	}
	if sc.Arrangement != "" {
		out.Layout.Arrangement = state.Arrangement(sc.Arrangement)
	}
	out.Layout.Page = 1
	if len(sc.Labels) > 0 {
		out.Labels = append([]string{}, sc.Labels...)
	}
	if len(sc.Sorts) > 0 {
		out.Sorts = make([]state.Sort, 0, len(sc.Sorts))
		for _, s := range sc.Sorts {
			dir := state.Direction(s.Dir)
			if dir == "" {
				dir = state.Asc
			}
			out.Sorts = append(out.Sorts, state.Sort{Var: s.Var, Dir: dir})
		}
	}
	if sc.Search != "" {
		out.Search = sc.Search
	}
	return out
}
