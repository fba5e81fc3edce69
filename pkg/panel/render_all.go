package panel

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"

	"github.com/ajitpratap0/trellis/pkg/errors"
	"github.com/ajitpratap0/trellis/pkg/metrics"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

// Policy decides what a build does with rows whose panel failed to render
type Policy string

const (
	// PolicyFailFast fails the build on the first failed row, in key order
	PolicyFailFast Policy = "fail"
	// PolicyExclude drops failed rows from the display and reports them
	PolicyExclude Policy = "exclude"
)

// ParsePolicy converts a configuration value into a Policy
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyFailFast, PolicyExclude:
		return Policy(s), nil
	case "":
		return PolicyFailFast, nil
	default:
		return "", errors.Newf(errors.ErrorTypeConfig, "unknown render failure policy %q", s).
			WithDetail("policy", s)
	}
}

// Options tunes RenderAll
type Options struct {
	// Workers bounds concurrent renders; 0 means one per CPU
	Workers int
	// Retry repeats failed renders; nil means a single attempt
	Retry *RetryPolicy
	Logger *zap.Logger
}

// Asset is one rendered panel file
type Asset struct {
	Key  string
	File string
	Ext  string
}

// AssetReport is what the panel pipeline hands to serialization: the asset
// directory, the detected format and the per-row outcome.
type AssetReport struct {
	Dir string
	// Ext is the format shared by every asset; empty when none rendered or Mixed
	Ext   string
	Mixed bool
	// Keys lists every requested row in row order
	Keys   []string
	Assets map[string]Asset
	Failed map[string]error
}

// NewAssetReport creates an empty report for the given rows
func NewAssetReport(dir string, keys []string) *AssetReport {
	return &AssetReport{
		Dir:    dir,
		Keys:   append([]string(nil), keys...),
		Assets: make(map[string]Asset, len(keys)),
		Failed: make(map[string]error),
	}
}

// Add records a rendered asset and refreshes the shared format
func (r *AssetReport) Add(a Asset) {
	r.Assets[a.Key] = a
	delete(r.Failed, a.Key)
	r.refreshExt()
}

// Fail records a failed row
func (r *AssetReport) Fail(key string, err error) {
	r.Failed[key] = err
	delete(r.Assets, key)
	r.refreshExt()
}

func (r *AssetReport) refreshExt() {
	exts := make(map[string]bool)
	for _, a := range r.Assets {
		exts[a.Ext] = true
	}
	r.Mixed = len(exts) > 1
	r.Ext = ""
	if len(exts) == 1 {
		for ext := range exts {
			r.Ext = ext
		}
	}
}

// Asset returns the rendered asset of a row
func (r *AssetReport) Asset(key string) (Asset, bool) {
	a, ok := r.Assets[key]
	return a, ok
}

// FailedKeys returns the failed rows in row order
func (r *AssetReport) FailedKeys() []string {
	out := make([]string, 0, len(r.Failed))
	for _, k := range r.Keys {
		if _, failed := r.Failed[k]; failed {
			out = append(out, k)
		}
	}
	return out
}

// Apply enforces a failure policy. Under PolicyFailFast the first failed
// row becomes a MissingAssetError; under PolicyExclude the failed rows are
// returned for the caller to drop.
func (r *AssetReport) Apply(p Policy) ([]string, error) {
	failed := r.FailedKeys()
	switch p {
	case PolicyFailFast:
		if len(failed) > 0 {
			return nil, MissingAsset(failed[0], r.Failed[failed[0]])
		}
		return nil, nil
	case PolicyExclude:
		return failed, nil
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unknown render failure policy %q", p)
	}
}

// MissingAsset reports a row whose panel has no rendered asset
func MissingAsset(key string, cause error) *errors.Error {
	msg := fmt.Sprintf("panel for row %q was not rendered", key)
	if cause == nil {
		return errors.New(errors.ErrorTypeMissingAsset, msg).WithDetail("key", key)
	}
	return errors.Wrap(cause, errors.ErrorTypeMissingAsset, msg).WithDetail("key", key)
}

type outcome struct {
	asset Asset
	err   error
}

// RenderAll renders one panel per row into dir. Rows render concurrently;
// a failed row is recorded in the report and never stops the others. The
// returned error covers setup problems and cancellation only.
func RenderAll(ctx context.Context, r Renderer, keys []string, values []interface{}, dir string, opts Options) (*AssetReport, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(keys) != len(values) {
		return nil, errors.Newf(errors.ErrorTypeConfig, "%d row keys for %d panel values", len(keys), len(values))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to create panel directory").
			WithDetail("path", dir)
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	retry := opts.Retry
	if retry == nil {
		retry = NoRetryPolicy()
	}

	results := make([]outcome, len(keys))
	p := pool.New().WithMaxGoroutines(workers)
	for i := range keys {
		i := i
		p.Go(func() {
			results[i] = renderOne(ctx, r, retry, values[i], dir, keys[i])
		})
	}
	p.Wait()

	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeRender, "panel rendering cancelled")
	}

	report := NewAssetReport(dir, keys)
	for i, res := range results {
		if res.err != nil {
			report.Failed[keys[i]] = res.err
			metrics.PanelsRendered.WithLabelValues("", metrics.StatusFailure).Inc()
			logger.Warn("panel render failed", zap.String("key", keys[i]), zap.Error(res.err))
			continue
		}
		report.Assets[keys[i]] = res.asset
		metrics.PanelsRendered.WithLabelValues(res.asset.Ext, metrics.StatusSuccess).Inc()
	}
	report.refreshExt()

	logger.Info("rendered panels",
		zap.String("dir", dir),
		zap.Int("rendered", len(report.Assets)),
		zap.Int("failed", len(report.Failed)),
		zap.String("ext", report.Ext),
		zap.Bool("mixed", report.Mixed))

	return report, nil
}

func renderOne(ctx context.Context, r Renderer, retry *RetryPolicy, value interface{}, dir, key string) (out outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			out = outcome{err: renderError(key, "renderer panicked: %v", rec)}
		}
	}()

	if err := ctx.Err(); err != nil {
		return outcome{err: errors.Wrap(err, errors.ErrorTypeRender, "render of row "+key+" cancelled")}
	}

	var name string
	err := retry.Execute(ctx, func() error {
		var err error
		name, err = r.Render(ctx, value, dir, key)
		return err
	})
	if err != nil {
		if !errors.IsType(err, errors.ErrorTypeRender) {
			err = errors.Wrap(err, errors.ErrorTypeRender, "panel renderer failed for row "+key).
				WithDetail("key", key)
		}
		return outcome{err: err}
	}

	src := name
	if !filepath.IsAbs(src) {
		src = filepath.Join(dir, src)
	}
	ext, err := DetectExt(src)
	if err != nil {
		return outcome{err: errors.Wrap(err, errors.ErrorTypeRender, "renderer reported "+name+" for row "+key+" but it cannot be read").
			WithDetail("key", key)}
	}

	// The asset file name must be <key>.<ext> whatever the renderer chose
	file := key + "." + ext
	if dst := filepath.Join(dir, file); src != dst {
		if err := os.Rename(src, dst); err != nil {
			return outcome{err: errors.Wrap(err, errors.ErrorTypeRender, "failed to rename panel of row "+key).
				WithDetail("key", key)}
		}
	}
	return outcome{asset: Asset{Key: key, File: file, Ext: ext}}
}

// Exts lists the distinct formats in a report, sorted
func (r *AssetReport) Exts() []string {
	seen := make(map[string]bool)
	var out []string
	for _, a := range r.Assets {
		if !seen[a.Ext] {
			seen[a.Ext] = true
			out = append(out, a.Ext)
		}
	}
	sort.Strings(out)
	return out
}
