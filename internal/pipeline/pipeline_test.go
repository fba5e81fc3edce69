package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/trellis/pkg/config"
	"github.com/ajitpratap0/trellis/pkg/display"
	"github.com/ajitpratap0/trellis/pkg/errors"
	"github.com/ajitpratap0/trellis/pkg/panel"
	"github.com/ajitpratap0/trellis/pkg/schema"
	"github.com/ajitpratap0/trellis/pkg/state"
	"github.com/ajitpratap0/trellis/pkg/testutil"
)

func TestBuild_FromCSV(t *testing.T) {
	in := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(in, "plots"), 0o755))
	for _, name := range []string{"x", "y", "z"} {
		require.NoError(t, os.WriteFile(filepath.Join(in, "plots", name+".png"), testutil.PNGBytes, 0o644))
	}
	csv := "name,price,plot\nx,1.50,plots/x.png\ny,2.25,plots/y.png\nz,3.00,plots/z.png\n"
	input := filepath.Join(in, "cars.csv")
	require.NoError(t, os.WriteFile(input, []byte(csv), 0o644))

	root := t.TempDir()
	cfg := config.NewBuildConfig("cars")
	cfg.Input.Path = input
	cfg.Panel.Column = "plot"
	cfg.Panel.KeyColumn = "name"
	cfg.Output.Root = root

	res, err := Build(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, root, res.Root)
	assert.Equal(t, "png", res.Report.Ext)
	assert.Empty(t, res.Excluded)

	d, err := display.Load(root, "cars")
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y", "z"}, d.Keys())
	price, ok := d.Variable("price")
	require.True(t, ok)
	assert.Equal(t, schema.KindCurrency, price.Kind)

	pv, ok := d.Panel()
	require.True(t, ok)
	assert.Equal(t, schema.LocalFileSource{Dir: display.PanelDir, Ext: "png"}, pv.Source)
	for _, key := range d.Keys() {
		_, err := os.Stat(filepath.Join(display.Dir(root, "cars"), pv.Source.Locate(key)))
		assert.NoError(t, err, key)
	}
}

func TestBuild_LogsCarryDisplay(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	_, err := Build(context.Background(), scenarioConfig(t.TempDir()), zap.New(core), WithTable(fiveRows(t)))
	require.NoError(t, err)

	started := logs.FilterMessage("building display").All()
	require.Len(t, started, 1)
	assert.Equal(t, "scenario", started[0].ContextMap()["display"])
	assert.Equal(t, "build", started[0].ContextMap()["operation"])
}

func TestBuild_ExcludePolicy(t *testing.T) {
	root := t.TempDir()
	cfg := scenarioConfig(root)
	cfg.Panel.Policy = config.PolicyExclude

	failSecond := panel.RenderFunc(func(ctx context.Context, value interface{}, dir, key string) (string, error) {
		if key == "2" {
			return "", errors.New(errors.ErrorTypeRender, "simulated render failure")
		}
		return panel.MarkupRenderer{}.Render(ctx, value, dir, key)
	})

	res, err := Build(context.Background(), cfg, zaptest.NewLogger(t), WithTable(fiveRows(t)), WithRenderer(failSecond))
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, res.Excluded)
	assert.Equal(t, []string{"1", "3", "4", "5"}, res.Display.Keys())

	d, err := display.Load(root, "scenario")
	require.NoError(t, err)
	assert.Equal(t, 4, d.N())
}

func TestBuild_RetriesRenders(t *testing.T) {
	root := t.TempDir()
	cfg := scenarioConfig(root)
	cfg.Panel.Workers = 1
	cfg.Panel.RetryAttempts = 2
	cfg.Panel.RetryDelay = 0

	attempts := map[string]int{}
	flaky := panel.RenderFunc(func(ctx context.Context, value interface{}, dir, key string) (string, error) {
		attempts[key]++
		if attempts[key] == 1 {
			return "", errors.New(errors.ErrorTypeRender, "first attempt fails")
		}
		return panel.MarkupRenderer{}.Render(ctx, value, dir, key)
	})

	res, err := Build(context.Background(), cfg, zaptest.NewLogger(t), WithTable(fiveRows(t)), WithRenderer(flaky))
	require.NoError(t, err)
	assert.Equal(t, 5, res.Display.N())
	assert.Equal(t, 2, attempts["3"])
}

func TestBuild_ConfiguredState(t *testing.T) {
	root := t.TempDir()
	cfg := scenarioConfig(root)
	cfg.State = config.StateConfig{
		NCol:        2,
		NRow:        3,
		Arrangement: "col",
		Labels:      []string{"value"},
		Sorts:       []config.SortConfig{{Var: "value", Dir: "desc"}},
	}
	cfg.Variables["category"] = config.VariableConfig{Label: "Category", Levels: []string{"C", "B", "A"}}

	_, err := Build(context.Background(), cfg, zaptest.NewLogger(t), WithTable(fiveRows(t)))
	require.NoError(t, err)

	d, err := display.Load(root, "scenario")
	require.NoError(t, err)
	assert.Equal(t, state.Layout{NCol: 2, NRow: 3, Page: 1, Arrangement: state.ColMajor}, d.State.Layout)
	assert.Equal(t, []string{"value"}, d.State.Labels)
	assert.Equal(t, []state.Sort{{Var: "value", Dir: state.Desc}}, d.State.Sorts)

	category, _ := d.Variable("category")
	assert.Equal(t, "Category", category.Label)
	assert.Equal(t, []string{"C", "B", "A"}, category.Levels)
}

func TestBuild_RemoteSourceSkipsRendering(t *testing.T) {
	root := t.TempDir()
	cfg := scenarioConfig(root)
	cfg.Panel.Source = config.SourceConfig{Type: config.SourceURL, BaseURL: "https://example.com/panels", Ext: "png"}

	res, err := Build(context.Background(), cfg, zaptest.NewLogger(t), WithTable(fiveRows(t)))
	require.NoError(t, err)
	assert.Nil(t, res.Report)

	d, err := display.Load(root, "scenario")
	require.NoError(t, err)
	pv, _ := d.Panel()
	assert.Equal(t, "https://example.com/panels/4.png", pv.Source.Locate("4"))
	_, err = os.Stat(filepath.Join(display.Dir(root, "scenario"), display.PanelDir))
	assert.True(t, os.IsNotExist(err))
}

func TestBuild_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *config.BuildConfig)
		errTyp errors.ErrorType
	}{
		{
			name:   "missing panel column",
			mutate: func(cfg *config.BuildConfig) { cfg.Panel.Column = "chart" },
			errTyp: errors.ErrorTypeConfig,
		},
		{
			name: "unknown variable kind",
			mutate: func(cfg *config.BuildConfig) {
				cfg.Variables["value"] = config.VariableConfig{Kind: "percentage"}
			},
			errTyp: errors.ErrorTypeConfig,
		},
		{
			name: "kind conflicts with data",
			mutate: func(cfg *config.BuildConfig) {
				cfg.Variables["category"] = config.VariableConfig{Kind: "number"}
			},
			errTyp: errors.ErrorTypeTypeMismatch,
		},
		{
			name: "sort on unknown variable",
			mutate: func(cfg *config.BuildConfig) {
				cfg.State.Sorts = []config.SortConfig{{Var: "weight", Dir: "asc"}}
			},
			errTyp: errors.ErrorTypeUnknownVariable,
		},
		{
			name:   "invalid policy",
			mutate: func(cfg *config.BuildConfig) { cfg.Panel.Policy = "skip" },
			errTyp: errors.ErrorTypeConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			cfg := scenarioConfig(root)
			tt.mutate(cfg)

			_, err := Build(context.Background(), cfg, zaptest.NewLogger(t), WithTable(fiveRows(t)))
			require.Error(t, err)
			assert.True(t, errors.IsType(err, tt.errTyp), "got %v", err)

			entries, err := os.ReadDir(root)
			require.NoError(t, err)
			assert.Empty(t, entries)
		})
	}
}

func TestNew_RequiresInput(t *testing.T) {
	_, err := New(nil, nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	cfg := scenarioConfig(t.TempDir())
	_, err = New(cfg, nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestApplyState(t *testing.T) {
	base := state.New()
	base.Labels = []string{"category"}

	got := ApplyState(base, config.StateConfig{NCol: 3})
	assert.Equal(t, 3, got.Layout.NCol)
	assert.Equal(t, 1, got.Layout.NRow)
	assert.Equal(t, []string{"category"}, got.Labels)
	assert.Equal(t, state.RowMajor, got.Layout.Arrangement)

	got = ApplyState(base, config.StateConfig{Sorts: []config.SortConfig{{Var: "value"}}, Search: " a "})
	assert.Equal(t, []state.Sort{{Var: "value", Dir: state.Asc}}, got.Sorts)
	assert.Equal(t, " a ", got.Search)
}

func TestPanelSource(t *testing.T) {
	assert.Nil(t, PanelSource(config.SourceConfig{Type: config.SourceLocal}))
	assert.Equal(t, schema.DynamicSource{URLTemplate: "/render?id={key}", Ext: "svg"},
		PanelSource(config.SourceConfig{Type: config.SourceDynamic, URLTemplate: "/render?id={key}", Ext: "svg"}))
}
