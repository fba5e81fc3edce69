// Package trellis builds trellis displays: a table with one panel column
// becomes a directory of metadata documents plus one asset file per panel,
// which a browser viewer filters, sorts, searches and pages through.
//
// # Architecture
//
// A build runs four stages, each in its own package:
//
// 1. Load: pkg/table reads the input table from CSV, TSV, XLSX, JSON
// records or Parquet.
//
// 2. Infer: pkg/schema decides the kind of every column (number, currency,
// date, datetime, hyperlink, factor, string, panel) and pkg/display
// encodes the rows against those kinds, factors as 1-based level indices.
//
// 3. Render: pkg/panel turns every panel value into an asset file with a
// bounded worker pool, retrying and failing per policy.
//
// 4. Serialize: pkg/display writes displayInfo.json, metaData.js and the
// panel assets atomically and merges the display into the root index.
//
// The display state engine in pkg/state computes the visible page for a
// filter, sort, search and layout state. pkg/views persists named states
// next to a display and pkg/server serves an output root on a loopback
// address, computing views on request.
//
// # Quick Start
//
// Build a display from a configuration file:
//
//	cfg, err := config.LoadBuildConfig("cars.yaml")
//	if err != nil {
//	    return err
//	}
//	res, err := pipeline.Build(ctx, cfg, logger.Get())
//	if err != nil {
//	    return err
//	}
//	fmt.Println(res.Display.N(), "panels written to", res.Root)
//
// Or from the command line:
//
//	trellis build --config cars.yaml --serve
//
// # Key Packages
//
//	pkg/config        - Build configuration with ${VAR} substitution
//	pkg/schema        - Variable kinds and type inference
//	pkg/display       - Display model, factor codec and the on-disk layout
//	pkg/panel         - Panel asset rendering
//	pkg/state         - Filter, sort, search and pagination
//	pkg/views         - Saved views
//	pkg/server        - Local file server and view API
//	pkg/errors        - Structured error handling
//	pkg/logger        - Structured logging
//	pkg/metrics       - Prometheus metrics
//	pkg/observability - Tracing and operation logging
//
// # Configuration
//
// Builds are described in YAML:
//
//	name: cars
//	input:
//	  path: ${DATA_DIR}/cars.csv
//	panel:
//	  column: plot
//	  key_column: id
//	state:
//	  ncol: 3
//	  nrow: 2
//	output:
//	  root: trellis_out
//
// Environment variables are supported with ${VAR_NAME} syntax.
package trellis
