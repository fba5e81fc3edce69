// Package testutil provides fixtures shared by the trellis package tests
package testutil

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/trellis/pkg/display"
	"github.com/ajitpratap0/trellis/pkg/panel"
	"github.com/ajitpratap0/trellis/pkg/table"
)

// PNGBytes is the header of a 1x1 PNG, enough for format detection
var PNGBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01")

// TestLogger creates a test logger that writes to the test output.
// The logger is automatically cleaned up when the test completes.
func TestLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t)
}

// TestContext creates a test context with a 30-second timeout.
// The caller must call the returned cancel function to avoid leaks.
func TestContext(_ *testing.T) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

// NewTable builds a table from columns, failing the test on error
func NewTable(t *testing.T, order []string, cols map[string][]interface{}) *table.Table {
	t.Helper()
	tbl, err := table.FromColumns(order, cols)
	require.NoError(t, err)
	return tbl
}

// WriteDisplay builds tbl as display name, renders its panels with the
// default dispatch and writes it under root
func WriteDisplay(t *testing.T, root, name string, tbl *table.Table, panelColumn string) *display.Display {
	t.Helper()
	d, err := display.NewBuilder(nil, TestLogger(t)).Build(tbl, display.Options{Name: name, PanelColumn: panelColumn})
	require.NoError(t, err)

	report, err := panel.RenderAll(context.Background(), panel.Dispatch{}, d.Keys(), d.PanelValues, t.TempDir(), panel.Options{Workers: 2})
	require.NoError(t, err)

	written, err := display.NewWriter(root, TestLogger(t)).Serialize(d, report)
	require.NoError(t, err)
	return written
}

// Markup returns one HTML fragment per row, numbered from 1
func Markup(n int) []interface{} {
	out := make([]interface{}, n)
	for i := range out {
		out[i] = "<p>" + strconv.Itoa(i+1) + "</p>"
	}
	return out
}
