package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// IntegrationTestSuite provides an input directory and an output root
// shared by every test of a suite
type IntegrationTestSuite struct {
	suite.Suite
	ctx       context.Context
	cancel    context.CancelFunc
	tempDir   string
	startTime time.Time
}

// SetupSuite runs before all tests in the suite
func (s *IntegrationTestSuite) SetupSuite() {
	s.ctx, s.cancel = context.WithTimeout(context.Background(), 5*time.Minute)
	s.startTime = time.Now()

	tempDir, err := os.MkdirTemp("", "trellis-test-*")
	require.NoError(s.T(), err)
	s.tempDir = tempDir

	s.T().Logf("Integration test suite started in %s", s.tempDir)
}

// TearDownSuite runs after all tests in the suite
func (s *IntegrationTestSuite) TearDownSuite() {
	s.cancel()

	if s.tempDir != "" {
		os.RemoveAll(s.tempDir)
	}

	duration := time.Since(s.startTime)
	s.T().Logf("Integration test suite completed in %v", duration)
}

// Context returns the test context
func (s *IntegrationTestSuite) Context() context.Context {
	return s.ctx
}

// TempDir returns the temporary directory path
func (s *IntegrationTestSuite) TempDir() string {
	return s.tempDir
}

// OutputRoot returns the output root displays are written to
func (s *IntegrationTestSuite) OutputRoot() string {
	return filepath.Join(s.tempDir, "out")
}

// CreateTempFile creates a temporary file with content
func (s *IntegrationTestSuite) CreateTempFile(name string, content []byte) string {
	path := filepath.Join(s.tempDir, name)
	require.NoError(s.T(), os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(s.T(), os.WriteFile(path, content, 0o644))
	return path
}

// IntegrationTest marks a test as an integration test
func IntegrationTest(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
}

// CreateTestData writes a CSV table of rows cars into dir together with
// one PNG panel per row under dir/plots. The table has the columns
// id, make, mpg, price, released and plot, and its path is returned.
func CreateTestData(t *testing.T, dir string, rows int) string {
	t.Helper()

	plots := filepath.Join(dir, "plots")
	require.NoError(t, os.MkdirAll(plots, 0o755))

	makes := []string{"audi", "bmw", "fiat", "volvo"}
	var b strings.Builder
	b.WriteString("id,make,mpg,price,released,plot\n")
	for i := 0; i < rows; i++ {
		id := fmt.Sprintf("car-%03d", i+1)
		plot := filepath.Join("plots", id+".png")
		require.NoError(t, os.WriteFile(filepath.Join(dir, plot), PNGBytes, 0o644))
		fmt.Fprintf(&b, "%s,%s,%.1f,%d.00,2024-%02d-%02d,%s\n",
			id,
			makes[i%len(makes)],
			20+float64(i%15)*1.5,
			15000+1000*(i%7),
			1+i%12, 1+i%28,
			filepath.ToSlash(plot))
	}

	path := filepath.Join(dir, "cars.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

// PerformanceTest checks an operation against duration and memory targets
type PerformanceTest struct {
	t         *testing.T
	name      string
	threshold struct {
		maxDuration time.Duration
		maxMemory   int64 // bytes
	}
}

// NewPerformanceTest creates a new performance test
func NewPerformanceTest(t *testing.T, name string) *PerformanceTest {
	return &PerformanceTest{
		t:    t,
		name: name,
	}
}

// WithDurationTarget sets the longest acceptable run
func (p *PerformanceTest) WithDurationTarget(max time.Duration) *PerformanceTest {
	p.threshold.maxDuration = max
	return p
}

// WithMemoryTarget sets maximum memory usage
func (p *PerformanceTest) WithMemoryTarget(maxBytes int64) *PerformanceTest {
	p.threshold.maxMemory = maxBytes
	return p
}

// Run executes fn once and reports the rows it handled and how long it took
func (p *PerformanceTest) Run(fn func() (rows int, duration time.Duration)) {
	p.t.Helper()

	initialMem := CaptureMemoryProfile()
	rows, duration := fn()
	finalMem := CaptureMemoryProfile()

	var memoryUsed int64
	if finalMem.TotalAlloc > initialMem.TotalAlloc {
		memoryUsed = int64(finalMem.TotalAlloc - initialMem.TotalAlloc)
	}

	p.t.Logf("Performance Test: %s", p.name)
	p.t.Logf("  Rows: %d", rows)
	p.t.Logf("  Duration: %v", duration)
	p.t.Logf("  Allocated: %s", formatBytes(memoryUsed))

	if p.threshold.maxDuration > 0 && duration > p.threshold.maxDuration {
		p.t.Errorf("Duration %v exceeds target %v", duration, p.threshold.maxDuration)
	}

	if p.threshold.maxMemory > 0 && memoryUsed > p.threshold.maxMemory {
		p.t.Errorf("Memory usage %s exceeds target %s",
			formatBytes(memoryUsed), formatBytes(p.threshold.maxMemory))
	}
}

// MemoryProfile captures memory statistics
type MemoryProfile struct {
	AllocBytes uint64
	TotalAlloc uint64
	HeapInuse  uint64
}

// CaptureMemoryProfile captures current memory profile
func CaptureMemoryProfile() *MemoryProfile {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return &MemoryProfile{
		AllocBytes: m.Alloc,
		TotalAlloc: m.TotalAlloc,
		HeapInuse:  m.HeapInuse,
	}
}

// formatBytes formats bytes into human-readable string
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
