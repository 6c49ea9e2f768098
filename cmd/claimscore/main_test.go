package main

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"claimscore/internal/config"
	"claimscore/internal/metrics"
	"claimscore/internal/metrics/datadog"
)

func quietLogger(io.Writer, bool) *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeRunner struct {
	err   error
	calls atomic.Int64
	last  runOptions
	cfg   config.Pipeline
}

func (r *fakeRunner) Run(ctx context.Context, p config.Pipeline, o runOptions) error {
	r.calls.Add(1)
	r.last = o
	r.cfg = p
	return r.err
}

func validPipeline() config.Pipeline {
	p := config.Pipeline{
		Job:    "job1",
		Source: config.Source{Kind: "file", File: &config.FileSource{Path: "claims.csv"}},
		Schema: config.SchemaConfig{CategoricalFields: []string{"sex"}},
		Model:  config.Model{Kind: "linear", Path: "model.json"},
	}
	p.ApplyDefaults()
	return p
}

func TestRunMain_UsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "missing_config_flag", args: []string{}},
		{name: "empty_config_value", args: []string{"-config", "   "}},
		{name: "unknown_flag", args: []string{"-bogus"}},
		{name: "probe_with_serve", args: []string{"-config", "cfg.json", "-probe", "-serve"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			deps := appDeps{
				newLogger: quietLogger,
				loadConfig: func(string) (config.Pipeline, error) {
					t.Fatalf("loadConfig must not be called on usage errors")
					return config.Pipeline{}, nil
				},
				initMetrics: func(context.Context, string, string) (func(), error) {
					t.Fatalf("initMetrics must not be called on usage errors")
					return nil, nil
				},
				newRunner: func(*slog.Logger) runner {
					t.Fatalf("newRunner must not be called on usage errors")
					return nil
				},
			}
			if code := runMain(context.Background(), tc.args, &stdout, &stderr, deps); code != 2 {
				t.Fatalf("exit code=%d, want 2", code)
			}
			if stdout.Len() != 0 {
				t.Fatalf("stdout=%q, want empty", stdout.String())
			}
			if tc.name != "unknown_flag" && !strings.Contains(stderr.String(), "usage: claimscore -config") {
				t.Fatalf("stderr=%q, want usage", stderr.String())
			}
		})
	}
}

func TestRunMain_Flow(t *testing.T) {
	invalid := validPipeline()
	invalid.Model.Kind = ""

	tests := []struct {
		name            string
		args            []string
		cfg             config.Pipeline
		loadErr         error
		metricsErr      error
		runErr          error
		wantCode        int
		wantStdout      string
		wantStderrSub   string
		wantRunnerCalls int64
		wantCleanup     int64
		wantListen      string
		wantProbe       bool
	}{
		{name: "load_error", loadErr: errors.New("no such file"), wantCode: 1, wantStderrSub: "load config: no such file"},
		{name: "invalid_config", cfg: invalid, wantCode: 1, wantStderrSub: "configuration is invalid"},
		{name: "validate_only", args: []string{"-validate"}, cfg: validPipeline(), wantCode: 0, wantStdout: "configuration is valid: cfg.json\n"},
		{name: "metrics_error", cfg: validPipeline(), metricsErr: errors.New("dd down"), wantCode: 1, wantStderrSub: "metrics: dd down", wantCleanup: 1},
		{name: "run_error", cfg: validPipeline(), runErr: errors.New("boom"), wantCode: 1, wantStderrSub: "boom", wantRunnerCalls: 1, wantCleanup: 1},
		{name: "success", cfg: validPipeline(), wantCode: 0, wantRunnerCalls: 1, wantCleanup: 1},
		{name: "serve_uses_config_listen", args: []string{"-serve"}, cfg: validPipeline(), wantCode: 0, wantRunnerCalls: 1, wantCleanup: 1, wantListen: config.DefaultListen},
		{name: "listen_flag_wins", args: []string{"-serve", "-listen", "127.0.0.1:9999"}, cfg: validPipeline(), wantCode: 0, wantRunnerCalls: 1, wantCleanup: 1, wantListen: "127.0.0.1:9999"},
		{name: "probe", args: []string{"-probe"}, cfg: validPipeline(), wantCode: 0, wantRunnerCalls: 1, wantCleanup: 1, wantProbe: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			fr := &fakeRunner{err: tc.runErr}
			var cleanups atomic.Int64

			deps := appDeps{
				newLogger: quietLogger,
				loadConfig: func(path string) (config.Pipeline, error) {
					if path != "cfg.json" {
						t.Fatalf("loadConfig path=%q, want cfg.json", path)
					}
					return tc.cfg, tc.loadErr
				},
				initMetrics: func(ctx context.Context, jobName, backendName string) (func(), error) {
					if jobName != "job1" {
						t.Fatalf("jobName=%q, want job1", jobName)
					}
					if backendName != "none" {
						t.Fatalf("backendName=%q, want none", backendName)
					}
					return func() { cleanups.Add(1) }, tc.metricsErr
				},
				newRunner: func(*slog.Logger) runner { return fr },
			}

			args := append([]string{"-config", "cfg.json", "-metrics-backend", "none", "-input", "in.csv"}, tc.args...)
			code := runMain(context.Background(), args, &stdout, &stderr, deps)

			if code != tc.wantCode {
				t.Fatalf("exit code=%d, want %d; stderr=%q", code, tc.wantCode, stderr.String())
			}
			if tc.wantStderrSub != "" && !strings.Contains(stderr.String(), tc.wantStderrSub) {
				t.Fatalf("stderr=%q, want contains %q", stderr.String(), tc.wantStderrSub)
			}
			if got := stdout.String(); got != tc.wantStdout {
				t.Fatalf("stdout=%q, want %q", got, tc.wantStdout)
			}
			if got := fr.calls.Load(); got != tc.wantRunnerCalls {
				t.Fatalf("runner calls=%d, want %d", got, tc.wantRunnerCalls)
			}
			if got := cleanups.Load(); got != tc.wantCleanup {
				t.Fatalf("cleanup calls=%d, want %d", got, tc.wantCleanup)
			}
			if tc.wantRunnerCalls > 0 {
				if fr.last.Listen != tc.wantListen || fr.last.Input != "in.csv" || fr.last.Probe != tc.wantProbe {
					t.Fatalf("runner options = %+v", fr.last)
				}
			}
		})
	}
}

type fakeMetricsBackend struct {
	closeErr error
	closed   atomic.Int64
}

func (b *fakeMetricsBackend) IncCounter(string, float64, metrics.Labels)       {}
func (b *fakeMetricsBackend) ObserveHistogram(string, float64, metrics.Labels) {}
func (b *fakeMetricsBackend) Flush() error                                     { return nil }
func (b *fakeMetricsBackend) Close() error {
	b.closed.Add(1)
	return b.closeErr
}

// swapMetricsSeams replaces the initMetrics seams for one test.
func swapMetricsSeams(t *testing.T, b metricsBackend, gotOpts *datadog.Options, sets *atomic.Int64, logged *bytes.Buffer) {
	t.Helper()
	oldNew, oldSet, oldLog := newDatadogBackend, setMetricsBackend, logError
	t.Cleanup(func() {
		newDatadogBackend, setMetricsBackend, logError = oldNew, oldSet, oldLog
	})

	newDatadogBackend = func(ctx context.Context, opts datadog.Options) (metricsBackend, error) {
		*gotOpts = opts
		return b, nil
	}
	setMetricsBackend = func(metrics.Backend) { sets.Add(1) }
	logError = func(msg string, args ...any) {
		logged.WriteString(msg)
		for _, a := range args {
			if err, ok := a.(error); ok {
				logged.WriteString(": " + err.Error())
			}
		}
	}
}

func TestInitMetrics_None_DoesNotMutateGlobalState(t *testing.T) {
	var sets atomic.Int64
	var opts datadog.Options
	var logged bytes.Buffer
	swapMetricsSeams(t, &fakeMetricsBackend{}, &opts, &sets, &logged)

	for _, name := range []string{"", "none", "NOOP"} {
		cleanup, err := initMetrics(context.Background(), "job", name)
		if err != nil {
			t.Fatalf("initMetrics(%q) err=%v", name, err)
		}
		cleanup()
	}
	if sets.Load() != 0 {
		t.Fatalf("setMetricsBackend called %d times", sets.Load())
	}
}

func TestInitMetrics_Datadog_WiresBackendAndCloses(t *testing.T) {
	t.Setenv("METRICS_TAGS", "team:claims, region:eu")

	b := &fakeMetricsBackend{}
	var sets atomic.Int64
	var opts datadog.Options
	var logged bytes.Buffer
	swapMetricsSeams(t, b, &opts, &sets, &logged)

	cleanup, err := initMetrics(context.Background(), "jobA", "datadog")
	if err != nil {
		t.Fatalf("initMetrics err=%v", err)
	}
	if opts.JobName != "jobA" || len(opts.Tags) != 2 {
		t.Fatalf("datadog options = %+v", opts)
	}
	if sets.Load() != 1 {
		t.Fatalf("setMetricsBackend calls=%d, want 1", sets.Load())
	}

	cleanup()
	if b.closed.Load() != 1 {
		t.Fatalf("backend closed=%d, want 1", b.closed.Load())
	}
	if logged.Len() != 0 {
		t.Fatalf("unexpected log output: %q", logged.String())
	}
}

func TestInitMetrics_Datadog_CloseErrorIsLogged(t *testing.T) {
	b := &fakeMetricsBackend{closeErr: errors.New("flush failed")}
	var sets atomic.Int64
	var opts datadog.Options
	var logged bytes.Buffer
	swapMetricsSeams(t, b, &opts, &sets, &logged)

	cleanup, err := initMetrics(context.Background(), "job", "dd")
	if err != nil {
		t.Fatalf("initMetrics err=%v", err)
	}
	cleanup()

	if !strings.Contains(logged.String(), "metrics: datadog close error") || !strings.Contains(logged.String(), "flush failed") {
		t.Fatalf("log=%q, want close error with cause", logged.String())
	}
}

func TestInitMetrics_UnknownBackendErrors(t *testing.T) {
	cleanup, err := initMetrics(context.Background(), "job", "nope")
	if err == nil {
		t.Fatalf("initMetrics err=nil, want error")
	}
	if cleanup == nil {
		t.Fatalf("cleanup=nil, want non-nil")
	}
	cleanup()
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestRunMain_ScoresFileEndToEnd(t *testing.T) {
	dir := t.TempDir()

	schemaPath := writeFile(t, dir, "schema.json", `{
  "version": "e2e",
  "columns": ["age", "sex_MALE", "severity_Minor"],
  "numeric": ["age"],
  "categorical": [
    {"field": "sex", "reference": "FEMALE"},
    {"field": "severity", "reference": "Major"}
  ]
}`)
	modelPath := writeFile(t, dir, "model.json", `{
  "feature_names": ["age", "sex_MALE", "severity_Minor"],
  "weights": [0, 10, 0],
  "bias": -5
}`)
	inputPath := writeFile(t, dir, "claims.csv", "Age,Sex,Severity\n34,MALE,Catastrophic\n41,FEMALE,Minor\n")
	csvOut := filepath.Join(dir, "out.csv")
	chartOut := filepath.Join(dir, "out.png")
	dbPath := filepath.Join(dir, "results.db")

	cfgPath := writeFile(t, dir, "pipeline.yaml", `job: e2e
source:
  kind: file
  file:
    path: `+inputPath+`
schema:
  path: `+schemaPath+`
  categorical_fields: [sex, severity]
model:
  kind: linear
  path: `+modelPath+`
labels:
  locale: fr
output:
  csv: `+csvOut+`
  chart: `+chartOut+`
storage:
  kind: sqlite
  dsn: `+dbPath+`
  auto_create_table: true
`)

	deps := defaultDeps()
	deps.newLogger = quietLogger

	var stdout, stderr bytes.Buffer
	code := runMain(context.Background(), []string{"-config", cfgPath, "-metrics-backend", "none"}, &stdout, &stderr, deps)
	if code != 0 {
		t.Fatalf("exit code=%d stderr=%s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "2 claims scored, 1 flagged (50.0%)") {
		t.Fatalf("stdout=%q", stdout.String())
	}

	gotCSV, err := os.ReadFile(csvOut)
	if err != nil {
		t.Fatalf("read csv output: %v", err)
	}
	if want := "age,sex_MALE,severity_Minor,prediction\n34,1,0,Oui\n41,0,1,Non\n"; string(gotCSV) != want {
		t.Fatalf("csv output=\n%s\nwant\n%s", gotCSV, want)
	}
	if png, err := os.ReadFile(chartOut); err != nil || !bytes.HasPrefix(png, []byte("\x89PNG")) {
		t.Fatalf("chart output missing or not a PNG (err=%v)", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open results db: %v", err)
	}
	defer db.Close()
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM "` + config.DefaultTable + `" WHERE "label" = 'Oui'`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("stored fraud rows=%d, want 1", n)
	}
}

func TestRunMain_BadUploadFails(t *testing.T) {
	dir := t.TempDir()
	modelPath := writeFile(t, dir, "model.json", `{"feature_names": ["age"], "weights": [1], "bias": 0}`)
	schemaPath := writeFile(t, dir, "schema.json", `{"version": "x", "columns": ["age"], "numeric": ["age"]}`)
	inputPath := writeFile(t, dir, "claims.csv", "age\nold\n")
	cfgPath := writeFile(t, dir, "pipeline.json", `{
  "source": {"kind": "file", "file": {"path": "`+filepath.ToSlash(inputPath)+`"}},
  "schema": {"path": "`+filepath.ToSlash(schemaPath)+`"},
  "model": {"kind": "linear", "path": "`+filepath.ToSlash(modelPath)+`"}
}`)

	deps := defaultDeps()
	deps.newLogger = quietLogger

	var stdout, stderr bytes.Buffer
	code := runMain(context.Background(), []string{"-config", cfgPath, "-metrics-backend", "none"}, &stdout, &stderr, deps)
	if code != 1 {
		t.Fatalf("exit code=%d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "encode") {
		t.Fatalf("stderr=%q, want encode step error", stderr.String())
	}
}

func TestRunMain_ProbeReportsWithoutModel(t *testing.T) {
	dir := t.TempDir()
	schemaPath := writeFile(t, dir, "schema.json", `{
  "version": "p1",
  "columns": ["age", "sex_MALE"],
  "numeric": ["age"],
  "categorical": [{"field": "sex", "reference": "FEMALE"}]
}`)
	inputPath := writeFile(t, dir, "claims.csv", "age,sex,policy\n34,MALE,a\nold,OTHER,b\n")
	// The model file does not exist; probing must not open it.
	cfgPath := writeFile(t, dir, "pipeline.json", `{
  "source": {"kind": "file", "file": {"path": "`+filepath.ToSlash(inputPath)+`"}},
  "schema": {"path": "`+filepath.ToSlash(schemaPath)+`", "categorical_fields": ["sex"]},
  "model": {"kind": "linear", "path": "`+filepath.ToSlash(filepath.Join(dir, "missing.json"))+`"}
}`)

	deps := defaultDeps()
	deps.newLogger = quietLogger

	var stdout, stderr bytes.Buffer
	code := runMain(context.Background(), []string{"-config", cfgPath, "-metrics-backend", "none", "-probe"}, &stdout, &stderr, deps)
	if code != 0 {
		t.Fatalf("exit code=%d stderr=%s", code, stderr.String())
	}
	out := stdout.String()
	for _, sub := range []string{
		"rows=2\tschema=p1",
		"ignored columns: policy",
		`1 non-numeric values in "age"`,
		`unseen category sex="OTHER" in 1 rows`,
	} {
		if !strings.Contains(out, sub) {
			t.Fatalf("stdout missing %q:\n%s", sub, out)
		}
	}
}

func TestRunMain_SchemaFieldMustMatchUploadHeaders(t *testing.T) {
	dir := t.TempDir()
	// Upload headers are lower-cased, so a field named "Sex" could never be
	// read from the "Sex" column below.
	schemaPath := writeFile(t, dir, "schema.json", `{
  "version": "caps",
  "columns": ["age", "Sex_MALE"],
  "numeric": ["age"],
  "categorical": [{"field": "Sex", "reference": "FEMALE"}]
}`)
	modelPath := writeFile(t, dir, "model.json", `{"feature_names": ["age", "Sex_MALE"], "weights": [0, 10], "bias": -5}`)
	inputPath := writeFile(t, dir, "claims.csv", "age,Sex\n34,MALE\n")
	cfgPath := writeFile(t, dir, "pipeline.json", `{
  "source": {"kind": "file", "file": {"path": "`+filepath.ToSlash(inputPath)+`"}},
  "schema": {"path": "`+filepath.ToSlash(schemaPath)+`"},
  "model": {"kind": "linear", "path": "`+filepath.ToSlash(modelPath)+`"}
}`)

	deps := defaultDeps()
	deps.newLogger = quietLogger

	var stdout, stderr bytes.Buffer
	code := runMain(context.Background(), []string{"-config", cfgPath, "-metrics-backend", "none"}, &stdout, &stderr, deps)
	if code != 1 {
		t.Fatalf("exit code=%d, want 1; stdout=%q", code, stdout.String())
	}
	if !strings.Contains(stderr.String(), `field "Sex" does not match upload headers`) {
		t.Fatalf("stderr=%q, want schema field error", stderr.String())
	}
	if stdout.Len() != 0 {
		t.Fatalf("nothing should be scored, stdout=%q", stdout.String())
	}
}

func TestRunMain_UploadWithoutCategoricalColumnFails(t *testing.T) {
	dir := t.TempDir()
	schemaPath := writeFile(t, dir, "schema.json", `{
  "version": "x",
  "columns": ["age", "sex_MALE", "sex_nan"],
  "numeric": ["age"],
  "categorical": [{"field": "sex", "reference": "FEMALE"}]
}`)
	modelPath := writeFile(t, dir, "model.json", `{"feature_names": ["age", "sex_MALE", "sex_nan"], "weights": [0, 10, 10], "bias": -5}`)
	inputPath := writeFile(t, dir, "claims.csv", "age\n34\n41\n")
	cfgPath := writeFile(t, dir, "pipeline.json", `{
  "source": {"kind": "file", "file": {"path": "`+filepath.ToSlash(inputPath)+`"}},
  "schema": {"path": "`+filepath.ToSlash(schemaPath)+`", "categorical_fields": ["sex"]},
  "model": {"kind": "linear", "path": "`+filepath.ToSlash(modelPath)+`"}
}`)

	deps := defaultDeps()
	deps.newLogger = quietLogger

	var stdout, stderr bytes.Buffer
	code := runMain(context.Background(), []string{"-config", cfgPath, "-metrics-backend", "none"}, &stdout, &stderr, deps)
	if code != 1 {
		t.Fatalf("exit code=%d, want 1; stdout=%q", code, stdout.String())
	}
	if !strings.Contains(stderr.String(), `upload has no column "sex"`) {
		t.Fatalf("stderr=%q, want missing column error", stderr.String())
	}
}
