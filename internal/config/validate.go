package config

import (
	"fmt"
	"regexp"

	"golang.org/x/text/language"
)

// Severity of a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding. Path is a dotted location in the
// document, e.g. "model.path".
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

var parserKinds = map[string]bool{"": true, "csv": true, "json": true, "html": true, "xlsx": true}

// ValidatePipeline checks a pipeline for missing or inconsistent settings.
// The server mode does not need a source, so a missing source is a warning.
func ValidatePipeline(p Pipeline) []Issue {
	var out []Issue
	add := func(sev Severity, path, format string, a ...any) {
		out = append(out, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, a...)})
	}

	switch p.Source.Kind {
	case "":
		add(SeverityWarning, "source.kind", "no source configured; only server mode is available")
	case "file":
		if p.Source.File == nil || p.Source.File.Path == "" {
			add(SeverityError, "source.file.path", "required for file source")
		}
	case "gcs":
		if p.Source.GCS == nil || p.Source.GCS.Bucket == "" {
			add(SeverityError, "source.gcs.bucket", "required for gcs source")
		}
		if p.Source.GCS == nil || p.Source.GCS.Object == "" {
			add(SeverityError, "source.gcs.object", "required for gcs source")
		}
	default:
		add(SeverityError, "source.kind", "unsupported source kind %q (want file or gcs)", p.Source.Kind)
	}

	if !parserKinds[p.Parser.Kind] {
		add(SeverityError, "parser.kind", "unsupported parser kind %q (want csv, json, html or xlsx)", p.Parser.Kind)
	}

	if len(p.Schema.CategoricalFields) == 0 {
		add(SeverityWarning, "schema.categorical_fields", "empty; every categorical field of the schema is encoded")
	}
	seen := make(map[string]bool, len(p.Schema.CategoricalFields))
	for i, f := range p.Schema.CategoricalFields {
		if f == "" {
			add(SeverityError, fmt.Sprintf("schema.categorical_fields[%d]", i), "empty field name")
		}
		if seen[f] {
			add(SeverityWarning, fmt.Sprintf("schema.categorical_fields[%d]", i), "duplicate field %q", f)
		}
		seen[f] = true
	}

	switch p.Model.Kind {
	case "linear", "trees":
		if p.Model.Path == "" {
			add(SeverityError, "model.path", "required for %s model", p.Model.Kind)
		}
	case "remote":
		if p.Model.URL == "" {
			add(SeverityError, "model.url", "required for remote model")
		}
		if p.Model.TimeoutSeconds < 0 {
			add(SeverityError, "model.timeout_seconds", "must be >= 0")
		}
	case "":
		add(SeverityError, "model.kind", "required (linear, trees or remote)")
	default:
		add(SeverityError, "model.kind", "unsupported model kind %q", p.Model.Kind)
	}
	if p.Model.Threshold < 0 || p.Model.Threshold >= 1 {
		add(SeverityError, "model.threshold", "must be in (0, 1)")
	}
	if p.Model.BaseScore < 0 || p.Model.BaseScore >= 1 {
		add(SeverityError, "model.base_score", "must be in (0, 1)")
	}

	if p.Labels.Locale != "" {
		if _, err := language.Parse(p.Labels.Locale); err != nil {
			add(SeverityWarning, "labels.locale", "unparseable locale %q; English labels are used", p.Labels.Locale)
		}
	}

	if p.Output.GCSPrefix != "" && p.Output.GCSBucket == "" {
		add(SeverityWarning, "output.gcs_prefix", "ignored without output.gcs_bucket")
	}

	switch p.Storage.Kind {
	case "":
	case "postgres", "mssql", "sqlite":
		if p.Storage.DSN == "" {
			add(SeverityError, "storage.dsn", "required for %s storage", p.Storage.Kind)
		}
		if p.Storage.Table != "" && !identRe.MatchString(p.Storage.Table) {
			add(SeverityError, "storage.table", "invalid table name %q", p.Storage.Table)
		}
	default:
		add(SeverityError, "storage.kind", "unsupported storage kind %q", p.Storage.Kind)
	}

	if p.Server.MaxUploadBytes < 0 {
		add(SeverityError, "server.max_upload_bytes", "must be >= 0")
	}

	return out
}
