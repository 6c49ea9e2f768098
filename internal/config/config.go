// Package config holds the claim-scoring pipeline document and its helpers.
//
// A pipeline is a single JSON (or YAML) file describing where the upload
// comes from, how it is parsed, which schema and model artifact to use, and
// where results go. Use Load to read one and ValidatePipeline to check it.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Pipeline is the root configuration document.
type Pipeline struct {
	Job     string       `json:"job" yaml:"job"`
	Source  Source       `json:"source" yaml:"source"`
	Parser  Parser       `json:"parser" yaml:"parser"`
	Schema  SchemaConfig `json:"schema" yaml:"schema"`
	Model   Model        `json:"model" yaml:"model"`
	Labels  Labels       `json:"labels" yaml:"labels"`
	Output  Output       `json:"output" yaml:"output"`
	Storage Storage      `json:"storage" yaml:"storage"`
	Server  Server       `json:"server" yaml:"server"`
}

// Source selects where the upload is read from in one-shot mode.
type Source struct {
	// Kind: "file" | "gcs"
	Kind string      `json:"kind" yaml:"kind"`
	File *FileSource `json:"file,omitempty" yaml:"file,omitempty"`
	GCS  *GCSSource  `json:"gcs,omitempty" yaml:"gcs,omitempty"`
}

type FileSource struct {
	Path string `json:"path" yaml:"path"`
}

type GCSSource struct {
	Bucket string `json:"bucket" yaml:"bucket"`
	Object string `json:"object" yaml:"object"`
}

// Parser selects the upload format. An empty Kind is inferred from the file
// name by the upload package.
type Parser struct {
	Kind    string  `json:"kind" yaml:"kind"`
	Options Options `json:"options" yaml:"options"`
}

// SchemaConfig points at the training schema. An empty Path selects the
// built-in claims schema.
type SchemaConfig struct {
	Path string `json:"path" yaml:"path"`

	// CategoricalFields lists the raw columns to one-hot encode. Empty means
	// every categorical field declared by the schema.
	CategoricalFields []string `json:"categorical_fields" yaml:"categorical_fields"`

	// MissingCategory replaces empty categorical cells. Defaults to "nan".
	MissingCategory string `json:"missing_category" yaml:"missing_category"`
}

// Model describes the classifier artifact.
type Model struct {
	// Kind: "linear" | "trees" | "remote"
	Kind           string  `json:"kind" yaml:"kind"`
	Path           string  `json:"path" yaml:"path"`
	URL            string  `json:"url" yaml:"url"`
	TimeoutSeconds int     `json:"timeout_seconds" yaml:"timeout_seconds"`
	Threshold      float64 `json:"threshold" yaml:"threshold"`
	BaseScore      float64 `json:"base_score" yaml:"base_score"`
}

// Labels controls the vocabulary attached to predictions.
type Labels struct {
	Locale string `json:"locale" yaml:"locale"`
}

// Output lists optional result files. Empty paths are skipped.
type Output struct {
	CSV       string `json:"csv" yaml:"csv"`
	XLSX      string `json:"xlsx" yaml:"xlsx"`
	Chart     string `json:"chart" yaml:"chart"`
	GCSBucket string `json:"gcs_bucket" yaml:"gcs_bucket"`
	GCSPrefix string `json:"gcs_prefix" yaml:"gcs_prefix"`
}

// Storage configures the optional results database.
type Storage struct {
	// Kind: "" (disabled) | "postgres" | "mssql" | "sqlite"
	Kind            string `json:"kind" yaml:"kind"`
	DSN             string `json:"dsn" yaml:"dsn"`
	Table           string `json:"table" yaml:"table"`
	AutoCreateTable bool   `json:"auto_create_table" yaml:"auto_create_table"`
}

// Server configures the HTTP upload API.
type Server struct {
	Listen         string `json:"listen" yaml:"listen"`
	MaxUploadBytes int64  `json:"max_upload_bytes" yaml:"max_upload_bytes"`
}

// Defaults.
const (
	DefaultThreshold      = 0.5
	DefaultTimeoutSeconds = 30
	DefaultListen         = ":8080"
	DefaultMaxUploadBytes = 32 << 20
	DefaultTable          = "claim_predictions"
	DefaultJob            = "claimscore"
)

// ApplyDefaults fills zero-valued settings in place.
func (p *Pipeline) ApplyDefaults() {
	if p.Job == "" {
		p.Job = DefaultJob
	}
	if p.Model.Threshold == 0 {
		p.Model.Threshold = DefaultThreshold
	}
	if p.Model.TimeoutSeconds == 0 {
		p.Model.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if p.Server.Listen == "" {
		p.Server.Listen = DefaultListen
	}
	if p.Server.MaxUploadBytes == 0 {
		p.Server.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if p.Storage.Kind != "" && p.Storage.Table == "" {
		p.Storage.Table = DefaultTable
	}
}

// Load reads a pipeline from path. Files ending in .yaml or .yml are decoded
// as YAML, anything else as JSON. Environment variables in DSNs and URLs are
// expanded and defaults are applied. Load does not validate.
func Load(path string) (Pipeline, error) {
	f, err := os.Open(path)
	if err != nil {
		return Pipeline{}, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	p, err := Decode(f, formatFromPath(path))
	if err != nil {
		return Pipeline{}, fmt.Errorf("decode config %s: %w", path, err)
	}
	return p, nil
}

// Decode reads a pipeline document in the given format ("json" or "yaml").
func Decode(r io.Reader, format string) (Pipeline, error) {
	var p Pipeline
	switch format {
	case "yaml":
		data, err := io.ReadAll(r)
		if err != nil {
			return Pipeline{}, err
		}
		if len(bytes.TrimSpace(data)) > 0 {
			if err := yaml.Unmarshal(data, &p); err != nil {
				return Pipeline{}, err
			}
		}
	case "json", "":
		dec := json.NewDecoder(r)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&p); err != nil {
			return Pipeline{}, err
		}
	default:
		return Pipeline{}, fmt.Errorf("unsupported config format %q", format)
	}

	p.Storage.DSN = os.ExpandEnv(p.Storage.DSN)
	p.Model.URL = os.ExpandEnv(p.Model.URL)
	p.ApplyDefaults()
	return p, nil
}

func formatFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	default:
		return "json"
	}
}
