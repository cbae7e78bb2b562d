// Package config loads service settings from defaults, an optional YAML
// file and DOCINGEST_* environment variables, in that order of precedence
// (last wins).
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix marks environment variables read by Load.
const EnvPrefix = "DOCINGEST_"

const maxConfigFileSize = 1 << 20

type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Ingest      IngestConfig      `koanf:"ingest"`
	Chunk       ChunkConfig       `koanf:"chunk"`
	Spreadsheet SpreadsheetConfig `koanf:"spreadsheet"`
	Embedding   EmbeddingConfig   `koanf:"embedding"`
	Store       StoreConfig       `koanf:"store"`
	Qdrant      QdrantConfig      `koanf:"qdrant"`
	Chromem     ChromemConfig     `koanf:"chromem"`
	Log         LogConfig         `koanf:"log"`
}

type ServerConfig struct {
	Port            string        `koanf:"port"`
	APIKey          string        `koanf:"api_key"` // bearer token for /api/*; empty disables auth
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type IngestConfig struct {
	Workers        int           `koanf:"workers"`
	QueueSize      int           `koanf:"queue_size"`
	MaxUploadBytes int64         `koanf:"max_upload_bytes"`
	JobTTL         time.Duration `koanf:"job_ttl"`
	JobTimeout     time.Duration `koanf:"job_timeout"`
	PDFColumnGap   float64       `koanf:"pdf_column_gap"`

	// Preprocess filters search text down to content words before embedding.
	Preprocess bool     `koanf:"preprocess"`
	KeepLatin  bool     `koanf:"keep_latin"`
	Stopwords  []string `koanf:"stopwords"`
}

// ChunkConfig lengths are in characters.
type ChunkConfig struct {
	MaxLength int `koanf:"max_length"`
	Overlap   int `koanf:"overlap"`
	MinLength int `koanf:"min_length"`
}

// SpreadsheetConfig maps table columns (0-based, negative disables) to
// outline levels. HeaderNames lists accepted header labels per slot.
type SpreadsheetConfig struct {
	Lvl1        int                 `koanf:"lvl1"`
	Lvl2        int                 `koanf:"lvl2"`
	Lvl3        int                 `koanf:"lvl3"`
	Detail      int                 `koanf:"detail"`
	Remarks     int                 `koanf:"remarks"`
	HeaderNames map[string][]string `koanf:"header_names"`
}

type EmbeddingConfig struct {
	APIKey        string        `koanf:"api_key"`
	BaseURL       string        `koanf:"base_url"`
	Model         string        `koanf:"model"`
	Dimensions    int           `koanf:"dimensions"`
	BatchSize     int           `koanf:"batch_size"`
	MaxInputRunes int           `koanf:"max_input_runes"`
	Timeout       time.Duration `koanf:"timeout"`
	Concurrency   int           `koanf:"concurrency"`
}

type StoreConfig struct {
	Backend      string        `koanf:"backend"` // qdrant or chromem
	Concurrency  int           `koanf:"concurrency"`
	MaxRetries   int           `koanf:"max_retries"`
	RetryBackoff time.Duration `koanf:"retry_backoff"`
}

type QdrantConfig struct {
	Host           string `koanf:"host"`
	Port           int    `koanf:"port"`
	APIKey         string `koanf:"api_key"`
	UseTLS         bool   `koanf:"use_tls"`
	Collection     string `koanf:"collection"`
	VectorSize     int    `koanf:"vector_size"`
	MaxMessageSize int    `koanf:"max_message_size"`
}

type ChromemConfig struct {
	Path       string `koanf:"path"` // empty keeps the store in memory
	Compress   bool   `koanf:"compress"`
	Collection string `koanf:"collection"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json or console
}

// Default returns the settings used when nothing overrides them.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:            "8090",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Ingest: IngestConfig{
			Workers:        4,
			QueueSize:      100,
			MaxUploadBytes: 10 << 20,
			JobTTL:         time.Hour,
			JobTimeout:     10 * time.Minute,
			PDFColumnGap:   18,
			Preprocess:     true,
		},
		Chunk: ChunkConfig{MaxLength: 500, Overlap: 50, MinLength: 10},
		Spreadsheet: SpreadsheetConfig{
			Lvl1: 0, Lvl2: 1, Lvl3: 2, Detail: 3, Remarks: 4,
		},
		Embedding: EmbeddingConfig{
			BaseURL:       "http://localhost:8080/v1",
			Model:         "jhgan/ko-sbert-nli",
			BatchSize:     32,
			MaxInputRunes: 512,
			Timeout:       60 * time.Second,
			Concurrency:   4,
		},
		Store: StoreConfig{
			Backend:      "qdrant",
			Concurrency:  8,
			MaxRetries:   3,
			RetryBackoff: time.Second,
		},
		Qdrant: QdrantConfig{
			Host:       "localhost",
			Port:       6334,
			Collection: "documents",
			VectorSize: 768,
		},
		Chromem: ChromemConfig{Collection: "documents"},
		Log:     LogConfig{Level: "info", Format: "json"},
	}
}

// Load builds the configuration. path may be empty, in which case only
// defaults and the environment apply.
func Load(path string) (Config, error) {
	k := koanf.New(".")

	if path != "" {
		content, err := readConfigFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envValue), nil); err != nil {
		return Config{}, fmt.Errorf("loading environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func readConfigFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file %s is larger than %d bytes", path, maxConfigFileSize)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return content, nil
}

// envKey maps DOCINGEST_SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, field, ok := strings.Cut(lower, "_")
	if !ok {
		return lower
	}
	return section + "." + field
}

// envValue splits comma-separated lists.
func envValue(key, value string) (string, any) {
	k := envKey(key)
	if k == "ingest.stopwords" {
		return k, strings.Split(value, ",")
	}
	return k, value
}

var collectionName = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// Validate enforces ranges. All problems are reported together.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Server.Port != "", "server.port is required")
	check(c.Ingest.Workers > 0, "ingest.workers must be positive")
	check(c.Ingest.QueueSize > 0, "ingest.queue_size must be positive")
	check(c.Ingest.MaxUploadBytes > 0, "ingest.max_upload_bytes must be positive")

	check(c.Chunk.MaxLength > 0, "chunk.max_length must be positive")
	check(c.Chunk.Overlap >= 0 && c.Chunk.Overlap <= c.Chunk.MaxLength/2,
		"chunk.overlap must be within [0, max_length/2], got %d", c.Chunk.Overlap)
	check(c.Chunk.MinLength >= 0 && c.Chunk.MinLength <= c.Chunk.MaxLength,
		"chunk.min_length must be within [0, max_length], got %d", c.Chunk.MinLength)

	for slot := range c.Spreadsheet.HeaderNames {
		switch slot {
		case "lvl1", "lvl2", "lvl3", "detail", "remarks":
		default:
			errs = append(errs, fmt.Errorf("spreadsheet.header_names: unknown slot %q", slot))
		}
	}

	check(c.Embedding.Model != "", "embedding.model is required")
	check(c.Embedding.Dimensions >= 0, "embedding.dimensions must not be negative")
	check(c.Embedding.Concurrency > 0, "embedding.concurrency must be positive")
	check(c.Embedding.BatchSize > 0, "embedding.batch_size must be positive")

	check(c.Store.Concurrency > 0, "store.concurrency must be positive")
	check(c.Store.MaxRetries > 0, "store.max_retries must be positive")
	switch c.Store.Backend {
	case "qdrant":
		check(c.Qdrant.Host != "", "qdrant.host is required")
		check(c.Qdrant.Port > 0 && c.Qdrant.Port <= 65535, "qdrant.port out of range: %d", c.Qdrant.Port)
		check(collectionName.MatchString(c.Qdrant.Collection), "qdrant.collection %q is not a valid name", c.Qdrant.Collection)
		check(c.Qdrant.VectorSize > 0, "qdrant.vector_size must be positive")
	case "chromem":
		check(collectionName.MatchString(c.Chromem.Collection), "chromem.collection %q is not a valid name", c.Chromem.Collection)
	default:
		errs = append(errs, fmt.Errorf("store.backend must be qdrant or chromem, got %q", c.Store.Backend))
	}

	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or console, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}
