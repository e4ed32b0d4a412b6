package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	"github.com/pr-cybr/notionsync/internal/githubsync"
	"github.com/pr-cybr/notionsync/internal/notionsync"
)

//go:embed config.schema.json
var schemaJSON []byte

const schemaURL = "https://github.com/pr-cybr/notionsync/config.schema.json"

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

var ErrInvalidConfig = errors.New("invalid config")

type fileConfig struct {
	Notion struct {
		APIToken            string   `yaml:"api_token"`
		BaseURL             string   `yaml:"base_url"`
		APIVersion          string   `yaml:"api_version"`
		MaxRetries          *int     `yaml:"max_retries"`
		RetryBackoffSeconds *float64 `yaml:"retry_backoff_seconds"`
	} `yaml:"notion"`
	Targets map[string]fileTarget `yaml:"targets"`
	Server  struct {
		Addr           string `yaml:"addr"`
		WebhookSecret  string `yaml:"webhook_secret"`
		AdminToken     string `yaml:"admin_token"`
		BackendProfile string `yaml:"backend_profile"`
		DataDir        string `yaml:"data_dir"`
		PostgresDSN    string `yaml:"postgres_dsn"`
		QueueDSN       string `yaml:"queue_dsn"`
		QueueSize      *int   `yaml:"queue_size"`
		LedgerDSN      string `yaml:"ledger_dsn"`
		DedupWindow    string `yaml:"dedup_window"`
		MaxBodyBytes   *int64 `yaml:"max_body_bytes"`
	} `yaml:"server"`
}

type fileTarget struct {
	DatabaseID     string `yaml:"database_id"`
	IDProperty     string `yaml:"id_property"`
	IDPropertyType string `yaml:"id_property_type"`
	TitleProperty  string `yaml:"title_property"`
}

// LoadFile validates the YAML document at path against the embedded schema
// and overlays its values onto cfg.
func LoadFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return Apply(raw, cfg)
}

// Apply is LoadFile for an in-memory document.
func Apply(raw []byte, cfg *Config) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := Validate(raw); err != nil {
		return err
	}
	var doc fileConfig
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return doc.applyTo(cfg)
}

// Validate checks a YAML document against the config schema.
func Validate(raw []byte) error {
	schema, err := configSchema()
	if err != nil {
		return err
	}
	var generic any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if generic == nil {
		return nil
	}
	asJSON, err := json.Marshal(generic)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(asJSON))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

func configSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
		if err != nil {
			schemaErr = err
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, doc); err != nil {
			schemaErr = err
			return
		}
		compiledSchema, schemaErr = compiler.Compile(schemaURL)
	})
	return compiledSchema, schemaErr
}

func (doc fileConfig) applyTo(cfg *Config) error {
	if cfg.Targets == nil {
		cfg.Targets = map[githubsync.Kind]notionsync.Target{}
	}
	n := doc.Notion
	cfg.APIToken = firstNonEmpty(n.APIToken, cfg.APIToken)
	cfg.BaseURL = firstNonEmpty(n.BaseURL, cfg.BaseURL)
	cfg.APIVersion = firstNonEmpty(n.APIVersion, cfg.APIVersion)
	if n.MaxRetries != nil {
		cfg.MaxRetries = *n.MaxRetries
	}
	if n.RetryBackoffSeconds != nil {
		cfg.RetryBackoff = time.Duration(*n.RetryBackoffSeconds * float64(time.Second))
	}

	for name, ft := range doc.Targets {
		kind, err := githubsync.ParseKind(name)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		target := cfg.Targets[kind]
		target.DatabaseID = firstNonEmpty(ft.DatabaseID, target.DatabaseID)
		target.IDProperty = firstNonEmpty(ft.IDProperty, target.IDProperty)
		target.TitleProperty = firstNonEmpty(ft.TitleProperty, target.TitleProperty)
		if strings.TrimSpace(ft.IDPropertyType) != "" {
			idType, err := notionsync.ParseIDPropertyType(ft.IDPropertyType)
			if err != nil {
				return fmt.Errorf("%w: targets.%s: %v", ErrInvalidConfig, name, err)
			}
			target.IDPropertyType = idType
		}
		cfg.Targets[kind] = target
	}

	s := doc.Server
	cfg.Server.Addr = firstNonEmpty(s.Addr, cfg.Server.Addr)
	cfg.Server.WebhookSecret = firstNonEmpty(s.WebhookSecret, cfg.Server.WebhookSecret)
	cfg.Server.AdminToken = firstNonEmpty(s.AdminToken, cfg.Server.AdminToken)
	cfg.Server.BackendProfile = firstNonEmpty(s.BackendProfile, cfg.Server.BackendProfile)
	cfg.Server.DataDir = firstNonEmpty(s.DataDir, cfg.Server.DataDir)
	cfg.Server.PostgresDSN = firstNonEmpty(s.PostgresDSN, cfg.Server.PostgresDSN)
	cfg.Server.QueueDSN = firstNonEmpty(s.QueueDSN, cfg.Server.QueueDSN)
	cfg.Server.LedgerDSN = firstNonEmpty(s.LedgerDSN, cfg.Server.LedgerDSN)
	if s.QueueSize != nil {
		cfg.Server.QueueSize = *s.QueueSize
	}
	if s.MaxBodyBytes != nil {
		cfg.Server.MaxBodyBytes = *s.MaxBodyBytes
	}
	if strings.TrimSpace(s.DedupWindow) != "" {
		window, err := time.ParseDuration(s.DedupWindow)
		if err != nil {
			return fmt.Errorf("%w: server.dedup_window: %v", ErrInvalidConfig, err)
		}
		cfg.Server.DedupWindow = window
	}
	return nil
}
