// Licensed to the Apache Software Foundation (ASF) under one
// or more contributor license agreements.  See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership.  The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License.  You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

// Package config loads server configuration from a YAML file with
// SHARING_-prefixed environment variables layered on top.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const envPrefix = "SHARING"

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Catalog CatalogConfig `yaml:"catalog"`
	Signer  SignerConfig  `yaml:"signer"`
}

type ServerConfig struct {
	// Addr is the listen address, host:port.
	Addr string `yaml:"addr" envconfig:"ADDR"`
	// URLPrefix is the path all protocol endpoints are mounted under.
	URLPrefix string `yaml:"url-prefix" envconfig:"URL_PREFIX"`
	// BearerToken authorizes recipients. Authorization is disabled when
	// empty, which is only sensible behind another gate.
	BearerToken     string        `yaml:"bearer-token" envconfig:"BEARER_TOKEN"`
	RequestTimeout  time.Duration `yaml:"request-timeout" envconfig:"REQUEST_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown-timeout" envconfig:"SHUTDOWN_TIMEOUT"`
}

type CatalogConfig struct {
	// Type selects the backend: memory, file or sql.
	Type string `yaml:"type" envconfig:"TYPE"`
	// Path is the YAML seed document of the file backend.
	Path string `yaml:"path" envconfig:"PATH"`
	// Driver and URI configure the sql backend.
	Driver string `yaml:"driver" envconfig:"DRIVER"`
	URI    string `yaml:"uri" envconfig:"URI"`
	// RefreshInterval republishes the catalog snapshot periodically for
	// backends that can reload. Zero disables refresh.
	RefreshInterval time.Duration `yaml:"refresh-interval" envconfig:"REFRESH_INTERVAL"`
}

type SignerConfig struct {
	// Expiry bounds how long signed file URLs stay valid.
	Expiry time.Duration     `yaml:"expiry" envconfig:"EXPIRY"`
	S3     map[string]string `yaml:"s3"`
}

// Default returns the configuration used when nothing is specified.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			URLPrefix:       "/delta-sharing",
			RequestTimeout:  60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Catalog: CatalogConfig{Type: "file"},
		Signer:  SignerConfig{Expiry: 15 * time.Minute},
	}
}

// Load reads the YAML file at path (skipped when path is empty) and applies
// environment overrides. Defaults fill anything left unset.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config: %w", err)
		}
	}

	if err := envconfig.Process(envPrefix+"_SERVER", &cfg.Server); err != nil {
		return cfg, fmt.Errorf("server environment: %w", err)
	}
	if err := envconfig.Process(envPrefix+"_CATALOG", &cfg.Catalog); err != nil {
		return cfg, fmt.Errorf("catalog environment: %w", err)
	}
	if err := envconfig.Process(envPrefix+"_SIGNER", &cfg.Signer); err != nil {
		return cfg, fmt.Errorf("signer environment: %w", err)
	}

	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.Catalog.Type {
	case "memory", "":
	case "file":
		if c.Catalog.Path == "" {
			return fmt.Errorf("catalog type file requires catalog.path")
		}
	case "sql":
		if c.Catalog.URI == "" {
			return fmt.Errorf("catalog type sql requires catalog.uri")
		}
	default:
		return fmt.Errorf("unknown catalog type %q", c.Catalog.Type)
	}

	return nil
}
