// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of otlpshm.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config loads and validates the collector's configuration file,
// grounded on the teacher's internal/config/config.go + validate.go:
// a package-level Keys struct with defaults, validated against a JSON
// Schema via github.com/santhosh-tekuri/jsonschema/v5 before decoding with
// json.Decoder.DisallowUnknownFields.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// BatchConfig configures one ring's export pipeline batching.
type BatchConfig struct {
	MaxBatchSize int    `json:"max-batch-size"`
	BatchTimeout string `json:"batch-timeout"`
}

// NatsConfig configures the NATS sink.
type NatsConfig struct {
	Address        string `json:"address"`
	Username       string `json:"username"`
	Password       string `json:"password"`
	CredsFilePath  string `json:"creds-file"`
	LogsSubject    string `json:"logs-subject"`
	SpansSubject   string `json:"spans-subject"`
	MetricsSubject string `json:"metrics-subject"`
}

// AvroConfig configures the Avro OCF sink.
type AvroConfig struct {
	Directory string `json:"directory"`
}

// LineProtocolConfig configures the line-protocol file sink.
type LineProtocolConfig struct {
	Path string `json:"path"`
}

// SinksConfig selects and configures the enabled external sinks (spec.md
// §6.3); any zero-valued sub-config is left disabled.
type SinksConfig struct {
	Nats         *NatsConfig         `json:"nats,omitempty"`
	Avro         *AvroConfig         `json:"avro,omitempty"`
	LineProtocol *LineProtocolConfig `json:"line-protocol,omitempty"`
}

// HealthConfig configures the self-observability HTTP endpoint.
type HealthConfig struct {
	Addr string `json:"addr"`
}

// Keys is the collector's runtime configuration, with defaults applied
// before a config file (if any) is decoded over it.
type Keys struct {
	ShmPath        string       `json:"shm-path"`
	Logs           BatchConfig  `json:"logs"`
	Spans          BatchConfig  `json:"spans"`
	ReportInterval string       `json:"report-interval"`
	Sinks          SinksConfig  `json:"sinks"`
	Health         HealthConfig `json:"health"`
}

// Default returns the zero-config defaults, matching spec.md's component
// design defaults where it specifies them and otherwise the teacher's
// convention of small, conservative numbers.
func Default() Keys {
	return Keys{
		Logs:           BatchConfig{MaxBatchSize: 512, BatchTimeout: "5s"},
		Spans:          BatchConfig{MaxBatchSize: 512, BatchTimeout: "5s"},
		ReportInterval: "10s",
		Health:         HealthConfig{Addr: ":8081"},
	}
}

// Load reads and validates the config file at path against the embedded
// JSON Schema, then decodes it over Default(), rejecting unknown fields
// (spec.md §9 ambient-stack carryover: config is the teacher's one
// strict-decode convention this collector keeps).
func Load(path string) (Keys, error) {
	keys := Default()

	raw, err := os.ReadFile(path)
	if err != nil {
		return keys, fmt.Errorf("config: read %q: %w", path, err)
	}

	if err := Validate(raw); err != nil {
		return keys, fmt.Errorf("config: validate %q: %w", path, err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&keys); err != nil {
		return keys, fmt.Errorf("config: decode %q: %w", path, err)
	}
	if keys.ShmPath == "" {
		return keys, fmt.Errorf("config: %q: shm-path is required", path)
	}
	return keys, nil
}

// Validate checks raw JSON against the collector's config schema.
func Validate(raw []byte) error {
	sch, err := jsonschema.CompileString("config.schema.json", schema)
	if err != nil {
		return fmt.Errorf("config: compile schema: %w", err)
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("config: unmarshal for validation: %w", err)
	}
	if err := sch.Validate(v); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
