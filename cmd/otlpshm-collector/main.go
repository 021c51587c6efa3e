// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of otlpshm.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Command otlpshm-collector attaches to a shared-memory transport file
// produced by an instrumented process, reconstructs logs/spans/metrics
// from the three ring buffers, and forwards batches to one or more
// external sinks. Shaped after the teacher's cmd/cc-backend/main.go:
// flag-parsed CLI, optional .env loading, an optional gops debug agent,
// and cooperative shutdown on SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/gops/agent"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ClusterCockpit/otlpshm/internal/config"
	"github.com/ClusterCockpit/otlpshm/internal/export"
	"github.com/ClusterCockpit/otlpshm/internal/health"
	"github.com/ClusterCockpit/otlpshm/internal/sink"
	"github.com/ClusterCockpit/otlpshm/internal/sink/avro"
	"github.com/ClusterCockpit/otlpshm/internal/sink/lineprotocol"
	natssink "github.com/ClusterCockpit/otlpshm/internal/sink/nats"
	"github.com/ClusterCockpit/otlpshm/pkg/log"
)

func main() {
	var flagConfigFile, flagEnvFile string
	var flagGops bool
	flag.StringVar(&flagConfigFile, "config", "./config.json", "Path to the collector's `config.json`")
	flag.StringVar(&flagEnvFile, "env", "./.env", "Path to a `.env` file to load into the process environment, if present")
	flag.BoolVar(&flagGops, "gops", false, "Listen via github.com/google/gops/agent (for debugging)")
	flag.Parse()

	if flagGops {
		if err := agent.Listen(agent.Options{}); err != nil {
			log.Fatalf("gops/agent.Listen failed: %s", err.Error())
		}
	}

	if err := godotenv.Load(flagEnvFile); err != nil && !os.IsNotExist(err) {
		log.Fatalf("parsing %q failed: %s", flagEnvFile, err.Error())
	}

	keys, err := config.Load(flagConfigFile)
	if err != nil {
		log.Fatalf("loading config: %s", err.Error())
	}

	snk, closeSinks, err := buildSink(keys)
	if err != nil {
		log.Fatalf("building sinks: %s", err.Error())
	}
	defer closeSinks()

	reportInterval, err := time.ParseDuration(keys.ReportInterval)
	if err != nil {
		log.Fatalf("invalid report-interval %q: %s", keys.ReportInterval, err.Error())
	}
	logsTimeout, err := time.ParseDuration(keys.Logs.BatchTimeout)
	if err != nil {
		log.Fatalf("invalid logs.batch-timeout %q: %s", keys.Logs.BatchTimeout, err.Error())
	}
	spansTimeout, err := time.ParseDuration(keys.Spans.BatchTimeout)
	if err != nil {
		log.Fatalf("invalid spans.batch-timeout %q: %s", keys.Spans.BatchTimeout, err.Error())
	}

	metrics := health.NewMetrics(prometheus.DefaultRegisterer)
	healthSrv := health.NewServer(keys.Health.Addr, metrics, nil)

	driver := &export.Driver{
		Path: keys.ShmPath,
		Sink: snk,
		Config: export.Config{
			LogsMaxBatchSize:  keys.Logs.MaxBatchSize,
			LogsBatchTimeout:  logsTimeout,
			SpansMaxBatchSize: keys.Spans.MaxBatchSize,
			SpansBatchTimeout: spansTimeout,
			ReportInterval:    reportInterval,
		},
		Metrics: metrics,
	}

	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := healthSrv.Run(ctx); err != nil {
			log.Errorf("health server: %s", err.Error())
		}
	}()

	go func() {
		defer wg.Done()
		log.NoteLog.Printf("collector attaching to %s", keys.ShmPath)
		if err := driver.Run(ctx); err != nil && err != context.Canceled {
			log.Errorf("export driver stopped: %s", err.Error())
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	log.NoteLog.Printf("shutting down")
	cancel()
	wg.Wait()
}

// buildSink assembles the configured sinks into a single sink.Sink,
// fanning out via sink.Multi when more than one is enabled (spec.md
// §6.3). The returned closer releases any owned connections/files.
func buildSink(keys config.Keys) (sink.Sink, func(), error) {
	var sinks []sink.Sink
	var closers []func()

	if keys.Sinks.Nats != nil {
		cfg := keys.Sinks.Nats
		n, err := natssink.New(natssink.Config{
			Address:        cfg.Address,
			Username:       cfg.Username,
			Password:       cfg.Password,
			CredsFilePath:  cfg.CredsFilePath,
			LogsSubject:    cfg.LogsSubject,
			SpansSubject:   cfg.SpansSubject,
			MetricsSubject: cfg.MetricsSubject,
		})
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, n)
		closers = append(closers, n.Close)
	}

	if keys.Sinks.Avro != nil {
		a, err := avro.New(keys.Sinks.Avro.Directory)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, a)
	}

	if keys.Sinks.LineProtocol != nil {
		f, err := os.OpenFile(keys.Sinks.LineProtocol.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, lineprotocol.New(f))
		closers = append(closers, func() { f.Close() })
	}

	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	switch len(sinks) {
	case 0:
		return noopSink{}, closeAll, nil
	case 1:
		return sinks[0], closeAll, nil
	default:
		return sink.Multi{Sinks: sinks}, closeAll, nil
	}
}

// noopSink discards every batch; used when no sink is configured so the
// collector can still run for its health/metrics surface alone.
type noopSink struct{}

func (noopSink) SendLogs(context.Context, sink.LogsBatch) error       { return nil }
func (noopSink) SendSpans(context.Context, sink.SpansBatch) error     { return nil }
func (noopSink) SendMetrics(context.Context, sink.MetricsBatch) error { return nil }
