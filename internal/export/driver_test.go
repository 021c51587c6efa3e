package export

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ClusterCockpit/otlpshm/pkg/shmfile"
)

func TestDriverAwaitsFileThenRunsPipelines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "driver.shm")

	snk := &captureSink{}
	d := &Driver{Path: path, Sink: snk, Config: Config{
		LogsMaxBatchSize: 1,
		LogsBatchTimeout: time.Minute,
		ReportInterval:   time.Minute,
	}}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	// The file does not exist yet; the driver must keep polling rather
	// than returning an error.
	time.Sleep(50 * time.Millisecond)
	select {
	case err := <-done:
		t.Fatalf("driver returned early before file existed: %v", err)
	default:
	}

	f, err := shmfile.Create(path, testSizing(), 1)
	require.NoError(t, err)
	scopeRef := internResourceAndScope(t, f)
	ev := shmfile.Event{ScopeRef: scopeRef, TimeUnixNano: 1, Body: shmfile.AnyValue{Kind: shmfile.AnyValueString, Str: "x"}}
	require.NoError(t, f.Events.Publish(ev.Marshal()))

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("driver did not pick up the created file in time")
	}
	require.NotEmpty(t, snk.logs)
}
