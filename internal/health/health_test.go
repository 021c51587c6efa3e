package health

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

// startOn binds srv's handler to an ephemeral local port without going
// through Server.Run's ListenAndServe, so the test controls the listener's
// lifetime directly.
func startOn(t *testing.T, srv *Server) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go srv.httpServer.Serve(ln)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.httpServer.Shutdown(ctx)
	})
	return ln
}

func TestHealthzReportsWaitingWithoutFile(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	srv := NewServer("127.0.0.1:0", metrics, nil)

	listener := startOn(t, srv)
	defer listener.Close()

	resp, err := http.Get("http://" + listener.Addr().String() + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `"waiting"`)
}

func TestMetricsEndpointExposesRingGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	metrics.RingOccupancy.WithLabelValues("events").Set(3)

	srv := NewServer("127.0.0.1:0", metrics, nil)
	listener := startOn(t, srv)
	defer listener.Close()

	resp, err := http.Get("http://" + listener.Addr().String() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "otlpshm_ring_occupancy")
}
