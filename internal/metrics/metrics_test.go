package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNew_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.SessionOpened("iat")
	m.SessionOpened("iat")
	m.Reconnect("rtasr")
	m.Error("transport")
	m.Fragment(true)
	m.Fragment(false)
	m.ChunkScheduled()
	m.ChunkDropped()
	m.SetPooled(3)
	m.SetDeviceRefs(2)

	if got := testutil.ToFloat64(m.SessionsOpened.WithLabelValues("iat")); got != 2 {
		t.Errorf("expected 2 opened sessions, got %v", got)
	}
	if got := testutil.ToFloat64(m.Reconnects.WithLabelValues("rtasr")); got != 1 {
		t.Errorf("expected 1 reconnect, got %v", got)
	}
	if got := testutil.ToFloat64(m.PooledConnections); got != 3 {
		t.Errorf("expected pooled gauge 3, got %v", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) == 0 {
		t.Error("expected registered metric families")
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.SessionOpened("tts")
	m.SessionClosed("tts")
	m.Reconnect("tts")
	m.Error("auth")
	m.Fragment(true)
	m.ChunkScheduled()
	m.ChunkDropped()
	m.SetPooled(1)
	m.SetDeviceRefs(1)
}
