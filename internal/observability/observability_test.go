package observability

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.SessionOpened()
	m.SessionClosed("client")
	m.Frame("in", "text")
	m.Request("home", 200)
	m.Connection()
}

func TestMetrics(t *testing.T) {
	m := NewMetrics()

	m.Connection()
	m.Connection()
	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed("client")
	m.SessionClosed("")
	m.Frame("out", "text")
	m.Request("plant", 200)
	m.Request("plant", 200)
	m.Request("not_found", 404)

	for _, test := range []struct {
		name string
		act  float64
		exp  float64
	}{
		{"connections", testutil.ToFloat64(m.ConnectionsTotal), 2},
		{"active sessions", testutil.ToFloat64(m.ActiveSessions), 0},
		{"closed by client", testutil.ToFloat64(m.SessionsClosedTotal.WithLabelValues("client")), 1},
		{"frames", testutil.ToFloat64(m.FramesTotal.WithLabelValues("out", "text")), 1},
		{"plant requests", testutil.ToFloat64(m.RequestsTotal.WithLabelValues("plant", "200")), 2},
		{"not found requests", testutil.ToFloat64(m.RequestsTotal.WithLabelValues("not_found", "404")), 1},
	} {
		if test.act != test.exp {
			t.Errorf("%s = %v; want %v", test.name, test.act, test.exp)
		}
	}
	if n := testutil.CollectAndCount(m.SessionsClosedTotal); n != 1 {
		t.Errorf("sessions_closed_total has %d series; want 1", n)
	}
	if _, err := m.Registry().Gather(); err != nil {
		t.Errorf("Gather() = %v", err)
	}
}

func TestNewLoggerTo(t *testing.T) {
	for _, test := range []struct {
		level  string
		logged []string
	}{
		{"debug", []string{"debug", "info", "warn"}},
		{"", []string{"info", "warn"}},
		{"bogus", []string{"info", "warn"}},
		{"WARN", []string{"warn"}},
		{"error", nil},
	} {
		t.Run(test.level, func(t *testing.T) {
			var buf bytes.Buffer
			log := NewLoggerTo(&buf, test.level)
			log.Debug().Msg("m")
			log.Info().Msg("m")
			log.Warn().Msg("m")

			var act []string
			dec := json.NewDecoder(&buf)
			for dec.More() {
				var rec struct {
					Level string `json:"level"`
					Time  string `json:"time"`
				}
				if err := dec.Decode(&rec); err != nil {
					t.Fatal(err)
				}
				if rec.Time == "" {
					t.Errorf("record has no timestamp")
				}
				act = append(act, rec.Level)
			}
			if len(act) != len(test.logged) {
				t.Fatalf("logged levels %v; want %v", act, test.logged)
			}
			for i := range act {
				if act[i] != test.logged[i] {
					t.Fatalf("logged levels %v; want %v", act, test.logged)
				}
			}
		})
	}
}
