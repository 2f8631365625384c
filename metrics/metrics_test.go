package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ecutune/datalog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestAttach_TracksReadingsAndBounds(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	dl := datalog.New[string]()
	dl.AddPid("rpm")
	dl.AddPid("coolant")

	conn := Attach(m, dl, nil)
	defer conn.Close()

	readings := []struct {
		channel string
		entry   datalog.Reading
	}{
		{"rpm", datalog.Reading{Value: 800, Time: 0}},
		{"coolant", datalog.Reading{Value: -5, Time: 20}},
		{"rpm", datalog.Reading{Value: 3200, Time: 40}},
	}
	for _, r := range readings {
		if err := dl.Add(r.channel, r.entry); err != nil {
			t.Fatalf("Add(%s) error = %v", r.channel, err)
		}
	}

	if got := testutil.ToFloat64(m.readings.WithLabelValues("rpm")); got != 2 {
		t.Errorf("rpm readings = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.readings.WithLabelValues("coolant")); got != 1 {
		t.Errorf("coolant readings = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.channelValue.WithLabelValues("rpm")); got != 3200 {
		t.Errorf("rpm value = %v, want 3200", got)
	}
	if got := testutil.ToFloat64(m.minValue); got != -5 {
		t.Errorf("min value = %v, want -5", got)
	}
	if got := testutil.ToFloat64(m.maxValue); got != 3200 {
		t.Errorf("max value = %v, want 3200", got)
	}
	if got := testutil.ToFloat64(m.maxTime); got != 40 {
		t.Errorf("max time = %v, want 40", got)
	}
}

func TestAttach_CustomChannelNames(t *testing.T) {
	type pid uint16

	m, err := New(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	dl := datalog.New[pid]()
	dl.AddPid(0x0C)

	conn := Attach(m, dl, func(p pid) string {
		if p == 0x0C {
			return "engine_rpm"
		}
		return "unknown"
	})
	defer conn.Close()

	if err := dl.Add(0x0C, datalog.Reading{Value: 1500}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	if got := testutil.ToFloat64(m.readings.WithLabelValues("engine_rpm")); got != 1 {
		t.Errorf("engine_rpm readings = %v, want 1", got)
	}
}

func TestAttach_StopsAfterClose(t *testing.T) {
	m, err := New(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	dl := datalog.New[string]()
	dl.AddPid("rpm")

	conn := Attach(m, dl, nil)
	if err := dl.Add("rpm", datalog.Reading{Value: 1}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	conn.Close()
	if err := dl.Add("rpm", datalog.Reading{Value: 2, Time: 10}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	if got := testutil.ToFloat64(m.readings.WithLabelValues("rpm")); got != 1 {
		t.Errorf("rpm readings = %v, want 1", got)
	}
	if dl.Subscribers() != 0 {
		t.Errorf("expected no subscribers, got %d", dl.Subscribers())
	}
}

func TestNew_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := New(reg); err != nil {
		t.Fatalf("first New() error = %v", err)
	}
	if _, err := New(reg); err == nil {
		t.Fatal("expected error registering metrics twice")
	}
}

func TestRecordSubscriberError(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	m.RecordSubscriberError()
	m.RecordSubscriberError()

	expected := `
# HELP datalog_subscriber_errors_total Readings whose notification failed in a subscriber.
# TYPE datalog_subscriber_errors_total counter
datalog_subscriber_errors_total 2
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "datalog_subscriber_errors_total"); err != nil {
		t.Error(err)
	}
}

func TestHandler_ServesAttachedLog(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	dl := datalog.New[string]()
	dl.AddPid("rpm")
	conn := Attach(m, dl, nil)
	defer conn.Close()

	if err := dl.Add("rpm", datalog.Reading{Value: 2500, Time: 0}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	rec := httptest.NewRecorder()
	promhttp.HandlerFor(reg, promhttp.HandlerOpts{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`datalog_readings_total{channel="rpm"} 1`,
		`datalog_channel_value{channel="rpm"} 2500`,
		`datalog_max_value 2500`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected metrics output to contain %q", want)
		}
	}
}
