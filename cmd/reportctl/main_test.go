package main

import (
	"strings"
	"testing"
	"time"

	"github.com/vitalmesh/meshlink/internal/protocol/message"
)

func TestNormalizeBaseAddr(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"127.0.0.1:9200", "http://127.0.0.1:9200"},
		{"http://relay.local:9200/", "http://relay.local:9200"},
		{"https://relay.local", "https://relay.local"},
		{"  :9200  ", "http://:9200"},
		{"", "http://127.0.0.1:9200"},
	}
	for _, tc := range cases {
		if got := normalizeBaseAddr(tc.in); got != tc.want {
			t.Fatalf("normalizeBaseAddr(%q)=%q want=%q", tc.in, got, tc.want)
		}
	}
}

func TestBuildSendBodyAlertTriState(t *testing.T) {
	body, err := buildSendBody(options{person: "p", risk: "red", rec: "r"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if _, ok := body["alert"]; ok {
		t.Fatalf("alert should be omitted when the flag is unset")
	}

	body, err = buildSendBody(options{person: "p", risk: "red", rec: "r", alert: "false"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if v, ok := body["alert"].(bool); !ok || v {
		t.Fatalf("alert=%v want=false", body["alert"])
	}

	if _, err := buildSendBody(options{alert: "maybe"}); err == nil {
		t.Fatalf("expected parse error for bad alert value")
	}
}

func TestFormatEntry(t *testing.T) {
	e := recentEntry{
		Seq:        12,
		Direction:  "inbound",
		ReceivedAt: time.Date(2026, 8, 22, 10, 30, 0, 0, time.UTC),
		Report: message.HealthReport{
			Person:         "medic-1",
			Risk:           message.RiskRed,
			Recommendation: "evacuate",
			Alert:          true,
		},
	}
	line := formatEntry(e)
	for _, want := range []string{"#12", "inbound", "red", "medic-1", "[ALERT]", `"evacuate"`} {
		if !strings.Contains(line, want) {
			t.Fatalf("line missing %q: %s", want, line)
		}
	}

	quiet := formatEntry(recentEntry{Seq: 1, Direction: "outbound", Report: message.HealthReport{
		Person: "medic-2",
		Risk:   message.RiskGreen,
	}})
	if strings.Contains(quiet, "[ALERT]") {
		t.Fatalf("quiet line carries alert marker: %s", quiet)
	}
}
