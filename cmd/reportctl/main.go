package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/vitalmesh/meshlink/internal/protocol/message"
)

type options struct {
	mode    string
	addr    string
	token   string
	person  string
	risk    string
	rec     string
	alert   string
	vitals  string
	limit   int
	timeout time.Duration
}

func main() {
	opts := parseFlags()
	client := newAdminClient(opts.addr, opts.token, opts.timeout)

	var err error
	switch opts.mode {
	case "status":
		err = runStatus(client)
	case "connect":
		err = runConnect(client)
	case "disconnect":
		err = runDisconnect(client)
	case "send":
		err = runSend(client, opts)
	case "classify":
		err = runClassify(client, opts)
	case "recent":
		err = runRecent(client, opts.limit)
	default:
		fatalf("unknown mode %q (supported: status, connect, disconnect, send, classify, recent)", opts.mode)
	}
	if err != nil {
		fatalf("%v", err)
	}
}

func parseFlags() options {
	var opts options
	flag.StringVar(&opts.mode, "mode", "status", "mode: status | connect | disconnect | send | classify | recent")
	flag.StringVar(&opts.addr, "addr", "127.0.0.1:9200", "relay admin address")
	flag.StringVar(&opts.token, "token", "", "bearer token for guarded routes")
	flag.StringVar(&opts.person, "person", "", "person the report is about (send, classify)")
	flag.StringVar(&opts.risk, "risk", "", "risk level: green | yellow | red (send)")
	flag.StringVar(&opts.rec, "rec", "", "recommendation text (send)")
	flag.StringVar(&opts.alert, "alert", "", "override the alert flag: true | false (send)")
	flag.StringVar(&opts.vitals, "vitals", "", "free-text vitals to classify (classify)")
	flag.IntVar(&opts.limit, "limit", 20, "entries to fetch (recent)")
	flag.DurationVar(&opts.timeout, "timeout", 5*time.Second, "request timeout")
	flag.Parse()
	return opts
}

// adminClient talks to one relay's admin surface.
type adminClient struct {
	base  string
	token string
	http  *http.Client
}

func newAdminClient(addr, token string, timeout time.Duration) *adminClient {
	return &adminClient{
		base:  normalizeBaseAddr(addr),
		token: token,
		http:  &http.Client{Timeout: timeout},
	}
}

func normalizeBaseAddr(addr string) string {
	base := strings.TrimRight(strings.TrimSpace(addr), "/")
	if base == "" {
		base = "127.0.0.1:9200"
	}
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return base
}

func (c *adminClient) do(method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(data)))
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode %s response: %w", path, err)
		}
	}
	return nil
}

func runStatus(c *adminClient) error {
	var resp struct {
		Relay           string `json:"relay"`
		State           string `json:"state"`
		Status          string `json:"status"`
		SessionID       string `json:"session_id"`
		Uptime          string `json:"uptime"`
		ReportsRetained int    `json:"reports_retained"`
		ReportsTotal    uint64 `json:"reports_total"`
	}
	if err := c.do(http.MethodGet, "/status", nil, &resp); err != nil {
		return err
	}
	fmt.Printf("Relay:    %s\n", resp.Relay)
	fmt.Printf("State:    %s (%s)\n", resp.State, resp.Status)
	if resp.SessionID != "" {
		fmt.Printf("Session:  %s\n", resp.SessionID)
	}
	fmt.Printf("Reports:  %d retained, %d total\n", resp.ReportsRetained, resp.ReportsTotal)
	fmt.Printf("Uptime:   %s\n", resp.Uptime)
	return nil
}

func runConnect(c *adminClient) error {
	var resp struct {
		State     string `json:"state"`
		SessionID string `json:"session_id"`
	}
	if err := c.do(http.MethodPost, "/connect", nil, &resp); err != nil {
		return err
	}
	fmt.Printf("Link %s (session %s)\n", resp.State, resp.SessionID)
	return nil
}

func runDisconnect(c *adminClient) error {
	var resp struct {
		State string `json:"state"`
	}
	if err := c.do(http.MethodPost, "/disconnect", nil, &resp); err != nil {
		return err
	}
	fmt.Printf("Link %s\n", resp.State)
	return nil
}

func runSend(c *adminClient, opts options) error {
	body, err := buildSendBody(opts)
	if err != nil {
		return err
	}
	var resp struct {
		Seq uint64 `json:"seq"`
	}
	if err := c.do(http.MethodPost, "/send", body, &resp); err != nil {
		return err
	}
	fmt.Printf("Sent report #%d\n", resp.Seq)
	return nil
}

func buildSendBody(opts options) (map[string]any, error) {
	body := map[string]any{
		"person":         opts.person,
		"risk":           opts.risk,
		"recommendation": opts.rec,
	}
	if opts.alert != "" {
		alert, err := strconv.ParseBool(opts.alert)
		if err != nil {
			return nil, fmt.Errorf("parse -alert: %w", err)
		}
		body["alert"] = alert
	}
	return body, nil
}

func runClassify(c *adminClient, opts options) error {
	var resp struct {
		Seq      uint64 `json:"seq"`
		Risk     string `json:"risk"`
		Analysis string `json:"analysis"`
	}
	body := map[string]any{"person": opts.person, "vitals": opts.vitals}
	if err := c.do(http.MethodPost, "/classify-send", body, &resp); err != nil {
		return err
	}
	fmt.Printf("Sent report #%d\n", resp.Seq)
	fmt.Printf("  Risk:     %s\n", resp.Risk)
	fmt.Printf("  Analysis: %s\n", resp.Analysis)
	return nil
}

type recentEntry struct {
	Seq        uint64               `json:"seq"`
	Direction  string               `json:"direction"`
	ReceivedAt time.Time            `json:"received_at"`
	Report     message.HealthReport `json:"report"`
}

func runRecent(c *adminClient, limit int) error {
	var resp struct {
		Reports []recentEntry `json:"reports"`
	}
	path := fmt.Sprintf("/reports/recent?limit=%d", limit)
	if err := c.do(http.MethodGet, path, nil, &resp); err != nil {
		return err
	}
	if len(resp.Reports) == 0 {
		fmt.Println("No reports retained.")
		return nil
	}
	fmt.Printf("Recent Reports (%d)\n", len(resp.Reports))
	for _, entry := range resp.Reports {
		fmt.Println(formatEntry(entry))
	}
	return nil
}

func formatEntry(e recentEntry) string {
	line := fmt.Sprintf("  #%-4d %s %-8s %-6s %s",
		e.Seq,
		e.ReceivedAt.Local().Format("15:04:05"),
		e.Direction,
		e.Report.Risk,
		e.Report.Person,
	)
	if e.Report.Alert {
		line += "  [ALERT]"
	}
	if e.Report.Recommendation != "" {
		line += fmt.Sprintf("  %q", e.Report.Recommendation)
	}
	return line
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "reportctl: "+format+"\n", args...)
	os.Exit(1)
}
