package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vitalmesh/meshlink/internal/auth"
	"github.com/vitalmesh/meshlink/internal/link"
	"github.com/vitalmesh/meshlink/internal/pipeline"
	"github.com/vitalmesh/meshlink/internal/protocol/framing"
	"github.com/vitalmesh/meshlink/internal/protocol/message"
	"github.com/vitalmesh/meshlink/internal/testutil/linktest"
	"github.com/vitalmesh/meshlink/internal/testutil/testlog"
)

// fakeOpener hands out linktest pipes so tests can play the device
// side of the link.
type fakeOpener struct {
	mu          sync.Mutex
	discoverErr error
	peers       []*linktest.Endpoint
}

func (o *fakeOpener) Discover(ctx context.Context) (link.Device, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.discoverErr != nil {
		return link.Device{}, o.discoverErr
	}
	return link.Device{Path: "/dev/ttyTEST0"}, nil
}

func (o *fakeOpener) Open(ctx context.Context, dev link.Device) (link.Channel, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	host, peer := linktest.Pipe()
	o.peers = append(o.peers, peer)
	return host, nil
}

func (o *fakeOpener) peer(i int) *linktest.Endpoint {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.peers[i]
}

type fakeClassifier struct {
	risk     message.RiskLevel
	analysis string
	err      error
}

func (f fakeClassifier) Classify(ctx context.Context, vitals string) (message.RiskLevel, string, error) {
	return f.risk, f.analysis, f.err
}

func newWiredRelay(t *testing.T, opener *fakeOpener) *Relay {
	t.Helper()
	cfg := link.DefaultManagerConfig()
	cfg.Opener = opener
	cfg.Control = message.Control{}
	cfg.Consumer = func([]byte) {}
	engine, err := link.NewManager(cfg)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	t.Cleanup(engine.Disconnect)

	outbound, err := pipeline.NewOutbound(engine)
	if err != nil {
		t.Fatalf("new outbound: %v", err)
	}

	s := Attach("relay-test", gin.New(), "")
	s.engine = engine
	s.outbound = outbound
	s.reports = NewReportLog(8)
	s.RegisterRoutes()
	return s
}

func doJSON(t *testing.T, s *Relay, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	s.HTTPRouter().ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body
}

func recvMessage(t *testing.T, peer *linktest.Endpoint) message.Message {
	t.Helper()
	out := make(chan message.Message, 1)
	go func() {
		var d framing.Decoder
		buf := make([]byte, 1024)
		for {
			n, err := peer.Read(buf)
			if n > 0 {
				if payloads := d.Feed(buf[:n]); len(payloads) > 0 {
					out <- message.Decode(payloads[0])
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()
	select {
	case m := <-out:
		return m
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for wire message")
		return nil
	}
}

func TestHealthRouteWithoutEngine(t *testing.T) {
	testlog.Start(t)
	s := Attach("relay-test", gin.New(), "")
	s.RegisterRoutes()

	rr := doJSON(t, s, http.MethodGet, "/health", nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["relay"] != "relay-test" || body["status"] != "ok" {
		t.Fatalf("unexpected body: %#v", body)
	}
}

func TestStatusRouteWithoutEngine(t *testing.T) {
	testlog.Start(t)
	s := Attach("relay-test", gin.New(), "")
	s.RegisterRoutes()

	rr := doJSON(t, s, http.MethodGet, "/status", nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["state"] != "idle" {
		t.Fatalf("state=%v want=idle", body["state"])
	}
}

func TestConnectRouteWithoutEngine(t *testing.T) {
	testlog.Start(t)
	s := Attach("relay-test", gin.New(), "")
	s.RegisterRoutes()

	rr := doJSON(t, s, http.MethodPost, "/connect", nil, "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d want=503", rr.Code)
	}
}

func TestConnectSendAndRecentFlow(t *testing.T) {
	testlog.Start(t)
	opener := &fakeOpener{}
	s := newWiredRelay(t, opener)

	rr := doJSON(t, s, http.MethodPost, "/connect", nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("connect status=%d body=%s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["state"] != "connected" || body["session_id"] == "" {
		t.Fatalf("connect body: %#v", body)
	}

	if _, ok := recvMessage(t, opener.peer(0)).(message.ConfigRequest); !ok {
		t.Fatalf("first wire message is not the handshake")
	}

	rr = doJSON(t, s, http.MethodPost, "/send", map[string]any{
		"person":         "medic-1",
		"risk":           "green",
		"recommendation": "rest and hydrate",
	}, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("send status=%d body=%s", rr.Code, rr.Body.String())
	}

	report, ok := recvMessage(t, opener.peer(0)).(message.HealthReport)
	if !ok {
		t.Fatalf("second wire message is not a health report")
	}
	if report.Person != "medic-1" || report.Risk != message.RiskGreen || report.TimestampMS == 0 {
		t.Fatalf("wire report: %+v", report)
	}

	rr = doJSON(t, s, http.MethodGet, "/reports/recent", nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("recent status=%d", rr.Code)
	}
	reports, ok := decodeBody(t, rr)["reports"].([]any)
	if !ok || len(reports) != 1 {
		t.Fatalf("recent reports: %#v", reports)
	}
	first, ok := reports[0].(map[string]any)
	if !ok || first["direction"] != "outbound" {
		t.Fatalf("recent entry: %#v", reports[0])
	}
}

func TestDisconnectRoute(t *testing.T) {
	testlog.Start(t)
	s := newWiredRelay(t, &fakeOpener{})

	if rr := doJSON(t, s, http.MethodPost, "/connect", nil, ""); rr.Code != http.StatusOK {
		t.Fatalf("connect status=%d", rr.Code)
	}
	rr := doJSON(t, s, http.MethodPost, "/disconnect", nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("disconnect status=%d", rr.Code)
	}
	if body := decodeBody(t, rr); body["state"] != "idle" {
		t.Fatalf("disconnect body: %#v", body)
	}
	if s.engine.State() != link.StateIdle {
		t.Fatalf("engine state=%s want=idle", s.engine.State())
	}
}

func TestSendWhileIdleConflicts(t *testing.T) {
	testlog.Start(t)
	s := newWiredRelay(t, &fakeOpener{})

	rr := doJSON(t, s, http.MethodPost, "/send", map[string]any{
		"person":         "medic-1",
		"risk":           "green",
		"recommendation": "rest",
	}, "")
	if rr.Code != http.StatusConflict {
		t.Fatalf("status=%d want=409 body=%s", rr.Code, rr.Body.String())
	}
}

func TestSendRejectsInvalidRisk(t *testing.T) {
	testlog.Start(t)
	s := newWiredRelay(t, &fakeOpener{})

	rr := doJSON(t, s, http.MethodPost, "/send", map[string]any{
		"person":         "medic-1",
		"risk":           "purple",
		"recommendation": "rest",
	}, "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status=%d want=400 body=%s", rr.Code, rr.Body.String())
	}
}

func TestConnectFailureMapsToStatus(t *testing.T) {
	testlog.Start(t)
	s := newWiredRelay(t, &fakeOpener{discoverErr: link.ErrNoDevice})

	rr := doJSON(t, s, http.MethodPost, "/connect", nil, "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d want=404 body=%s", rr.Code, rr.Body.String())
	}
}

func TestAuthGuardsMutatingRoutes(t *testing.T) {
	testlog.Start(t)
	s := newWiredRelay(t, &fakeOpener{})
	s.validator = auth.StaticToken{Token: "sekrit"}

	if rr := doJSON(t, s, http.MethodPost, "/connect", nil, ""); rr.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated connect status=%d want=401", rr.Code)
	}
	if rr := doJSON(t, s, http.MethodGet, "/reports/recent", nil, ""); rr.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated recent status=%d want=401", rr.Code)
	}
	if rr := doJSON(t, s, http.MethodGet, "/health", nil, ""); rr.Code != http.StatusOK {
		t.Fatalf("health should stay open, status=%d", rr.Code)
	}
	if rr := doJSON(t, s, http.MethodGet, "/reports/recent", nil, "sekrit"); rr.Code != http.StatusOK {
		t.Fatalf("authenticated recent status=%d want=200", rr.Code)
	}
	if rr := doJSON(t, s, http.MethodPost, "/connect", nil, "sekrit"); rr.Code != http.StatusOK {
		t.Fatalf("authenticated connect status=%d want=200", rr.Code)
	}
}

func TestClassifySendWithoutClassifier(t *testing.T) {
	testlog.Start(t)
	s := newWiredRelay(t, &fakeOpener{})

	rr := doJSON(t, s, http.MethodPost, "/classify-send", map[string]any{
		"person": "medic-1",
		"vitals": "pulse 110, dizzy",
	}, "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d want=503 body=%s", rr.Code, rr.Body.String())
	}
}

func TestClassifySendFlow(t *testing.T) {
	testlog.Start(t)
	opener := &fakeOpener{}
	s := newWiredRelay(t, opener)
	s.classifier = fakeClassifier{risk: message.RiskRed, analysis: "evacuate now"}

	if rr := doJSON(t, s, http.MethodPost, "/connect", nil, ""); rr.Code != http.StatusOK {
		t.Fatalf("connect status=%d", rr.Code)
	}
	if _, ok := recvMessage(t, opener.peer(0)).(message.ConfigRequest); !ok {
		t.Fatalf("first wire message is not the handshake")
	}

	rr := doJSON(t, s, http.MethodPost, "/classify-send", map[string]any{
		"person": "medic-1",
		"vitals": "pulse 140, chest pain",
	}, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("classify-send status=%d body=%s", rr.Code, rr.Body.String())
	}
	if body := decodeBody(t, rr); body["risk"] != "red" {
		t.Fatalf("classify-send body: %#v", body)
	}

	report, ok := recvMessage(t, opener.peer(0)).(message.HealthReport)
	if !ok {
		t.Fatalf("wire message is not a health report")
	}
	if report.Risk != message.RiskRed || !report.Alert || report.Recommendation != "evacuate now" {
		t.Fatalf("wire report: %+v", report)
	}
}

func TestClassifySendClassifierError(t *testing.T) {
	testlog.Start(t)
	s := newWiredRelay(t, &fakeOpener{})
	s.classifier = fakeClassifier{err: context.DeadlineExceeded}

	rr := doJSON(t, s, http.MethodPost, "/classify-send", map[string]any{
		"person": "medic-1",
		"vitals": "pulse 110",
	}, "")
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status=%d want=502 body=%s", rr.Code, rr.Body.String())
	}
}

func TestRecentReportsRejectsBadLimit(t *testing.T) {
	testlog.Start(t)
	s := newWiredRelay(t, &fakeOpener{})

	rr := doJSON(t, s, http.MethodGet, "/reports/recent?limit=abc", nil, "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status=%d want=400", rr.Code)
	}
}

func TestReportFromRequestDefaults(t *testing.T) {
	testlog.Start(t)
	red := reportFromRequest(sendReportRequest{Person: "p", Risk: "red", Recommendation: "r"})
	if !red.Alert {
		t.Fatalf("red report should default to alert")
	}
	off := false
	muted := reportFromRequest(sendReportRequest{Person: "p", Risk: "red", Recommendation: "r", Alert: &off})
	if muted.Alert {
		t.Fatalf("explicit alert=false overridden")
	}
	green := reportFromRequest(sendReportRequest{Person: "p", Risk: "green", Recommendation: "r"})
	if green.Alert {
		t.Fatalf("green report should not alert")
	}
	if green.TimestampMS == 0 {
		t.Fatalf("timestamp not defaulted")
	}
}
