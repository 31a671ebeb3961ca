package pipeline

import (
	"errors"
	"sync"
	"testing"

	"github.com/vitalmesh/meshlink/internal/protocol/message"
	"github.com/vitalmesh/meshlink/internal/protocol/schema"
	"github.com/vitalmesh/meshlink/internal/testutil/testlog"
)

type fakeSender struct {
	mu       sync.Mutex
	err      error
	payloads [][]byte
}

func (s *fakeSender) Send(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.payloads = append(s.payloads, append([]byte(nil), payload...))
	return nil
}

func (s *fakeSender) sent() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.payloads...)
}

func validReport() message.HealthReport {
	return message.HealthReport{
		Person:         "rescuer-7",
		TimestampMS:    1700000000000,
		Risk:           message.RiskYellow,
		Recommendation: "hydrate and rest",
		Alert:          false,
	}
}

func TestOutboundRequiresSender(t *testing.T) {
	testlog.Start(t)
	if _, err := NewOutbound(nil); !errors.Is(err, ErrSenderRequired) {
		t.Fatalf("expected ErrSenderRequired, got %v", err)
	}
}

func TestOutboundSendRawForwardsVerbatim(t *testing.T) {
	testlog.Start(t)
	sender := &fakeSender{}
	out, err := NewOutbound(sender)
	if err != nil {
		t.Fatalf("new outbound: %v", err)
	}
	raw := []byte{0x01, 0x00, 0xFE, 0x42}
	if err := out.SendRaw(raw); err != nil {
		t.Fatalf("send raw: %v", err)
	}
	sent := sender.sent()
	if len(sent) != 1 || string(sent[0]) != string(raw) {
		t.Fatalf("sender saw %v, want %v", sent, raw)
	}
}

func TestOutboundSendSerializesMessage(t *testing.T) {
	testlog.Start(t)
	sender := &fakeSender{}
	out, err := NewOutbound(sender)
	if err != nil {
		t.Fatalf("new outbound: %v", err)
	}
	report := validReport()
	if err := out.Send(report); err != nil {
		t.Fatalf("send: %v", err)
	}
	sent := sender.sent()
	if len(sent) != 1 {
		t.Fatalf("sends=%d want=1", len(sent))
	}
	got, ok := message.Decode(sent[0]).(message.HealthReport)
	if !ok || got != report {
		t.Fatalf("wire payload decoded to %+v, want %+v", got, report)
	}
}

func TestOutboundSendRejectsInvalidMessage(t *testing.T) {
	testlog.Start(t)
	sender := &fakeSender{}
	out, _ := NewOutbound(sender)
	bad := validReport()
	bad.Risk = "purple"
	if err := out.Send(bad); err == nil {
		t.Fatalf("expected encode error for invalid risk level")
	}
	if len(sender.sent()) != 0 {
		t.Fatalf("invalid message still reached the sender")
	}
}

func TestOutboundSendPropagatesSenderError(t *testing.T) {
	testlog.Start(t)
	boom := errors.New("link down")
	out, _ := NewOutbound(&fakeSender{err: boom})
	if err := out.Send(validReport()); !errors.Is(err, boom) {
		t.Fatalf("expected sender error, got %v", err)
	}
}

func TestDispatcherRoutesByType(t *testing.T) {
	testlog.Start(t)
	d := NewDispatcher()

	var reports []message.HealthReport
	var texts []message.TextMessage
	d.Handle(schema.MsgHealthReport, func(seq uint64, m message.Message) {
		reports = append(reports, m.(message.HealthReport))
	})
	d.Handle(schema.MsgTextMessage, func(seq uint64, m message.Message) {
		texts = append(texts, m.(message.TextMessage))
	})

	report := validReport()
	text := message.TextMessage{Sender: "base", Body: "copy that"}
	for _, m := range []message.Message{report, text} {
		payload, err := message.Encode(m)
		if err != nil {
			t.Fatalf("encode %T: %v", m, err)
		}
		d.Dispatch(payload)
	}

	if len(reports) != 1 || reports[0] != report {
		t.Fatalf("report handler saw %+v", reports)
	}
	if len(texts) != 1 || texts[0] != text {
		t.Fatalf("text handler saw %+v", texts)
	}
}

func TestDispatcherTagsArrivalOrder(t *testing.T) {
	testlog.Start(t)
	d := NewDispatcher()

	var seqs []uint64
	d.Handle(schema.MsgKeepalive, func(seq uint64, m message.Message) {
		seqs = append(seqs, seq)
	})

	for nonce := uint16(1); nonce <= 3; nonce++ {
		payload, err := message.Encode(message.Keepalive{Nonce: nonce})
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		d.Dispatch(payload)
	}
	if len(seqs) != 3 || seqs[0] != 1 || seqs[1] != 2 || seqs[2] != 3 {
		t.Fatalf("arrival sequence %v, want [1 2 3]", seqs)
	}
}

func TestDispatcherRoutesUnrecognized(t *testing.T) {
	testlog.Start(t)
	d := NewDispatcher()

	var got []message.Unrecognized
	d.HandleUnrecognized(func(seq uint64, u message.Unrecognized) {
		got = append(got, u)
	})

	d.Dispatch([]byte{message.Version, 99})
	if len(got) != 1 {
		t.Fatalf("unrecognized handler calls=%d want=1", len(got))
	}
	if got[0].MessageType != 99 || got[0].Reason == "" {
		t.Fatalf("unrecognized detail %+v", got[0])
	}
}

func TestDispatcherSharedSequenceAcrossOutcomes(t *testing.T) {
	testlog.Start(t)
	d := NewDispatcher()

	var order []string
	d.Handle(schema.MsgKeepalive, func(seq uint64, m message.Message) {
		if seq != 2 {
			t.Errorf("keepalive seq=%d want=2", seq)
		}
		order = append(order, "keepalive")
	})
	d.HandleUnrecognized(func(seq uint64, u message.Unrecognized) {
		if seq != 1 {
			t.Errorf("unrecognized seq=%d want=1", seq)
		}
		order = append(order, "unrecognized")
	})

	d.Dispatch([]byte{0xFF})
	payload, err := message.Encode(message.Keepalive{Nonce: 5})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	d.Dispatch(payload)

	if len(order) != 2 || order[0] != "unrecognized" || order[1] != "keepalive" {
		t.Fatalf("dispatch order %v", order)
	}
}

func TestDispatcherWithoutHandlerStaysQuiet(t *testing.T) {
	testlog.Start(t)
	d := NewDispatcher()
	payload, err := message.Encode(message.ConfigComplete{CorrelationID: 9})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	d.Dispatch(payload)
}
