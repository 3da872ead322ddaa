package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
)

const (
	hubAddrA = "0x1111111111111111111111111111111111111111"
	hubAddrB = "0x2222222222222222222222222222222222222222"
)

func alertEvent(sender string, sev domain.Severity) *Event {
	return &Event{
		Type:      EventAlert,
		Timestamp: time.Now(),
		Data: &domain.Alert{
			Sender:    domain.NormalizeAddress(sender),
			Recipient: domain.NormalizeAddress(hubAddrB),
			Severity:  sev,
		},
	}
}

func TestWantsEmptyFilter(t *testing.T) {
	c := &client{}
	if !c.wants(alertEvent(hubAddrA, domain.SeverityHigh)) {
		t.Error("empty filter should pass all events")
	}
}

func TestWantsEventTypeFilter(t *testing.T) {
	c := &client{flt: Filter{EventTypes: []EventType{EventFinding}}}

	if c.wants(alertEvent(hubAddrA, domain.SeverityHigh)) {
		t.Error("alert should be filtered out")
	}
	finding := &Event{Type: EventFinding, Data: &domain.PatternFinding{
		Address:  domain.NormalizeAddress(hubAddrA),
		Severity: domain.SeverityLow,
	}}
	if !c.wants(finding) {
		t.Error("finding should pass")
	}
}

func TestWantsSeverityFloor(t *testing.T) {
	c := &client{flt: Filter{MinSeverity: domain.SeverityHigh}}

	if c.wants(alertEvent(hubAddrA, domain.SeverityMedium)) {
		t.Error("medium alert should be below the floor")
	}
	if !c.wants(alertEvent(hubAddrA, domain.SeverityHigh)) {
		t.Error("high alert should pass")
	}
	if !c.wants(alertEvent(hubAddrA, domain.SeverityCritical)) {
		t.Error("critical alert should pass")
	}
}

func TestWantsAddressFilter(t *testing.T) {
	c := &client{flt: Filter{Addresses: []string{hubAddrA}}}

	if !c.wants(alertEvent(hubAddrA, domain.SeverityHigh)) {
		t.Error("sender match should pass")
	}

	other := &Event{Type: EventAlert, Data: &domain.Alert{
		Sender:    domain.NormalizeAddress("0x3333333333333333333333333333333333333333"),
		Recipient: domain.NormalizeAddress("0x4444444444444444444444444444444444444444"),
		Severity:  domain.SeverityHigh,
	}}
	if c.wants(other) {
		t.Error("unrelated parties should be filtered out")
	}

	// Recipient side matches too.
	recipientMatch := &Event{Type: EventAlert, Data: &domain.Alert{
		Sender:    domain.NormalizeAddress(hubAddrB),
		Recipient: domain.NormalizeAddress(hubAddrA),
		Severity:  domain.SeverityHigh,
	}}
	if !c.wants(recipientMatch) {
		t.Error("recipient match should pass")
	}
}

func TestHubStatsInitial(t *testing.T) {
	h := NewHub()

	stats := h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("connectedClients = %v, want 0", stats["connectedClients"])
	}
	if stats["totalEvents"].(int64) != 0 {
		t.Errorf("totalEvents = %v, want 0", stats["totalEvents"])
	}
}

func TestHubBroadcastToClient(t *testing.T) {
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	c := &client{hub: h, send: make(chan []byte, 256)}
	h.register <- c
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["connectedClients"].(int) != 1 {
		t.Fatalf("connectedClients = %v, want 1", stats["connectedClients"])
	}

	h.Broadcast(alertEvent(hubAddrA, domain.SeverityCritical))

	select {
	case frame := <-c.send:
		var event struct {
			Type EventType    `json:"type"`
			Data domain.Alert `json:"data"`
		}
		if err := json.Unmarshal(frame, &event); err != nil {
			t.Fatalf("unmarshal frame: %v", err)
		}
		if event.Type != EventAlert {
			t.Errorf("type = %s, want %s", event.Type, EventAlert)
		}
		if event.Data.Severity != domain.SeverityCritical {
			t.Errorf("severity = %s, want critical", event.Data.Severity)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for broadcast")
	}

	h.unregister <- c
	time.Sleep(50 * time.Millisecond)
	if n := h.Stats()["connectedClients"].(int); n != 0 {
		t.Errorf("connectedClients after unregister = %d, want 0", n)
	}
}

func TestHubFilteredClientReceivesNothing(t *testing.T) {
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	c := &client{hub: h, send: make(chan []byte, 256), flt: Filter{
		EventTypes: []EventType{EventFinding},
	}}
	h.register <- c
	time.Sleep(50 * time.Millisecond)

	h.Broadcast(alertEvent(hubAddrA, domain.SeverityHigh))
	time.Sleep(100 * time.Millisecond)

	select {
	case <-c.send:
		t.Error("client should not receive filtered alert")
	default:
	}
}

func TestHubContextCancellation(t *testing.T) {
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("hub did not stop after context cancellation")
	}
}

func TestHubAttachRelaysBusEvents(t *testing.T) {
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	eventBus := bus.NewChannelBus(16)
	defer eventBus.Close()

	subs, err := h.Attach(ctx, eventBus)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	defer func() {
		for _, sub := range subs {
			_ = sub.Unsubscribe()
		}
	}()

	c := &client{hub: h, send: make(chan []byte, 256)}
	h.register <- c
	time.Sleep(50 * time.Millisecond)

	payload, err := json.Marshal(&domain.Alert{
		ID:       "alert-1",
		Sender:   domain.NormalizeAddress(hubAddrA),
		Severity: domain.SeverityHigh,
	})
	if err != nil {
		t.Fatalf("marshal alert: %v", err)
	}
	if err := eventBus.Publish(ctx, domain.TopicAlert, payload); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case frame := <-c.send:
		var event struct {
			Type EventType    `json:"type"`
			Data domain.Alert `json:"data"`
		}
		if err := json.Unmarshal(frame, &event); err != nil {
			t.Fatalf("unmarshal frame: %v", err)
		}
		if event.Data.ID != "alert-1" {
			t.Errorf("alert ID = %s, want alert-1", event.Data.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for relayed alert")
	}
}
