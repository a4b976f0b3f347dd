package logger

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type capturePublisher struct {
	mu      sync.Mutex
	topic   string
	batches []DiagnosticsBatch
}

func (p *capturePublisher) PublishMessage(_ context.Context, topic string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topic = topic
	p.batches = append(p.batches, payload.(DiagnosticsBatch))
	return nil
}

func TestCollectorAggregatesAndOrders(t *testing.T) {
	pub := &capturePublisher{}
	c := NewLogCollector(&CollectionConfig{Topic: "fit.diagnostics", Source: "chargefit", Publisher: pub})

	c.AddLog("warn", "covariance fallback", map[string]interface{}{"kind": "row"}, "fit.go:1")
	for i := 0; i < 3; i++ {
		c.AddLog("error", "insert failed", nil, "store.go:9")
	}
	c.Close()

	if pub.topic != "fit.diagnostics" || len(pub.batches) != 1 {
		t.Fatalf("topic %q, %d batches", pub.topic, len(pub.batches))
	}
	b := pub.batches[0]
	if b.Source != "chargefit" || len(b.Entries) != 2 {
		t.Fatalf("batch: %+v", b)
	}
	if b.Entries[0].Message != "insert failed" || b.Entries[0].Count != 3 {
		t.Errorf("most frequent entry first, got %+v", b.Entries[0])
	}
}

func TestCollectorFlushesOnThreshold(t *testing.T) {
	pub := &capturePublisher{}
	c := NewLogCollector(&CollectionConfig{CountThreshold: 2, Publisher: pub})
	c.AddLog("error", "a", nil, "")
	c.AddLog("error", "b", nil, "")
	c.Close()

	if len(pub.batches) != 1 || len(pub.batches[0].Entries) != 2 {
		t.Errorf("batches: %+v", pub.batches)
	}
}

func TestLoggerFeedsCollector(t *testing.T) {
	pub := &capturePublisher{}
	l := Nop()
	l.AddCollector(&CollectionConfig{Publisher: pub})
	l.Info("not collected")
	l.Error("collected", Error(errors.New("boom")))
	l.RemoveCollector()

	if len(pub.batches) != 1 {
		t.Fatalf("batches: %d", len(pub.batches))
	}
	e := pub.batches[0].Entries[0]
	if e.Message != "collected" || e.Fields["error"] != "boom" {
		t.Errorf("entry: %+v", e)
	}
}
