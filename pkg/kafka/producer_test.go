package kafka

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/tf-index-pipeline/pkg/config"
)

func TestEncode(t *testing.T) {
	msg, err := encode(Event{Key: "run-1", Value: map[string]int{"terms": 3}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(msg.Key) != "run-1" || string(msg.Value) != `{"terms":3}` {
		t.Errorf("encode = %q / %q", msg.Key, msg.Value)
	}
	if _, err := encode(Event{Key: "bad", Value: math.Inf(1)}); err == nil {
		t.Error("expected error for unencodable value")
	}
}

func TestPingUnreachable(t *testing.T) {
	p := NewProducer(config.KafkaConfig{Brokers: []string{"127.0.0.1:1"}}, "t")
	defer p.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Ping(ctx); err == nil {
		t.Error("expected ping to fail for a closed port")
	}
}
