package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestInMemoryRoundTrip(t *testing.T) {
	q := NewInMemory(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msg, err := NewMessage(KindScan, ScanEvent{UID: "u1", Seccion: "Math101", Code: "C1", Fecha: "2024-01-01", Asistencia: true})
	if err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}
	if err := q.Publish(ctx, msg); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	messages, err := q.Consume(ctx)
	if err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	select {
	case got := <-messages:
		if got.Kind != KindScan {
			t.Fatalf("expected kind %q, got %q", KindScan, got.Kind)
		}
		var evt ScanEvent
		if err := json.Unmarshal(got.Body, &evt); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if evt.UID != "u1" || evt.Seccion != "Math101" {
			t.Fatalf("unexpected payload: %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("no message consumed")
	}
}

func TestRedisQueueRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewRedisQueue(client, "test:work")
	msg, err := NewMessage(KindReset, ResetMail{Email: "a@x.com", Token: "tok1"})
	if err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}
	if err := q.Publish(ctx, msg); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	messages, err := q.Consume(ctx)
	if err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	select {
	case got := <-messages:
		var mail ResetMail
		if err := json.Unmarshal(got.Body, &mail); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if mail.Email != "a@x.com" || mail.Token != "tok1" {
			t.Fatalf("unexpected payload: %+v", mail)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no message consumed from redis")
	}
}
