// Copyright 2025 Certen Protocol

package transport

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestPushClientDeliversEvents(t *testing.T) {
	conn := NewFakePushConn()
	client := NewPushClient(NewFakeDialer(conn), DefaultBackoffPolicy(), nil)
	defer client.Close()

	event := PushEvent{Type: PushEventConnected, Address: "0xabc"}
	raw, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	conn.PushRaw(raw)

	select {
	case got := <-client.Events():
		if got.Type != PushEventConnected || got.Address != "0xabc" {
			t.Fatalf("unexpected event: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPushClientControlFrames(t *testing.T) {
	conn := NewFakePushConn()
	client := NewPushClient(NewFakeDialer(conn), DefaultBackoffPolicy(), nil)
	defer client.Close()

	from := 5
	if err := client.StreamLogs(&from); err != nil {
		t.Fatalf("StreamLogs: %v", err)
	}

	select {
	case sent := <-conn.Sent():
		var frame controlFrame
		if err := json.Unmarshal(sent, &frame); err != nil {
			t.Fatalf("unmarshal sent frame: %v", err)
		}
		if frame.Type != "stream_logs" || frame.FromIndex == nil || *frame.FromIndex != 5 {
			t.Fatalf("unexpected frame: %+v", frame)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for sent frame")
	}
}

func TestPushClientReconnectsAfterDialFailure(t *testing.T) {
	conn := NewFakePushConn()
	backoff := BackoffPolicy{Base: time.Millisecond, Factor: 2, MaxAttempts: 10}
	dial := NewFailingThenFakeDialer(2, errors.New("dial refused"), conn)
	client := NewPushClient(dial, backoff, nil)
	defer client.Close()

	event := PushEvent{Type: PushEventConnected}
	raw, _ := json.Marshal(event)
	conn.PushRaw(raw)

	select {
	case got := <-client.Events():
		if got.Type != PushEventConnected {
			t.Fatalf("unexpected event: %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event after reconnect")
	}
}

func TestPushClientGivesUpAfterMaxAttempts(t *testing.T) {
	backoff := BackoffPolicy{Base: time.Millisecond, Factor: 2, MaxAttempts: 2}
	dial := func() (Conn, error) { return nil, errors.New("always fails") }
	client := NewPushClient(dial, backoff, nil)

	select {
	case _, ok := <-client.Events():
		if ok {
			t.Fatal("expected events channel to be closed, got a value")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for client to give up")
	}
	client.Close()
}

func TestBackoffPolicyDelay(t *testing.T) {
	p := DefaultBackoffPolicy()
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{6, 32 * time.Second},
		{10, 32 * time.Second},
	}
	for _, c := range cases {
		if got := p.Delay(c.attempt); got != c.want {
			t.Errorf("Delay(%d) = %s, want %s", c.attempt, got, c.want)
		}
	}
}
