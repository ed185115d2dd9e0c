package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
)

type recordingSink struct {
	events []Event
	err    error
}

func (s *recordingSink) Publish(_ context.Context, event Event) error {
	s.events = append(s.events, event)
	return s.err
}

type fakeWriter struct {
	messages []kafka.Message
	closed   bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestEmitterFansOut(t *testing.T) {
	failing := &recordingSink{err: errors.New("down")}
	ok := &recordingSink{}
	emitter := NewEmitter(failing, ok, LogSink{})

	emitter.UserAction(context.Background(), "u1", "chat_message", map[string]any{"intent": "saludar"})
	emitter.Error(context.Background(), "chatbot_process_message", errors.New("boom"), nil)

	if len(ok.events) != 2 {
		t.Fatalf("Expected 2 events despite failing sink, got %d", len(ok.events))
	}
	if ok.events[0].Type != TypeUserAction || ok.events[0].Action != "chat_message" || ok.events[0].ID == "" {
		t.Errorf("Unexpected user action event: %+v", ok.events[0])
	}
	if ok.events[1].Type != TypeError || ok.events[1].Error != "boom" {
		t.Errorf("Unexpected error event: %+v", ok.events[1])
	}
}

func TestKafkaSinkKeysByUser(t *testing.T) {
	writer := &fakeWriter{}
	sink := &KafkaSink{writer: writer}

	err := sink.Publish(context.Background(), Event{ID: "e1", Type: TypeUserAction, UserID: "u1", Action: "feedback"})
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if err := sink.Publish(context.Background(), Event{ID: "e2", Type: TypeError}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	if string(writer.messages[0].Key) != "u1" || string(writer.messages[1].Key) != "e2" {
		t.Errorf("Unexpected keys: %q, %q", writer.messages[0].Key, writer.messages[1].Key)
	}

	var decoded Event
	if err := json.Unmarshal(writer.messages[0].Value, &decoded); err != nil {
		t.Fatalf("Failed to decode message: %v", err)
	}
	if decoded.Action != "feedback" {
		t.Errorf("Expected action feedback, got %s", decoded.Action)
	}

	if err := sink.Close(); err != nil || !writer.closed {
		t.Fatalf("Expected writer to close, got %v", err)
	}
	if err := sink.Publish(context.Background(), Event{}); !errors.Is(err, ErrSinkClosed) {
		t.Errorf("Expected ErrSinkClosed, got %v", err)
	}
}
