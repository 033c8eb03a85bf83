package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"

	"github.com/godamri/helix-triggers/trigger"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type recordingSink struct {
	mu     sync.Mutex
	events []trigger.ChangeEvent
	err    error
}

func (r *recordingSink) Dispatch(_ context.Context, evt trigger.ChangeEvent) trigger.Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return trigger.Outcome{Status: trigger.StatusSuccess}
}

func (r *recordingSink) Submit(ctx context.Context, evt trigger.ChangeEvent, done func(trigger.Outcome)) error {
	if r.err != nil {
		return r.err
	}
	out := r.Dispatch(ctx, evt)
	if done != nil {
		done(out)
	}
	return nil
}

func TestDecodeEvent(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantID  string
		wantErr bool
	}{
		{"with id", `{"id":"chg_1","collection":"orders","documentId":"o1","operation":"create","after":{"resId":"r1"}}`, "chg_1", false},
		{"fallback id", `{"collection":"orders","documentId":"o1","operation":"create"}`, "fallback", false},
		{"bad operation", `{"collection":"orders","documentId":"o1","operation":"delete"}`, "", true},
		{"missing document", `{"collection":"orders","operation":"create"}`, "", true},
		{"not json", `{{`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evt, err := DecodeEvent([]byte(tt.payload), "fallback", "kafka")
			if tt.wantErr {
				if !errors.Is(err, ErrBadEnvelope) {
					t.Fatalf("err = %v, want ErrBadEnvelope", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeEvent: %v", err)
			}
			if evt.ID != tt.wantID || evt.Source != "kafka" {
				t.Errorf("event = %+v", evt)
			}
		})
	}
}

type fakeSession struct {
	sarama.ConsumerGroupSession
	ctx    context.Context
	mu     sync.Mutex
	marked []int64
}

func (s *fakeSession) Context() context.Context { return s.ctx }

func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked = append(s.marked, msg.Offset)
}

type fakeClaim struct {
	sarama.ConsumerGroupClaim
	ch chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.ch }

func TestConsumer_ConsumeClaim(t *testing.T) {
	sink := &recordingSink{}
	c := newConsumer(nil, ConsumerConfig{GroupID: "triggers"}, sink, quiet)

	claim := &fakeClaim{ch: make(chan *sarama.ConsumerMessage, 3)}
	claim.ch <- &sarama.ConsumerMessage{Topic: "changes", Offset: 1, Value: []byte(`{"collection":"orders","documentId":"o1","operation":"create"}`)}
	claim.ch <- &sarama.ConsumerMessage{Topic: "changes", Offset: 2, Value: []byte(`garbage`)}
	claim.ch <- &sarama.ConsumerMessage{Topic: "changes", Offset: 3, Value: []byte(`{"id":"x","collection":"restaurants","documentId":"r1","operation":"update"}`)}
	close(claim.ch)

	sess := &fakeSession{ctx: context.Background()}
	if err := c.ConsumeClaim(sess, claim); err != nil {
		t.Fatalf("ConsumeClaim: %v", err)
	}

	if len(sess.marked) != 3 {
		t.Errorf("marked offsets = %v, want all three", sess.marked)
	}
	if len(sink.events) != 2 {
		t.Fatalf("dispatched = %d, want 2", len(sink.events))
	}
	if sink.events[0].ID == "" || sink.events[1].ID != "x" {
		t.Errorf("ids = %q, %q", sink.events[0].ID, sink.events[1].ID)
	}

	// Same coordinates derive the same id on redelivery.
	again := &fakeClaim{ch: make(chan *sarama.ConsumerMessage, 1)}
	again.ch <- &sarama.ConsumerMessage{Topic: "changes", Offset: 1, Value: []byte(`{"collection":"orders","documentId":"o1","operation":"create"}`)}
	close(again.ch)
	_ = c.ConsumeClaim(sess, again)
	if sink.events[2].ID != sink.events[0].ID {
		t.Errorf("redelivered id %q != %q", sink.events[2].ID, sink.events[0].ID)
	}
}

type fakeAck struct {
	acked, nacked, requeued bool
}

func (f *fakeAck) Ack(bool) error { f.acked = true; return nil }

func (f *fakeAck) Nack(_ bool, requeue bool) error {
	f.nacked = true
	f.requeued = requeue
	return nil
}

func TestAMQPConsumer_Submit(t *testing.T) {
	sink := &recordingSink{}
	c := &AMQPConsumer{cfg: AMQPConfig{Queue: "changes"}, sink: sink, logger: quiet}
	ctx := context.Background()

	ok := &fakeAck{}
	if err := c.submit(ctx, ok, []byte(`{"collection":"orders","documentId":"o1","operation":"create"}`), "msg-1", 1); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !ok.acked || sink.events[0].ID != "msg-1" {
		t.Errorf("ack = %+v, events = %+v", ok, sink.events)
	}

	bad := &fakeAck{}
	if err := c.submit(ctx, bad, []byte(`nope`), "", 2); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !bad.nacked || bad.requeued {
		t.Errorf("poison delivery: %+v", bad)
	}

	sink.err = context.Canceled
	stopped := &fakeAck{}
	if err := c.submit(ctx, stopped, []byte(`{"collection":"orders","documentId":"o2","operation":"create"}`), "", 3); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !stopped.nacked || !stopped.requeued {
		t.Errorf("undispatched delivery should be requeued: %+v", stopped)
	}
}

func TestOutcomePublisher(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var got trigger.Outcome
		if err := json.Unmarshal(val, &got); err != nil {
			return err
		}
		if got.Status != trigger.StatusPartialFailure || !got.AuditGap || got.DocumentID != "o1" {
			return errors.New("unexpected outcome payload: " + string(val))
		}
		return nil
	})

	pub := NewOutcomePublisher(newProducer(sp, quiet), "trigger-outcomes")
	err := pub.Publish(context.Background(), trigger.Outcome{
		Trigger:    "onOrderCreated",
		Collection: "orders",
		DocumentID: "o1",
		Status:     trigger.StatusPartialFailure,
		AuditGap:   true,
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := sp.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_PublishError(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p := newProducer(sp, quiet)
	if err := p.Publish(context.Background(), "t", "k", []byte("{}")); !errors.Is(err, sarama.ErrOutOfBrokers) {
		t.Errorf("err = %v, want ErrOutOfBrokers", err)
	}
}

type fakeSource struct {
	name   string
	err    error
	closed bool
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Start(ctx context.Context) error {
	if f.err != nil {
		return f.err
	}
	<-ctx.Done()
	return nil
}

func (f *fakeSource) Close() error { f.closed = true; return nil }

func TestManager_FailingSourceStopsAll(t *testing.T) {
	m := NewManager(quiet)
	healthy := &fakeSource{name: "healthy"}
	broken := &fakeSource{name: "broken", err: errors.New("auth failed")}
	m.Register(healthy)
	m.Register(broken)

	done := make(chan error, 1)
	go func() { done <- m.Run(context.Background()) }()

	select {
	case err := <-done:
		if err == nil || err.Error() != "auth failed" {
			t.Errorf("Run = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("manager did not stop")
	}
	if !healthy.closed || !broken.closed {
		t.Error("sources not closed")
	}
}
