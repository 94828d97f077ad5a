package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/seweryn-pilarska/email-reply/pkg/trace"
)

type memStore struct {
	events map[int64]*Event
	failed map[int64]int
}

func newMemStore(events ...*Event) *memStore {
	s := &memStore{events: map[int64]*Event{}, failed: map[int64]int{}}
	for _, e := range events {
		s.events[e.ID] = e
	}
	return s
}

func (s *memStore) byStatus(status string) []*Event {
	var out []*Event
	for id := int64(1); id <= int64(len(s.events)); id++ {
		if e, ok := s.events[id]; ok && e.Status == status {
			out = append(out, e)
		}
	}
	return out
}

func (s *memStore) GetPendingEvents(_ context.Context, _ int) ([]*Event, error) {
	return s.byStatus(StatusPending), nil
}

func (s *memStore) GetFailedEvents(_ context.Context, _ int) ([]*Event, error) {
	return s.byStatus(StatusFailed), nil
}

func (s *memStore) GetEventByID(_ context.Context, id int64) (*Event, error) {
	e, ok := s.events[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrEventNotFound, id)
	}
	return e, nil
}

func (s *memStore) MarkAsSent(_ context.Context, id int64) error {
	s.events[id].Status = StatusSent
	return nil
}

func (s *memStore) MarkAsFailed(_ context.Context, id int64, maxRetries int) error {
	e := s.events[id]
	e.RetryCount++
	s.failed[id]++
	if e.RetryCount >= maxRetries {
		e.Status = StatusFailed
	}
	return nil
}

type published struct {
	routingKey string
	traceID    string
	body       string
}

type fakePublisher struct {
	calls []published
	err   error
}

func (p *fakePublisher) PublishWithContext(ctx context.Context, routingKey string, payload any) error {
	if p.err != nil {
		return p.err
	}
	body, _ := json.Marshal(payload)
	p.calls = append(p.calls, published{routingKey: routingKey, traceID: trace.FromContext(ctx), body: string(body)})
	return nil
}

func event(id int64, status, payload string) *Event {
	return &Event{ID: id, RoutingKey: "email.reply.generated", Status: status, Payload: json.RawMessage(payload)}
}

func TestDispatcher_PublishesPendingAndPropagatesTraceID(t *testing.T) {
	store := newMemStore(
		event(1, StatusPending, `{"trace_id":"abc","run_id":"r1"}`),
		event(2, StatusSent, `{}`),
	)
	pub := &fakePublisher{}

	sent := NewDispatcher(store, pub, zap.NewNop()).ProcessPending(context.Background())

	assert.Equal(t, 1, sent)
	require.Len(t, pub.calls, 1)
	assert.Equal(t, "abc", pub.calls[0].traceID)
	assert.JSONEq(t, `{"trace_id":"abc","run_id":"r1"}`, pub.calls[0].body)
	assert.Equal(t, StatusSent, store.events[1].Status)
}

func TestDispatcher_PublishFailureMarksFailedAfterMaxRetries(t *testing.T) {
	store := newMemStore(event(1, StatusPending, `{}`))
	pub := &fakePublisher{err: errors.New("broker down")}
	d := NewDispatcher(store, pub, zap.NewNop()).WithMaxRetries(2)

	assert.Equal(t, 0, d.ProcessPending(context.Background()))
	assert.Equal(t, StatusPending, store.events[1].Status)

	d.ProcessPending(context.Background())
	assert.Equal(t, StatusFailed, store.events[1].Status)
	assert.Equal(t, 2, store.failed[1])
}

func TestReplayService_ReplayFailedEvents(t *testing.T) {
	store := newMemStore(
		event(1, StatusFailed, `{"run_id":"r1"}`),
		event(2, StatusFailed, `{"run_id":"r2"}`),
		event(3, StatusSent, `{"run_id":"r3"}`),
	)
	pub := &fakePublisher{}
	svc := NewReplayService(store, pub, zap.NewNop())

	n, err := svc.ReplayFailedEvents(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, pub.calls, 2)
	assert.Equal(t, StatusSent, store.events[1].Status)
	assert.Equal(t, StatusSent, store.events[2].Status)
}

func TestReplayService_UnknownEvent(t *testing.T) {
	svc := NewReplayService(newMemStore(), &fakePublisher{}, zap.NewNop())
	err := svc.ReplayEvent(context.Background(), 42)
	assert.ErrorIs(t, err, ErrEventNotFound)
}
