package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/materialflow/pkg/config"
	"github.com/angelmondragon/materialflow/pkg/db/models"
	"github.com/angelmondragon/materialflow/pkg/enums"
	"github.com/angelmondragon/materialflow/pkg/logger"
	"github.com/angelmondragon/materialflow/pkg/metrics"
	"github.com/angelmondragon/materialflow/pkg/outbox"
	"github.com/angelmondragon/materialflow/pkg/outbox/registry"
)

var errTransient = errors.New("transient")

func TestProcessBatchRetriesFailureAndPublishesTheRest(t *testing.T) {
	h := newHarness(t, defaultOutbox(), lineEvent(t, 0), lineEvent(t, 0))
	h.pub.outcomes = []error{errTransient, nil}

	processed, err := h.svc.processBatch(context.Background())

	require.NoError(t, err)
	assert.True(t, processed)
	assert.Equal(t, []uuid.UUID{h.repo.events[0].ID}, h.repo.failed)
	assert.Equal(t, []uuid.UUID{h.repo.events[1].ID}, h.repo.published)
	assert.Empty(t, h.dlq.entries)
}

func TestProcessBatchReportsIdleWhenNothingQueued(t *testing.T) {
	h := newHarness(t, defaultOutbox())

	processed, err := h.svc.processBatch(context.Background())

	require.NoError(t, err)
	assert.False(t, processed)
}

func TestDirectPOApprovalGoesToApprovalsTopic(t *testing.T) {
	approved := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventDirectPOApproved,
		AggregateType: enums.AggregateApprovalChain,
		AggregateID:   uuid.New(),
		Payload:       envelopeJSON(t, `{"direct_po_id":"DPO-2026-0001","approved_by":"ceo-1"}`),
	}
	h := newHarness(t, defaultOutbox(), approved)
	reg, err := registry.NewEventRegistry(config.PubSubConfig{
		LifecycleTopic: "lifecycle-topic",
		ApprovalsTopic: "approvals-topic",
	})
	require.NoError(t, err)
	h.svc.registry = reg

	_, err = h.svc.processBatch(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"approvals-topic"}, h.topics)
	assert.Equal(t, []uuid.UUID{approved.ID}, h.repo.published)
	require.NotNil(t, h.pub.last)
	assert.Equal(t, string(enums.EventDirectPOApproved), h.pub.last.Attributes["event_type"])
	assert.Equal(t, approved.AggregateID.String(), h.pub.last.Attributes["aggregate_id"])
}

func TestUndecodableRowIsDeadLettered(t *testing.T) {
	event := lineEvent(t, 0)
	h := newHarness(t, defaultOutbox(), event)
	h.reg.err = registry.NewNonRetryableError(errors.New("invalid payload"))

	_, err := h.svc.processBatch(context.Background())

	require.NoError(t, err)
	require.Len(t, h.dlq.entries, 1)
	entry := h.dlq.entries[0]
	assert.Equal(t, event.ID, entry.EventID)
	assert.Equal(t, []byte(event.Payload), []byte(entry.Payload))
	assert.Equal(t, enums.OutboxDLQReasonNonRetryable, entry.ErrorReason)
	assert.Equal(t, []uuid.UUID{event.ID}, h.repo.terminal)
	assert.Empty(t, h.pub.published, "nothing should reach pubsub")
}

func TestLastAttemptIsDeadLettered(t *testing.T) {
	event := lineEvent(t, 1)
	h := newHarness(t, config.OutboxConfig{BatchSize: 1, PollIntervalMS: 100, MaxAttempts: 2}, event)
	h.pub.outcomes = []error{errTransient}

	_, err := h.svc.processBatch(context.Background())

	require.NoError(t, err)
	require.Len(t, h.dlq.entries, 1)
	assert.Equal(t, enums.OutboxDLQReasonMaxAttempts, h.dlq.entries[0].ErrorReason)
	assert.Contains(t, *h.dlq.entries[0].ErrorMessage, "transient")
	assert.Empty(t, h.repo.failed)
}

func TestMissingPublisherIsDeadLettered(t *testing.T) {
	h := newHarness(t, defaultOutbox(), lineEvent(t, 0))
	h.svc.publisherFactory = func(string) publisher { return nil }

	_, err := h.svc.processBatch(context.Background())

	require.NoError(t, err)
	require.Len(t, h.dlq.entries, 1)
	assert.Equal(t, enums.OutboxDLQReasonNonRetryable, h.dlq.entries[0].ErrorReason)
}

func TestProcessBatchRecordsMetrics(t *testing.T) {
	h := newHarness(t, defaultOutbox(), lineEvent(t, 0), lineEvent(t, 0))
	h.pub.outcomes = []error{nil, errTransient}
	reg := prometheus.NewRegistry()
	h.svc.metrics = metrics.NewPublisherMetrics(reg)

	_, err := h.svc.processBatch(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1.0, counterTotal(t, reg, "materialflow_outbox_published_total"))
	assert.Equal(t, 1.0, counterTotal(t, reg, "materialflow_outbox_publish_failures_total"))
}

func TestProcessBatchWithoutMetrics(t *testing.T) {
	h := newHarness(t, defaultOutbox(), lineEvent(t, 0))
	h.svc.metrics = nil

	_, err := h.svc.processBatch(context.Background())

	require.NoError(t, err)
	assert.Len(t, h.repo.published, 1)
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{Config: &config.Config{}, Logger: logger.Nop()})
	assert.Error(t, err)
}

func TestPacerBacksOffAndResets(t *testing.T) {
	p := newPacer(100*time.Millisecond, 350*time.Millisecond)
	within := func(got, floor time.Duration) {
		t.Helper()
		assert.GreaterOrEqual(t, got, floor)
		assert.Less(t, got, floor+jitterWindow)
	}

	within(p.failed(), 200*time.Millisecond)
	within(p.failed(), 350*time.Millisecond)
	within(p.failed(), 350*time.Millisecond)
	within(p.idle(), 100*time.Millisecond)
	within(p.failed(), 200*time.Millisecond)
}

// harness wires a Service over in-memory fakes. Every publisher handed out
// is h.pub; h.topics records which topics were asked for.
type harness struct {
	svc    *Service
	repo   *fakeRepo
	dlq    *fakeDLQ
	reg    *fakeRegistry
	pub    *fakePublisher
	topics []string
}

func newHarness(t *testing.T, outboxCfg config.OutboxConfig, events ...models.OutboxEvent) *harness {
	t.Helper()
	h := &harness{
		repo: &fakeRepo{events: events},
		dlq:  &fakeDLQ{},
		reg:  &fakeRegistry{topic: "lifecycle-topic"},
		pub:  &fakePublisher{},
	}
	svc, err := NewService(ServiceParams{
		Config:        &config.Config{Outbox: outboxCfg},
		Logger:        logger.Nop(),
		DB:            fakeDB{},
		PubSub:        fakePubSub{},
		Repository:    h.repo,
		Registry:      h.reg,
		DLQRepository: h.dlq,
		PublisherFactory: func(topic string) publisher {
			h.topics = append(h.topics, topic)
			return h.pub
		},
	})
	require.NoError(t, err)
	h.svc = svc
	return h
}

func defaultOutbox() config.OutboxConfig {
	return config.OutboxConfig{BatchSize: 2, PollIntervalMS: 100, MaxAttempts: 5}
}

func lineEvent(t *testing.T, attempts int) models.OutboxEvent {
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventLineStateChanged,
		AggregateType: enums.AggregateComponentLine,
		AggregateID:   uuid.New(),
		Payload:       envelopeJSON(t, `{}`),
		AttemptCount:  attempts,
	}
}

func envelopeJSON(t *testing.T, data string) models.JSONPayload {
	t.Helper()
	payload, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now(),
		Data:       json.RawMessage(data),
	})
	require.NoError(t, err)
	return payload
}

func counterTotal(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	var total float64
	for _, family := range families {
		if family.GetName() == name {
			for _, m := range family.GetMetric() {
				total += m.GetCounter().GetValue()
			}
		}
	}
	return total
}

type fakeRepo struct {
	events    []models.OutboxEvent
	published []uuid.UUID
	failed    []uuid.UUID
	terminal  []uuid.UUID
}

func (f *fakeRepo) FetchUnpublishedForPublish(_ *gorm.DB, limit, _ int) ([]models.OutboxEvent, error) {
	if len(f.events) > limit {
		return f.events[:limit], nil
	}
	return f.events, nil
}

func (f *fakeRepo) MarkPublishedTx(_ *gorm.DB, id uuid.UUID) error {
	f.published = append(f.published, id)
	return nil
}

func (f *fakeRepo) MarkFailedTx(_ *gorm.DB, id uuid.UUID, _ error) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeRepo) MarkTerminalTx(_ *gorm.DB, id uuid.UUID, _ error, _ int) error {
	f.terminal = append(f.terminal, id)
	return nil
}

type fakeDLQ struct {
	entries []models.OutboxDLQ
}

func (f *fakeDLQ) InsertTx(_ *gorm.DB, entry models.OutboxDLQ) error {
	f.entries = append(f.entries, entry)
	return nil
}

type fakeDB struct{}

func (fakeDB) Ping(context.Context) error { return nil }

func (fakeDB) WithTx(_ context.Context, fn func(*gorm.DB) error) error { return fn(nil) }

type fakePubSub struct{}

func (fakePubSub) Ping(context.Context) error { return nil }

func (fakePubSub) Publisher(string) *gcppubsub.Publisher { return nil }

// fakeRegistry resolves every row to topic unless err is set.
type fakeRegistry struct {
	topic string
	err   error
}

func (f *fakeRegistry) Resolve(event models.OutboxEvent) (*registry.ResolvedEvent, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{
			EventType:     event.EventType,
			AggregateType: event.AggregateType,
			Topic:         f.topic,
		},
		Envelope: outbox.PayloadEnvelope{EventID: event.ID.String(), OccurredAt: time.Now()},
	}, nil
}

func (f *fakeRegistry) Topics() []string { return []string{f.topic} }

// fakePublisher fails the nth publish with outcomes[n]; publishes past the
// end of outcomes succeed.
type fakePublisher struct {
	outcomes  []error
	published []*gcppubsub.Message
	last      *gcppubsub.Message
}

func (f *fakePublisher) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	f.last = msg
	var err error
	if n := len(f.published); n < len(f.outcomes) {
		err = f.outcomes[n]
	}
	f.published = append(f.published, msg)
	return fakeResult{err: err}
}

type fakeResult struct {
	err error
}

func (r fakeResult) Get(context.Context) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	return "server-id", nil
}
