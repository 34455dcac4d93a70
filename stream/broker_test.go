package stream

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/xraph/chrono"
	"github.com/xraph/chrono/id"
	"github.com/xraph/chrono/job"
)

func testJob(name string) *job.Job {
	due := time.Now().UTC()
	return &job.Job{
		Entity:    chrono.NewEntity(),
		ID:        id.NewJobID(),
		Name:      name,
		Type:      job.TypeNormal,
		NextRunAt: &due,
	}
}

func recvEvent(t *testing.T, sub *Subscriber) *Event {
	t.Helper()
	select {
	case evt, ok := <-sub.C():
		if !ok {
			t.Fatal("subscriber channel closed")
		}
		return evt
	case <-time.After(time.Second):
		t.Fatal("no event received")
		return nil
	}
}

func TestBroker_FanOutTopics(t *testing.T) {
	b := NewBroker(slog.Default())
	j := testJob("send-email")

	firehose := b.Subscribe("s1", TopicFirehose)
	jobs := b.Subscribe("s2", TopicJobs)
	byID := b.Subscribe("s3", JobTopic(j.ID.String()))
	byName := b.Subscribe("s4", NameTopic("send-email"))
	other := b.Subscribe("s5", NameTopic("unrelated"))

	if err := b.OnJobScheduled(context.Background(), j); err != nil {
		t.Fatalf("on scheduled: %v", err)
	}

	for _, sub := range []*Subscriber{firehose, jobs, byID, byName} {
		evt := recvEvent(t, sub)
		if evt.Type != EventJobScheduled {
			t.Errorf("%s: type = %q, want job.scheduled", sub.ID(), evt.Type)
		}
	}

	select {
	case evt := <-other.C():
		t.Fatalf("unrelated subscriber got %q", evt.Type)
	default:
	}
}

func TestBroker_DeduplicatesAcrossTopics(t *testing.T) {
	b := NewBroker(slog.Default())
	j := testJob("dedupe")

	// One subscriber on two matching topics gets the event once.
	sub := b.Subscribe("s1", TopicFirehose, TopicJobs)

	if err := b.OnJobStarted(context.Background(), j); err != nil {
		t.Fatalf("on started: %v", err)
	}

	recvEvent(t, sub)
	select {
	case evt := <-sub.C():
		t.Fatalf("duplicate delivery: %q", evt.Type)
	default:
	}
}

func TestBroker_SucceededCarriesElapsed(t *testing.T) {
	b := NewBroker(slog.Default())
	j := testJob("timed")
	sub := b.Subscribe("s1", TopicJobs)

	if err := b.OnJobSucceeded(context.Background(), j, 250*time.Millisecond); err != nil {
		t.Fatalf("on succeeded: %v", err)
	}

	evt := recvEvent(t, sub)
	if evt.Type != EventJobSucceeded {
		t.Fatalf("type = %q, want job.succeeded", evt.Type)
	}
	if want := `"elapsed_ms":250`; !strings.Contains(string(evt.Data), want) {
		t.Errorf("data %s missing %s", evt.Data, want)
	}
}

func TestBroker_LockReclaimedTopic(t *testing.T) {
	b := NewBroker(slog.Default())
	j := testJob("contested")
	locks := b.Subscribe("s1", TopicLocks)

	if err := b.OnLockReclaimed(context.Background(), j, "wkr_dead", 15*time.Minute); err != nil {
		t.Fatalf("on reclaimed: %v", err)
	}

	evt := recvEvent(t, locks)
	if evt.Type != EventLockReclaimed {
		t.Fatalf("type = %q, want lock.reclaimed", evt.Type)
	}
	if !strings.Contains(string(evt.Data), "wkr_dead") {
		t.Errorf("data %s missing previous holder", evt.Data)
	}
}

func TestBroker_CreditsExhaust(t *testing.T) {
	b := NewBroker(slog.Default(), WithDefaultCredits(1))
	j := testJob("limited")
	sub := b.Subscribe("s1", TopicJobs)

	ctx := context.Background()
	_ = b.OnJobStarted(ctx, j)
	_ = b.OnJobStarted(ctx, j)

	recvEvent(t, sub)
	select {
	case evt := <-sub.C():
		t.Fatalf("delivery past credit limit: %q", evt.Type)
	default:
	}
	if sub.Dropped() != 1 {
		t.Errorf("dropped = %d, want 1", sub.Dropped())
	}

	// Replenishing credits resumes delivery.
	sub.AddCredits(10)
	_ = b.OnJobStarted(ctx, j)
	recvEvent(t, sub)
}

func TestBroker_FullBufferDropsNotBlocks(t *testing.T) {
	b := NewBroker(slog.Default(), WithBufferSize(1))
	j := testJob("bursty")
	sub := b.Subscribe("s1", TopicJobs)

	ctx := context.Background()
	for range 5 {
		_ = b.OnJobStarted(ctx, j)
	}

	recvEvent(t, sub)
	if sub.Dropped() != 4 {
		t.Errorf("dropped = %d, want 4", sub.Dropped())
	}
}

func TestBroker_Unsubscribe(t *testing.T) {
	b := NewBroker(slog.Default())
	j := testJob("quiet")
	sub := b.Subscribe("s1", TopicJobs)

	b.Unsubscribe("s1", TopicJobs)
	_ = b.OnJobStarted(context.Background(), j)

	select {
	case evt := <-sub.C():
		t.Fatalf("delivery after unsubscribe: %q", evt.Type)
	default:
	}
}

func TestBroker_ShutdownClosesSubscribers(t *testing.T) {
	b := NewBroker(slog.Default())
	sub := b.Subscribe("s1", TopicFirehose)

	if err := b.OnShutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	if _, ok := <-sub.C(); ok {
		t.Fatal("channel still open after shutdown")
	}
	if _, ok := b.GetSubscriber("s1"); ok {
		t.Fatal("subscriber still registered after shutdown")
	}
	if b.Stats().SubscriberCount != 0 {
		t.Errorf("subscriber count = %d, want 0", b.Stats().SubscriberCount)
	}
}

func TestValidateTopic(t *testing.T) {
	valid := []string{TopicJobs, TopicLocks, TopicFirehose, "job:job_abc", "name:send-email"}
	for _, topic := range valid {
		if err := ValidateTopic(topic); err != nil {
			t.Errorf("ValidateTopic(%q) = %v, want nil", topic, err)
		}
	}

	invalid := []string{"", "bogus", "queue:default", "job:", ":abc"}
	for _, topic := range invalid {
		if err := ValidateTopic(topic); err == nil {
			t.Errorf("ValidateTopic(%q) = nil, want error", topic)
		}
	}
}

func TestParseTopicEntity(t *testing.T) {
	typ, entity := ParseTopicEntity("job:job_abc123")
	if typ != "job" || entity != "job_abc123" {
		t.Errorf("parse = (%q, %q), want (job, job_abc123)", typ, entity)
	}
	if typ, entity = ParseTopicEntity("firehose"); typ != "" || entity != "" {
		t.Errorf("global topic parse = (%q, %q), want empty", typ, entity)
	}
}
