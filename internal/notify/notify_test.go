package notify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"govqueue/internal/models"
	"govqueue/internal/store"
	"govqueue/internal/store/memory"
)

func TestRenderTemplates(t *testing.T) {
	message, err := Render(models.EventTokenCreated, TemplateData{Name: "Asha", Number: 12, EstimatedTime: "20 mins", Agency: "RTO"})
	require.NoError(t, err)
	assert.Equal(t, "Hi Asha, your token #12 has been generated. Expected time: 20 mins. RTO Queue Management", message)

	message, err = Render(models.EventTokenCalled, TemplateData{Number: 3, Counter: "Counter 2"})
	require.NoError(t, err)
	assert.Equal(t, "Hi Citizen, your token #3 is now being called for service at Counter 2. Please proceed immediately.", message)

	_, err = Render("token_transferred", TemplateData{})
	assert.Error(t, err)
}

type recordingProvider struct {
	mu       sync.Mutex
	failures int
	calls    []string
}

func (p *recordingProvider) Send(ctx context.Context, message, recipient string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, recipient+": "+message)
	if p.failures > 0 {
		p.failures--
		return errors.New("gateway timeout")
	}
	return nil
}

func seedToken(t *testing.T, st *memory.Store, phone string) models.Token {
	t.Helper()
	ctx := context.Background()
	profile, err := st.CreateProfile(ctx, models.Profile{ID: "citizen-1", FullName: "Asha Rao", Phone: phone, Role: models.RoleCitizen})
	require.NoError(t, err)
	counter, err := st.CreateCounter(ctx, models.Counter{Name: "Counter 1", IsActive: true})
	require.NoError(t, err)
	token, err := st.CreateToken(ctx, models.Token{ID: "token-1", Number: 7, CitizenID: profile.ID, EstimatedTime: "Now", Status: models.StatusWaiting})
	require.NoError(t, err)
	token, err = st.TransitionToken(ctx, store.TransitionInput{TokenID: token.ID, From: models.StatusWaiting, To: models.StatusServing, CounterID: &counter.ID})
	require.NoError(t, err)
	return token
}

func testSender(st Store, provider Provider) *Sender {
	return NewSender(st, provider, SenderConfig{Agency: "RTO", MaxAttempts: 3, InitialBackoff: time.Millisecond}, nil)
}

func TestSenderDeliversAndRecords(t *testing.T) {
	st := memory.New()
	token := seedToken(t, st, "9876543210")
	provider := &recordingProvider{failures: 1}

	require.NoError(t, testSender(st, provider).Handle(context.Background(), Job{TokenID: token.ID, Event: models.EventTokenCalled}))

	assert.Len(t, provider.calls, 2)
	assert.Equal(t, "9876543210: Hi Asha Rao, your token #7 is now being called for service at Counter 1. Please proceed immediately.", provider.calls[1])

	logged, err := st.ListNotifications(context.Background(), token.ID)
	require.NoError(t, err)
	require.Len(t, logged, 1)
	assert.Equal(t, models.NotificationSent, logged[0].Status)
	assert.Equal(t, models.EventTokenCalled, logged[0].Type)
	assert.NotNil(t, logged[0].SentAt)
}

func TestSenderRecordsFailureWithoutReturningIt(t *testing.T) {
	st := memory.New()
	token := seedToken(t, st, "9876543210")
	provider := &recordingProvider{failures: 10}

	require.NoError(t, testSender(st, provider).Handle(context.Background(), Job{TokenID: token.ID, Event: models.EventReminder}))
	assert.Len(t, provider.calls, 3)

	logged, err := st.ListNotifications(context.Background(), token.ID)
	require.NoError(t, err)
	require.Len(t, logged, 1)
	assert.Equal(t, models.NotificationFailed, logged[0].Status)
	assert.Contains(t, logged[0].Error, "gateway timeout")
	assert.Nil(t, logged[0].SentAt)
}

func TestSenderSkipsUnknownTokenAndMissingPhone(t *testing.T) {
	st := memory.New()
	provider := &recordingProvider{}
	sender := testSender(st, provider)

	require.NoError(t, sender.Handle(context.Background(), Job{TokenID: "missing", Event: models.EventTokenCreated}))
	require.NoError(t, sender.Handle(context.Background(), Job{TokenID: "missing", Event: "bogus"}))

	token, err := st.CreateToken(context.Background(), models.Token{ID: "anon", Number: 1, CitizenID: "nobody"})
	require.NoError(t, err)
	require.NoError(t, sender.Handle(context.Background(), Job{TokenID: token.ID, Event: models.EventTokenCreated}))
	assert.Empty(t, provider.calls)

	logged, err := st.ListNotifications(context.Background(), "anon")
	require.NoError(t, err)
	require.Len(t, logged, 1)
	assert.Equal(t, models.NotificationFailed, logged[0].Status)
}

type handlerFunc func(ctx context.Context, job Job) error

func (f handlerFunc) Handle(ctx context.Context, job Job) error { return f(ctx, job) }

func TestDispatcherSendNeverBlocks(t *testing.T) {
	var handled int32
	dispatcher := NewDispatcher(handlerFunc(func(ctx context.Context, job Job) error {
		atomic.AddInt32(&handled, 1)
		return nil
	}), 2, 2, nil)

	// Nothing is consuming yet; the third job is dropped instead of blocking.
	dispatcher.Send("a", models.EventTokenCreated)
	dispatcher.Send("b", models.EventTokenCreated)
	dispatcher.Send("c", models.EventTokenCreated)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dispatcher.Run(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool { return atomic.LoadInt32(&handled) == 2 }, time.Second, 10*time.Millisecond)
	cancel()
	<-done
}

func TestTwilioProviderPostsForm(t *testing.T) {
	var gotPath, gotUser, gotTo, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUser, _, _ = r.BasicAuth()
		_ = r.ParseForm()
		gotTo = r.PostForm.Get("To")
		gotBody = r.PostForm.Get("Body")
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	provider := NewProvider(ProviderConfig{
		Kind:             "twilio",
		TwilioAccountSID: "AC123",
		TwilioAuthToken:  "secret",
		TwilioFrom:       "+15550000",
		TwilioBaseURL:    server.URL,
	}, nil)
	require.NoError(t, provider.Send(context.Background(), "hello", "+919876543210"))
	assert.Equal(t, "/2010-04-01/Accounts/AC123/Messages.json", gotPath)
	assert.Equal(t, "AC123", gotUser)
	assert.Equal(t, "+919876543210", gotTo)
	assert.Equal(t, "hello", gotBody)
}

func TestWebhookProviderRejection(t *testing.T) {
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	provider := NewProvider(ProviderConfig{Kind: "webhook", WebhookURL: server.URL, WebhookToken: "tok"}, nil)
	err := provider.Send(context.Background(), "hello", "9876543210")
	assert.Error(t, err)
	assert.Equal(t, "Bearer tok", auth)
}

func TestProviderFallbacks(t *testing.T) {
	assert.IsType(t, logProvider{}, NewProvider(ProviderConfig{Kind: "twilio"}, nil))
	assert.IsType(t, logProvider{}, NewProvider(ProviderConfig{Kind: "carrier-pigeon"}, nil))
	assert.IsType(t, noopProvider{}, NewProvider(ProviderConfig{Kind: "noop"}, nil))
	assert.Error(t, NewProvider(ProviderConfig{Kind: "fail"}, nil).Send(context.Background(), "m", "r"))
}

func TestStreamPublishAndConsume(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	ctx := context.Background()

	var mu sync.Mutex
	var received []Job
	consumer := NewStreamConsumer(client, ConsumerConfig{
		Stream:   "queue:notifications",
		Group:    "notifiers",
		Consumer: "worker-1",
		Block:    50 * time.Millisecond,
	}, handlerFunc(func(ctx context.Context, job Job) error {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, job)
		return nil
	}), nil)
	require.NoError(t, consumer.EnsureGroup(ctx))
	require.NoError(t, consumer.EnsureGroup(ctx))

	publisher := NewStreamPublisher(client, "queue:notifications")
	require.NoError(t, publisher.Handle(ctx, Job{TokenID: "t1", Event: models.EventTokenCreated}))
	require.NoError(t, publisher.Handle(ctx, Job{TokenID: "t2", Event: models.EventTokenCalled}))

	n, err := consumer.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, received, 2)
	assert.Equal(t, "t1", received[0].TokenID)
	assert.Equal(t, models.EventTokenCalled, received[1].Event)
	assert.False(t, received[0].QueuedAt.IsZero())

	assert.Zero(t, pendingCount(t, client, "queue:notifications", "notifiers"))
}

func TestStreamConsumerLeavesFailedJobsPending(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	ctx := context.Background()

	failing := true
	var handled int
	consumer := NewStreamConsumer(client, ConsumerConfig{
		Stream:   "jobs",
		Group:    "g",
		Consumer: "c",
		Block:    50 * time.Millisecond,
	}, handlerFunc(func(ctx context.Context, job Job) error {
		handled++
		if failing {
			return errors.New("database unavailable")
		}
		return nil
	}), nil)
	require.NoError(t, consumer.EnsureGroup(ctx))
	require.NoError(t, NewStreamPublisher(client, "jobs").Handle(ctx, Job{TokenID: "t1", Event: models.EventReminder}))

	_, err := consumer.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pendingCount(t, client, "jobs", "g"))

	failing = false
	require.NoError(t, consumer.drainPending(ctx))
	assert.Equal(t, 2, handled)
	assert.Zero(t, pendingCount(t, client, "jobs", "g"))
}

func pendingCount(t *testing.T, client *redis.Client, stream, group string) int {
	t.Helper()
	pending, err := client.XPendingExt(context.Background(), &redis.XPendingExtArgs{
		Stream: stream,
		Group:  group,
		Start:  "-",
		End:    "+",
		Count:  100,
	}).Result()
	require.NoError(t, err)
	return len(pending)
}
