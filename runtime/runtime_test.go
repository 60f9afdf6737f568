package runtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/pithecene-io/assay/provider"
	"github.com/pithecene-io/assay/queue"
	"github.com/pithecene-io/assay/ratelimit"
	"github.com/pithecene-io/assay/store"
	"github.com/pithecene-io/assay/types"
)

// seedPipeline creates one campaign with a topic, a persona and a
// question, the minimum graph an execution needs.
func seedPipeline(t *testing.T, st *store.Memory) (*types.Campaign, *types.Question) {
	t.Helper()
	ctx := context.Background()

	camp := &types.Campaign{Name: "acme-batteries", ProductName: "PowerCell X"}
	if err := st.CreateCampaign(ctx, camp); err != nil {
		t.Fatalf("CreateCampaign failed: %v", err)
	}
	topic := &types.Topic{CampaignID: camp.ID, Title: "battery life"}
	if err := st.CreateTopic(ctx, topic); err != nil {
		t.Fatalf("CreateTopic failed: %v", err)
	}
	persona := &types.Persona{Name: "it-manager", Role: "IT manager", Locale: "en-US"}
	if err := st.CreatePersona(ctx, persona); err != nil {
		t.Fatalf("CreatePersona failed: %v", err)
	}
	question := &types.Question{
		TopicID:   topic.ID,
		PersonaID: persona.ID,
		Text:      "How long does the battery last?",
		Metadata:  types.JSONMap{"external_id": "q-1"},
	}
	if err := st.CreateQuestion(ctx, question); err != nil {
		t.Fatalf("CreateQuestion failed: %v", err)
	}
	return camp, question
}

func seedRun(t *testing.T, st *store.Memory, campaignID string, specs ...types.SettingsMap) *types.Run {
	t.Helper()
	run := &types.Run{
		CampaignID: campaignID,
		Label:      "nightly",
		Spec:       types.RunSpec{Providers: specs},
		Status:     types.RunPending,
	}
	if err := st.CreateRun(context.Background(), run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	return run
}

func openaiSpec() types.SettingsMap {
	return types.SettingsMap{"name": "openai", "model": "gpt-4o-mini"}
}

// testLimiter returns a miniredis-backed limiter whose fallback bucket
// is generous enough that acquires never block unless a test registers
// a tighter bucket.
func testLimiter(t *testing.T) *ratelimit.Limiter {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return ratelimit.New(client, nil, nil)
}

// fakeProvider is a scriptable Provider: it returns result or err and
// counts invocations.
type fakeProvider struct {
	name    string
	result  *provider.Result
	err     error
	invokes int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) PreparePrompt(question string, persona *types.Persona, topic *types.Topic, promptVersion string) provider.Request {
	return provider.Request{
		Messages:      []provider.Message{{Role: "user", Content: question}},
		PromptVersion: promptVersion,
	}
}

func (f *fakeProvider) Invoke(_ context.Context, _ provider.Request, _ provider.Settings) (*provider.Result, error) {
	f.invokes++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeProvider) ComputeCost(_ string, _ types.TokenUsage) float64 { return 0 }

func fakeResult() *provider.Result {
	return &provider.Result{
		Text:        "About 12 hours on a full charge.",
		Model:       "gpt-4o-mini",
		Citations:   []string{"https://example.com/spec"},
		Usage:       types.TokenUsage{PromptTokens: 10000, CompletionTokens: 5000, TotalTokens: 15000},
		LatencyMS:   420,
		CostCents:   4.5,
		RequestBody: types.JSONRaw(`{"model":"gpt-4o-mini"}`),
		Reply:       types.JSONRaw(`{"answer":"About 12 hours on a full charge."}`),
	}
}

// enqueueCall records one Enqueue/EnqueueIn invocation on fakeQueue.
type enqueueCall struct {
	queue string
	task  queue.Task
	delay time.Duration
}

// fakeQueue records enqueues instead of talking to Redis.
type fakeQueue struct {
	mu    sync.Mutex
	calls []enqueueCall
	err   error
}

func (f *fakeQueue) Enqueue(_ context.Context, q string, t queue.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, enqueueCall{queue: q, task: t})
	return nil
}

func (f *fakeQueue) EnqueueIn(_ context.Context, q string, t queue.Task, delay time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, enqueueCall{queue: q, task: t, delay: delay})
	return nil
}

func (f *fakeQueue) recorded() []enqueueCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]enqueueCall, len(f.calls))
	copy(out, f.calls)
	return out
}
