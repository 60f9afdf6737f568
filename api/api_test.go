package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pithecene-io/assay/mapper"
	"github.com/pithecene-io/assay/provider"
	"github.com/pithecene-io/assay/queue"
	"github.com/pithecene-io/assay/runtime"
	"github.com/pithecene-io/assay/store"
	"github.com/pithecene-io/assay/types"
)

const testKey = "test-key"

// stubProvider satisfies provider.Provider for registry gating; API
// tests never invoke it.
type stubProvider struct{ name string }

func (s stubProvider) Name() string { return s.name }

func (s stubProvider) PreparePrompt(question string, _ *types.Persona, _ *types.Topic, promptVersion string) provider.Request {
	return provider.Request{
		Messages:      []provider.Message{{Role: "user", Content: question}},
		PromptVersion: promptVersion,
	}
}

func (s stubProvider) Invoke(context.Context, provider.Request, provider.Settings) (*provider.Result, error) {
	return nil, fmt.Errorf("stub provider %s cannot invoke", s.name)
}

func (s stubProvider) ComputeCost(string, types.TokenUsage) float64 { return 0 }

// fakeQueue records enqueues instead of talking to Redis.
type fakeQueue struct {
	mu    sync.Mutex
	tasks []queue.Task
}

func (f *fakeQueue) Enqueue(_ context.Context, _ string, t queue.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, t)
	return nil
}

func (f *fakeQueue) EnqueueIn(ctx context.Context, q string, t queue.Task, _ time.Duration) error {
	return f.Enqueue(ctx, q, t)
}

func (f *fakeQueue) recorded() []queue.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]queue.Task, len(f.tasks))
	copy(out, f.tasks)
	return out
}

func newTestServer(t *testing.T) (*httptest.Server, *store.Memory, *fakeQueue) {
	t.Helper()
	st := store.NewMemory()
	q := &fakeQueue{}
	srv := NewServer(ServerConfig{
		Store:    st,
		Registry: provider.NewRegistry(stubProvider{name: "openai"}),
		Runs:     runtime.NewRunService(runtime.RunServiceConfig{Store: st, Queue: q}),
		Queue:    q,
		Mappers:  mapper.Default(),
		APIKeys:  []string{testKey},
	})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, st, q
}

func doJSON(t *testing.T, ts *httptest.Server, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("x-api-key", testKey)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	raw, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return resp, raw
}

func decodeInto(t *testing.T, raw []byte, into any) {
	t.Helper()
	if err := json.Unmarshal(raw, into); err != nil {
		t.Fatalf("decode response %s: %v", raw, err)
	}
}

func seedGraph(t *testing.T, st *store.Memory) (*types.Campaign, *types.Question) {
	t.Helper()
	ctx := context.Background()
	camp := &types.Campaign{Name: "acme", ProductName: "PowerCell X"}
	if err := st.CreateCampaign(ctx, camp); err != nil {
		t.Fatalf("CreateCampaign failed: %v", err)
	}
	topic := &types.Topic{CampaignID: camp.ID, Title: "battery life"}
	if err := st.CreateTopic(ctx, topic); err != nil {
		t.Fatalf("CreateTopic failed: %v", err)
	}
	persona := &types.Persona{Name: "reviewer"}
	if err := st.CreatePersona(ctx, persona); err != nil {
		t.Fatalf("CreatePersona failed: %v", err)
	}
	question := &types.Question{
		TopicID:   topic.ID,
		PersonaID: persona.ID,
		Text:      "How long does the battery last?",
		Metadata:  types.JSONMap{"external_id": "Q1"},
	}
	if err := st.CreateQuestion(ctx, question); err != nil {
		t.Fatalf("CreateQuestion failed: %v", err)
	}
	return camp, question
}

func TestAuth_MissingKeyRejected(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/personas")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}

	var body errorBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body.Error.Code != "UNAUTHORIZED" {
		t.Errorf("error code = %q, want UNAUTHORIZED", body.Error.Code)
	}
}

func TestAuth_HealthzExempt(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestCreateAndGetCampaign(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, raw := doJSON(t, ts, http.MethodPost, "/api/v1/campaigns", CreateCampaignRequest{
		Name:        "acme",
		ProductName: "PowerCell X",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", resp.StatusCode, raw)
	}
	var created types.Campaign
	decodeInto(t, raw, &created)
	if created.ID == "" {
		t.Fatal("created campaign has no id")
	}

	resp, raw = doJSON(t, ts, http.MethodGet, "/api/v1/campaigns/"+created.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d", resp.StatusCode)
	}
	var got types.Campaign
	decodeInto(t, raw, &got)
	if got.Name != "acme" || got.ProductName != "PowerCell X" {
		t.Errorf("got %+v", got)
	}
}

func TestCreateCampaign_MissingNameRejected(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, _ := doJSON(t, ts, http.MethodPost, "/api/v1/campaigns", map[string]string{"product_name": "x"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestImportQuestions_Idempotent(t *testing.T) {
	ts, _, _ := newTestServer(t)

	req := ImportRequest{Items: make([]ImportItem, 2)}
	for i := range req.Items {
		item := &req.Items[i]
		item.Campaign = "acme"
		item.Topic.Title = "battery life"
		item.Persona.Name = "reviewer"
		item.Question.ID = fmt.Sprintf("Q%d", i+1)
		item.Question.Text = fmt.Sprintf("question %d", i+1)
	}

	resp, raw := doJSON(t, ts, http.MethodPost, "/api/v1/question-sets/import", req)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first import status = %d, body %s", resp.StatusCode, raw)
	}
	var first ImportResponse
	decodeInto(t, raw, &first)
	if first.Imported != 2 || first.Skipped != 0 || len(first.Errors) != 0 {
		t.Errorf("first import = %+v, want imported=2 skipped=0", first)
	}

	_, raw = doJSON(t, ts, http.MethodPost, "/api/v1/question-sets/import", req)
	var second ImportResponse
	decodeInto(t, raw, &second)
	if second.Imported != 0 || second.Skipped != 2 {
		t.Errorf("second import = %+v, want imported=0 skipped=2", second)
	}
}

func TestImportQuestions_CarriesOverrides(t *testing.T) {
	ts, st, _ := newTestServer(t)

	req := ImportRequest{Items: make([]ImportItem, 1)}
	item := &req.Items[0]
	item.Campaign = "acme"
	item.Topic.Title = "pricing"
	item.Persona.Name = "buyer"
	item.Question.ID = "Q1"
	item.Question.Text = "how much?"
	item.ProviderOverrides = map[string]any{"temperature": 0.5}

	resp, raw := doJSON(t, ts, http.MethodPost, "/api/v1/question-sets/import", req)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("import status = %d, body %s", resp.StatusCode, raw)
	}

	camp, err := st.FindCampaignByName(context.Background(), "acme")
	if err != nil {
		t.Fatalf("campaign not created: %v", err)
	}
	questions, err := st.ListCampaignQuestions(context.Background(), camp.ID)
	if err != nil || len(questions) != 1 {
		t.Fatalf("questions = %v, err %v", questions, err)
	}
	if questions[0].ExternalID() != "Q1" {
		t.Errorf("external_id = %q", questions[0].ExternalID())
	}
	if questions[0].ProviderOverrides()["temperature"] != 0.5 {
		t.Errorf("provider_overrides = %v", questions[0].ProviderOverrides())
	}
}

func TestCreateRun_RejectsDisabledProvider(t *testing.T) {
	ts, st, _ := newTestServer(t)
	camp, _ := seedGraph(t, st)

	resp, raw := doJSON(t, ts, http.MethodPost, "/api/v1/runs", CreateRunRequest{
		CampaignID: camp.ID,
		Providers:  []types.SettingsMap{{"name": "gemini", "model": "gemini-pro"}},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	var body errorBody
	decodeInto(t, raw, &body)
	if !strings.Contains(body.Error.Message, "gemini") || !strings.Contains(body.Error.Message, "openai") {
		t.Errorf("error message %q should name the rejected provider and the enabled set", body.Error.Message)
	}
}

func TestCreateRun_RequiresModel(t *testing.T) {
	ts, st, _ := newTestServer(t)
	camp, _ := seedGraph(t, st)

	resp, _ := doJSON(t, ts, http.MethodPost, "/api/v1/runs", CreateRunRequest{
		CampaignID: camp.ID,
		Providers:  []types.SettingsMap{{"name": "openai"}},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestStartRun_MaterializesAndEnqueues(t *testing.T) {
	ts, st, q := newTestServer(t)
	camp, _ := seedGraph(t, st)

	resp, raw := doJSON(t, ts, http.MethodPost, "/api/v1/runs", CreateRunRequest{
		CampaignID:    camp.ID,
		Providers:     []types.SettingsMap{{"name": "openai", "model": "gpt-4o-mini"}},
		PromptVersion: "v1",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create run status = %d, body %s", resp.StatusCode, raw)
	}
	var run RunResponse
	decodeInto(t, raw, &run)

	resp, raw = doJSON(t, ts, http.MethodPost, "/api/v1/runs/"+run.ID+"/start", nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("start status = %d, body %s", resp.StatusCode, raw)
	}
	var started struct {
		ItemsCreated  int `json:"items_created"`
		ItemsEnqueued int `json:"items_enqueued"`
	}
	decodeInto(t, raw, &started)
	if started.ItemsCreated != 1 || started.ItemsEnqueued != 1 {
		t.Errorf("start = %+v, want 1 created, 1 enqueued", started)
	}
	tasks := q.recorded()
	if len(tasks) != 1 || tasks[0].Type != queue.TypeExecuteItem {
		t.Errorf("enqueued tasks = %+v", tasks)
	}

	// Second start: idempotent materialization, pending item re-enqueued.
	_, raw = doJSON(t, ts, http.MethodPost, "/api/v1/runs/"+run.ID+"/start", nil)
	decodeInto(t, raw, &started)
	if started.ItemsCreated != 0 {
		t.Errorf("second start created %d items, want 0", started.ItemsCreated)
	}
}

func TestGetRun_ReturnsCountsAndErrors(t *testing.T) {
	ts, st, _ := newTestServer(t)
	camp, question := seedGraph(t, st)
	ctx := context.Background()

	run := &types.Run{
		CampaignID: camp.ID,
		Spec:       types.RunSpec{Providers: []types.SettingsMap{{"name": "openai", "model": "m"}}},
		Status:     types.RunRunning,
	}
	if err := st.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	item := &types.RunItem{
		RunID:       run.ID,
		QuestionID:  question.ID,
		Fingerprint: "fp-1",
		Status:      types.ItemFailed,
		LastError:   "HTTP 500",
	}
	if err := st.CreateRunItem(ctx, item); err != nil {
		t.Fatalf("CreateRunItem failed: %v", err)
	}

	resp, raw := doJSON(t, ts, http.MethodGet, "/api/v1/runs/"+run.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var got RunResponse
	decodeInto(t, raw, &got)
	if got.Counts.Failed != 1 {
		t.Errorf("counts = %+v, want failed=1", got.Counts)
	}
	if len(got.Errors) != 1 || got.Errors[0].Message != "HTTP 500" {
		t.Errorf("errors = %+v", got.Errors)
	}
}

func TestGetRun_NotFound(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, raw := doJSON(t, ts, http.MethodGet, "/api/v1/runs/nope", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	var body errorBody
	decodeInto(t, raw, &body)
	if body.Error.Code != "NOT_FOUND" {
		t.Errorf("code = %q", body.Error.Code)
	}
}

func TestGetRunItems_PaginationBounds(t *testing.T) {
	ts, st, _ := newTestServer(t)
	camp, question := seedGraph(t, st)
	ctx := context.Background()

	run := &types.Run{CampaignID: camp.ID, Status: types.RunPending}
	if err := st.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		item := &types.RunItem{
			RunID:       run.ID,
			QuestionID:  question.ID,
			Fingerprint: fmt.Sprintf("fp-%d", i),
			Status:      types.ItemPending,
		}
		if err := st.CreateRunItem(ctx, item); err != nil {
			t.Fatalf("CreateRunItem failed: %v", err)
		}
	}

	resp, raw := doJSON(t, ts, http.MethodGet, "/api/v1/runs/"+run.ID+"/items?limit=2", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var page RunItemsResponse
	decodeInto(t, raw, &page)
	if len(page.Items) != 2 || page.Total != 3 || !page.HasMore {
		t.Errorf("page = items:%d total:%d has_more:%v", len(page.Items), page.Total, page.HasMore)
	}

	resp, _ = doJSON(t, ts, http.MethodGet, "/api/v1/runs/"+run.ID+"/items?limit=1001", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("limit=1001 status = %d, want 400", resp.StatusCode)
	}
	resp, _ = doJSON(t, ts, http.MethodGet, "/api/v1/runs/"+run.ID+"/items?offset=-1", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("offset=-1 status = %d, want 400", resp.StatusCode)
	}
}

func TestCreateExport_UnknownMapperRejected(t *testing.T) {
	ts, st, _ := newTestServer(t)
	camp, _ := seedGraph(t, st)
	run := &types.Run{CampaignID: camp.ID, Status: types.RunCompleted}
	if err := st.CreateRun(context.Background(), run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	resp, raw := doJSON(t, ts, http.MethodPost, "/api/v1/exports", CreateExportRequest{
		RunID:      run.ID,
		Format:     "jsonl",
		MapperName: "nope",
		Config:     map[string]any{"webhook_url": "https://partner.test/hook"},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, body %s", resp.StatusCode, raw)
	}
	var body errorBody
	decodeInto(t, raw, &body)
	if !strings.Contains(body.Error.Message, "nope") {
		t.Errorf("message = %q should name the unknown mapper", body.Error.Message)
	}
}

func TestCreateExport_MapperRequiresWebhookURL(t *testing.T) {
	ts, st, _ := newTestServer(t)
	camp, _ := seedGraph(t, st)
	run := &types.Run{CampaignID: camp.ID, Status: types.RunCompleted}
	if err := st.CreateRun(context.Background(), run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	resp, _ := doJSON(t, ts, http.MethodPost, "/api/v1/exports", CreateExportRequest{
		RunID:      run.ID,
		Format:     "jsonl",
		MapperName: "partner_webhook",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestCreateExport_EnqueuesTask(t *testing.T) {
	ts, st, q := newTestServer(t)
	camp, _ := seedGraph(t, st)
	run := &types.Run{CampaignID: camp.ID, Status: types.RunCompleted}
	if err := st.CreateRun(context.Background(), run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	resp, raw := doJSON(t, ts, http.MethodPost, "/api/v1/exports", CreateExportRequest{
		RunID:  run.ID,
		Format: "csv",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, body %s", resp.StatusCode, raw)
	}
	var exp types.Export
	decodeInto(t, raw, &exp)
	if exp.Status != types.ExportPending {
		t.Errorf("status = %s, want pending", exp.Status)
	}

	tasks := q.recorded()
	if len(tasks) != 1 || tasks[0].Type != queue.TypeExportRun || tasks[0].SubjectID != exp.ID {
		t.Errorf("tasks = %+v", tasks)
	}
}

func TestGetExport_DeliveryStats(t *testing.T) {
	ts, st, _ := newTestServer(t)
	camp, _ := seedGraph(t, st)
	ctx := context.Background()
	run := &types.Run{CampaignID: camp.ID, Status: types.RunCompleted}
	if err := st.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	exp := &types.Export{RunID: run.ID, Format: types.FormatJSONL, Status: types.ExportCompleted}
	if err := st.CreateExport(ctx, exp); err != nil {
		t.Fatalf("CreateExport failed: %v", err)
	}
	for i, status := range []types.DeliveryStatus{types.DeliverySucceeded, types.DeliveryFailed} {
		d := &types.Delivery{
			ExportID:   exp.ID,
			RunID:      run.ID,
			MapperName: "partner_webhook",
			Status:     status,
			Attempts:   i + 1,
			LastError:  "HTTP 400",
		}
		if err := st.CreateDelivery(ctx, d); err != nil {
			t.Fatalf("CreateDelivery failed: %v", err)
		}
	}

	resp, raw := doJSON(t, ts, http.MethodGet, "/api/v1/exports/"+exp.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var got ExportResponse
	decodeInto(t, raw, &got)
	if got.DeliveryStats[types.DeliverySucceeded] != 1 || got.DeliveryStats[types.DeliveryFailed] != 1 {
		t.Errorf("stats = %v", got.DeliveryStats)
	}
	if len(got.SampleFailures) != 1 {
		t.Errorf("sample failures = %+v, want 1", got.SampleFailures)
	}
}

func TestDownloadResults_CSV(t *testing.T) {
	ts, st, _ := newTestServer(t)
	camp, question := seedGraph(t, st)
	ctx := context.Background()

	run := &types.Run{CampaignID: camp.ID, Status: types.RunCompleted}
	if err := st.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	item := &types.RunItem{
		RunID:       run.ID,
		QuestionID:  question.ID,
		Fingerprint: "fp-dl",
		Status:      types.ItemSucceeded,
	}
	if err := st.CreateRunItem(ctx, item); err != nil {
		t.Fatalf("CreateRunItem failed: %v", err)
	}
	respRow := &types.Response{
		RunItemID: item.ID,
		Provider:  "openai",
		Model:     "gpt-4o-mini",
		Text:      "12h",
		CostCents: 4.5,
	}
	if err := st.CreateResponse(ctx, respRow); err != nil {
		t.Fatalf("CreateResponse failed: %v", err)
	}

	resp, raw := doJSON(t, ts, http.MethodGet, "/api/v1/runs/"+run.ID+"/results/download?format=csv", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, raw)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "run_"+run.ID+".csv") {
		t.Errorf("Content-Disposition = %q", cd)
	}
	body := string(raw)
	if !strings.Contains(body, "12h") || !strings.Contains(body, question.Text) {
		t.Errorf("csv body missing answer or question: %s", body)
	}

	resp, _ = doJSON(t, ts, http.MethodGet, "/api/v1/runs/"+run.ID+"/results/download?format=pdf", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("format=pdf status = %d, want 400", resp.StatusCode)
	}
}

func TestGetDelivery(t *testing.T) {
	ts, st, _ := newTestServer(t)
	ctx := context.Background()
	d := &types.Delivery{
		ExportID:     "exp-1",
		RunID:        "run-1",
		MapperName:   "partner_webhook",
		Status:       types.DeliveryFailed,
		Attempts:     1,
		LastError:    "HTTP 400",
		ResponseBody: "bad request",
	}
	if err := st.CreateDelivery(ctx, d); err != nil {
		t.Fatalf("CreateDelivery failed: %v", err)
	}

	resp, raw := doJSON(t, ts, http.MethodGet, "/api/v1/deliveries/"+d.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var got types.Delivery
	decodeInto(t, raw, &got)
	if got.Attempts != 1 || got.LastError != "HTTP 400" || got.ResponseBody != "bad request" {
		t.Errorf("got %+v", got)
	}
}
