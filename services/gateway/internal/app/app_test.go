package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"farmassist/pkg/ai"
	"farmassist/pkg/domain"
	"farmassist/pkg/kv"
	"farmassist/pkg/market"
	"farmassist/pkg/queue"
	"farmassist/pkg/storage"
	"farmassist/pkg/store"
)

type fakeObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func (f *fakeObjects) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	if f.putErr != nil {
		return f.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.objects == nil {
		f.objects = make(map[string][]byte)
	}
	f.objects[key] = data
	return nil
}

func (f *fakeObjects) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://objects.test/" + key, nil
}

func (f *fakeObjects) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	return nil
}

type fakeQueue struct {
	jobs []queue.ProofJob
	err  error
}

func (q *fakeQueue) Enqueue(_ context.Context, userID, claimID string) (queue.ProofJob, error) {
	if q.err != nil {
		return queue.ProofJob{}, q.err
	}
	job := queue.ProofJob{ID: "job-1", UserID: userID, ClaimID: claimID, Status: "queued"}
	q.jobs = append(q.jobs, job)
	return job, nil
}

type fakeRecorder struct {
	mu       sync.Mutex
	upstream map[string]int
	proofs   map[string]int
}

func (r *fakeRecorder) UpstreamCall(service string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.upstream == nil {
		r.upstream = make(map[string]int)
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.upstream[service+"/"+outcome]++
}

func (r *fakeRecorder) ProofAnchored(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.proofs == nil {
		r.proofs = make(map[string]int)
	}
	r.proofs[outcome]++
}

type fakeGenerator struct {
	got    ai.Prompt
	answer string
	err    error
}

func (g *fakeGenerator) Generate(_ context.Context, p ai.Prompt) (string, error) {
	g.got = p
	return g.answer, g.err
}

type fakePrices struct {
	states []string
	err    error
}

func (p *fakePrices) Prices(context.Context, market.Filter) (market.Prices, error) {
	return market.Prices{}, p.err
}

func (p *fakePrices) States(context.Context) ([]string, error) {
	return p.states, p.err
}

// tickingClock advances one millisecond per call so generated IDs differ.
func tickingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2025, 6, 14, 9, 30, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Millisecond)
		return t
	}
}

func newTestApp(t *testing.T, mutate func(*Config)) (*App, *kv.MemoryStore) {
	t.Helper()
	sessions, err := store.NewJWTSessionStore("test-secret-0123456789", time.Hour, store.JWTOptions{})
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	records := kv.NewMemoryStore()
	cfg := Config{
		Records:  records,
		Sessions: sessions,
		Now:      tickingClock(),
		Float:    func() float64 { return 0.5 },
	}
	if mutate != nil {
		mutate(&cfg)
	}
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return a, records
}

func TestNewRequiresStores(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error without record store")
	}
	if _, err := New(Config{Records: kv.NewMemoryStore()}); err == nil {
		t.Fatalf("expected error without session store")
	}
}

func TestSignUpLoginAndToken(t *testing.T) {
	a, _ := newTestApp(t, nil)
	ctx := context.Background()

	user, err := a.SignUp(ctx, SignUpInput{Name: "Ramesh", Phone: "9876543210", Password: "harvest1"})
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	got, token, err := a.Login(ctx, "9876543210", "harvest1")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if got.ID != user.ID || token == "" {
		t.Fatalf("unexpected login result: %+v token=%q", got, token)
	}
	me, err := a.UserByToken(ctx, token)
	if err != nil || me.Phone != "9876543210" {
		t.Fatalf("user by token: %+v, %v", me, err)
	}

	if _, _, err := a.Login(ctx, "9876543210", "wrong-pass"); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if _, _, err := a.Login(ctx, "0000000000", "harvest1"); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials for unknown phone, got %v", err)
	}
	if _, err := a.UserByToken(ctx, "not-a-token"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestTokensResolveOwnAccountOnFrozenClock(t *testing.T) {
	frozen := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	a, _ := newTestApp(t, func(c *Config) {
		c.Now = func() time.Time { return frozen }
	})
	ctx := context.Background()

	for _, in := range []SignUpInput{
		{Name: "Asha", Phone: "111", Password: "harvest1"},
		{Name: "Bala", Phone: "222", Password: "harvest2"},
	} {
		if _, err := a.SignUp(ctx, in); err != nil {
			t.Fatalf("signup %s: %v", in.Name, err)
		}
	}
	_, token, err := a.Login(ctx, "111", "harvest1")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	me, err := a.UserByToken(ctx, token)
	if err != nil {
		t.Fatalf("user by token: %v", err)
	}
	if me.Name != "Asha" || me.Phone != "111" {
		t.Fatalf("token resolved to %s (%s)", me.Name, me.Phone)
	}
}

func TestSignUpValidation(t *testing.T) {
	a, records := newTestApp(t, nil)
	cases := []struct {
		name  string
		in    SignUpInput
		field string
	}{
		{name: "missing name", in: SignUpInput{Phone: "1", Password: "secret1"}, field: "name"},
		{name: "missing phone", in: SignUpInput{Name: "A", Password: "secret1"}, field: "phone"},
		{name: "missing password", in: SignUpInput{Name: "A", Phone: "1"}, field: "password"},
		{name: "short password", in: SignUpInput{Name: "A", Phone: "1", Password: "abc"}, field: "password"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := a.SignUp(context.Background(), tc.in)
			var ve *domain.ValidationError
			if !errors.As(err, &ve) || ve.Field != tc.field {
				t.Fatalf("expected ValidationError on %q, got %v", tc.field, err)
			}
		})
	}
	keys, _ := records.ListByPrefix(context.Background(), "user:")
	if len(keys) != 0 {
		t.Fatalf("no user may be stored after failed validation, got %d", len(keys))
	}
}

func TestRuleBasedReply(t *testing.T) {
	cases := []struct {
		message string
		want    string
	}{
		{"When should I IRRIGATE field B?", chatRules[0].reply},
		{"wheat rate today", chatRules[1].reply},
		{"aphids on my mustard", chatRules[2].reply},
		{"rain forecast?", chatRules[3].reply},
		{"NPK dose for paddy", chatRules[4].reply},
		{"insurance status", chatRules[5].reply},
		{"pests near the water tank", chatRules[0].reply},
		{"hello", defaultChatReply},
	}
	for _, tc := range cases {
		if got := RuleBasedReply(tc.message); got != tc.want {
			t.Errorf("RuleBasedReply(%q) = %q, want %q", tc.message, got, tc.want)
		}
	}
}

func TestChatAppendsHistory(t *testing.T) {
	a, _ := newTestApp(t, nil)
	ctx := context.Background()

	if _, err := a.Chat(ctx, "u1", "   "); err == nil {
		t.Fatalf("expected error for empty message")
	}
	first, err := a.Chat(ctx, "u1", "Should I water today?")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if _, err := a.Chat(ctx, "u1", "hello"); err != nil {
		t.Fatalf("chat: %v", err)
	}
	history, err := a.ChatHistory(ctx, "u1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 || history[0].ID != first.ID || history[1].BotResponse != defaultChatReply {
		t.Fatalf("unexpected history: %+v", history)
	}
}

func TestAdvisorPromptLanguage(t *testing.T) {
	got := AdvisorPrompt("When to sow wheat?", "hi")
	if !strings.Contains(got, "CRITICAL: "+languageInstructions["hi"]) {
		t.Fatalf("missing hindi instruction: %q", got)
	}
	if !strings.HasSuffix(got, "Question: When to sow wheat?") {
		t.Fatalf("question must close the prompt: %q", got)
	}
	if fallback := AdvisorPrompt("q", "fr"); !strings.Contains(fallback, languageInstructions["en"]) {
		t.Fatalf("unknown language must fall back to english: %q", fallback)
	}
}

func TestAskAdvisor(t *testing.T) {
	gen := &fakeGenerator{answer: "Spray neem oil."}
	rec := &fakeRecorder{}
	a, _ := newTestApp(t, func(c *Config) {
		c.Generator = gen
		c.Recorder = rec
	})
	ctx := context.Background()

	img := &ai.InlineImage{MIMEType: "image/jpeg", Data: []byte{0xff, 0xd8}}
	answer, err := a.AskAdvisor(ctx, AdvisorRequest{Prompt: "Yellow leaves?", Language: "ta", Image: img})
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if answer != "Spray neem oil." {
		t.Fatalf("unexpected answer: %q", answer)
	}
	if gen.got.Image != img || !strings.Contains(gen.got.Text, languageInstructions["ta"]) {
		t.Fatalf("unexpected prompt: %+v", gen.got)
	}

	invalid := []AdvisorRequest{
		{Prompt: " "},
		{Prompt: "q", Image: &ai.InlineImage{MIMEType: "application/pdf", Data: []byte("%PDF")}},
		{Prompt: "q", Image: &ai.InlineImage{MIMEType: "image/png", Data: make([]byte, MaxAdvisorImageBytes+1)}},
	}
	for i, req := range invalid {
		var ve *domain.ValidationError
		if _, err := a.AskAdvisor(ctx, req); !errors.As(err, &ve) {
			t.Fatalf("case %d: expected ValidationError, got %v", i, err)
		}
	}

	gen.err = errors.New("quota exhausted for key abc")
	if _, err := a.AskAdvisor(ctx, AdvisorRequest{Prompt: "q"}); !errors.Is(err, ErrGeneratorFailed) {
		t.Fatalf("expected generic generator failure, got %v", err)
	}
	if rec.upstream["generator/ok"] != 1 || rec.upstream["generator/error"] != 1 {
		t.Fatalf("unexpected upstream counts: %v", rec.upstream)
	}
}

func TestAskAdvisorWithoutGenerator(t *testing.T) {
	a, _ := newTestApp(t, nil)
	if _, err := a.AskAdvisor(context.Background(), AdvisorRequest{Prompt: "q"}); !errors.Is(err, domain.ErrGeneratorUnavailable) {
		t.Fatalf("expected ErrGeneratorUnavailable, got %v", err)
	}
}

func TestFileClaimAnchorsInline(t *testing.T) {
	objects := &fakeObjects{}
	a, _ := newTestApp(t, func(c *Config) { c.Objects = objects })
	ctx := context.Background()

	claim, err := a.FileClaim(ctx, "u1", store.ClaimInput{Crop: "Wheat", Event: "Hailstorm", Amount: 25000})
	if err != nil {
		t.Fatalf("file claim: %v", err)
	}
	proof, err := a.ClaimProof(ctx, "u1", claim.ID)
	if err != nil {
		t.Fatalf("claim proof: %v", err)
	}
	key := storage.ProofKey("u1", claim.ID)
	if proof.Status != domain.ProofAnchored || proof.ObjectKey != key || proof.AnchoredAt == nil {
		t.Fatalf("unexpected proof: %+v", proof)
	}
	if proof.DownloadURL != "https://objects.test/"+key {
		t.Fatalf("unexpected download url: %q", proof.DownloadURL)
	}

	var manifest proofManifest
	if err := json.NewDecoder(bytes.NewReader(objects.objects[key])).Decode(&manifest); err != nil {
		t.Fatalf("decode manifest: %v", err)
	}
	if manifest.Hash != claim.ProofHash || manifest.Algorithm != "sha256" || manifest.Crop != "Wheat" {
		t.Fatalf("unexpected manifest: %+v", manifest)
	}
}

// proofWriteFailure fails writes of proof records once armed.
type proofWriteFailure struct {
	*kv.MemoryStore
	armed bool
}

func (s *proofWriteFailure) Set(ctx context.Context, key string, value any) error {
	if s.armed && strings.HasPrefix(key, "proof:") {
		return errors.New("disk full")
	}
	return s.MemoryStore.Set(ctx, key, value)
}

func TestAnchorProofRemovesManifestWhenRecordFails(t *testing.T) {
	objects := &fakeObjects{}
	records := &proofWriteFailure{MemoryStore: kv.NewMemoryStore()}
	a, _ := newTestApp(t, func(c *Config) {
		c.Records = records
		c.Objects = objects
		c.Proofs = &fakeQueue{}
	})
	ctx := context.Background()

	claim, err := a.FileClaim(ctx, "u1", store.ClaimInput{Crop: "Cotton", Event: "Pest", Amount: 800})
	if err != nil {
		t.Fatalf("file claim: %v", err)
	}
	records.armed = true
	if err := a.AnchorProof(ctx, "u1", claim.ID); err == nil {
		t.Fatalf("expected anchoring to fail")
	}
	if len(objects.objects) != 0 {
		t.Fatalf("orphaned manifest left behind: %v", objects.objects)
	}

	records.armed = false
	if err := a.AnchorProof(ctx, "u1", claim.ID); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if _, ok := objects.objects[storage.ProofKey("u1", claim.ID)]; !ok {
		t.Fatalf("manifest missing after successful retry")
	}
}

func TestFileClaimQueuesProof(t *testing.T) {
	q := &fakeQueue{}
	rec := &fakeRecorder{}
	a, _ := newTestApp(t, func(c *Config) {
		c.Proofs = q
		c.Recorder = rec
	})
	ctx := context.Background()

	claim, err := a.FileClaim(ctx, "u1", store.ClaimInput{Crop: "Rice", Event: "Flood", Amount: 1200})
	if err != nil {
		t.Fatalf("file claim: %v", err)
	}
	if len(q.jobs) != 1 || q.jobs[0].ClaimID != claim.ID {
		t.Fatalf("expected one queued job, got %+v", q.jobs)
	}
	proof, err := a.ClaimProof(ctx, "u1", claim.ID)
	if err != nil || proof.Status != domain.ProofPending {
		t.Fatalf("proof must wait for the worker: %+v, %v", proof, err)
	}

	if err := a.HandleProofJob(ctx, q.jobs[0]); err != nil {
		t.Fatalf("handle job: %v", err)
	}
	proof, _ = a.ClaimProof(ctx, "u1", claim.ID)
	if proof.Status != domain.ProofAnchored || proof.ObjectKey != "" || proof.DownloadURL != "" {
		t.Fatalf("unexpected proof without object storage: %+v", proof)
	}
	if rec.proofs["anchored"] != 1 {
		t.Fatalf("unexpected proof counts: %v", rec.proofs)
	}
}

func TestFileClaimFallsBackWhenQueueFails(t *testing.T) {
	q := &fakeQueue{err: errors.New("redis down")}
	a, _ := newTestApp(t, func(c *Config) { c.Proofs = q })
	ctx := context.Background()

	claim, err := a.FileClaim(ctx, "u1", store.ClaimInput{Crop: "Cotton", Event: "Drought", Amount: 900})
	if err != nil {
		t.Fatalf("file claim: %v", err)
	}
	proof, err := a.ClaimProof(ctx, "u1", claim.ID)
	if err != nil || proof.Status != domain.ProofAnchored {
		t.Fatalf("expected inline anchoring, got %+v, %v", proof, err)
	}
}

func TestHandleProofJobFailures(t *testing.T) {
	objects := &fakeObjects{putErr: errors.New("bucket unavailable")}
	rec := &fakeRecorder{}
	a, _ := newTestApp(t, func(c *Config) {
		c.Objects = objects
		c.Recorder = rec
	})
	ctx := context.Background()

	claim, err := a.FileClaim(ctx, "u1", store.ClaimInput{Crop: "Wheat", Event: "Hail", Amount: 100})
	if err != nil {
		t.Fatalf("filing must not fail on anchoring errors: %v", err)
	}
	proof, _ := a.ClaimProof(ctx, "u1", claim.ID)
	if proof.Status != domain.ProofPending || proof.Error == "" {
		t.Fatalf("expected pending proof with error, got %+v", proof)
	}

	job := queue.ProofJob{ID: "job-1", UserID: "u1", ClaimID: claim.ID, Attempts: 1}
	if err := a.HandleProofJob(ctx, job); err == nil {
		t.Fatalf("expected job error")
	}
	proof, _ = a.ClaimProof(ctx, "u1", claim.ID)
	if proof.Status != domain.ProofPending {
		t.Fatalf("retryable failure must keep proof pending, got %s", proof.Status)
	}

	job.Attempts = 3
	job.LastAttempt = true
	if err := a.HandleProofJob(ctx, job); err == nil {
		t.Fatalf("expected job error")
	}
	proof, _ = a.ClaimProof(ctx, "u1", claim.ID)
	if proof.Status != domain.ProofFailed || proof.Error != "bucket unavailable" {
		t.Fatalf("expected failed proof, got %+v", proof)
	}
	if rec.proofs["retry"] != 1 || rec.proofs["failed"] != 1 {
		t.Fatalf("unexpected proof counts: %v", rec.proofs)
	}
}

func TestClaimProofUnknownClaim(t *testing.T) {
	a, _ := newTestApp(t, nil)
	_, err := a.ClaimProof(context.Background(), "u1", "CLM2025-000001")
	var nf *domain.NotFoundError
	if !errors.As(err, &nf) || nf.Entity != "Claim" {
		t.Fatalf("expected claim NotFoundError, got %v", err)
	}
}

func TestVitalsDefaultIsNotPersisted(t *testing.T) {
	a, records := newTestApp(t, nil)
	ctx := context.Background()

	v, err := a.Vitals(ctx, "u1")
	if err != nil {
		t.Fatalf("vitals: %v", err)
	}
	if v.Moisture != 48 || v.CropStatus != "Healthy" || len(v.History.Moisture) != historyDays {
		t.Fatalf("unexpected default vitals: %+v", v)
	}
	if v.History.Temperature[0].Value != 30 || v.History.Rainfall[6].Day != 7 {
		t.Fatalf("unexpected history: %+v", v.History)
	}
	if _, ok, _ := records.Get(ctx, "vitals:u1"); ok {
		t.Fatalf("default vitals must not be stored")
	}
}

func TestDashboardAggregates(t *testing.T) {
	a, _ := newTestApp(t, nil)
	ctx := context.Background()

	if _, err := a.AddSensor(ctx, "u1", store.SensorInput{Name: "Probe", Type: "moisture"}); err != nil {
		t.Fatalf("add sensor: %v", err)
	}
	for _, sev := range []domain.AlertSeverity{domain.SeverityCritical, domain.SeverityAttention} {
		if _, err := a.CreateAlert(ctx, "u1", store.AlertInput{Title: "check", Severity: sev}); err != nil {
			t.Fatalf("create alert: %v", err)
		}
	}
	claim, err := a.FileClaim(ctx, "u1", store.ClaimInput{Crop: "Wheat", Event: "Hail", Amount: 500})
	if err != nil {
		t.Fatalf("file claim: %v", err)
	}
	completed := domain.ClaimCompleted
	if _, err := a.UpdateClaim(ctx, "u1", claim.ID, store.ClaimPatch{Status: &completed}); err != nil {
		t.Fatalf("update claim: %v", err)
	}
	if _, err := a.FileClaim(ctx, "u1", store.ClaimInput{Crop: "Rice", Event: "Flood", Amount: 200}); err != nil {
		t.Fatalf("file claim: %v", err)
	}

	d, err := a.Dashboard(ctx, "u1")
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if len(d.Sensors) != 1 || d.ActiveAlerts != 2 || d.CriticalAlerts != 1 {
		t.Fatalf("unexpected dashboard: %+v", d)
	}
	if d.Claims.Count != 2 || d.Claims.TotalReceived != 500 || d.Claims.TotalPending != 200 {
		t.Fatalf("unexpected claim summary: %+v", d.Claims)
	}
	if d.Vitals.Moisture != 48 {
		t.Fatalf("expected default vitals, got %+v", d.Vitals)
	}
}

func TestMarketWithoutKey(t *testing.T) {
	a, _ := newTestApp(t, nil)
	if _, err := a.MarketStates(context.Background()); !errors.Is(err, ErrPricesUnavailable) {
		t.Fatalf("expected ErrPricesUnavailable, got %v", err)
	}
}

func TestMarketRecordsUpstreamOutcome(t *testing.T) {
	rec := &fakeRecorder{}
	prices := &fakePrices{states: []string{"Bihar"}}
	a, _ := newTestApp(t, func(c *Config) {
		c.Prices = prices
		c.Recorder = rec
	})
	states, err := a.MarketStates(context.Background())
	if err != nil || len(states) != 1 {
		t.Fatalf("states: %v, %v", states, err)
	}
	prices.err = &domain.UpstreamError{Service: "market", Status: 502, Message: "Bad Gateway"}
	if _, err := a.MarketPrices(context.Background(), market.Filter{}); err == nil {
		t.Fatalf("expected upstream error")
	}
	if rec.upstream["market/ok"] != 1 || rec.upstream["market/error"] != 1 {
		t.Fatalf("unexpected upstream counts: %v", rec.upstream)
	}
}

func TestWeatherIsStatic(t *testing.T) {
	a, _ := newTestApp(t, nil)
	w := a.Weather("Kota")
	if w.Location != "Kota" || len(w.Forecast) != 5 || w.Forecast[2].Condition != "Rainy" {
		t.Fatalf("unexpected weather: %+v", w)
	}
	if len(w.Alerts) != 1 || w.Alerts[0].Severity != domain.SeverityCritical {
		t.Fatalf("unexpected alerts: %+v", w.Alerts)
	}
}
