package context_test

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/goleak"

	agentctx "github.com/easyops/contextbudget/pkg/context"
	"github.com/easyops/contextbudget/pkg/otel"
)

type gatherFunc func(ctx context.Context, input *agentctx.GatherInput) ([]*agentctx.Fragment, error)

func (f gatherFunc) Gather(ctx context.Context, input *agentctx.GatherInput) ([]*agentctx.Fragment, error) {
	return f(ctx, input)
}

func newInput(req *agentctx.Request) *agentctx.GatherInput {
	return &agentctx.GatherInput{Request: req, Counter: agentctx.NewEstimatedCounter()}
}

func staticGatherer(cat agentctx.Category, text string) agentctx.Gatherer {
	return gatherFunc(func(_ context.Context, input *agentctx.GatherInput) ([]*agentctx.Fragment, error) {
		return []*agentctx.Fragment{agentctx.NewFragment(cat, text, input.Counter)}, nil
	})
}

func TestDefaultGatherers(t *testing.T) {
	hint := 0.8
	req := &agentctx.Request{
		UserRequest:    "Summarize the roadmap",
		CurrentContent: "  draft text  ",
		ContextData: agentctx.ContextData{
			ComplianceSources: []agentctx.ComplianceSource{{Title: "Policy", Text: "Must disclose risks."}},
			RetrievedExamples: []agentctx.RetrievedExample{{Title: "Ex", Text: "example body", RelevanceHint: &hint}},
			DocumentSummaries: []agentctx.DocumentSummary{{Title: "Doc", Summary: "summary body"}},
		},
		MediaTranscript:     &agentctx.MediaTranscript{URL: "https://example.com/v", Text: "spoken words", WordCount: 2},
		ConversationHistory: "user: hi\n\nassistant: hello",
	}

	report := agentctx.NewCompositeGatherer(agentctx.DefaultGatherers(), time.Second).Collect(context.Background(), newInput(req))
	if len(report.Failures) != 0 {
		t.Fatalf("Failures = %v, want none", report.Failures)
	}

	got := make(map[agentctx.Category]*agentctx.Fragment)
	for _, f := range report.Fragments {
		got[f.Category] = f
	}

	tests := []struct {
		cat  agentctx.Category
		want string
	}{
		{agentctx.CategoryComplianceSources, "### Policy\nMust disclose risks."},
		{agentctx.CategoryRetrievedExamples, "### Ex\nexample body"},
		{agentctx.CategoryDocumentSummaries, "### Doc\nsummary body"},
		{agentctx.CategoryCurrentContent, "draft text"},
		{agentctx.CategoryMediaTranscript, "Source: https://example.com/v (2 words)\n\nspoken words"},
		{agentctx.CategoryConversationHistory, "user: hi\n\nassistant: hello"},
	}
	for _, tt := range tests {
		f, ok := got[tt.cat]
		if !ok {
			t.Errorf("category %s missing", tt.cat)
			continue
		}
		if f.Text != tt.want {
			t.Errorf("%s text = %q, want %q", tt.cat, f.Text, tt.want)
		}
	}

	ex := got[agentctx.CategoryRetrievedExamples]
	if len(ex.Blocks) != 1 || ex.Blocks[0].Hint == nil || *ex.Blocks[0].Hint != 0.8 {
		t.Errorf("example hint not carried into block: %+v", ex.Blocks)
	}
}

func TestCompositeGatherer_EmptyRequest(t *testing.T) {
	req := &agentctx.Request{UserRequest: "hello"}
	report := agentctx.NewCompositeGatherer(agentctx.DefaultGatherers(), time.Second).Collect(context.Background(), newInput(req))

	if len(report.Fragments) != 0 {
		t.Errorf("Fragments = %d, want 0", len(report.Fragments))
	}
	if len(report.Failures) != 0 {
		t.Errorf("Failures = %d, want 0", len(report.Failures))
	}
}

func TestCompositeGatherer_Timeout(t *testing.T) {
	defer goleak.VerifyNone(t)

	slow := gatherFunc(func(ctx context.Context, _ *agentctx.GatherInput) ([]*agentctx.Fragment, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	g := agentctx.NewCompositeGatherer([]agentctx.Gatherer{
		slow,
		staticGatherer(agentctx.CategoryCurrentContent, "still here"),
	}, 20*time.Millisecond)

	start := time.Now()
	report := g.Collect(context.Background(), newInput(&agentctx.Request{UserRequest: "x"}))
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Collect took %v, want bounded by timeout", elapsed)
	}

	if len(report.Failures) != 1 {
		t.Fatalf("Failures = %d, want 1", len(report.Failures))
	}
	failure := report.Failures[0]
	if !errors.Is(failure.Err, agentctx.ErrCollaboratorUnavailable) {
		t.Errorf("failure error = %v, want ErrCollaboratorUnavailable", failure.Err)
	}
	if !errors.Is(failure.Err, context.DeadlineExceeded) {
		t.Errorf("failure error = %v, want deadline exceeded", failure.Err)
	}
	if failure.Source != "gatherer[0]" {
		t.Errorf("Source = %q, want gatherer[0]", failure.Source)
	}
	if len(report.Fragments) != 1 || report.Fragments[0].Text != "still here" {
		t.Errorf("healthy gatherer result lost: %+v", report.Fragments)
	}
}

func TestCompositeGatherer_FailureAndPanic(t *testing.T) {
	failing := gatherFunc(func(context.Context, *agentctx.GatherInput) ([]*agentctx.Fragment, error) {
		return nil, errors.New("backend down")
	})
	panicking := gatherFunc(func(context.Context, *agentctx.GatherInput) ([]*agentctx.Fragment, error) {
		panic("boom")
	})
	g := agentctx.NewCompositeGatherer([]agentctx.Gatherer{
		failing,
		panicking,
		staticGatherer(agentctx.CategoryConversationHistory, "user: hi"),
	}, time.Second)

	frags, err := g.Gather(context.Background(), newInput(&agentctx.Request{UserRequest: "x"}))
	if err == nil {
		t.Fatal("Gather() error = nil, want joined failures")
	}
	if !errors.Is(err, agentctx.ErrCollaboratorUnavailable) {
		t.Errorf("error = %v, want ErrCollaboratorUnavailable", err)
	}
	if !strings.Contains(err.Error(), "backend down") || !strings.Contains(err.Error(), "boom") {
		t.Errorf("error = %v, want both causes", err)
	}
	if len(frags) != 1 || frags[0].Category != agentctx.CategoryConversationHistory {
		t.Errorf("fragments = %+v, want history only", frags)
	}
}

func TestCompositeGatherer_Limit(t *testing.T) {
	defer goleak.VerifyNone(t)

	var inFlight, peak atomic.Int32
	tracked := func(cat agentctx.Category) agentctx.Gatherer {
		return gatherFunc(func(_ context.Context, input *agentctx.GatherInput) ([]*agentctx.Fragment, error) {
			n := inFlight.Add(1)
			defer inFlight.Add(-1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			return []*agentctx.Fragment{agentctx.NewFragment(cat, string(cat), input.Counter)}, nil
		})
	}

	tests := []struct {
		name     string
		limit    int
		wantPeak int32
	}{
		{"serial", 1, 1},
		{"pair", 2, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			peak.Store(0)
			g := agentctx.NewCompositeGatherer([]agentctx.Gatherer{
				tracked(agentctx.CategoryComplianceSources),
				tracked(agentctx.CategoryRetrievedExamples),
				tracked(agentctx.CategoryDocumentSummaries),
				tracked(agentctx.CategoryConversationHistory),
			}, time.Second, agentctx.WithGatherLimit(tt.limit))

			report := g.Collect(context.Background(), newInput(&agentctx.Request{UserRequest: "x"}))
			if report.Err != nil || len(report.Failures) != 0 {
				t.Fatalf("Collect() Err = %v, Failures = %v", report.Err, report.Failures)
			}
			if len(report.Fragments) != 4 {
				t.Errorf("len(Fragments) = %d, want 4", len(report.Fragments))
			}
			if got := peak.Load(); got > tt.wantPeak {
				t.Errorf("peak in flight = %d, want <= %d", got, tt.wantPeak)
			}
		})
	}
}

func TestCompositeGatherer_CanceledContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	var calls atomic.Int32
	counting := gatherFunc(func(_ context.Context, input *agentctx.GatherInput) ([]*agentctx.Fragment, error) {
		calls.Add(1)
		return []*agentctx.Fragment{agentctx.NewFragment(agentctx.CategoryCurrentContent, "text", input.Counter)}, nil
	})
	g := agentctx.NewCompositeGatherer([]agentctx.Gatherer{counting, counting}, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := g.Collect(ctx, newInput(&agentctx.Request{UserRequest: "x"}))
	if !errors.Is(report.Err, context.Canceled) {
		t.Errorf("report.Err = %v, want context.Canceled", report.Err)
	}
	if calls.Load() != 0 {
		t.Errorf("gatherer calls = %d, want 0 after cancel", calls.Load())
	}
	if len(report.Failures) != 2 {
		t.Fatalf("len(Failures) = %d, want 2", len(report.Failures))
	}
	for _, f := range report.Failures {
		if !errors.Is(f.Err, agentctx.ErrCollaboratorUnavailable) {
			t.Errorf("failure %s error = %v, want ErrCollaboratorUnavailable", f.Source, f.Err)
		}
	}
	if len(report.Fragments) != 0 {
		t.Errorf("Fragments = %+v, want none", report.Fragments)
	}

	if _, err := g.Gather(ctx, newInput(&agentctx.Request{UserRequest: "x"})); !errors.Is(err, context.Canceled) {
		t.Errorf("Gather() error = %v, want context.Canceled", err)
	}
}

func TestCompositeGatherer_Spans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	failing := gatherFunc(func(context.Context, *agentctx.GatherInput) ([]*agentctx.Fragment, error) {
		return nil, errors.New("index offline")
	})
	g := agentctx.NewCompositeGatherer([]agentctx.Gatherer{
		agentctx.NewComplianceGatherer(),
		failing,
	}, time.Second, agentctx.WithGatherTracer(otel.NewTracer(tp.Tracer("test"))))

	req := &agentctx.Request{
		UserRequest: "x",
		ContextData: agentctx.ContextData{
			ComplianceSources: []agentctx.ComplianceSource{{Title: "Policy", Text: "Disclose risks."}},
		},
	}
	g.Collect(context.Background(), newInput(req))

	ended := recorder.Ended()
	if len(ended) != 2 {
		t.Fatalf("ended spans = %d, want 2", len(ended))
	}
	byStatus := make(map[codes.Code]string)
	for _, span := range ended {
		if span.Name() != otel.SpanContextGather {
			t.Errorf("span name = %q, want %q", span.Name(), otel.SpanContextGather)
		}
		if span.SpanKind() != trace.SpanKindClient {
			t.Errorf("span kind = %v, want client", span.SpanKind())
		}
		for _, kv := range span.Attributes() {
			if string(kv.Key) == otel.AttrContextSource {
				byStatus[span.Status().Code] = kv.Value.AsString()
			}
		}
	}
	if byStatus[codes.Ok] != "compliance" {
		t.Errorf("ok span source = %q, want compliance", byStatus[codes.Ok])
	}
	if byStatus[codes.Error] != "gatherer[1]" {
		t.Errorf("error span source = %q, want gatherer[1]", byStatus[codes.Error])
	}
}

func TestCompositeGatherer_MergesSameCategory(t *testing.T) {
	req := &agentctx.Request{
		UserRequest: "x",
		ContextData: agentctx.ContextData{
			RetrievedExamples: []agentctx.RetrievedExample{{Title: "Inline", Text: "inline example"}},
		},
	}
	retrieval := agentctx.NewRetrievalGatherer(func(_ context.Context, query string, topK int) ([]agentctx.RetrievalResult, error) {
		if query != "x" || topK != 2 {
			t.Errorf("retrieve(%q, %d), want (x, 2)", query, topK)
		}
		return []agentctx.RetrievalResult{
			{Source: "kb://1", Content: "retrieved example", Score: 1.7},
			{Source: "kb://2", Content: "   "},
		}, nil
	}, 2)

	g := agentctx.NewCompositeGatherer([]agentctx.Gatherer{agentctx.NewExamplesGatherer(), retrieval}, time.Second)
	report := g.Collect(context.Background(), newInput(req))

	if len(report.Fragments) != 1 {
		t.Fatalf("Fragments = %d, want 1 merged fragment", len(report.Fragments))
	}
	f := report.Fragments[0]
	if len(f.Blocks) != 2 {
		t.Fatalf("Blocks = %d, want 2", len(f.Blocks))
	}
	if f.Blocks[0].Title != "Inline" || f.Blocks[1].Title != "kb://1" {
		t.Errorf("block order = %q, %q", f.Blocks[0].Title, f.Blocks[1].Title)
	}
	if h := f.Blocks[1].Hint; h == nil || *h != 1 {
		t.Errorf("retrieval score should be clamped to 1, got %v", h)
	}
	if f.SourceID != "examples,retrieval" {
		t.Errorf("SourceID = %q, want examples,retrieval", f.SourceID)
	}
}

func TestHistoryGatherer_Provider(t *testing.T) {
	g := agentctx.NewHistoryGatherer()

	req := &agentctx.Request{
		UserRequest:         "x",
		ConversationHistory: "ignored",
		HistoryProvider: func(context.Context) (string, error) {
			return "user: from provider", nil
		},
	}
	frags, err := g.Gather(context.Background(), newInput(req))
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	if len(frags) != 1 || frags[0].Text != "user: from provider" {
		t.Errorf("fragments = %+v, want provider history", frags)
	}

	req.HistoryProvider = func(context.Context) (string, error) {
		return "", errors.New("store offline")
	}
	if _, err := g.Gather(context.Background(), newInput(req)); err == nil {
		t.Error("Gather() error = nil, want provider error")
	}
}

func TestRetrievalGatherer_Defaults(t *testing.T) {
	g := agentctx.NewRetrievalGatherer(nil, 0)
	if g.TopK != 5 {
		t.Errorf("TopK = %d, want 5", g.TopK)
	}
	frags, err := g.Gather(context.Background(), newInput(&agentctx.Request{UserRequest: "x"}))
	if err != nil || frags != nil {
		t.Errorf("Gather() = %v, %v, want nil, nil", frags, err)
	}
}
