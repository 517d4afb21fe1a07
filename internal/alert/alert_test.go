package alert

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dmarin/newswatch/internal/config"
	"github.com/dmarin/newswatch/internal/store"
)

type fakeSender struct {
	sent []string // subjects
	err  error
}

func (f *fakeSender) Send(subject, htmlBody, textBody string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, subject)
	return nil
}

func testConfig() config.AlertConfig {
	return config.AlertConfig{
		Enabled:         true,
		ImpactThreshold: 9,
		MinInterval:     30 * time.Minute,
		To:              "trader@example.com",
	}
}

func highImpactArticle(url string, score int) *store.Article {
	return &store.Article{
		CanonicalURL:   url,
		URL:            url,
		Title:          "Central bank surprise rate decision",
		Source:         "Ziarul Financiar",
		Enriched:       true,
		Summary:        "The central bank unexpectedly raised rates.",
		ImpactScore:    score,
		Sentiment:      "negative",
		Instruments:    []string{"TLV", "BRD"},
		Recommendation: "sell",
		Confidence:     0.9,
		PublishedAt:    time.Now(),
	}
}

func testEvaluator(t *testing.T, cfg config.AlertConfig, sender Sender) (*Evaluator, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return NewEvaluator(cfg, st, sender), st
}

func TestEvaluateSendsAboveThreshold(t *testing.T) {
	sender := &fakeSender{}
	e, st := testEvaluator(t, testConfig(), sender)

	sent, err := e.Evaluate(highImpactArticle("https://zf.ro/a", 10))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sent {
		t.Fatal("impact 10 should trigger an alert")
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected 1 email, got %d", len(sender.sent))
	}
	if !strings.Contains(sender.sent[0], "Impact 10/10") {
		t.Errorf("subject = %q", sender.sent[0])
	}

	recs, err := st.ListAlerts(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].Status != "sent" {
		t.Errorf("expected one sent record, got %+v", recs)
	}
}

func TestEvaluateSkipsBelowThreshold(t *testing.T) {
	sender := &fakeSender{}
	e, _ := testEvaluator(t, testConfig(), sender)

	sent, err := e.Evaluate(highImpactArticle("https://zf.ro/a", 8))
	if err != nil || sent {
		t.Fatalf("impact 8 should not alert (sent=%v err=%v)", sent, err)
	}
	if len(sender.sent) != 0 {
		t.Error("no email should go out below threshold")
	}
}

func TestEvaluateSkipsDegraded(t *testing.T) {
	sender := &fakeSender{}
	e, _ := testEvaluator(t, testConfig(), sender)

	a := highImpactArticle("https://zf.ro/a", 10)
	a.Enriched = false

	if sent, _ := e.Evaluate(a); sent {
		t.Error("degraded records should never alert")
	}
}

func TestEvaluateRateLimitsBursts(t *testing.T) {
	sender := &fakeSender{}
	e, _ := testEvaluator(t, testConfig(), sender)

	first, err := e.Evaluate(highImpactArticle("https://zf.ro/a", 10))
	if err != nil || !first {
		t.Fatalf("first alert should send (sent=%v err=%v)", first, err)
	}

	second, err := e.Evaluate(highImpactArticle("https://zf.ro/b", 10))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second {
		t.Fatal("second alert within the interval should be suppressed")
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected exactly 1 email, got %d", len(sender.sent))
	}
}

func TestEvaluateRateLimitSurvivesRestart(t *testing.T) {
	sender := &fakeSender{}
	cfg := testConfig()

	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	e1 := NewEvaluator(cfg, st, sender)
	if sent, _ := e1.Evaluate(highImpactArticle("https://zf.ro/a", 10)); !sent {
		t.Fatal("first alert should send")
	}

	// Fresh evaluator over the same store simulates a process restart: the
	// limiter state is gone but the alert log still gates the send.
	e2 := NewEvaluator(cfg, st, sender)
	if sent, _ := e2.Evaluate(highImpactArticle("https://zf.ro/b", 10)); sent {
		t.Fatal("alert log should suppress the send after restart")
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected exactly 1 email, got %d", len(sender.sent))
	}
}

func TestEvaluateFailedSendDoesNotSuppressRetry(t *testing.T) {
	sender := &fakeSender{err: errors.New("smtp down")}
	e, st := testEvaluator(t, testConfig(), sender)

	sent, err := e.Evaluate(highImpactArticle("https://zf.ro/a", 10))
	if err == nil || sent {
		t.Fatalf("failed dispatch should surface the error (sent=%v err=%v)", sent, err)
	}

	recs, _ := st.ListAlerts(10)
	if len(recs) != 1 || recs[0].Status != "failed" {
		t.Fatalf("expected one failed record, got %+v", recs)
	}

	// SMTP recovers; the failed attempt must not count against the limit.
	sender.err = nil
	sent, err = e.Evaluate(highImpactArticle("https://zf.ro/a", 10))
	if err != nil || !sent {
		t.Fatalf("retry after failed send should go through (sent=%v err=%v)", sent, err)
	}
}

func TestEvaluateDisabled(t *testing.T) {
	sender := &fakeSender{}
	cfg := testConfig()
	cfg.Enabled = false
	e, _ := testEvaluator(t, cfg, sender)

	if sent, _ := e.Evaluate(highImpactArticle("https://zf.ro/a", 10)); sent {
		t.Error("disabled evaluator should never send")
	}
}

func TestRenderAlert(t *testing.T) {
	a := highImpactArticle("https://zf.ro/a", 10)
	a.Title = `Rates <script>alert("x")</script> up`

	subject, htmlBody, textBody, err := renderAlert(a)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(subject, "Impact 10/10") {
		t.Errorf("subject = %q", subject)
	}
	if strings.Contains(htmlBody, "<script>") {
		t.Error("HTML body should escape article content")
	}
	if !strings.Contains(htmlBody, "TLV, BRD") || !strings.Contains(textBody, "TLV, BRD") {
		t.Error("both bodies should list instruments")
	}
}
