package alert

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/dmarin/newswatch/internal/config"
	"github.com/dmarin/newswatch/internal/logging"
	"github.com/dmarin/newswatch/internal/store"
)

// Evaluator decides whether an enriched article triggers an email alert.
// The rate limit is global, not per-article: during a burst of high-impact
// news at most one email goes out per minimum interval.
//
// Two layers enforce the interval. The limiter arbitrates between workers
// racing inside one process; the alert log check covers restarts, since the
// limiter's state dies with the process. The AlertRecord is written only
// after confirmed dispatch, so a crash between decision and send never
// suppresses a retry (at the accepted risk of a duplicate email if the
// crash lands between dispatch and the record write).
type Evaluator struct {
	enabled   bool
	threshold int
	interval  time.Duration
	sender    Sender
	recipient string
	st        *store.Store
	limiter   *rate.Limiter
	now       func() time.Time
}

// NewEvaluator builds an evaluator over the given store and sender.
func NewEvaluator(cfg config.AlertConfig, st *store.Store, sender Sender) *Evaluator {
	return &Evaluator{
		enabled:   cfg.Enabled,
		threshold: cfg.ImpactThreshold,
		interval:  cfg.MinInterval,
		sender:    sender,
		recipient: cfg.To,
		st:        st,
		limiter:   rate.NewLimiter(rate.Every(cfg.MinInterval), 1),
		now:       time.Now,
	}
}

// Evaluate sends an alert for the article if it clears the impact threshold
// and the global rate limit. Returns true only on confirmed dispatch.
func (e *Evaluator) Evaluate(a *store.Article) (bool, error) {
	if !e.enabled || e.sender == nil {
		return false, nil
	}
	if !a.Enriched || a.ImpactScore < e.threshold {
		return false, nil
	}

	last, err := e.st.LastAlertAt()
	if err != nil {
		logging.Warn("Alert log unreadable, proceeding", "error", err)
	} else if !last.IsZero() && e.now().Sub(last) < e.interval {
		logging.Debug("Alert suppressed by rate limit", "url", a.CanonicalURL, "last_alert", last)
		return false, nil
	}

	r := e.limiter.Reserve()
	if !r.OK() || r.Delay() > 0 {
		r.Cancel()
		logging.Debug("Alert suppressed by rate limit", "url", a.CanonicalURL)
		return false, nil
	}

	subject, htmlBody, textBody, err := renderAlert(a)
	if err != nil {
		r.Cancel()
		return false, err
	}

	if err := e.sender.Send(subject, htmlBody, textBody); err != nil {
		// Give the token back so the next qualifying article can try.
		r.Cancel()
		logging.Error("Alert dispatch failed", "url", a.CanonicalURL, "error", err)
		e.logAlert(a, subject, "failed")
		return false, err
	}

	e.logAlert(a, subject, "sent")
	logging.Info("Alert dispatched", "url", a.CanonicalURL, "impact", a.ImpactScore)
	return true, nil
}

func (e *Evaluator) logAlert(a *store.Article, subject, status string) {
	err := e.st.LogAlert(&store.AlertRecord{
		ArticleURL: a.CanonicalURL,
		Recipient:  e.recipient,
		Subject:    subject,
		Status:     status,
		SentAt:     e.now(),
	})
	if err != nil {
		logging.Error("Failed to write alert record", "url", a.CanonicalURL, "error", err)
	}
}
