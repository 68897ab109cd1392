package stats

import (
	"context"
	"regexp"
	"strings"

	"github.com/getsentry/sentry-go"
	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"

	"afcstats/app/internal/mediawiki"
)

// SaveTrigger says why a save was requested.
type SaveTrigger int

const (
	// TriggerScheduled is the hourly save. It honours the shutoff switch.
	TriggerScheduled SaveTrigger = iota
	// TriggerEvent is an operator-requested save. It bypasses the shutoff switch.
	TriggerEvent
)

// String returns the trigger name used in logs and metrics.
func (t SaveTrigger) String() string {
	if t == TriggerEvent {
		return "event"
	}
	return "scheduled"
}

const (
	eventSummarySuffix = "(!afcstats)"
	signatureToken     = "~~~ at ~~~~~"
	shutoffRunValue    = "run"
)

var (
	statRegion = regexp.MustCompile(`(?s)(<!-- stat begin -->)(.*?)(<!-- stat end -->)`)
	sigRegion  = regexp.MustCompile(`(<!-- sig begin -->)(.*?)(<!-- sig end -->)`)
)

// ShutoffChecker reports whether scheduled saves are currently suppressed.
type ShutoffChecker interface {
	ShutoffEnabled(ctx context.Context) (bool, error)
}

// PageShutoff reads the switch from a wiki page whose trimmed content must be "run" for saves to proceed.
type PageShutoff struct {
	wiki  mediawiki.Client
	title string
}

var _ ShutoffChecker = (*PageShutoff)(nil)

// NewPageShutoff constructs a shutoff switch backed by a wiki page.
func NewPageShutoff(wiki mediawiki.Client, title string) (*PageShutoff, error) {
	if wiki == nil {
		return nil, eris.New("wiki client is required")
	}
	if strings.TrimSpace(title) == "" {
		return nil, eris.New("shutoff page title is required")
	}
	return &PageShutoff{wiki: wiki, title: strings.TrimSpace(title)}, nil
}

// ShutoffEnabled reports true unless the page is missing or reads "run".
func (s *PageShutoff) ShutoffEnabled(ctx context.Context) (bool, error) {
	page, err := s.wiki.GetPage(ctx, s.title)
	if err != nil {
		if eris.Is(err, mediawiki.ErrPageMissing) {
			return false, nil
		}
		return false, eris.Wrapf(err, "reading shutoff page %s", s.title)
	}
	return strings.ToLower(strings.TrimSpace(page.Content)) != shutoffRunValue, nil
}

// SaveResult describes the outcome of a save.
type SaveResult struct {
	Skipped bool   `json:"skipped"`
	Reason  string `json:"reason,omitempty"`
}

// PublisherOptions configures a Publisher.
type PublisherOptions struct {
	Compiler  *Compiler
	Wiki      mediawiki.Client
	Shutoff   ShutoffChecker
	Page      string
	Summary   string
	Logger    *logrus.Logger
	SentryHub *sentry.Hub
}

// Publisher writes the compiled charts into the statistics page.
type Publisher struct {
	compiler  *Compiler
	wiki      mediawiki.Client
	shutoff   ShutoffChecker
	page      string
	summary   string
	logger    *logrus.Logger
	sentryHub *sentry.Hub
}

// NewPublisher constructs a publisher.
func NewPublisher(opts PublisherOptions) (*Publisher, error) {
	if opts.Compiler == nil {
		return nil, eris.New("chart compiler is required")
	}
	if opts.Wiki == nil {
		return nil, eris.New("wiki client is required")
	}
	if strings.TrimSpace(opts.Page) == "" {
		return nil, eris.New("statistics page title is required")
	}

	return &Publisher{
		compiler:  opts.Compiler,
		wiki:      opts.Wiki,
		shutoff:   opts.Shutoff,
		page:      strings.TrimSpace(opts.Page),
		summary:   strings.TrimSpace(opts.Summary),
		logger:    opts.Logger,
		sentryHub: opts.SentryHub,
	}, nil
}

// Save compiles the charts and writes them into the statistics page unless nothing changed.
func (p *Publisher) Save(ctx context.Context, trigger SaveTrigger) (SaveResult, error) {
	fields := logrus.Fields{"component": "stats.publisher", "trigger": trigger.String(), "title": p.page}

	summary := p.summary
	if trigger == TriggerEvent {
		summary = strings.TrimSpace(summary + " " + eventSummarySuffix)
	} else if p.shutoff != nil {
		enabled, err := p.shutoff.ShutoffEnabled(ctx)
		if err != nil {
			p.recordError(fields, err, "checking shutoff")
			return SaveResult{}, eris.Wrap(err, "checking shutoff")
		}
		if enabled {
			p.logInfo(fields, "shutoff enabled, skipping save")
			return SaveResult{Skipped: true, Reason: "shutoff"}, nil
		}
	}

	payload, err := p.compiler.Payload(ctx)
	if err != nil {
		p.recordError(fields, err, "compiling charts")
		return SaveResult{}, eris.Wrap(err, "compiling charts")
	}

	page, err := p.wiki.GetPage(ctx, p.page)
	if err != nil {
		p.recordError(fields, err, "fetching statistics page")
		return SaveResult{}, eris.Wrapf(err, "fetching statistics page %s", p.page)
	}

	text, changed := ReplaceStatistics(page.Content, payload)
	if !changed {
		p.logInfo(fields, "statistics unchanged, skipping save")
		return SaveResult{Skipped: true, Reason: "unchanged"}, nil
	}

	text = ReplaceSignature(text)
	if err := p.wiki.Edit(ctx, p.page, text, summary, mediawiki.EditOptions{Minor: true, Bot: true}); err != nil {
		p.recordError(fields, err, "saving statistics page")
		return SaveResult{}, eris.Wrapf(err, "saving statistics page %s", p.page)
	}

	p.logInfo(fields, "saved statistics page")
	return SaveResult{}, nil
}

// ReplaceStatistics puts payload between the stat markers and reports whether the text changed.
func ReplaceStatistics(text, payload string) (string, bool) {
	replaced := statRegion.ReplaceAllStringFunc(text, func(match string) string {
		parts := statRegion.FindStringSubmatch(match)
		return parts[1] + "\n" + payload + "\n" + parts[3]
	})
	return replaced, replaced != text
}

// ReplaceSignature puts the signature and timestamp tokens between the sig markers.
func ReplaceSignature(text string) string {
	return sigRegion.ReplaceAllStringFunc(text, func(match string) string {
		parts := sigRegion.FindStringSubmatch(match)
		return parts[1] + signatureToken + parts[3]
	})
}

func (p *Publisher) logInfo(fields logrus.Fields, message string) {
	if p.logger == nil {
		return
	}
	p.logger.WithFields(fields).Info(message)
}

func (p *Publisher) recordError(fields logrus.Fields, err error, message string) {
	if p.logger != nil {
		p.logger.WithFields(fields).WithField("error", err.Error()).Error(message)
	}
	if p.sentryHub != nil {
		p.sentryHub.CaptureException(err)
	}
}
