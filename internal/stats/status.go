package stats

import (
	"regexp"
	"strings"
)

// Status is the workflow state of a submission page. The zero value means the page is not tracked.
type Status string

const (
	StatusNone     Status = ""
	StatusPending  Status = "pend"
	StatusReview   Status = "review"
	StatusAccepted Status = "accept"
	StatusDeclined Status = "decline"
)

// Chart buckets group tracked pages into the rendered sections.
const (
	BucketNone     = 0
	BucketPending  = 1
	BucketOnHold   = 2
	BucketReview   = 3
	BucketAccepted = 4
	BucketDeclined = 5
)

// mainNamespace is the article namespace an accepted draft redirects into.
const mainNamespace = 0

// Classification is the outcome of classifying a page.
type Classification struct {
	Status Status
	Bucket int
}

// Tracked reports whether the classification puts the page in the store.
func (c Classification) Tracked() bool {
	return c.Status != StatusNone
}

// IsTerminal reports whether the bucket is subject to retention.
func IsTerminal(bucket int) bool {
	return bucket == BucketAccepted || bucket == BucketDeclined
}

var (
	reviewMarker  = regexp.MustCompile(`(?i)\{\{afc submission\|r\|.*?\}\}`)
	onHoldMarker  = regexp.MustCompile(`(?i)\{\{afc submission\|h\|.*?\}\}`)
	pendingMarker = regexp.MustCompile(`(?i)\{\{afc submission\|\|.*?\}\}`)
	draftMarker   = regexp.MustCompile(`(?i)\{\{afc submission\|t\|.*?\}\}`)
	declineMarker = regexp.MustCompile(`(?i)\{\{afc submission\|d\|.*?\}\}`)

	shortPrefix = regexp.MustCompile(`(?i)^(Wikipedia(\s*talk)?:Articles\s+for\s+creation/|Draft:)`)
)

// Classify maps page content and redirect information onto a status and chart bucket.
// The first matching rule wins; pages matching no rule are untracked.
func Classify(content string, isRedirect bool, targetNamespace int) Classification {
	if isRedirect {
		if targetNamespace == mainNamespace {
			return Classification{Status: StatusAccepted, Bucket: BucketAccepted}
		}
		return Classification{}
	}

	switch {
	case reviewMarker.MatchString(content):
		return Classification{Status: StatusReview, Bucket: BucketReview}
	case onHoldMarker.MatchString(content):
		return Classification{Status: StatusPending, Bucket: BucketOnHold}
	case pendingMarker.MatchString(content):
		return Classification{Status: StatusPending, Bucket: BucketPending}
	case draftMarker.MatchString(content):
		return Classification{}
	case declineMarker.MatchString(content):
		return Classification{Status: StatusDeclined, Bucket: BucketDeclined}
	default:
		return Classification{}
	}
}

// ShortTitle strips the submission-space prefix from a page title for display.
func ShortTitle(title string) string {
	return strings.TrimSpace(shortPrefix.ReplaceAllString(strings.TrimSpace(title), ""))
}
