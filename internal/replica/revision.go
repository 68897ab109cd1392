package replica

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
)

// TimestampLayout is the replica's wire format for revision timestamps.
const TimestampLayout = "20060102150405"

var (
	// ErrNotFound indicates the replica holds no matching page or revision.
	ErrNotFound = eris.New("replica row not found")
	// ErrLookupFailed indicates the replica query itself failed.
	ErrLookupFailed = eris.New("replica lookup failed")
)

const (
	creationQuery = `SELECT rev_user_text, rev_timestamp, rev_id FROM revision
		WHERE rev_page = ? ORDER BY rev_id ASC LIMIT 1`
	modificationQuery = `SELECT rev_user_text, rev_timestamp, rev_id FROM revision
		JOIN page ON rev_id = page_latest WHERE page_id = ?`
	latestQuery      = `SELECT page_latest FROM page WHERE page_id = ?`
	pageExistsQuery  = `SELECT page_id FROM page WHERE page_id = ?`
	titleExistsQuery = `SELECT page_id FROM page WHERE page_namespace = ? AND page_title = ?`
)

// Revision is the author, instant and id of a single page revision.
type Revision struct {
	User      string
	Timestamp time.Time
	ID        int64
}

// Lookup answers revision and existence questions about wiki pages.
type Lookup interface {
	Creation(ctx context.Context, pageID int64) (Revision, error)
	Modification(ctx context.Context, pageID int64) (Revision, error)
	LatestRevisionID(ctx context.Context, pageID int64) (int64, error)
	PageExists(ctx context.Context, pageID int64) (bool, error)
	TitleExists(ctx context.Context, title string) (bool, error)
}

// SQLLookup implements Lookup with SQL against the replica schema.
type SQLLookup struct {
	querier Querier
	logger  *logrus.Logger
}

var _ Lookup = (*SQLLookup)(nil)

type revisionRow struct {
	RevUserText  string `gorm:"column:rev_user_text"`
	RevTimestamp string `gorm:"column:rev_timestamp"`
	RevID        int64  `gorm:"column:rev_id"`
}

type pageRow struct {
	PageID     int64 `gorm:"column:page_id"`
	PageLatest int64 `gorm:"column:page_latest"`
}

// NewSQLLookup constructs a revision lookup over the given querier.
func NewSQLLookup(querier Querier, logger *logrus.Logger) (*SQLLookup, error) {
	if querier == nil {
		return nil, eris.New("replica querier is required")
	}

	return &SQLLookup{querier: querier, logger: logger}, nil
}

// Creation returns the earliest revision of the page.
func (l *SQLLookup) Creation(ctx context.Context, pageID int64) (Revision, error) {
	return l.revision(ctx, "creation", creationQuery, pageID)
}

// Modification returns the revision the page's latest-revision pointer refers to.
func (l *SQLLookup) Modification(ctx context.Context, pageID int64) (Revision, error) {
	return l.revision(ctx, "modification", modificationQuery, pageID)
}

// LatestRevisionID returns the page's current latest-revision pointer.
func (l *SQLLookup) LatestRevisionID(ctx context.Context, pageID int64) (int64, error) {
	var rows []pageRow
	if err := l.querier.Scan(ctx, &rows, latestQuery, pageID); err != nil {
		return 0, l.failure(logrus.Fields{"page_id": pageID}, err, "latest revision")
	}
	if len(rows) == 0 {
		return 0, eris.Wrapf(ErrNotFound, "latest revision of page %d", pageID)
	}
	return rows[0].PageLatest, nil
}

// PageExists reports whether the replica still holds the page id.
func (l *SQLLookup) PageExists(ctx context.Context, pageID int64) (bool, error) {
	var rows []pageRow
	if err := l.querier.Scan(ctx, &rows, pageExistsQuery, pageID); err != nil {
		return false, l.failure(logrus.Fields{"page_id": pageID}, err, "page existence")
	}
	return len(rows) > 0, nil
}

// TitleExists reports whether a page currently lives at the title.
func (l *SQLLookup) TitleExists(ctx context.Context, title string) (bool, error) {
	namespace, dbKey := SplitTitle(title)
	if dbKey == "" {
		return false, eris.New("title is required")
	}

	var rows []pageRow
	if err := l.querier.Scan(ctx, &rows, titleExistsQuery, namespace, dbKey); err != nil {
		return false, l.failure(logrus.Fields{"title": title}, err, "title existence")
	}
	return len(rows) > 0, nil
}

func (l *SQLLookup) revision(ctx context.Context, kind, query string, pageID int64) (Revision, error) {
	var rows []revisionRow
	if err := l.querier.Scan(ctx, &rows, query, pageID); err != nil {
		return Revision{}, l.failure(logrus.Fields{"page_id": pageID}, err, kind+" revision")
	}
	if len(rows) == 0 {
		return Revision{}, eris.Wrapf(ErrNotFound, "%s revision of page %d", kind, pageID)
	}

	row := rows[0]
	timestamp, err := ParseTimestamp(row.RevTimestamp)
	if err != nil {
		return Revision{}, eris.Wrapf(err, "%s revision of page %d", kind, pageID)
	}

	return Revision{User: row.RevUserText, Timestamp: timestamp, ID: row.RevID}, nil
}

// ParseTimestamp converts a YYYYMMDDHHMMSS replica timestamp into a UTC instant.
func ParseTimestamp(raw string) (time.Time, error) {
	parsed, err := time.ParseInLocation(TimestampLayout, strings.TrimSpace(raw), time.UTC)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "parsing replica timestamp %q", raw)
	}
	return parsed, nil
}

func (l *SQLLookup) failure(fields logrus.Fields, err error, what string) error {
	if l.logger != nil {
		l.logger.WithFields(fields).WithField("error", err.Error()).Warn("replica lookup failed")
	}
	return eris.Wrapf(ErrLookupFailed, "%s: %v", what, err)
}
