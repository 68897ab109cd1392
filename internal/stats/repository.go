package stats

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Repository defines persistence operations for tracked pages and the chart catalog.
type Repository interface {
	Track(ctx context.Context, page *TrackedPage) error
	Update(ctx context.Context, pageID int64, update PageUpdate) error
	Retitle(ctx context.Context, pageID int64, title, short string, modifyOldID int64) error
	Untrack(ctx context.Context, pageID int64) (bool, error)
	UntrackByTitle(ctx context.Context, title string) (int64, error)
	Exists(ctx context.Context, pageID int64) (bool, error)
	Get(ctx context.Context, pageID int64) (*TrackedPage, error)
	GetByTitle(ctx context.Context, title string) (*TrackedPage, error)
	ListAll(ctx context.Context) ([]TrackedPage, error)
	ListByBucket(ctx context.Context, buckets ...int) ([]TrackedPage, error)
	PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error)
	ListCharts(ctx context.Context) ([]ChartRecord, error)
	CountByBucket(ctx context.Context) (map[int]int64, error)
}

// GormRepository persists tracked pages using a Gorm database connection.
type GormRepository struct {
	db     *gorm.DB
	logger *logrus.Logger
}

// NewRepository constructs a Gorm-backed repository implementation.
func NewRepository(db *gorm.DB, logger *logrus.Logger) (*GormRepository, error) {
	if db == nil {
		return nil, eris.New("gorm DB is required")
	}

	return &GormRepository{db: db, logger: logger}, nil
}

var _ Repository = (*GormRepository)(nil)

const trackedColumns = "page.*, `row`.row_chart"

// Track inserts the page and its chart assignment together.
func (r *GormRepository) Track(ctx context.Context, page *TrackedPage) error {
	if page == nil {
		return eris.New("page is nil")
	}
	if page.PageID <= 0 {
		return eris.New("page id is required")
	}
	if strings.TrimSpace(page.Title) == "" {
		return eris.New("page title is required")
	}

	record := page.PageRecord
	record.CreateTime = normalizeTime(record.CreateTime)
	record.ModifyTime = normalizeTime(record.ModifyTime)
	if record.SpecialTime != nil {
		special := normalizeTime(*record.SpecialTime)
		record.SpecialTime = &special
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&PageRecord{}).Where("page_id = ?", record.PageID).Count(&existing).Error; err != nil {
			return eris.Wrap(err, "checking for tracked page")
		}
		if existing > 0 {
			return eris.Wrapf(ErrAlreadyTracked, "page %d", record.PageID)
		}

		if err := tx.Create(&record).Error; err != nil {
			return eris.Wrap(err, "inserting page")
		}
		if err := tx.Create(&ChartRow{RowID: record.PageID, Chart: page.Bucket}).Error; err != nil {
			return eris.Wrap(err, "inserting chart row")
		}
		return nil
	})
	if err != nil {
		if !eris.Is(err, ErrAlreadyTracked) {
			r.logError(logrus.Fields{"page_id": record.PageID, "title": record.Title}, err, "tracking page")
		}
		return eris.Wrapf(err, "tracking page %d", record.PageID)
	}

	page.PageRecord = record
	return nil
}

// Update writes the non-nil groups of the update. An empty update touches nothing.
func (r *GormRepository) Update(ctx context.Context, pageID int64, update PageUpdate) error {
	if update.IsEmpty() {
		return nil
	}

	columns := update.pageColumns()
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&PageRecord{}).Where("page_id = ?", pageID).Updates(columns)
		if result.Error != nil {
			return eris.Wrap(result.Error, "updating page columns")
		}
		if result.RowsAffected == 0 {
			return eris.Wrapf(ErrNotTracked, "page %d", pageID)
		}

		if update.Status != nil {
			if err := tx.Model(&ChartRow{}).Where("row_id = ?", pageID).Update("row_chart", update.Status.Bucket).Error; err != nil {
				return eris.Wrap(err, "updating chart row")
			}
		}
		return nil
	})
	if err != nil {
		r.logError(logrus.Fields{"page_id": pageID}, err, "updating page")
		return eris.Wrapf(err, "updating page %d", pageID)
	}

	return nil
}

// Retitle re-points a tracked page at a new title without reclassifying it.
func (r *GormRepository) Retitle(ctx context.Context, pageID int64, title, short string, modifyOldID int64) error {
	trimmed := strings.TrimSpace(title)
	if trimmed == "" {
		return eris.New("title is required")
	}

	result := r.db.WithContext(ctx).Model(&PageRecord{}).Where("page_id = ?", pageID).Updates(map[string]any{
		"page_title":        trimmed,
		"page_short":        short,
		"page_modify_oldid": modifyOldID,
	})
	if result.Error != nil {
		r.logError(logrus.Fields{"page_id": pageID, "title": trimmed}, result.Error, "retitling page")
		return eris.Wrapf(result.Error, "retitling page %d", pageID)
	}
	if result.RowsAffected == 0 {
		return eris.Wrapf(ErrNotTracked, "retitling page %d", pageID)
	}
	return nil
}

// Untrack removes the page and its chart assignment. It reports whether anything was removed.
func (r *GormRepository) Untrack(ctx context.Context, pageID int64) (bool, error) {
	var removed int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("row_id = ?", pageID).Delete(&ChartRow{}).Error; err != nil {
			return eris.Wrap(err, "deleting chart row")
		}
		result := tx.Where("page_id = ?", pageID).Delete(&PageRecord{})
		if result.Error != nil {
			return eris.Wrap(result.Error, "deleting page")
		}
		removed = result.RowsAffected
		return nil
	})
	if err != nil {
		r.logError(logrus.Fields{"page_id": pageID}, err, "untracking page")
		return false, eris.Wrapf(err, "untracking page %d", pageID)
	}

	return removed > 0, nil
}

// UntrackByTitle removes the page currently stored under title. It returns the removed page id, or 0.
func (r *GormRepository) UntrackByTitle(ctx context.Context, title string) (int64, error) {
	trimmed := strings.TrimSpace(title)
	if trimmed == "" {
		return 0, eris.New("title is required")
	}

	page, err := r.GetByTitle(ctx, trimmed)
	if err != nil {
		return 0, err
	}
	if page == nil {
		return 0, nil
	}

	if _, err := r.Untrack(ctx, page.PageID); err != nil {
		return 0, err
	}
	return page.PageID, nil
}

// Exists reports whether the page id is tracked.
func (r *GormRepository) Exists(ctx context.Context, pageID int64) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&PageRecord{}).Where("page_id = ?", pageID).Count(&count).Error; err != nil {
		r.logError(logrus.Fields{"page_id": pageID}, err, "checking page existence")
		return false, eris.Wrapf(err, "checking page %d", pageID)
	}
	return count > 0, nil
}

// Get returns the tracked page or nil when not found.
func (r *GormRepository) Get(ctx context.Context, pageID int64) (*TrackedPage, error) {
	pages, err := r.query(ctx, "page.page_id = ?", pageID)
	if err != nil {
		r.logError(logrus.Fields{"page_id": pageID}, err, "fetching page")
		return nil, eris.Wrapf(err, "fetching page %d", pageID)
	}
	if len(pages) == 0 {
		return nil, nil
	}
	return &pages[0], nil
}

// GetByTitle returns the page stored under title or nil when not found.
func (r *GormRepository) GetByTitle(ctx context.Context, title string) (*TrackedPage, error) {
	trimmed := strings.TrimSpace(title)
	if trimmed == "" {
		return nil, eris.New("title is required")
	}

	pages, err := r.query(ctx, "page.page_title = ?", trimmed)
	if err != nil {
		r.logError(logrus.Fields{"title": trimmed}, err, "fetching page by title")
		return nil, eris.Wrapf(err, "fetching page by title: %s", trimmed)
	}
	if len(pages) == 0 {
		return nil, nil
	}
	return &pages[0], nil
}

// ListAll returns every tracked page ordered by page id.
func (r *GormRepository) ListAll(ctx context.Context) ([]TrackedPage, error) {
	pages, err := r.query(ctx, "")
	if err != nil {
		r.logError(nil, err, "listing pages")
		return nil, eris.Wrap(err, "listing pages")
	}
	return pages, nil
}

// ListByBucket returns the tracked pages in any of the buckets, ordered by page id.
func (r *GormRepository) ListByBucket(ctx context.Context, buckets ...int) ([]TrackedPage, error) {
	if len(buckets) == 0 {
		return []TrackedPage{}, nil
	}

	pages, err := r.query(ctx, "`row`.row_chart IN ?", buckets)
	if err != nil {
		r.logError(logrus.Fields{"buckets": buckets}, err, "listing pages by bucket")
		return nil, eris.Wrap(err, "listing pages by bucket")
	}
	return pages, nil
}

// PurgeExpired deletes terminal-bucket pages whose special time is before cutoff in one statement.
// Their chart rows go with them through the cascading foreign key.
func (r *GormRepository) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("page_special_time < ?", normalizeTime(cutoff)).
		Where("page_id IN (?)", r.db.Model(&ChartRow{}).Select("row_id").Where("row_chart IN ?", []int{BucketAccepted, BucketDeclined})).
		Delete(&PageRecord{})
	if result.Error != nil {
		r.logError(logrus.Fields{"cutoff": cutoff}, result.Error, "purging expired pages")
		return 0, eris.Wrap(result.Error, "purging expired pages")
	}
	return result.RowsAffected, nil
}

// ListCharts returns the chart catalog in render order.
func (r *GormRepository) ListCharts(ctx context.Context) ([]ChartRecord, error) {
	var charts []ChartRecord
	if err := r.db.WithContext(ctx).Order("chart_id ASC").Find(&charts).Error; err != nil {
		r.logError(nil, err, "listing charts")
		return nil, eris.Wrap(err, "listing charts")
	}
	return charts, nil
}

// CountByBucket returns the number of tracked pages per chart bucket.
func (r *GormRepository) CountByBucket(ctx context.Context) (map[int]int64, error) {
	var rows []struct {
		Chart int   `gorm:"column:row_chart"`
		Total int64 `gorm:"column:total"`
	}
	if err := r.db.WithContext(ctx).Model(&ChartRow{}).Select("row_chart, COUNT(*) AS total").Group("row_chart").Scan(&rows).Error; err != nil {
		r.logError(nil, err, "counting pages by bucket")
		return nil, eris.Wrap(err, "counting pages by bucket")
	}

	counts := make(map[int]int64, len(rows))
	for _, row := range rows {
		counts[row.Chart] = row.Total
	}
	return counts, nil
}

func (r *GormRepository) query(ctx context.Context, where string, args ...any) ([]TrackedPage, error) {
	tx := r.db.WithContext(ctx).
		Table("page").
		Select(trackedColumns).
		Joins("JOIN `row` ON `row`.row_id = page.page_id")
	if where != "" {
		tx = tx.Where(where, args...)
	}

	var pages []TrackedPage
	if err := tx.Order("page.page_id ASC").Scan(&pages).Error; err != nil {
		return nil, err
	}
	return pages, nil
}

func (r *GormRepository) logError(fields logrus.Fields, err error, message string) {
	if r.logger == nil {
		return
	}

	entry := r.logger.WithField("error", err.Error())
	if len(fields) > 0 {
		entry = entry.WithFields(fields)
	}
	entry.Error(message)
}
