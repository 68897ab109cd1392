package stats

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// DefaultCharts is the chart catalog seeded into an empty store, in render order.
var DefaultCharts = []ChartRecord{
	{ID: BucketPending, Title: "Pending submissions"},
	{ID: BucketOnHold, Title: "Pending submissions (on hold)"},
	{ID: BucketReview, Title: "Currently under review"},
	{ID: BucketAccepted, Title: "Recently accepted", SpecialTitle: stringPtr("Accepted by")},
	{ID: BucketDeclined, Title: "Recently declined", SpecialTitle: stringPtr("Declined by")},
}

// Migrate applies the statistics schema using Gorm's AutoMigrate and seeds the chart catalog.
func Migrate(ctx context.Context, db *gorm.DB, logger *logrus.Logger) error {
	if db == nil {
		return eris.New("gorm DB is required")
	}

	logFields := logrus.Fields{"component": "stats.migrate"}
	if logger != nil {
		logger.WithFields(logFields).Info("applying statistics schema")
	}

	if err := db.WithContext(ctx).AutoMigrate(&ChartRecord{}, &PageRecord{}, &ChartRow{}); err != nil {
		if logger != nil {
			logger.WithFields(logFields).WithField("error", err.Error()).Error("statistics schema migration failed")
		}
		return eris.Wrap(err, "auto migrating statistics schema")
	}

	var charts int64
	if err := db.WithContext(ctx).Model(&ChartRecord{}).Count(&charts).Error; err != nil {
		return eris.Wrap(err, "counting chart catalog")
	}

	if charts == 0 {
		seed := make([]ChartRecord, len(DefaultCharts))
		copy(seed, DefaultCharts)
		if err := db.WithContext(ctx).Create(&seed).Error; err != nil {
			if logger != nil {
				logger.WithFields(logFields).WithField("error", err.Error()).Error("seeding chart catalog failed")
			}
			return eris.Wrap(err, "seeding chart catalog")
		}
		if logger != nil {
			logger.WithFields(logFields).WithField("charts", len(seed)).Info("seeded chart catalog")
		}
	}

	if logger != nil {
		logger.WithFields(logFields).Info("statistics schema migration complete")
	}

	return nil
}

func stringPtr(value string) *string {
	return &value
}
