package stats

import (
	"time"

	"afcstats/app/internal/replica"
)

// PageRecord is the mirrored state of one tracked submission page.
type PageRecord struct {
	PageID      int64     `gorm:"column:page_id;primaryKey;autoIncrement:false"`
	Status      Status    `gorm:"column:page_status;size:16;not null"`
	Title       string    `gorm:"column:page_title;size:255;not null;index:idx_page_title"`
	Short       string    `gorm:"column:page_short;size:255;not null"`
	Size        int       `gorm:"column:page_size;not null"`
	Notes       *string   `gorm:"column:page_notes;type:text"`
	CreateUser  string    `gorm:"column:page_create_user;size:255;not null"`
	CreateTime  time.Time `gorm:"column:page_create_time;not null"`
	CreateOldID int64     `gorm:"column:page_create_oldid;not null"`
	ModifyUser  string    `gorm:"column:page_modify_user;size:255;not null"`
	ModifyTime  time.Time `gorm:"column:page_modify_time;not null"`
	ModifyOldID int64     `gorm:"column:page_modify_oldid;not null"`

	SpecialUser  *string    `gorm:"column:page_special_user;size:255"`
	SpecialTime  *time.Time `gorm:"column:page_special_time;index:idx_page_special_time"`
	SpecialOldID *int64     `gorm:"column:page_special_oldid"`
}

// TableName defines the table name for the PageRecord model.
func (PageRecord) TableName() string {
	return "page"
}

// ChartRow assigns a tracked page to its chart bucket. It is removed with its page.
type ChartRow struct {
	RowID int64       `gorm:"column:row_id;primaryKey;autoIncrement:false"`
	Chart int         `gorm:"column:row_chart;not null;index:idx_row_chart"`
	Page  *PageRecord `gorm:"foreignKey:RowID;references:PageID;constraint:OnDelete:CASCADE"`
}

// TableName defines the table name for the ChartRow model.
func (ChartRow) TableName() string {
	return "row"
}

// ChartRecord is one entry of the static chart catalog.
type ChartRecord struct {
	ID           int     `gorm:"column:chart_id;primaryKey;autoIncrement:false"`
	Title        string  `gorm:"column:chart_title;size:255;not null"`
	SpecialTitle *string `gorm:"column:chart_special_title;size:255"`
}

// TableName defines the table name for the ChartRecord model.
func (ChartRecord) TableName() string {
	return "chart"
}

// TrackedPage is a page record joined with its chart bucket.
type TrackedPage struct {
	PageRecord
	Bucket int `gorm:"column:row_chart"`
}

// HasSpecial reports whether the special triple is populated.
func (p *TrackedPage) HasSpecial() bool {
	return p.SpecialOldID != nil
}

// Special returns the special triple as a revision, or nil when unset.
func (p *TrackedPage) Special() *replica.Revision {
	if !p.HasSpecial() {
		return nil
	}

	rev := replica.Revision{ID: *p.SpecialOldID}
	if p.SpecialUser != nil {
		rev.User = *p.SpecialUser
	}
	if p.SpecialTime != nil {
		rev.Timestamp = *p.SpecialTime
	}
	return &rev
}

// PageUpdate groups the columns of a record that change together. Nil groups are left untouched.
type PageUpdate struct {
	Title        *TitleChange
	Modification *ModificationChange
	Status       *StatusChange
	Special      *SpecialChange
	Notes        *NotesChange
}

// TitleChange updates the title and its derived short form.
type TitleChange struct {
	Title string
	Short string
}

// ModificationChange updates the size together with the latest revision triple.
type ModificationChange struct {
	Size     int
	Revision replica.Revision
}

// StatusChange updates the status and the chart bucket.
type StatusChange struct {
	Status Status
	Bucket int
}

// SpecialChange sets the special triple, or clears it when Revision is nil.
type SpecialChange struct {
	Revision *replica.Revision
}

// NotesChange sets the notes, or clears them when Notes is nil.
type NotesChange struct {
	Notes *string
}

// IsEmpty reports whether the update would write nothing.
func (u PageUpdate) IsEmpty() bool {
	return u.Title == nil && u.Modification == nil && u.Status == nil && u.Special == nil && u.Notes == nil
}

func (u PageUpdate) pageColumns() map[string]any {
	columns := map[string]any{}

	if u.Title != nil {
		columns["page_title"] = u.Title.Title
		columns["page_short"] = u.Title.Short
	}

	if u.Modification != nil {
		columns["page_size"] = u.Modification.Size
		columns["page_modify_user"] = u.Modification.Revision.User
		columns["page_modify_time"] = normalizeTime(u.Modification.Revision.Timestamp)
		columns["page_modify_oldid"] = u.Modification.Revision.ID
	}

	if u.Status != nil {
		columns["page_status"] = string(u.Status.Status)
	}

	if u.Special != nil {
		if rev := u.Special.Revision; rev != nil {
			columns["page_special_user"] = rev.User
			columns["page_special_time"] = normalizeTime(rev.Timestamp)
			columns["page_special_oldid"] = rev.ID
		} else {
			columns["page_special_user"] = nil
			columns["page_special_time"] = nil
			columns["page_special_oldid"] = nil
		}
	}

	if u.Notes != nil {
		columns["page_notes"] = u.Notes.Notes
	}

	return columns
}

// normalizeTime stores instants in UTC at the replica's one-second precision.
func normalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}
