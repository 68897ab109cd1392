package templates

// DefaultFooterNote is shown under every page of the preview.
const DefaultFooterNote = "Charts are mirrored from the submission queue and published to the wiki on a schedule."

// ChartsPageData contains the compiled charts rendered on the preview page.
type ChartsPageData struct {
	Title        string
	GeneratedAt  string
	TrackedCount int
	Charts       []ChartView
}

// ChartView is one chart of the preview.
type ChartView struct {
	Title        string
	SpecialTitle string
	Rows         []RowView
}

// RowView is one tracked page inside a chart.
type RowView struct {
	Title    string
	Short    string
	Status   string
	Size     int
	Created  RevisionView
	Modified RevisionView
	Special  *RevisionView
	Notes    string
}

// RevisionView describes a revision by author, time and id.
type RevisionView struct {
	User  string
	Time  string
	OldID int64
}

// ErrorPageData holds information for rendering an error view.
type ErrorPageData struct {
	StatusLabel string
	Message     string
}
