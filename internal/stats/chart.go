package stats

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// ChartTimeLayout renders timestamps in chart rows.
const ChartTimeLayout = "15:04, 02 January 2006"

// Field is one template parameter. An empty Name makes it positional.
type Field struct {
	Name  string
	Value string
}

// Block is one template transclusion of the statistics payload.
type Block struct {
	Template string
	Fields   []Field
}

// String renders the block as wiki markup.
func (b Block) String() string {
	var sb strings.Builder
	sb.WriteString("{{")
	sb.WriteString(b.Template)
	for _, field := range b.Fields {
		sb.WriteByte('|')
		if field.Name != "" {
			sb.WriteString(field.Name)
			sb.WriteByte('=')
		}
		sb.WriteString(field.Value)
	}
	sb.WriteString("}}")
	return sb.String()
}

// Serialize joins blocks with single newlines and no trailing newline.
func Serialize(blocks []Block) string {
	lines := make([]string, len(blocks))
	for i, block := range blocks {
		lines[i] = block.String()
	}
	return strings.Join(lines, "\n")
}

// Section is one catalog chart with the pages currently assigned to it.
type Section struct {
	Chart ChartRecord
	Pages []TrackedPage
}

// CompilerOptions configures a Compiler.
type CompilerOptions struct {
	Store          *Store
	HeaderTemplate string
	RowTemplate    string
	FooterTemplate string
}

// Compiler turns the store contents into the statistics payload.
type Compiler struct {
	store  *Store
	header string
	row    string
	footer string
}

// NewCompiler constructs a chart compiler.
func NewCompiler(opts CompilerOptions) (*Compiler, error) {
	if opts.Store == nil {
		return nil, eris.New("stats store is required")
	}

	compiler := &Compiler{
		store:  opts.Store,
		header: strings.TrimSpace(opts.HeaderTemplate),
		row:    strings.TrimSpace(opts.RowTemplate),
		footer: strings.TrimSpace(opts.FooterTemplate),
	}
	if compiler.header == "" || compiler.row == "" || compiler.footer == "" {
		return nil, eris.New("header, row and footer templates are required")
	}
	return compiler, nil
}

// Sections reads every catalog chart and its pages in one critical section.
func (c *Compiler) Sections(ctx context.Context) ([]Section, error) {
	var sections []Section
	err := c.store.Locked(ctx, func(repo Repository) error {
		charts, err := repo.ListCharts(ctx)
		if err != nil {
			return err
		}

		sections = make([]Section, 0, len(charts))
		for _, chart := range charts {
			pages, err := repo.ListByBucket(ctx, chart.ID)
			if err != nil {
				return err
			}
			sections = append(sections, Section{Chart: chart, Pages: pages})
		}
		return nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "reading charts")
	}
	return sections, nil
}

// Compile builds the header, row and footer blocks of every chart in catalog order.
func (c *Compiler) Compile(ctx context.Context) ([]Block, error) {
	sections, err := c.Sections(ctx)
	if err != nil {
		return nil, err
	}

	var blocks []Block
	for _, section := range sections {
		blocks = append(blocks, c.headerBlock(section.Chart))
		for i := range section.Pages {
			blocks = append(blocks, c.rowBlock(&section.Pages[i]))
		}
		blocks = append(blocks, Block{Template: c.footer})
	}
	return blocks, nil
}

// Payload compiles and serializes the charts.
func (c *Compiler) Payload(ctx context.Context) (string, error) {
	blocks, err := c.Compile(ctx)
	if err != nil {
		return "", err
	}
	return Serialize(blocks), nil
}

func (c *Compiler) headerBlock(chart ChartRecord) Block {
	block := Block{Template: c.header, Fields: []Field{{Value: chart.Title}}}
	if chart.SpecialTitle != nil && *chart.SpecialTitle != "" {
		block.Fields = append(block.Fields, Field{Value: *chart.SpecialTitle})
	}
	return block
}

func (c *Compiler) rowBlock(page *TrackedPage) Block {
	fields := []Field{
		{Name: "s", Value: string(page.Status)},
		{Name: "t", Value: page.Title},
		{Name: "h", Value: page.Short},
		{Name: "z", Value: strconv.Itoa(page.Size)},
		{Name: "cr", Value: page.CreateUser},
		{Name: "cd", Value: FormatChartTime(page.CreateTime)},
		{Name: "ci", Value: strconv.FormatInt(page.CreateOldID, 10)},
		{Name: "mr", Value: page.ModifyUser},
		{Name: "md", Value: FormatChartTime(page.ModifyTime)},
		{Name: "mi", Value: strconv.FormatInt(page.ModifyOldID, 10)},
	}

	if special := page.Special(); special != nil {
		fields = append(fields,
			Field{Name: "sr", Value: special.User},
			Field{Name: "sd", Value: FormatChartTime(special.Timestamp)},
			Field{Name: "si", Value: strconv.FormatInt(special.ID, 10)},
		)
	}

	if page.Notes != nil && *page.Notes != "" {
		fields = append(fields, Field{Name: "n", Value: "1" + *page.Notes})
	}

	return Block{Template: c.row, Fields: fields}
}

// FormatChartTime renders an instant in UTC using ChartTimeLayout.
func FormatChartTime(t time.Time) string {
	return t.UTC().Format(ChartTimeLayout)
}
