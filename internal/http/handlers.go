package http

import (
	"context"
	"fmt"
	stdhttp "net/http"
	"strconv"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"afcstats/app/internal/db"
	"afcstats/app/internal/http/templates"
	"afcstats/app/internal/stats"
)

const (
	htmlContentType      = "text/html; charset=utf-8"
	chartsPageTitle      = "AfC submission statistics"
	errorFallbackMessage = "We couldn't process your request right now."
)

type htmlResponse struct {
	Status      int
	ContentType string `header:"Content-Type"`
	Body        []byte
}

type fieldView struct {
	Name  string `json:"name,omitempty"`
	Value string `json:"value"`
}

type blockView struct {
	Template string      `json:"template"`
	Fields   []fieldView `json:"fields"`
}

type chartsResponse struct {
	Body struct {
		Payload string      `json:"payload"`
		Blocks  []blockView `json:"blocks"`
	}
}

type eventInput struct {
	Body struct {
		Kind   string `json:"kind" doc:"edit, restore, move, delete, sync or save"`
		Title  string `json:"title,omitempty" doc:"Page title for edit, restore and delete events"`
		Source string `json:"source,omitempty" doc:"Old title of a moved page"`
		Dest   string `json:"dest,omitempty" doc:"New title of a moved page"`
	}
}

type eventResponse struct {
	Body struct {
		EventID string             `json:"event_id"`
		Kind    string             `json:"kind"`
		Outcome stats.Outcome      `json:"outcome,omitempty"`
		Sweep   *stats.SweepReport `json:"sweep,omitempty"`
		Save    *stats.SaveResult  `json:"save,omitempty"`
	}
}

type healthResponse struct {
	Status int
	Body   struct {
		Status   string `json:"status"`
		Database string `json:"database"`
	}
}

func (s *Server) registerChartsPageRoute() {
	huma.Get(s.api, "/", s.chartsPageHandler, htmlOperation("Chart preview", stdhttp.StatusInternalServerError))
}

func (s *Server) registerChartsRoute() {
	huma.Get(s.api, "/charts", s.chartsHandler, func(op *huma.Operation) {
		op.Summary = "Compiled statistics payload"
	})
}

func (s *Server) registerEventsRoute() {
	huma.Post(s.api, "/events", s.eventsHandler, func(op *huma.Operation) {
		op.Summary = "Submit a page or maintenance event"
	})
}

func (s *Server) registerHealthRoute() {
	huma.Get(s.api, "/healthz", s.healthHandler, func(op *huma.Operation) {
		op.Summary = "Health check"
	})
}

func (s *Server) chartsPageHandler(ctx context.Context, _ *struct{}) (*htmlResponse, error) {
	sections, err := s.charts.Sections(ctx)
	if err != nil {
		s.recordError(ctx, err, "reading charts", nil)
		return s.renderErrorResponse(ctx, stdhttp.StatusInternalServerError, "We couldn't load the charts right now.")
	}

	body, err := renderComponent(ctx, templates.ChartsPage(chartsPageData(sections, time.Now())))
	if err != nil {
		s.recordError(ctx, err, "rendering chart preview", nil)
		return s.renderErrorResponse(ctx, stdhttp.StatusInternalServerError, "We couldn't render the charts.")
	}

	return newHTMLResponse(stdhttp.StatusOK, body), nil
}

func (s *Server) chartsHandler(ctx context.Context, _ *struct{}) (*chartsResponse, error) {
	blocks, err := s.charts.Compile(ctx)
	if err != nil {
		s.recordError(ctx, err, "compiling charts", nil)
		return nil, huma.Error500InternalServerError("compiling charts failed")
	}

	resp := &chartsResponse{}
	resp.Body.Payload = stats.Serialize(blocks)
	resp.Body.Blocks = make([]blockView, 0, len(blocks))
	for _, block := range blocks {
		view := blockView{Template: block.Template, Fields: make([]fieldView, 0, len(block.Fields))}
		for _, field := range block.Fields {
			view.Fields = append(view.Fields, fieldView{Name: field.Name, Value: field.Value})
		}
		resp.Body.Blocks = append(resp.Body.Blocks, view)
	}
	return resp, nil
}

func (s *Server) eventsHandler(ctx context.Context, input *eventInput) (*eventResponse, error) {
	eventID := uuid.NewString()
	fields := logrus.Fields{"event_id": eventID, "kind": input.Body.Kind}

	event, err := stats.ParseEvent(input.Body.Kind, input.Body.Title, input.Body.Source, input.Body.Dest)
	if err != nil {
		if s.logger != nil {
			s.logger.WithFields(fields).WithField("error", err.Error()).Warn("rejected event")
		}
		return nil, huma.Error400BadRequest(err.Error())
	}

	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		hub.Scope().SetTag("event_id", eventID)
	}

	result, err := s.events.Handle(ctx, event)
	if err != nil {
		s.recordError(ctx, err, "handling event", fields)
		return nil, huma.Error500InternalServerError("handling event failed")
	}

	if s.logger != nil {
		entry := s.logger.WithFields(fields)
		if result.Outcome != "" {
			entry = entry.WithField("outcome", result.Outcome)
		}
		entry.Info("event handled")
	}

	resp := &eventResponse{}
	resp.Body.EventID = eventID
	resp.Body.Kind = result.Kind
	resp.Body.Outcome = result.Outcome
	resp.Body.Sweep = result.Sweep
	resp.Body.Save = result.Save
	return resp, nil
}

func (s *Server) healthHandler(ctx context.Context, _ *struct{}) (*healthResponse, error) {
	resp := &healthResponse{}
	resp.Body.Status = "ok"
	resp.Body.Database = "ok"

	sqlDB, err := db.SQLDB(s.db)
	if err != nil {
		s.recordError(ctx, err, "obtaining sql db", nil)
		resp.Body.Status = "degraded"
		resp.Body.Database = "error"
		resp.Status = stdhttp.StatusServiceUnavailable
	} else if pingErr := sqlDB.PingContext(ctx); pingErr != nil {
		s.recordError(ctx, pingErr, "pinging database", nil)
		resp.Body.Status = "degraded"
		resp.Body.Database = "error"
		resp.Status = stdhttp.StatusServiceUnavailable
	}

	if resp.Status == 0 {
		resp.Status = stdhttp.StatusOK
	}

	return resp, nil
}

func chartsPageData(sections []stats.Section, now time.Time) templates.ChartsPageData {
	data := templates.ChartsPageData{
		Title:       chartsPageTitle,
		GeneratedAt: stats.FormatChartTime(now),
		Charts:      make([]templates.ChartView, 0, len(sections)),
	}

	for _, section := range sections {
		chart := templates.ChartView{
			Title: section.Chart.Title,
			Rows:  make([]templates.RowView, 0, len(section.Pages)),
		}
		if section.Chart.SpecialTitle != nil {
			chart.SpecialTitle = *section.Chart.SpecialTitle
		}

		for i := range section.Pages {
			page := &section.Pages[i]
			row := templates.RowView{
				Title:    page.Title,
				Short:    page.Short,
				Status:   string(page.Status),
				Size:     page.Size,
				Created:  revisionView(page.CreateUser, page.CreateTime, page.CreateOldID),
				Modified: revisionView(page.ModifyUser, page.ModifyTime, page.ModifyOldID),
			}
			if special := page.Special(); special != nil {
				view := revisionView(special.User, special.Timestamp, special.ID)
				row.Special = &view
			}
			if page.Notes != nil {
				row.Notes = *page.Notes
			}
			chart.Rows = append(chart.Rows, row)
		}

		data.TrackedCount += len(chart.Rows)
		data.Charts = append(data.Charts, chart)
	}

	return data
}

func revisionView(user string, at time.Time, oldID int64) templates.RevisionView {
	return templates.RevisionView{User: user, Time: stats.FormatChartTime(at), OldID: oldID}
}

func newHTMLResponse(status int, body []byte) *htmlResponse {
	return &htmlResponse{
		Status:      status,
		ContentType: htmlContentType,
		Body:        body,
	}
}

func htmlOperation(summary string, statuses ...int) func(op *huma.Operation) {
	return func(op *huma.Operation) {
		if summary != "" {
			op.Summary = summary
		}
		if op.Responses == nil {
			op.Responses = map[string]*huma.Response{}
		}

		statusCodes := append([]int{stdhttp.StatusOK}, statuses...)
		for _, status := range statusCodes {
			code := strconv.Itoa(status)
			op.Responses[code] = &huma.Response{
				Description: stdhttp.StatusText(status),
				Content: map[string]*huma.MediaType{
					htmlContentType: {
						Schema: &huma.Schema{Type: "string"},
					},
				},
			}
		}
	}
}

func (s *Server) renderErrorResponse(ctx context.Context, status int, message string) (*htmlResponse, error) {
	if message == "" {
		message = errorFallbackMessage
	}
	label := fmt.Sprintf("%d %s", status, stdhttp.StatusText(status))
	template := templates.ErrorPage(templates.ErrorPageData{
		StatusLabel: label,
		Message:     message,
	})

	body, err := renderComponent(ctx, template)
	if err != nil {
		s.recordError(ctx, err, "rendering error page", logrus.Fields{"status": status})
		fallback := []byte(fmt.Sprintf("<html><body><h1>%s</h1><p>%s</p></body></html>", label, message))
		return newHTMLResponse(status, fallback), nil
	}

	return newHTMLResponse(status, body), nil
}

func (s *Server) recordError(ctx context.Context, err error, message string, fields logrus.Fields) {
	if err == nil {
		return
	}

	if s.logger != nil {
		entry := s.logger.WithField("error", err.Error())
		if fields != nil {
			entry = entry.WithFields(fields)
		}
		if requestID := RequestIDFromContext(ctx); requestID != "" {
			entry = entry.WithField("request_id", requestID)
		}
		entry.Error(message)
	}

	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		hub.CaptureException(err)
		return
	}
	if s.sentry != nil {
		s.sentry.CaptureException(err)
	}
}
