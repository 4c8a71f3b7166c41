package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"timebooker/internal/mangle"

	"github.com/mark3labs/mcp-go/mcp"
)

const (
	resourceMIMEJSON = "application/json"
)

func (s *Server) registerAllResources() {
	if s == nil || s.mcpServer == nil {
		return
	}

	s.mcpServer.AddResource(
		mcp.NewResource(
			"timebooker://about",
			"timebooker About",
			mcp.WithMIMEType(resourceMIMEJSON),
			mcp.WithResourceDescription("Server info, portal and schedule settings."),
		),
		s.handleAboutResource,
	)

	s.mcpServer.AddResource(
		mcp.NewResource(
			"timebooker://report/last",
			"Last Run Report",
			mcp.WithMIMEType(resourceMIMEJSON),
			mcp.WithResourceDescription("Report of the most recent booking run."),
		),
		s.handleLastReportResource,
	)

	s.mcpServer.AddResourceTemplate(
		mcp.NewResourceTemplate(
			"timebooker://facts/{predicate}{?limit}",
			"Booking Facts",
			mcp.WithTemplateMIMEType(resourceMIMEJSON),
			mcp.WithTemplateDescription("Most recent ledger facts of one base predicate, oldest first."),
		),
		s.handleFactsResource,
	)
}

func (s *Server) handleAboutResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	payload := map[string]interface{}{
		"name":    s.cfg.Server.Name,
		"version": s.cfg.Server.Version,
		"portal":  s.cfg.Portal.BaseURL,
		"saldo":   s.cfg.Portal.Saldo,
		"booking": map[string]interface{}{
			"start":        s.cfg.Booking.Start,
			"end":          s.cfg.Booking.End,
			"default_mode": s.cfg.Booking.DefaultMode,
			"weekday_mode": s.cfg.Booking.WeekdayMode,
			"remote_days":  s.cfg.Booking.RemoteDays,
			"office_days":  s.cfg.Booking.OfficeDays,
		},
		"notes": []string{
			"Resources are read-only; use run-bookings to book.",
			"list-pending-days shows what a run would book without saving anything.",
		},
		"timestamp_ms": time.Now().UnixMilli(),
	}
	return jsonResource(request.Params.URI, payload)
}

func (s *Server) handleLastReportResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	report, ok := s.runner.LastReport()
	if !ok {
		return jsonResource(request.Params.URI, map[string]interface{}{"available": false})
	}
	out := summarizeReport(report)
	out["available"] = true
	return jsonResource(request.Params.URI, out)
}

func (s *Server) handleFactsResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	if s.engine == nil {
		return nil, fmt.Errorf("mangle engine unavailable")
	}

	predicate := argString(request.Params.Arguments["predicate"])
	if predicate == "" {
		return nil, fmt.Errorf("missing predicate")
	}
	limit := argInt(request.Params.Arguments["limit"])
	if limit <= 0 {
		limit = 25
	}
	if limit > 500 {
		limit = 500
	}

	facts := recentFacts(s.engine, predicate, limit)
	return jsonResource(request.Params.URI, map[string]interface{}{
		"predicate": predicate,
		"limit":     limit,
		"count":     len(facts),
		"facts":     facts,
	})
}

func jsonResource(uri string, payload interface{}) ([]mcp.ResourceContents, error) {
	text, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: resourceMIMEJSON,
			Text:     string(text),
		},
	}, nil
}

func recentFacts(engine *mangle.Engine, predicate string, limit int) []mangle.Fact {
	source := engine.FactsByPredicate(predicate)
	if len(source) > limit {
		source = source[len(source)-limit:]
	}
	out := make([]mangle.Fact, len(source))
	copy(out, source)
	return out
}

func argString(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case []string:
		if len(value) == 0 {
			return ""
		}
		return value[0]
	default:
		return fmt.Sprintf("%v", value)
	}
}

func argInt(v any) int {
	var n int
	if _, err := fmt.Sscanf(argString(v), "%d", &n); err != nil {
		return 0
	}
	return n
}
