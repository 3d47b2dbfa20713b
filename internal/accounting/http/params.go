package ledgerhttp

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
)

const maxListLimit = 500

func idParam(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, accounting.Invalidf("invalid %s %q", name, raw)
	}
	return id, nil
}

func parseDate(field, raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, accounting.Invalidf("%s required", field)
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, accounting.Invalidf("%s must be YYYY-MM-DD", field)
	}
	return t, nil
}

func optionalDateParam(r *http.Request, name string) (time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return time.Time{}, nil
	}
	return parseDate(name, raw)
}

func entryFilter(r *http.Request) (accounting.EntryFilter, error) {
	q := r.URL.Query()
	var filter accounting.EntryFilter
	if raw := q.Get("period_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return filter, accounting.Invalidf("invalid period_id %q", raw)
		}
		filter.PeriodID = &id
	}
	if raw := q.Get("status"); raw != "" {
		status := accounting.EntryStatus(strings.ToUpper(raw))
		filter.Status = &status
	}
	if raw := q.Get("posted"); raw != "" {
		posted, err := strconv.ParseBool(raw)
		if err != nil {
			return filter, accounting.Invalidf("invalid posted %q", raw)
		}
		filter.Posted = &posted
	}
	if raw := q.Get("source"); raw != "" {
		source := accounting.EntrySource(strings.ToUpper(raw))
		if !source.Valid() {
			return filter, accounting.Invalidf("invalid source %q", raw)
		}
		filter.Source = &source
	}
	var err error
	if filter.From, err = optionalDateParam(r, "from"); err != nil {
		return filter, err
	}
	if filter.To, err = optionalDateParam(r, "to"); err != nil {
		return filter, err
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return filter, accounting.Invalidf("invalid limit %q", raw)
		}
		filter.Limit = min(limit, maxListLimit)
	}
	return filter, nil
}
