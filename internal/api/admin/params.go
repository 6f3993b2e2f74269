// params.go holds the query-parameter helpers shared by the admin handlers:
// pagination, date parsing, and optional-filter extraction.
package admin

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	defaultPerPage = 50
	maxPerPage     = 500
)

// pagination parses page/per_page query parameters with clamping.
func pagination(c *gin.Context) (page, perPage, offset int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ = strconv.Atoi(c.DefaultQuery("per_page", strconv.Itoa(defaultPerPage)))

	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > maxPerPage {
		perPage = defaultPerPage
	}
	return page, perPage, (page - 1) * perPage
}

// parseDate accepts either a bare date (2006-01-02) or a full RFC 3339 timestamp.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

// queryStrPtr returns the named query parameter as a pointer, nil when absent.
func queryStrPtr(c *gin.Context, name string) *string {
	if v := c.Query(name); v != "" {
		return &v
	}
	return nil
}

// queryTimePtr returns the named query parameter parsed as a date, nil when absent.
// The bool result is false when the parameter is present but unparseable.
func queryTimePtr(c *gin.Context, name string) (*time.Time, bool) {
	v := c.Query(name)
	if v == "" {
		return nil, true
	}
	t, err := parseDate(v)
	if err != nil {
		return nil, false
	}
	return &t, true
}

// queryBoolPtr returns the named query parameter parsed as a bool, nil when absent.
func queryBoolPtr(c *gin.Context, name string) (*bool, bool) {
	v := c.Query(name)
	if v == "" {
		return nil, true
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil, false
	}
	return &b, true
}

// windowDays parses a "days" lookback parameter with a default and an upper bound.
func windowDays(c *gin.Context, fallback, max int) int {
	days, err := strconv.Atoi(c.DefaultQuery("days", strconv.Itoa(fallback)))
	if err != nil || days < 1 || days > max {
		return fallback
	}
	return days
}

// actorFromContext returns the authenticated caller's identity for attribution on
// mutating operations. The auth middleware guarantees user_id is set.
func actorFromContext(c *gin.Context) *string {
	if v, ok := c.Get("user_id"); ok {
		if id, ok := v.(string); ok && id != "" {
			return &id
		}
	}
	return nil
}
