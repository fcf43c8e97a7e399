package server

import (
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	featuredomain "github.com/smallbiznis/entitlements/internal/feature/domain"
	"github.com/smallbiznis/entitlements/pkg/db/pagination"
)

const dateOnlyLayout = "2006-01-02"

// queryReader parses query parameters and collects every invalid one, so
// a list call reports all of its bad filters in one validation_error.
type queryReader struct {
	c    *gin.Context
	errs []ValidationError
}

func newQueryReader(c *gin.Context) *queryReader {
	return &queryReader{c: c}
}

// String returns the first non-empty value among key and its aliases.
func (q *queryReader) String(key string, aliases ...string) string {
	for _, name := range append([]string{key}, aliases...) {
		if value := strings.TrimSpace(q.c.Query(name)); value != "" {
			return value
		}
	}
	return ""
}

func (q *queryReader) invalid(key string) {
	q.errs = append(q.errs, ValidationError{
		Field:   key,
		Code:    "invalid_" + key,
		Message: "invalid " + strings.ReplaceAll(key, "_", " "),
	})
}

func (q *queryReader) Bool(key string) *bool {
	raw := q.String(key)
	if raw == "" {
		return nil
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		q.invalid(key)
		return nil
	}
	return &parsed
}

// PositiveInt returns def when key is absent.
func (q *queryReader) PositiveInt(key string, def int) int {
	raw := q.String(key)
	if raw == "" {
		return def
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		q.invalid(key)
		return def
	}
	return parsed
}

func (q *queryReader) SnowflakeID(key string) *snowflake.ID {
	raw := q.String(key)
	if raw == "" {
		return nil
	}
	parsed, err := snowflake.ParseString(raw)
	if err != nil || parsed <= 0 {
		q.invalid(key)
		return nil
	}
	return &parsed
}

// Time accepts RFC 3339 or a bare date. A bare date used as an upper bound
// covers the whole day.
func (q *queryReader) Time(key string, endOfDay bool, aliases ...string) *time.Time {
	raw := q.String(key, aliases...)
	if raw == "" {
		return nil
	}
	if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
		return &parsed
	}
	parsed, err := time.Parse(dateOnlyLayout, raw)
	if err != nil {
		q.invalid(key)
		return nil
	}
	if endOfDay {
		parsed = parsed.Add(24*time.Hour - time.Nanosecond)
	}
	return &parsed
}

func (q *queryReader) Category(key string) *featuredomain.Category {
	raw := q.String(key)
	if raw == "" {
		return nil
	}
	category := featuredomain.Category(strings.ToLower(raw))
	if !category.Valid() {
		q.invalid(key)
		return nil
	}
	return &category
}

func (q *queryReader) Page() pagination.Pagination {
	return pagination.Pagination{
		PageToken: q.String("page_token"),
		PageSize:  q.PositiveInt("page_size", pagination.DefaultPageSize),
	}
}

// Err returns the collected problems as one ValidationErrors, or nil.
func (q *queryReader) Err() error {
	if len(q.errs) == 0 {
		return nil
	}
	return &ValidationErrors{Errors: q.errs}
}
