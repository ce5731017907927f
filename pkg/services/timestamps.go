package services

import (
	"strings"
	"time"

	"github.com/ekaya-inc/sqlai-console/pkg/jsonutil"
)

// serviceTimeLayouts are the timestamp formats the tool service emits.
// It formats naive local datetimes; newer builds send RFC 3339.
var serviceTimeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999",
	time.RFC3339Nano,
}

// parseServiceTime returns nil for missing, empty or unparseable values.
func parseServiceTime(v any) *time.Time {
	raw := strings.TrimSpace(jsonutil.FlexibleString(v))
	if raw == "" || raw == "null" {
		return nil
	}
	for _, layout := range serviceTimeLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.Local); err == nil {
			return &t
		}
	}
	return nil
}
