package stats

import (
	"fmt"
	"strings"
)

// TimeRange is the window requested from the stats API.
type TimeRange string

const (
	RangeWeek    TimeRange = "week"
	RangeMonth   TimeRange = "month"
	RangeYear    TimeRange = "year"
	RangeAllTime TimeRange = "all_time"
)

// Ranges lists the accepted ranges in display order.
var Ranges = []TimeRange{RangeWeek, RangeMonth, RangeYear, RangeAllTime}

var rangeAliases = map[string]TimeRange{
	"week":                 RangeWeek,
	"7d":                   RangeWeek,
	"last_7_days":          RangeWeek,
	"month":                RangeMonth,
	"30d":                  RangeMonth,
	"last_30_days":         RangeMonth,
	"year":                 RangeYear,
	"last_year":            RangeYear,
	"all_time":             RangeAllTime,
	"alltime":              RangeAllTime,
	"all":                  RangeAllTime,
	"all_time_since_today": RangeAllTime,
}

// ParseTimeRange accepts a range keyword or one of its aliases. An empty
// string means the last seven days.
func ParseTimeRange(s string) (TimeRange, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	if key == "" {
		return RangeWeek, nil
	}
	if r, ok := rangeAliases[key]; ok {
		return r, nil
	}
	return "", fmt.Errorf("unknown time range %q (use week, month, year or all_time)", s)
}

// Bucketed reports whether the range is served by the per-day summaries endpoint.
func (r TimeRange) Bucketed() bool {
	return r != RangeAllTime
}

// summariesRange is the value of the summaries endpoint's range parameter.
func (r TimeRange) summariesRange() string {
	switch r {
	case RangeMonth:
		return "last_30_days"
	case RangeYear:
		return "last_year"
	default:
		return "last_7_days"
	}
}

// Phrase describes the range inside a sentence.
func (r TimeRange) Phrase() string {
	switch r {
	case RangeMonth:
		return "in the last 30 days"
	case RangeYear:
		return "in the last year"
	case RangeAllTime:
		return "in total"
	default:
		return "in the last 7 days"
	}
}
