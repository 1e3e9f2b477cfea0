// Package leaderboard turns batch stats results into ranked text.
package leaderboard

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/imMewtable/wakatime-bot/internal/logging"
	"github.com/imMewtable/wakatime-bot/internal/stats"
)

// DefaultLimit is the number of rows rendered when no limit is given.
const DefaultLimit = 5

// NoLanguageData is reported when no day bucket lists a language.
const NoLanguageData = "No data"

// Entry is one user's normalized stats line.
type Entry struct {
	UserID           string  `json:"user_id"`
	DisplayName      string  `json:"display_name"`
	Seconds          float64 `json:"seconds"`
	Text             string  `json:"text"`
	MostUsedLanguage string  `json:"most_used_language,omitempty"`
}

// NameResolver maps a chat user to the name shown on the leaderboard.
type NameResolver interface {
	DisplayName(ctx context.Context, userID string) (string, error)
}

// NameResolverFunc adapts a function to NameResolver.
type NameResolverFunc func(ctx context.Context, userID string) (string, error)

func (f NameResolverFunc) DisplayName(ctx context.Context, userID string) (string, error) {
	return f(ctx, userID)
}

// Normalize extracts total seconds and the display text from a payload,
// whichever endpoint shape it came from. ok is false when the payload holds
// no total.
func Normalize(p *stats.Payload) (seconds float64, text string, ok bool) {
	if p == nil {
		return 0, "", false
	}
	switch {
	case p.AllTime != nil:
		seconds, text = p.AllTime.Data.TotalSeconds, p.AllTime.Data.Text
	case p.Summaries != nil && p.Summaries.CummulativeTotal != nil:
		seconds, text = p.Summaries.CummulativeTotal.Seconds, p.Summaries.CummulativeTotal.Text
	default:
		return 0, "", false
	}
	if seconds < 0 {
		seconds = 0
	}
	if text == "" {
		text = FormatDuration(seconds)
	}
	return seconds, text, true
}

// MostUsedLanguage counts the top language of each day and returns the one
// that led on the most days. Ties go to the language seen first.
func MostUsedLanguage(days []stats.DaySummary) string {
	counts := make(map[string]int)
	var order []string
	for _, day := range days {
		if len(day.Languages) == 0 {
			continue
		}
		name := day.Languages[0].Name
		if _, seen := counts[name]; !seen {
			order = append(order, name)
		}
		counts[name]++
	}
	if len(order) == 0 {
		return NoLanguageData
	}
	best := order[0]
	for _, name := range order[1:] {
		if counts[name] > counts[best] {
			best = name
		}
	}
	return best
}

// NewEntry normalizes one payload into an Entry for userID.
func NewEntry(userID, name string, r stats.TimeRange, p *stats.Payload) (Entry, bool) {
	seconds, text, ok := Normalize(p)
	if !ok {
		return Entry{}, false
	}
	e := Entry{UserID: userID, DisplayName: name, Seconds: seconds, Text: text}
	if r.Bucketed() && p.Summaries != nil {
		e.MostUsedLanguage = MostUsedLanguage(p.Summaries.Data)
	}
	return e, true
}

// Aggregate drops failed fetches and users whose name cannot be resolved,
// then sorts the rest by seconds, highest first. Equal totals keep the order
// of results.
func Aggregate(ctx context.Context, results []stats.UserResult, r stats.TimeRange, names NameResolver) []Entry {
	lg := logging.Ctx(ctx)
	entries := make([]Entry, 0, len(results))
	for _, res := range results {
		userID := res.Credential.UserID
		if res.Err != nil {
			continue
		}
		name, err := names.DisplayName(ctx, userID)
		if err != nil || name == "" {
			lg.Debug().Err(err).Str("user_id", userID).Msg("Dropping leaderboard entry without display name")
			continue
		}
		e, ok := NewEntry(userID, name, r, res.Payload)
		if !ok {
			lg.Debug().Str("user_id", userID).Msg("Dropping leaderboard entry without totals")
			continue
		}
		entries = append(entries, e)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Seconds > entries[j].Seconds
	})
	return entries
}

// Render formats at most limit entries under a title naming the server.
// limit <= 0 uses DefaultLimit.
func Render(entries []Entry, limit int, serverName string) string {
	if limit <= 0 {
		limit = DefaultLimit
	}
	var b strings.Builder
	fmt.Fprintf(&b, "**Top %d of %s:**", limit, serverName)
	for i, e := range entries {
		if i == limit {
			break
		}
		fmt.Fprintf(&b, "\n**[%d]** %s - *%s*", i+1, e.DisplayName, e.Text)
	}
	return b.String()
}

// RenderIndividual formats a single user's stats line.
func RenderIndividual(e Entry, r stats.TimeRange) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**%s** coded *%s* %s", e.DisplayName, e.Text, r.Phrase())
	if r.Bucketed() && e.MostUsedLanguage != "" {
		fmt.Fprintf(&b, "\nMost used language: **%s**", e.MostUsedLanguage)
	}
	return b.String()
}

// FormatDuration writes seconds the way the stats API does, e.g. "3 hrs 5 mins".
func FormatDuration(seconds float64) string {
	total := int64(seconds)
	hours := total / 3600
	mins := (total % 3600) / 60
	switch {
	case hours == 0 && mins == 0:
		return plural(total%60, "sec")
	case hours == 0:
		return plural(mins, "min")
	case mins == 0:
		return plural(hours, "hr")
	default:
		return plural(hours, "hr") + " " + plural(mins, "min")
	}
}

func plural(n int64, unit string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
