package stats

// Payload is one user's decoded stats response. Exactly one of Summaries and
// AllTime is set, depending on Range.
type Payload struct {
	Range     TimeRange
	Summaries *SummariesResponse
	AllTime   *AllTimeResponse
}

// SummariesResponse is the body of users/current/summaries.
type SummariesResponse struct {
	Data             []DaySummary      `json:"data"`
	CummulativeTotal *CummulativeTotal `json:"cummulative_total"`
}

// DaySummary is one day bucket. Languages are ordered by time, most used first.
type DaySummary struct {
	Languages  []LanguageStat `json:"languages"`
	GrandTotal GrandTotal     `json:"grand_total"`
}

type LanguageStat struct {
	Name         string  `json:"name"`
	TotalSeconds float64 `json:"total_seconds"`
	Text         string  `json:"text"`
	Percent      float64 `json:"percent"`
}

type GrandTotal struct {
	TotalSeconds float64 `json:"total_seconds"`
	Text         string  `json:"text"`
}

// CummulativeTotal keeps the API's spelling.
type CummulativeTotal struct {
	Seconds float64 `json:"seconds"`
	Text    string  `json:"text"`
	Digital string  `json:"digital"`
	Decimal string  `json:"decimal"`
}

// AllTimeResponse is the body of users/current/all_time_since_today.
type AllTimeResponse struct {
	Data struct {
		TotalSeconds float64 `json:"total_seconds"`
		Text         string  `json:"text"`
		IsUpToDate   bool    `json:"is_up_to_date"`
	} `json:"data"`
}

// User is the subset of users/current the bot keeps.
type User struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
}
