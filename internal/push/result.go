package push

// Result is the terminal verdict for one delivery, after retries. Code is
// the vendor HTTP status (or 500 when the vendor was unreachable), Reason a
// human-readable explanation, Body the decoded vendor response when there
// was one.
type Result struct {
	Body     map[string]any `json:"body"`
	Code     int            `json:"code"`
	Reason   string         `json:"reason"`
	URL      string         `json:"url"`
	Platform string         `json:"platform"`
	CallID   string         `json:"call_id"`
	Token    string         `json:"token"`
}

// Expired reports whether the vendor declared the token dead, meaning the
// registration should be pruned from storage.
func (r *Result) Expired() bool {
	return r.Code == 410
}
