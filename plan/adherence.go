package plan

// Adherence summarizes how much of a day's plan was acted on.
type Adherence struct {
	DateKey   string  `json:"date_key"`
	Total     int     `json:"total"`
	Completed int     `json:"completed"`
	Skipped   int     `json:"skipped"`
	Missed    int     `json:"missed"`
	Rate      float64 `json:"rate"`
}

// Summarize computes the adherence of p.
func Summarize(p *Plan) Adherence {
	a := Adherence{}
	if p == nil {
		return a
	}
	a.DateKey = p.DateKey
	a.Total = len(p.Items)
	for _, it := range p.Items {
		switch {
		case it.Completed:
			a.Completed++
		case it.Skipped:
			a.Skipped++
		case it.Missed:
			a.Missed++
		}
	}
	if a.Total > 0 {
		a.Rate = float64(a.Completed) / float64(a.Total)
	}
	return a
}
