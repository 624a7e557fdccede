package ledger

import (
	"fmt"
	"strconv"
	"strings"
)

// Score is an "obtained/total" pair.
type Score struct {
	Obtained float64 `json:"obtained"`
	Total    float64 `json:"total"`
}

// ParseScore reads "obtained/total", e.g. "8/10" or "7.5 / 10".
func ParseScore(s string) (Score, error) {
	obtained, total, ok := strings.Cut(s, "/")
	if !ok {
		return Score{}, fmt.Errorf("%w: score %q", ErrInvalidInput, s)
	}
	o, err := strconv.ParseFloat(strings.TrimSpace(obtained), 64)
	if err != nil {
		return Score{}, fmt.Errorf("%w: score %q", ErrInvalidInput, s)
	}
	t, err := strconv.ParseFloat(strings.TrimSpace(total), 64)
	if err != nil {
		return Score{}, fmt.Errorf("%w: score %q", ErrInvalidInput, s)
	}
	score := Score{Obtained: o, Total: t}
	if err := score.Validate(); err != nil {
		return Score{}, err
	}
	return score, nil
}

// Validate checks 0 <= obtained <= total and total > 0.
func (s Score) Validate() error {
	if s.Total <= 0 || s.Obtained < 0 || s.Obtained > s.Total {
		return fmt.Errorf("%w: score %s", ErrInvalidInput, s)
	}
	return nil
}

// String renders the score as "obtained/total".
func (s Score) String() string {
	return strconv.FormatFloat(s.Obtained, 'f', -1, 64) + "/" + strconv.FormatFloat(s.Total, 'f', -1, 64)
}
