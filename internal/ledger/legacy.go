package ledger

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tutorledger/tutorledger/internal/period"
)

// legacyWeek is one element of the positional weeks array written by the
// previous ledger. Homework and quiz outcomes were parallel flags and strings.
type legacyWeek struct {
	Attendance           bool       `json:"attendance"`
	LastAttendance       *time.Time `json:"lastAttendance"`
	LastAttendanceCenter *string    `json:"lastAttendanceCenter"`
	HWDone               bool       `json:"hwDone"`
	HWNoHomework         bool       `json:"hwNoHomework"`
	HWNotCompleted       bool       `json:"hwNotCompleted"`
	HWDegree             *string    `json:"hwDegree"`
	QuizDegree           *string    `json:"quizDegree"`
	Comment              *string    `json:"comment"`
	MessageState         bool       `json:"message_state"`
	ParentMessageState   bool       `json:"parent_message_state"`
	Paid                 bool       `json:"paid"`
}

const (
	legacyQuizDidNotAttend = "didn't attend"
	legacyQuizNoQuiz       = "no quiz"
)

// decodeLegacyWeeks converts the positional array into keyed records. Position
// i becomes week i+1. A null element keeps its slot but yields a default record.
func decodeLegacyWeeks(studentID int64, raw []byte) ([]PeriodRecord, error) {
	var weeks []*legacyWeek
	if err := json.Unmarshal(raw, &weeks); err != nil {
		return nil, fmt.Errorf("ledger: decode legacy weeks: %w", err)
	}
	records := make([]PeriodRecord, 0, len(weeks))
	for i, week := range weeks {
		record := NewPeriodRecord(studentID, period.FromPosition(i))
		if week != nil {
			if err := week.apply(&record); err != nil {
				return nil, fmt.Errorf("ledger: legacy week %d: %w", i+1, err)
			}
		}
		records = append(records, record)
	}
	return records, nil
}

func (w legacyWeek) apply(r *PeriodRecord) error {
	r.Attended = w.Attendance
	if w.LastAttendance != nil {
		at := w.LastAttendance.UTC()
		r.LastAttendanceAt = &at
	}
	if w.LastAttendanceCenter != nil {
		r.LastAttendanceCenter = *w.LastAttendanceCenter
	}
	r.Paid = w.Paid
	r.Comment = w.Comment
	r.Messages = Messages{Student: w.MessageState, Parent: w.ParentMessageState}

	switch {
	case w.HWNoHomework:
		r.Homework = Homework{State: HomeworkNoHomework}
	case w.HWNotCompleted:
		r.Homework = Homework{State: HomeworkNotCompleted}
	case w.HWDone:
		r.Homework = Homework{State: HomeworkDone}
		if degree := trimmed(w.HWDegree); degree != "" {
			score, err := ParseScore(degree)
			if err != nil {
				return err
			}
			r.Homework.Score = &score
		}
	}

	switch degree := strings.ToLower(trimmed(w.QuizDegree)); degree {
	case "":
	case legacyQuizDidNotAttend:
		r.Quiz = Quiz{State: QuizDidNotAttend}
	case legacyQuizNoQuiz:
		r.Quiz = Quiz{State: QuizNoQuiz}
	default:
		score, err := ParseScore(degree)
		if err != nil {
			return err
		}
		r.Quiz = Quiz{State: QuizScored, Score: &score}
	}
	return nil
}

func trimmed(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}
