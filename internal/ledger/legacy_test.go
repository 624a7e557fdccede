package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tutorledger/tutorledger/internal/period"
)

func TestDecodeLegacyWeeks(t *testing.T) {
	raw := []byte(`[
		{"attendance": true, "lastAttendance": "2024-03-01T10:00:00Z", "lastAttendanceCenter": "north",
		 "hwDone": true, "hwDegree": "8/10", "quizDegree": "didn't attend", "comment": "good",
		 "message_state": true, "paid": true},
		null,
		{"attendance": true, "hwDone": true, "hwNoHomework": true, "hwDegree": "5/10", "quizDegree": "7 / 20"},
		{"quizDegree": "No Quiz", "parent_message_state": true}
	]`)

	records, err := decodeLegacyWeeks(7, raw)
	require.NoError(t, err)
	require.Len(t, records, 4)

	first := records[0]
	require.Equal(t, period.MustParse("week:1"), first.Period)
	require.True(t, first.Attended)
	require.True(t, first.Paid)
	require.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), *first.LastAttendanceAt)
	require.Equal(t, "north", first.LastAttendanceCenter)
	require.Equal(t, Homework{State: HomeworkDone, Score: &Score{Obtained: 8, Total: 10}}, first.Homework)
	require.Equal(t, Quiz{State: QuizDidNotAttend}, first.Quiz)
	require.Equal(t, "good", *first.Comment)
	require.Equal(t, Messages{Student: true}, first.Messages)

	require.Equal(t, NewPeriodRecord(7, period.MustParse("week:2")), records[1])

	third := records[2]
	require.Equal(t, Homework{State: HomeworkNoHomework}, third.Homework)
	require.Equal(t, Quiz{State: QuizScored, Score: &Score{Obtained: 7, Total: 20}}, third.Quiz)

	fourth := records[3]
	require.Equal(t, period.MustParse("week:4"), fourth.Period)
	require.Equal(t, Quiz{State: QuizNoQuiz}, fourth.Quiz)
	require.Equal(t, Messages{Parent: true}, fourth.Messages)
	require.False(t, fourth.Attended)
}

func TestDecodeLegacyWeeksRejectsMalformedScore(t *testing.T) {
	_, err := decodeLegacyWeeks(1, []byte(`[{"quizDegree": "great"}]`))
	require.ErrorIs(t, err, ErrInvalidInput)
}
