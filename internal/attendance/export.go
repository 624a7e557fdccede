package attendance

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"time"
)

// WriteReportCSV serialises report rows as CSV.
func WriteReportCSV(w io.Writer, rows []ReportRow) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	if err := writer.Write([]string{"Student ID", "Grade", "Period", "Center", "Attended At", "Paid", "Recorded At"}); err != nil {
		return err
	}
	for _, row := range rows {
		if err := writer.Write([]string{
			strconv.FormatInt(row.StudentID, 10),
			row.Grade,
			row.Period.String(),
			row.Center,
			formatTime(row.LastAttendanceAt),
			strconv.FormatBool(row.Paid),
			formatTime(row.RecordedAt),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// ExportCSV writes the self-healed report for filter to w.
func (s *Service) ExportCSV(ctx context.Context, filter ReportFilter, w io.Writer) (int, error) {
	rows, err := s.ListForReporting(ctx, filter)
	if err != nil {
		return 0, err
	}
	return len(rows), WriteReportCSV(w, rows)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
