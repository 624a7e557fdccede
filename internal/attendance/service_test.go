package attendance

import (
	"bytes"
	"context"
	"encoding/csv"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tutorledger/tutorledger/internal/period"
)

type periodState struct {
	attended bool
	paid     bool
	center   string
	at       time.Time
}

type memoryStore struct {
	mu       sync.Mutex
	nextID   int64
	entries  []Entry
	periods  map[int64]map[period.Key]periodState
	students map[int64]string
}

type memoryRepo struct {
	store *memoryStore
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{store: &memoryStore{
		periods:  make(map[int64]map[period.Key]periodState),
		students: make(map[int64]string),
	}}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, Store) error) error {
	return fn(ctx, r.store)
}

func (r *memoryRepo) Store() Store { return r.store }

func (s *memoryStore) setPeriod(studentID int64, key period.Key, st periodState) {
	if s.periods[studentID] == nil {
		s.periods[studentID] = make(map[period.Key]periodState)
	}
	s.periods[studentID][key] = st
	if _, ok := s.students[studentID]; !ok {
		s.students[studentID] = "G10"
	}
}

func (s *memoryStore) add(studentID int64, key period.Key, at time.Time) {
	s.nextID++
	s.entries = append(s.entries, Entry{ID: s.nextID, StudentID: studentID, Period: key, RecordedAt: at})
	if _, ok := s.students[studentID]; !ok {
		s.students[studentID] = "G10"
	}
}

func (s *memoryStore) Exists(ctx context.Context, studentID int64, key period.Key) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.StudentID == studentID && e.Period == key {
			return true, nil
		}
	}
	return false, nil
}

func (s *memoryStore) Insert(ctx context.Context, entry Entry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	entry.ID = s.nextID
	s.entries = append(s.entries, entry)
	return entry.ID, nil
}

func (s *memoryStore) deleteWhere(match func(Entry) bool) int64 {
	kept := s.entries[:0]
	var removed int64
	for _, e := range s.entries {
		if match(e) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	return removed
}

func (s *memoryStore) DeleteAll(ctx context.Context, studentID int64, key period.Key) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteWhere(func(e Entry) bool { return e.StudentID == studentID && e.Period == key }), nil
}

func (s *memoryStore) DeleteStudent(ctx context.Context, studentID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteWhere(func(e Entry) bool { return e.StudentID == studentID }), nil
}

func (s *memoryStore) DeleteByIDs(ctx context.Context, ids []int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return s.deleteWhere(func(e Entry) bool { _, ok := set[e.ID]; return ok }), nil
}

func (s *memoryStore) ListForStudent(ctx context.Context, studentID int64) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Entry
	for _, e := range s.entries {
		if e.StudentID == studentID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memoryStore) AttendedPeriods(ctx context.Context, studentID int64) ([]AttendedPeriod, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []AttendedPeriod
	for key, st := range s.periods[studentID] {
		if st.attended {
			out = append(out, AttendedPeriod{Period: key, Center: st.center, LastAttendanceAt: st.at})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period.Less(out[j].Period) })
	return out, nil
}

func (s *memoryStore) ListReport(ctx context.Context, filter ReportFilter) ([]ReportRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ReportRow
	type pair struct {
		studentID int64
		key       period.Key
	}
	seen := map[pair]bool{}
	for _, e := range s.entries {
		if filter.StudentID != 0 && e.StudentID != filter.StudentID {
			continue
		}
		st, ok := s.periods[e.StudentID][e.Period]
		p := pair{studentID: e.StudentID, key: e.Period}
		if !ok || !st.attended || seen[p] {
			continue
		}
		if filter.Center != "" && st.center != filter.Center {
			continue
		}
		seen[p] = true
		out = append(out, ReportRow{
			EntryID:          e.ID,
			StudentID:        e.StudentID,
			Grade:            s.students[e.StudentID],
			Period:           e.Period,
			HasRecord:        true,
			Attended:         true,
			Paid:             st.paid,
			Center:           st.center,
			LastAttendanceAt: st.at,
			RecordedAt:       e.RecordedAt,
		})
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *memoryStore) DriftedStudents(ctx context.Context, limit int) ([]int64, error) {
	return nil, nil
}

func (s *memoryStore) LockStudent(ctx context.Context, studentID int64) error {
	return nil
}

var (
	week1 = period.MustParse("week:1")
	week2 = period.MustParse("week:2")
	week3 = period.MustParse("week:3")
)

func TestRecordSkipsExistingPair(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	inserted, err := svc.Record(ctx, 1, week1, "north")
	require.NoError(t, err)
	require.True(t, inserted)

	inserted, err = svc.Record(ctx, 1, week1, "north")
	require.NoError(t, err)
	require.False(t, inserted)
	require.Len(t, repo.store.entries, 1)
}

func TestRetractRemovesDuplicates(t *testing.T) {
	repo := newMemoryRepo()
	now := time.Now()
	repo.store.add(1, week1, now)
	repo.store.add(1, week1, now)
	repo.store.add(1, week2, now)
	svc := NewService(repo, nil)

	removed, err := svc.Retract(context.Background(), 1, week1)
	require.NoError(t, err)
	require.EqualValues(t, 2, removed)
	require.Len(t, repo.store.entries, 1)
	require.Equal(t, week2, repo.store.entries[0].Period)
}

func TestListForReportingSkipsStaleAndDuplicateEntries(t *testing.T) {
	repo := newMemoryRepo()
	now := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	repo.store.setPeriod(1, week1, periodState{attended: true, paid: true, center: "north", at: now})
	repo.store.setPeriod(1, week2, periodState{attended: false})
	repo.store.add(1, week1, now)
	repo.store.add(1, week1, now.Add(time.Minute))
	repo.store.add(1, week2, now)
	repo.store.add(1, week3, now)
	svc := NewService(repo, nil)

	rows, err := svc.ListForReporting(context.Background(), ReportFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, week1, rows[0].Period)
	require.True(t, rows[0].Attended)
	require.Len(t, repo.store.entries, 4, "reporting read must not write")
}

func TestListForReportingLimitIgnoresStaleEntries(t *testing.T) {
	repo := newMemoryRepo()
	now := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	repo.store.setPeriod(1, week2, periodState{attended: false})
	repo.store.setPeriod(1, week1, periodState{attended: true, center: "remote", at: now})
	repo.store.add(1, week2, now)
	repo.store.add(1, week3, now)
	repo.store.add(1, week1, now)
	repo.store.entries[2].Center = "north"
	svc := NewService(repo, nil)

	rows, err := svc.ListForReporting(context.Background(), ReportFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, week1, rows[0].Period)

	rows, err = svc.ListForReporting(context.Background(), ReportFilter{Center: "remote"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "remote", rows[0].Center)

	rows, err = svc.ListForReporting(context.Background(), ReportFilter{Center: "north"})
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestReconcileRepairsDrift(t *testing.T) {
	repo := newMemoryRepo()
	now := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	repo.store.setPeriod(5, week1, periodState{attended: true, center: "north", at: now})
	repo.store.setPeriod(5, week2, periodState{attended: true, center: "remote", at: now})
	repo.store.setPeriod(5, week3, periodState{attended: false})
	repo.store.add(5, week1, now)
	repo.store.add(5, week1, now)
	repo.store.add(5, week3, now)
	svc := NewService(repo, nil)

	result, err := svc.Reconcile(context.Background(), 5)
	require.NoError(t, err)
	require.Equal(t, 2, result.Removed)
	require.Equal(t, 1, result.Added)
	require.True(t, result.Changed())

	entries, err := repo.store.ListForStudent(context.Background(), 5)
	require.NoError(t, err)
	keys := map[period.Key]int{}
	for _, e := range entries {
		keys[e.Period]++
	}
	require.Equal(t, map[period.Key]int{week1: 1, week2: 1}, keys)

	again, err := svc.Reconcile(context.Background(), 5)
	require.NoError(t, err)
	require.False(t, again.Changed())
}

func TestExportCSV(t *testing.T) {
	repo := newMemoryRepo()
	now := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	repo.store.setPeriod(2, week1, periodState{attended: true, paid: true, center: "north", at: now})
	repo.store.add(2, week1, now)
	repo.store.entries[0].Center = "north"
	svc := NewService(repo, nil)

	buf := &bytes.Buffer{}
	n, err := svc.ExportCSV(context.Background(), ReportFilter{}, buf)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	records, err := csv.NewReader(bytes.NewReader(buf.Bytes())).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, []string{"2", "G10", "week:1", "north", "2026-10-01T09:00:00Z", "true", "2026-10-01T09:00:00Z"}, records[1])
}
