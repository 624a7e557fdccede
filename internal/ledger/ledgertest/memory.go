// Package ledgertest provides an in-memory ledger store for tests of the
// ledger and of the packages built on top of it.
package ledgertest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tutorledger/tutorledger/internal/attendance"
	"github.com/tutorledger/tutorledger/internal/credit"
	"github.com/tutorledger/tutorledger/internal/ledger"
	"github.com/tutorledger/tutorledger/internal/period"
	"github.com/tutorledger/tutorledger/internal/students"
)

type studentRow struct {
	student students.Student
	account credit.Account
	legacy  []byte
}

type state struct {
	students  map[int64]studentRow
	periods   map[int64]map[period.Key]ledger.PeriodRecord
	audit     []attendance.Entry
	nextAudit int64
}

func (s *state) clone() *state {
	c := &state{
		students:  make(map[int64]studentRow, len(s.students)),
		periods:   make(map[int64]map[period.Key]ledger.PeriodRecord, len(s.periods)),
		audit:     append([]attendance.Entry(nil), s.audit...),
		nextAudit: s.nextAudit,
	}
	for id, row := range s.students {
		c.students[id] = row
	}
	for id, records := range s.periods {
		inner := make(map[period.Key]ledger.PeriodRecord, len(records))
		for key, record := range records {
			inner[key] = record
		}
		c.periods[id] = inner
	}
	return c
}

// Memory is a transactional in-memory implementation of every store the
// ledger touches. Transactions are serialised, which models the row locks
// taken by the PostgreSQL implementation.
type Memory struct {
	mu sync.Mutex
	st *state
}

// New returns an empty store.
func New() *Memory {
	return &Memory{st: &state{
		students: map[int64]studentRow{},
		periods:  map[int64]map[period.Key]ledger.PeriodRecord{},
	}}
}

// WithTx runs fn atomically; state changes are discarded when fn fails.
func (m *Memory) WithTx(ctx context.Context, fn func(context.Context, ledger.TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	snapshot := m.st.clone()
	if err := fn(ctx, txRepo{s: store{m: m, tx: true}}); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

// AddStudent seeds an active student with a credit balance.
func (m *Memory) AddStudent(id int64, grade string, credits int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.students[id] = studentRow{
		student: students.Student{ID: id, Grade: grade, State: students.StateActive},
		account: credit.Account{StudentID: id, Remaining: credits},
	}
}

// SetLegacyWeeks stores a raw legacy weeks array for the student.
func (m *Memory) SetLegacyWeeks(id int64, raw []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row := m.st.students[id]
	row.legacy = raw
	row.student.HasLegacyWeeks = raw != nil
	m.st.students[id] = row
}

// SetState changes the account state.
func (m *Memory) SetState(id int64, st students.AccountState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row := m.st.students[id]
	row.student.State = st
	m.st.students[id] = row
}

// Student returns the stored student.
func (m *Memory) Student(id int64) students.Student {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.students[id].student
}

// Credits returns the remaining balance.
func (m *Memory) Credits(id int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.students[id].account.Remaining
}

// Period returns the stored record.
func (m *Memory) Period(id int64, key period.Key) (ledger.PeriodRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.st.periods[id][key]
	return record, ok
}

// DeletePeriod removes a record behind the ledger's back.
func (m *Memory) DeletePeriod(id int64, key period.Key) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.st.periods[id], key)
}

// AuditCount counts audit entries for the pair.
func (m *Memory) AuditCount(id int64, key period.Key) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.st.audit {
		if e.StudentID == id && e.Period == key {
			n++
		}
	}
	return n
}

// InsertAudit appends an entry without any existence check.
func (m *Memory) InsertAudit(entry attendance.Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.nextAudit++
	entry.ID = m.st.nextAudit
	m.st.audit = append(m.st.audit, entry)
}

// StudentsRepository adapts the store to students.RepositoryPort.
func (m *Memory) StudentsRepository() students.RepositoryPort {
	return studentsRepo{m: m}
}

// CreditRepository adapts the store to credit.RepositoryPort.
func (m *Memory) CreditRepository() credit.RepositoryPort {
	return creditRepo{m: m}
}

// AttendanceRepository adapts the store to attendance.RepositoryPort.
func (m *Memory) AttendanceRepository() attendance.RepositoryPort {
	return attendanceRepo{m: m}
}

type studentsRepo struct{ m *Memory }

func (r studentsRepo) Get(ctx context.Context, id int64) (students.Student, error) {
	return studentStore{store{m: r.m}}.Get(ctx, id)
}

func (r studentsRepo) SetState(_ context.Context, id int64, st students.AccountState) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	row, ok := r.m.st.students[id]
	if !ok {
		return students.ErrNotFound
	}
	row.student.State = st
	r.m.st.students[id] = row
	return nil
}

type creditRepo struct{ m *Memory }

func (r creditRepo) WithTx(ctx context.Context, fn func(context.Context, credit.Store) error) error {
	return r.m.WithTx(ctx, func(ctx context.Context, tx ledger.TxRepository) error {
		return fn(ctx, tx.Credits())
	})
}

func (r creditRepo) Store() credit.Store { return creditStore{store{m: r.m}} }

type attendanceRepo struct{ m *Memory }

func (r attendanceRepo) WithTx(ctx context.Context, fn func(context.Context, attendance.Store) error) error {
	return r.m.WithTx(ctx, func(ctx context.Context, tx ledger.TxRepository) error {
		return fn(ctx, tx.Audit())
	})
}

func (r attendanceRepo) Store() attendance.Store { return auditStore{store{m: r.m}} }

// store locks the memory per call unless it is bound to a running transaction.
type store struct {
	m  *Memory
	tx bool
}

func (s store) lock() func() {
	if s.tx {
		return func() {}
	}
	s.m.mu.Lock()
	return s.m.mu.Unlock
}

type txRepo struct{ s store }

func (t txRepo) Students() students.Store    { return studentStore{t.s} }
func (t txRepo) Periods() ledger.PeriodStore { return periodStore{t.s} }
func (t txRepo) Credits() credit.Store       { return creditStore{t.s} }
func (t txRepo) Audit() attendance.Store     { return auditStore{t.s} }

type studentStore struct{ store }

func (s studentStore) Get(_ context.Context, id int64) (students.Student, error) {
	defer s.lock()()
	row, ok := s.m.st.students[id]
	if !ok {
		return students.Student{}, students.ErrNotFound
	}
	return row.student, nil
}

func (s studentStore) GetForUpdate(ctx context.Context, id int64) (students.Student, error) {
	return s.Get(ctx, id)
}

func (s studentStore) SetCurrentPeriod(_ context.Context, id int64, key period.Key) error {
	defer s.lock()()
	row, ok := s.m.st.students[id]
	if !ok {
		return students.ErrNotFound
	}
	row.student.CurrentPeriod = key
	s.m.st.students[id] = row
	return nil
}

func (s studentStore) TakeLegacyWeeks(_ context.Context, id int64) ([]byte, error) {
	defer s.lock()()
	row, ok := s.m.st.students[id]
	if !ok || row.legacy == nil {
		return nil, nil
	}
	raw := row.legacy
	row.legacy = nil
	row.student.HasLegacyWeeks = false
	s.m.st.students[id] = row
	return raw, nil
}

type periodStore struct{ store }

func (s periodStore) InsertIfAbsent(_ context.Context, record ledger.PeriodRecord) (bool, error) {
	defer s.lock()()
	records := s.m.st.periods[record.StudentID]
	if records == nil {
		records = map[period.Key]ledger.PeriodRecord{}
		s.m.st.periods[record.StudentID] = records
	}
	if _, ok := records[record.Period]; ok {
		return false, nil
	}
	records[record.Period] = record
	return true, nil
}

func (s periodStore) Get(_ context.Context, studentID int64, key period.Key) (ledger.PeriodRecord, error) {
	defer s.lock()()
	record, ok := s.m.st.periods[studentID][key]
	if !ok {
		return ledger.PeriodRecord{}, ledger.ErrPeriodNotFound
	}
	return record, nil
}

func (s periodStore) GetForUpdate(ctx context.Context, studentID int64, key period.Key) (ledger.PeriodRecord, error) {
	return s.Get(ctx, studentID, key)
}

func (s periodStore) Update(_ context.Context, record ledger.PeriodRecord) error {
	defer s.lock()()
	if _, ok := s.m.st.periods[record.StudentID][record.Period]; !ok {
		return ledger.ErrPeriodNotFound
	}
	s.m.st.periods[record.StudentID][record.Period] = record
	return nil
}

func (s periodStore) List(_ context.Context, studentID int64) ([]ledger.PeriodRecord, error) {
	defer s.lock()()
	records := make([]ledger.PeriodRecord, 0, len(s.m.st.periods[studentID]))
	for _, record := range s.m.st.periods[studentID] {
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Period.Less(records[j].Period) })
	return records, nil
}

func (s periodStore) DeleteAll(_ context.Context, studentID int64) (int64, error) {
	defer s.lock()()
	n := int64(len(s.m.st.periods[studentID]))
	delete(s.m.st.periods, studentID)
	return n, nil
}

type creditStore struct{ store }

func (s creditStore) Get(_ context.Context, studentID int64) (credit.Account, error) {
	defer s.lock()()
	row, ok := s.m.st.students[studentID]
	if !ok {
		return credit.Account{}, credit.ErrNotFound
	}
	return row.account, nil
}

func (s creditStore) Decrement(_ context.Context, studentID int64) (int, error) {
	defer s.lock()()
	row, ok := s.m.st.students[studentID]
	if !ok {
		return 0, credit.ErrNotFound
	}
	if row.account.Remaining <= 0 {
		return 0, credit.ErrInsufficientCredit
	}
	row.account.Remaining--
	s.m.st.students[studentID] = row
	return row.account.Remaining, nil
}

func (s creditStore) Increment(_ context.Context, studentID int64) (int, error) {
	defer s.lock()()
	row, ok := s.m.st.students[studentID]
	if !ok {
		return 0, credit.ErrNotFound
	}
	row.account.Remaining++
	s.m.st.students[studentID] = row
	return row.account.Remaining, nil
}

func (s creditStore) Overwrite(_ context.Context, account credit.Account) error {
	defer s.lock()()
	row, ok := s.m.st.students[account.StudentID]
	if !ok {
		return credit.ErrNotFound
	}
	row.account = account
	s.m.st.students[account.StudentID] = row
	return nil
}

type auditStore struct{ store }

func (s auditStore) Exists(_ context.Context, studentID int64, key period.Key) (bool, error) {
	defer s.lock()()
	for _, e := range s.m.st.audit {
		if e.StudentID == studentID && e.Period == key {
			return true, nil
		}
	}
	return false, nil
}

func (s auditStore) Insert(_ context.Context, entry attendance.Entry) (int64, error) {
	defer s.lock()()
	s.m.st.nextAudit++
	entry.ID = s.m.st.nextAudit
	s.m.st.audit = append(s.m.st.audit, entry)
	return entry.ID, nil
}

func (s auditStore) deleteWhere(match func(attendance.Entry) bool) int64 {
	kept := s.m.st.audit[:0]
	var removed int64
	for _, e := range s.m.st.audit {
		if match(e) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	s.m.st.audit = kept
	return removed
}

func (s auditStore) DeleteAll(_ context.Context, studentID int64, key period.Key) (int64, error) {
	defer s.lock()()
	return s.deleteWhere(func(e attendance.Entry) bool { return e.StudentID == studentID && e.Period == key }), nil
}

func (s auditStore) DeleteStudent(_ context.Context, studentID int64) (int64, error) {
	defer s.lock()()
	return s.deleteWhere(func(e attendance.Entry) bool { return e.StudentID == studentID }), nil
}

func (s auditStore) DeleteByIDs(_ context.Context, ids []int64) (int64, error) {
	defer s.lock()()
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return s.deleteWhere(func(e attendance.Entry) bool {
		_, ok := set[e.ID]
		return ok
	}), nil
}

func (s auditStore) ListForStudent(_ context.Context, studentID int64) ([]attendance.Entry, error) {
	defer s.lock()()
	entries := []attendance.Entry{}
	for _, e := range s.m.st.audit {
		if e.StudentID == studentID {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

func (s auditStore) AttendedPeriods(_ context.Context, studentID int64) ([]attendance.AttendedPeriod, error) {
	defer s.lock()()
	periods := []attendance.AttendedPeriod{}
	for key, record := range s.m.st.periods[studentID] {
		if !record.Attended {
			continue
		}
		at := record.UpdatedAt
		if record.LastAttendanceAt != nil {
			at = *record.LastAttendanceAt
		}
		periods = append(periods, attendance.AttendedPeriod{Period: key, Center: record.LastAttendanceCenter, LastAttendanceAt: at})
	}
	sort.Slice(periods, func(i, j int) bool { return periods[i].Period.Less(periods[j].Period) })
	return periods, nil
}

func (s auditStore) ListReport(_ context.Context, filter attendance.ReportFilter) ([]attendance.ReportRow, error) {
	defer s.lock()()
	rows := []attendance.ReportRow{}
	seen := map[int64]map[period.Key]bool{}
	for _, e := range s.m.st.audit {
		st, ok := s.m.st.students[e.StudentID]
		if !ok {
			continue
		}
		record, ok := s.m.st.periods[e.StudentID][e.Period]
		if !ok || !record.Attended || seen[e.StudentID][e.Period] {
			continue
		}
		center := record.LastAttendanceCenter
		if !matches(filter, st.student, e, center) {
			continue
		}
		if seen[e.StudentID] == nil {
			seen[e.StudentID] = map[period.Key]bool{}
		}
		seen[e.StudentID][e.Period] = true
		row := attendance.ReportRow{
			EntryID:      e.ID,
			StudentID:    e.StudentID,
			Grade:        st.student.Grade,
			StudentState: string(st.student.State),
			Period:       e.Period,
			HasRecord:    true,
			Attended:     true,
			Paid:         record.Paid,
			Center:       center,
			RecordedAt:   e.RecordedAt,
		}
		if record.LastAttendanceAt != nil {
			row.LastAttendanceAt = *record.LastAttendanceAt
		}
		rows = append(rows, row)
		if filter.Limit > 0 && len(rows) == filter.Limit {
			break
		}
	}
	return rows, nil
}

func matches(filter attendance.ReportFilter, st students.Student, e attendance.Entry, center string) bool {
	switch {
	case filter.StudentID != 0 && filter.StudentID != e.StudentID:
		return false
	case filter.Grade != "" && filter.Grade != st.Grade:
		return false
	case filter.Center != "" && filter.Center != center:
		return false
	case !filter.From.IsZero() && e.RecordedAt.Before(filter.From):
		return false
	case !filter.To.IsZero() && e.RecordedAt.After(filter.To):
		return false
	}
	return true
}

func (s auditStore) DriftedStudents(_ context.Context, limit int) ([]int64, error) {
	defer s.lock()()
	drifted := map[int64]struct{}{}
	seen := map[int64]map[period.Key]int{}
	for _, e := range s.m.st.audit {
		if seen[e.StudentID] == nil {
			seen[e.StudentID] = map[period.Key]int{}
		}
		seen[e.StudentID][e.Period]++
		record, ok := s.m.st.periods[e.StudentID][e.Period]
		if !ok || !record.Attended || seen[e.StudentID][e.Period] > 1 {
			drifted[e.StudentID] = struct{}{}
		}
	}
	for id, records := range s.m.st.periods {
		for key, record := range records {
			if record.Attended && seen[id][key] == 0 {
				drifted[id] = struct{}{}
			}
		}
	}
	ids := make([]int64, 0, len(drifted))
	for id := range drifted {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (s auditStore) LockStudent(_ context.Context, studentID int64) error {
	defer s.lock()()
	if _, ok := s.m.st.students[studentID]; !ok {
		return attendance.ErrStudentNotFound
	}
	return nil
}

// Clock returns a deterministic clock advancing one minute per call.
func Clock(start time.Time) func() time.Time {
	var (
		mu  sync.Mutex
		now = start
	)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Minute)
		return now
	}
}
