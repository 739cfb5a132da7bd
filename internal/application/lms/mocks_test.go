package lms

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/campus/lmssync/internal/domain/lms"
)

// ---------------------------------------------------------------------------
// Gateway mock
// ---------------------------------------------------------------------------

type MockGateway struct {
	mock.Mock
}

var _ lms.Gateway = (*MockGateway)(nil)

func (m *MockGateway) SiteInfo(ctx context.Context) (*lms.SiteInfo, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*lms.SiteInfo), args.Error(1)
}

func (m *MockGateway) FindUserByUsername(ctx context.Context, username string) (*lms.RemoteUser, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*lms.RemoteUser), args.Error(1)
}

func (m *MockGateway) ListUsers(ctx context.Context) ([]lms.RemoteUser, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]lms.RemoteUser), args.Error(1)
}

func (m *MockGateway) CreateUser(ctx context.Context, input lms.RemoteUserInput) (int64, error) {
	args := m.Called(ctx, input)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockGateway) UpdateUser(ctx context.Context, input lms.RemoteUserInput) error {
	args := m.Called(ctx, input)
	return args.Error(0)
}

func (m *MockGateway) FindCourseByShortname(ctx context.Context, shortname string) (*lms.RemoteCourse, error) {
	args := m.Called(ctx, shortname)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*lms.RemoteCourse), args.Error(1)
}

func (m *MockGateway) CreateCourse(ctx context.Context, input lms.RemoteCourseInput) (int64, error) {
	args := m.Called(ctx, input)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockGateway) UpdateCourse(ctx context.Context, input lms.RemoteCourseInput) error {
	args := m.Called(ctx, input)
	return args.Error(0)
}

func (m *MockGateway) Enrol(ctx context.Context, enrolment lms.RemoteEnrolment) error {
	args := m.Called(ctx, enrolment)
	return args.Error(0)
}

func (m *MockGateway) Unenrol(ctx context.Context, enrolment lms.RemoteEnrolment) error {
	args := m.Called(ctx, enrolment)
	return args.Error(0)
}

func (m *MockGateway) UserCourseGrades(ctx context.Context, userID int64) ([]lms.RemoteCourseGrade, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]lms.RemoteCourseGrade), args.Error(1)
}

func (m *MockGateway) EnrolledUsers(ctx context.Context, courseID int64) ([]lms.RemoteEnrolledUser, error) {
	args := m.Called(ctx, courseID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]lms.RemoteEnrolledUser), args.Error(1)
}

func (m *MockGateway) UserCourses(ctx context.Context, userID int64) ([]lms.RemoteCourse, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]lms.RemoteCourse), args.Error(1)
}

func (m *MockGateway) FetchFile(ctx context.Context, url string) (*lms.RemoteFile, error) {
	args := m.Called(ctx, url)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*lms.RemoteFile), args.Error(1)
}

// ---------------------------------------------------------------------------
// SIS collaborator mocks
// ---------------------------------------------------------------------------

type MockDirectory struct {
	mock.Mock
}

var _ lms.Directory = (*MockDirectory)(nil)

func (m *MockDirectory) FindUser(ctx context.Context, id uuid.UUID) (*lms.LocalUser, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*lms.LocalUser), args.Error(1)
}

func (m *MockDirectory) FindCourse(ctx context.Context, id uuid.UUID) (*lms.LocalCourse, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*lms.LocalCourse), args.Error(1)
}

func (m *MockDirectory) FindEnrollment(ctx context.Context, id uuid.UUID) (*lms.LocalEnrollment, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*lms.LocalEnrollment), args.Error(1)
}

func (m *MockDirectory) ListUsers(ctx context.Context, filter lms.UserFilter) ([]lms.LocalUser, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]lms.LocalUser), args.Error(1)
}

func (m *MockDirectory) ListCourses(ctx context.Context, filter lms.CourseFilter) ([]lms.LocalCourse, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]lms.LocalCourse), args.Error(1)
}

func (m *MockDirectory) ListEnrollments(ctx context.Context, filter lms.EnrollmentFilter) ([]lms.LocalEnrollment, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]lms.LocalEnrollment), args.Error(1)
}

type MockAcademicRecords struct {
	mock.Mock
}

var _ lms.AcademicRecords = (*MockAcademicRecords)(nil)

func (m *MockAcademicRecords) UpsertGrade(ctx context.Context, grade lms.LocalGrade) error {
	args := m.Called(ctx, grade)
	return args.Error(0)
}

func (m *MockAcademicRecords) SetEnrollmentStatus(ctx context.Context, enrollmentID uuid.UUID, status lms.EnrollmentStatus) error {
	args := m.Called(ctx, enrollmentID, status)
	return args.Error(0)
}

type MockPictureStore struct {
	mock.Mock
}

var _ ProfilePictureStore = (*MockPictureStore)(nil)

func (m *MockPictureStore) StoreProfilePicture(ctx context.Context, localUserID uuid.UUID, file *lms.RemoteFile) (string, error) {
	args := m.Called(ctx, localUserID, file)
	return args.String(0), args.Error(1)
}

// ---------------------------------------------------------------------------
// In-memory repositories
// ---------------------------------------------------------------------------

// The fakes hand out copies so services only see their own changes after Save.

type memUserRepo struct {
	mu   sync.Mutex
	rows map[uuid.UUID]lms.UserMapping
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{rows: map[uuid.UUID]lms.UserMapping{}}
}

func (r *memUserRepo) put(m lms.UserMapping) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[m.LocalUserID] = m
}

func (r *memUserRepo) get(localID uuid.UUID) (lms.UserMapping, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.rows[localID]
	return m, ok
}

func (r *memUserRepo) FindByID(_ context.Context, id uuid.UUID) (*lms.UserMapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.rows {
		if m.ID == id {
			return &m, nil
		}
	}
	return nil, lms.ErrMappingNotFound
}

func (r *memUserRepo) FindByLocalUserID(_ context.Context, localUserID uuid.UUID) (*lms.UserMapping, error) {
	m, ok := r.get(localUserID)
	if !ok {
		return nil, lms.ErrMappingNotFound
	}
	return &m, nil
}

func (r *memUserRepo) FindByExternalUserID(_ context.Context, externalUserID int64) (*lms.UserMapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.rows {
		if m.ExternalUserID != nil && *m.ExternalUserID == externalUserID {
			return &m, nil
		}
	}
	return nil, lms.ErrMappingNotFound
}

func (r *memUserRepo) FindByStatus(_ context.Context, status lms.SyncStatus, _ int) ([]lms.UserMapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []lms.UserMapping
	for _, m := range r.rows {
		if m.Status == status {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *memUserRepo) CountByStatus(context.Context) (map[lms.SyncStatus]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[lms.SyncStatus]int64{}
	for _, m := range r.rows {
		out[m.Status]++
	}
	return out, nil
}

func (r *memUserRepo) CountByRole(context.Context) (map[lms.UserRole]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[lms.UserRole]int64{}
	for _, m := range r.rows {
		out[m.Role]++
	}
	return out, nil
}

func (r *memUserRepo) GetOrCreate(_ context.Context, candidate *lms.UserMapping) (*lms.UserMapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.rows[candidate.LocalUserID]; ok {
		return &m, nil
	}
	r.rows[candidate.LocalUserID] = *candidate
	m := *candidate
	return &m, nil
}

func (r *memUserRepo) Save(_ context.Context, mapping *lms.UserMapping) error {
	r.put(*mapping)
	return nil
}

type memCourseRepo struct {
	mu   sync.Mutex
	rows map[uuid.UUID]lms.CourseMapping
}

func newMemCourseRepo() *memCourseRepo {
	return &memCourseRepo{rows: map[uuid.UUID]lms.CourseMapping{}}
}

func (r *memCourseRepo) put(m lms.CourseMapping) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[m.LocalCourseID] = m
}

func (r *memCourseRepo) get(localID uuid.UUID) (lms.CourseMapping, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.rows[localID]
	return m, ok
}

func (r *memCourseRepo) FindByID(_ context.Context, id uuid.UUID) (*lms.CourseMapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.rows {
		if m.ID == id {
			return &m, nil
		}
	}
	return nil, lms.ErrMappingNotFound
}

func (r *memCourseRepo) FindByLocalCourseID(_ context.Context, localCourseID uuid.UUID) (*lms.CourseMapping, error) {
	m, ok := r.get(localCourseID)
	if !ok {
		return nil, lms.ErrMappingNotFound
	}
	return &m, nil
}

func (r *memCourseRepo) FindByExternalCourseID(_ context.Context, externalCourseID int64) (*lms.CourseMapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.rows {
		if m.ExternalCourseID != nil && *m.ExternalCourseID == externalCourseID {
			return &m, nil
		}
	}
	return nil, lms.ErrMappingNotFound
}

func (r *memCourseRepo) FindByStatus(_ context.Context, status lms.SyncStatus, _ int) ([]lms.CourseMapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []lms.CourseMapping
	for _, m := range r.rows {
		if m.Status == status {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *memCourseRepo) CountByStatus(context.Context) (map[lms.SyncStatus]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[lms.SyncStatus]int64{}
	for _, m := range r.rows {
		out[m.Status]++
	}
	return out, nil
}

func (r *memCourseRepo) GetOrCreate(_ context.Context, candidate *lms.CourseMapping) (*lms.CourseMapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.rows[candidate.LocalCourseID]; ok {
		return &m, nil
	}
	r.rows[candidate.LocalCourseID] = *candidate
	m := *candidate
	return &m, nil
}

func (r *memCourseRepo) Save(_ context.Context, mapping *lms.CourseMapping) error {
	r.put(*mapping)
	return nil
}

type memEnrollmentRepo struct {
	mu   sync.Mutex
	rows map[uuid.UUID]lms.EnrollmentMapping
}

func newMemEnrollmentRepo() *memEnrollmentRepo {
	return &memEnrollmentRepo{rows: map[uuid.UUID]lms.EnrollmentMapping{}}
}

func (r *memEnrollmentRepo) put(m lms.EnrollmentMapping) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[m.LocalEnrollmentID] = m
}

func (r *memEnrollmentRepo) get(localID uuid.UUID) (lms.EnrollmentMapping, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.rows[localID]
	return m, ok
}

func (r *memEnrollmentRepo) FindByID(_ context.Context, id uuid.UUID) (*lms.EnrollmentMapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.rows {
		if m.ID == id {
			return &m, nil
		}
	}
	return nil, lms.ErrMappingNotFound
}

func (r *memEnrollmentRepo) FindByLocalEnrollmentID(_ context.Context, localEnrollmentID uuid.UUID) (*lms.EnrollmentMapping, error) {
	m, ok := r.get(localEnrollmentID)
	if !ok {
		return nil, lms.ErrMappingNotFound
	}
	return &m, nil
}

func (r *memEnrollmentRepo) FindByExternalPair(_ context.Context, externalUserID, externalCourseID int64) (*lms.EnrollmentMapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.rows {
		if m.ExternalUserID != nil && m.ExternalCourseID != nil &&
			*m.ExternalUserID == externalUserID && *m.ExternalCourseID == externalCourseID {
			return &m, nil
		}
	}
	return nil, lms.ErrMappingNotFound
}

func (r *memEnrollmentRepo) FindByStatus(_ context.Context, status lms.SyncStatus, _ int) ([]lms.EnrollmentMapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []lms.EnrollmentMapping
	for _, m := range r.rows {
		if m.Status == status {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *memEnrollmentRepo) CountByStatus(context.Context) (map[lms.SyncStatus]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[lms.SyncStatus]int64{}
	for _, m := range r.rows {
		out[m.Status]++
	}
	return out, nil
}

func (r *memEnrollmentRepo) GetOrCreate(_ context.Context, candidate *lms.EnrollmentMapping) (*lms.EnrollmentMapping, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.rows[candidate.LocalEnrollmentID]; ok {
		return &m, nil
	}
	r.rows[candidate.LocalEnrollmentID] = *candidate
	m := *candidate
	return &m, nil
}

func (r *memEnrollmentRepo) Save(_ context.Context, mapping *lms.EnrollmentMapping) error {
	r.put(*mapping)
	return nil
}

type memGradeRepo struct {
	mu        sync.Mutex
	rows      map[uuid.UUID]lms.GradeRecord
	upsertErr error
}

func newMemGradeRepo() *memGradeRepo {
	return &memGradeRepo{rows: map[uuid.UUID]lms.GradeRecord{}}
}

func (r *memGradeRepo) get(enrollmentID uuid.UUID) (lms.GradeRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.rows[enrollmentID]
	return rec, ok
}

func (r *memGradeRepo) FindByLocalEnrollmentID(_ context.Context, localEnrollmentID uuid.UUID) (*lms.GradeRecord, error) {
	rec, ok := r.get(localEnrollmentID)
	if !ok {
		return nil, lms.ErrGradeRecordNotFound
	}
	return &rec, nil
}

func (r *memGradeRepo) FindPendingApplication(_ context.Context, _ int) ([]lms.GradeRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []lms.GradeRecord
	for _, rec := range r.rows {
		if rec.NeedsApplication() {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *memGradeRepo) Upsert(_ context.Context, record *lms.GradeRecord) (*lms.GradeRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.upsertErr != nil {
		return nil, r.upsertErr
	}
	stored := *record
	if existing, ok := r.rows[record.LocalEnrollmentID]; ok {
		stored.ID = existing.ID
		stored.CreatedAt = existing.CreatedAt
	}
	r.rows[record.LocalEnrollmentID] = stored
	return &stored, nil
}

func (r *memGradeRepo) Save(_ context.Context, record *lms.GradeRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[record.LocalEnrollmentID] = *record
	return nil
}

func (r *memGradeRepo) Stats(context.Context) (lms.GradeRecordStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var s lms.GradeRecordStats
	for _, rec := range r.rows {
		s.Total++
		if rec.Applied {
			s.Applied++
		}
		if rec.NeedsApplication() {
			s.PendingApplication++
		}
		switch rec.CompletionStatus {
		case lms.CompletionCompleted:
			s.Completed++
		case lms.CompletionFailed:
			s.Failed++
		default:
			s.InProgress++
		}
	}
	return s, nil
}

type memLogRepo struct {
	mu      sync.Mutex
	entries []lms.SyncLogEntry
	filter  lms.SyncLogFilter
}

func (r *memLogRepo) Append(_ context.Context, entry *lms.SyncLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *memLogRepo) List(_ context.Context, filter lms.SyncLogFilter) ([]lms.SyncLogEntry, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.filter = filter
	return append([]lms.SyncLogEntry(nil), r.entries...), int64(len(r.entries)), nil
}

func (r *memLogRepo) CountSince(_ context.Context, since time.Time) ([]lms.SyncLogCount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := map[[2]string]int64{}
	for _, e := range r.entries {
		if e.SyncedAt.Before(since) {
			continue
		}
		counts[[2]string{string(e.SyncType), string(e.Outcome)}]++
	}
	var out []lms.SyncLogCount
	for k, n := range counts {
		out = append(out, lms.SyncLogCount{SyncType: lms.SyncType(k[0]), Outcome: lms.Outcome(k[1]), Count: n})
	}
	return out, nil
}

func (r *memLogRepo) Recent(_ context.Context, limit int) ([]lms.SyncLogEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit > len(r.entries) {
		limit = len(r.entries)
	}
	return append([]lms.SyncLogEntry(nil), r.entries[len(r.entries)-limit:]...), nil
}

func (r *memLogRepo) all() []lms.SyncLogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]lms.SyncLogEntry(nil), r.entries...)
}

// ---------------------------------------------------------------------------
// Locker
// ---------------------------------------------------------------------------

// keyLocker is a minimal per-key mutex that records the keys it served
type keyLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
	keys  []string
}

func newKeyLocker() *keyLocker {
	return &keyLocker{locks: map[string]*sync.Mutex{}}
}

func (l *keyLocker) Lock(ctx context.Context, key string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.keys = append(l.keys, key)
	l.mu.Unlock()

	m.Lock()
	return m.Unlock, nil
}

func (l *keyLocker) served() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.keys...)
}

// ---------------------------------------------------------------------------
// Fixture
// ---------------------------------------------------------------------------

type fixture struct {
	gateway     *MockGateway
	directory   *MockDirectory
	records     *MockAcademicRecords
	users       *memUserRepo
	courses     *memCourseRepo
	enrollments *memEnrollmentRepo
	grades      *memGradeRepo
	logs        *memLogRepo
	locker      *keyLocker
	settings    Settings
}

func newFixture() *fixture {
	return &fixture{
		gateway:     new(MockGateway),
		directory:   new(MockDirectory),
		records:     new(MockAcademicRecords),
		users:       newMemUserRepo(),
		courses:     newMemCourseRepo(),
		enrollments: newMemEnrollmentRepo(),
		grades:      newMemGradeRepo(),
		logs:        &memLogRepo{},
		locker:      newKeyLocker(),
		settings: Settings{
			SyncEnabled:       true,
			Configured:        true,
			DefaultCategoryID: 7,
			BatchWorkers:      1,
			RecentWindow:      24 * time.Hour,
		},
	}
}

func (f *fixture) repos() Repositories {
	return Repositories{
		Users:       f.users,
		Courses:     f.courses,
		Enrollments: f.enrollments,
		Grades:      f.grades,
		Logs:        f.logs,
	}
}

func (f *fixture) syncService(opts ...Option) *SyncService {
	return NewSyncService(f.gateway, f.repos(), f.directory, f.locker, f.settings, opts...)
}

func (f *fixture) gradeService(opts ...Option) *GradeService {
	return NewGradeService(f.gateway, f.repos(), f.records, f.locker, f.settings, opts...)
}

func (f *fixture) batchService(opts ...Option) *BatchService {
	return NewBatchService(f.syncService(opts...), f.directory, f.repos(), f.settings, opts...)
}

// syncedUser stores a SYNCED user mapping and returns it
func (f *fixture) syncedUser(localID uuid.UUID, externalID int64) lms.UserMapping {
	m, _ := lms.NewUserMapping(localID, lms.UserRoleStudent, "user-"+localID.String()[:8])
	_ = m.MarkSynced(externalID)
	f.users.put(*m)
	return *m
}

// syncedCourse stores a SYNCED course mapping and returns it
func (f *fixture) syncedCourse(localID uuid.UUID, externalID int64) lms.CourseMapping {
	m, _ := lms.NewCourseMapping(localID, "C-"+localID.String()[:8])
	_ = m.MarkSynced(externalID, nil)
	f.courses.put(*m)
	return *m
}

// syncedEnrollment stores a SYNCED enrollment mapping for the external pair
func (f *fixture) syncedEnrollment(externalUserID, externalCourseID int64) lms.EnrollmentMapping {
	m, _ := lms.NewEnrollmentMapping(uuid.New(), uuid.New(), uuid.New(), "")
	_ = m.MarkSynced(externalUserID, externalCourseID)
	f.enrollments.put(*m)
	return *m
}
