package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"github.com/campus/lmssync/internal/domain/lms"
)

// ---------------------------------------------------------------------------
// UserMapping
// ---------------------------------------------------------------------------

// UserMappingModel is the persistence model for lms.UserMapping
type UserMappingModel struct {
	ID             uuid.UUID      `gorm:"type:uuid;primary_key"`
	LocalUserID    uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:uq_lms_user_mappings_local_user"`
	Role           lms.UserRole   `gorm:"type:varchar(10);not null;index:idx_lms_user_mappings_role"`
	ExternalUserID *int64         `gorm:"index:idx_lms_user_mappings_external"`
	Username       string         `gorm:"type:varchar(255);not null"`
	Status         lms.SyncStatus `gorm:"type:varchar(20);not null;default:'PENDING';index:idx_lms_user_mappings_status"`
	LastSyncedAt   *time.Time
	LastError      string    `gorm:"type:text"`
	FailureCount   int       `gorm:"not null;default:0"`
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (UserMappingModel) TableName() string {
	return "lms_user_mappings"
}

// ToDomain converts the model to a domain mapping
func (m *UserMappingModel) ToDomain() *lms.UserMapping {
	return &lms.UserMapping{
		ID:             m.ID,
		LocalUserID:    m.LocalUserID,
		Role:           m.Role,
		ExternalUserID: m.ExternalUserID,
		Username:       m.Username,
		Status:         m.Status,
		LastSyncedAt:   m.LastSyncedAt,
		LastError:      m.LastError,
		FailureCount:   m.FailureCount,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

// UserMappingModelFromDomain creates a model from a domain mapping
func UserMappingModelFromDomain(u *lms.UserMapping) *UserMappingModel {
	return &UserMappingModel{
		ID:             u.ID,
		LocalUserID:    u.LocalUserID,
		Role:           u.Role,
		ExternalUserID: u.ExternalUserID,
		Username:       u.Username,
		Status:         u.Status,
		LastSyncedAt:   u.LastSyncedAt,
		LastError:      u.LastError,
		FailureCount:   u.FailureCount,
		CreatedAt:      u.CreatedAt,
		UpdatedAt:      u.UpdatedAt,
	}
}

// ---------------------------------------------------------------------------
// CourseMapping
// ---------------------------------------------------------------------------

// CourseMappingModel is the persistence model for lms.CourseMapping
type CourseMappingModel struct {
	ID               uuid.UUID      `gorm:"type:uuid;primary_key"`
	LocalCourseID    uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:uq_lms_course_mappings_local_course"`
	ExternalCourseID *int64         `gorm:"index:idx_lms_course_mappings_external"`
	Shortname        string         `gorm:"type:varchar(100);not null;index:idx_lms_course_mappings_shortname"`
	CategoryID       *int64         `gorm:"column:category_id"`
	Status           lms.SyncStatus `gorm:"type:varchar(20);not null;default:'PENDING';index:idx_lms_course_mappings_status"`
	LastSyncedAt     *time.Time
	LastError        string    `gorm:"type:text"`
	FailureCount     int       `gorm:"not null;default:0"`
	CreatedAt        time.Time `gorm:"not null"`
	UpdatedAt        time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (CourseMappingModel) TableName() string {
	return "lms_course_mappings"
}

// ToDomain converts the model to a domain mapping
func (m *CourseMappingModel) ToDomain() *lms.CourseMapping {
	return &lms.CourseMapping{
		ID:               m.ID,
		LocalCourseID:    m.LocalCourseID,
		ExternalCourseID: m.ExternalCourseID,
		Shortname:        m.Shortname,
		CategoryID:       m.CategoryID,
		Status:           m.Status,
		LastSyncedAt:     m.LastSyncedAt,
		LastError:        m.LastError,
		FailureCount:     m.FailureCount,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

// CourseMappingModelFromDomain creates a model from a domain mapping
func CourseMappingModelFromDomain(c *lms.CourseMapping) *CourseMappingModel {
	return &CourseMappingModel{
		ID:               c.ID,
		LocalCourseID:    c.LocalCourseID,
		ExternalCourseID: c.ExternalCourseID,
		Shortname:        c.Shortname,
		CategoryID:       c.CategoryID,
		Status:           c.Status,
		LastSyncedAt:     c.LastSyncedAt,
		LastError:        c.LastError,
		FailureCount:     c.FailureCount,
		CreatedAt:        c.CreatedAt,
		UpdatedAt:        c.UpdatedAt,
	}
}

// ---------------------------------------------------------------------------
// EnrollmentMapping
// ---------------------------------------------------------------------------

// EnrollmentMappingModel is the persistence model for lms.EnrollmentMapping
type EnrollmentMappingModel struct {
	ID                uuid.UUID      `gorm:"type:uuid;primary_key"`
	LocalEnrollmentID uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:uq_lms_enrollment_mappings_local_enrollment"`
	LocalUserID       uuid.UUID      `gorm:"type:uuid;not null;index:idx_lms_enrollment_mappings_local_user"`
	LocalCourseID     uuid.UUID      `gorm:"type:uuid;not null;index:idx_lms_enrollment_mappings_local_course"`
	ExternalUserID    *int64         `gorm:"index:idx_lms_enrollment_mappings_external,priority:1"`
	ExternalCourseID  *int64         `gorm:"index:idx_lms_enrollment_mappings_external,priority:2"`
	Role              string         `gorm:"type:varchar(50);not null;default:'student'"`
	Status            lms.SyncStatus `gorm:"type:varchar(20);not null;default:'PENDING';index:idx_lms_enrollment_mappings_status"`
	LastSyncedAt      *time.Time
	LastError         string    `gorm:"type:text"`
	FailureCount      int       `gorm:"not null;default:0"`
	CreatedAt         time.Time `gorm:"not null"`
	UpdatedAt         time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (EnrollmentMappingModel) TableName() string {
	return "lms_enrollment_mappings"
}

// ToDomain converts the model to a domain mapping
func (m *EnrollmentMappingModel) ToDomain() *lms.EnrollmentMapping {
	return &lms.EnrollmentMapping{
		ID:                m.ID,
		LocalEnrollmentID: m.LocalEnrollmentID,
		LocalUserID:       m.LocalUserID,
		LocalCourseID:     m.LocalCourseID,
		ExternalUserID:    m.ExternalUserID,
		ExternalCourseID:  m.ExternalCourseID,
		Role:              m.Role,
		Status:            m.Status,
		LastSyncedAt:      m.LastSyncedAt,
		LastError:         m.LastError,
		FailureCount:      m.FailureCount,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

// EnrollmentMappingModelFromDomain creates a model from a domain mapping
func EnrollmentMappingModelFromDomain(e *lms.EnrollmentMapping) *EnrollmentMappingModel {
	return &EnrollmentMappingModel{
		ID:                e.ID,
		LocalEnrollmentID: e.LocalEnrollmentID,
		LocalUserID:       e.LocalUserID,
		LocalCourseID:     e.LocalCourseID,
		ExternalUserID:    e.ExternalUserID,
		ExternalCourseID:  e.ExternalCourseID,
		Role:              e.Role,
		Status:            e.Status,
		LastSyncedAt:      e.LastSyncedAt,
		LastError:         e.LastError,
		FailureCount:      e.FailureCount,
		CreatedAt:         e.CreatedAt,
		UpdatedAt:         e.UpdatedAt,
	}
}

// ---------------------------------------------------------------------------
// GradeRecord
// ---------------------------------------------------------------------------

// GradeRecordModel is the persistence model for lms.GradeRecord
type GradeRecordModel struct {
	ID                  uuid.UUID            `gorm:"type:uuid;primary_key"`
	LocalEnrollmentID   uuid.UUID            `gorm:"type:uuid;not null;uniqueIndex:uq_lms_grade_records_local_enrollment"`
	EnrollmentMappingID uuid.UUID            `gorm:"type:uuid;not null"`
	ExternalUserID      int64                `gorm:"not null"`
	ExternalCourseID    int64                `gorm:"not null"`
	RawGrade            decimal.NullDecimal  `gorm:"type:decimal(10,4)"`
	GradeMax            decimal.Decimal      `gorm:"type:decimal(10,4);not null;default:100"`
	CompletionStatus    lms.CompletionStatus `gorm:"type:varchar(20);not null;default:'IN_PROGRESS';index:idx_lms_grade_records_status,priority:1"`
	CompletedAt         *time.Time
	OccurredAt          *time.Time
	ReceivedAt          time.Time      `gorm:"not null"`
	Applied             bool           `gorm:"not null;default:false;index:idx_lms_grade_records_status,priority:2"`
	AppliedAt           *time.Time     `gorm:"column:applied_at"`
	GradeItems          datatypes.JSON `gorm:"column:grade_items"`
	CreatedAt           time.Time      `gorm:"not null"`
	UpdatedAt           time.Time      `gorm:"not null"`
}

// TableName returns the table name for GORM
func (GradeRecordModel) TableName() string {
	return "lms_grade_records"
}

// ToDomain converts the model to a domain record
func (m *GradeRecordModel) ToDomain() *lms.GradeRecord {
	r := &lms.GradeRecord{
		ID:                  m.ID,
		LocalEnrollmentID:   m.LocalEnrollmentID,
		EnrollmentMappingID: m.EnrollmentMappingID,
		ExternalUserID:      m.ExternalUserID,
		ExternalCourseID:    m.ExternalCourseID,
		GradeMax:            m.GradeMax,
		CompletionStatus:    m.CompletionStatus,
		CompletedAt:         m.CompletedAt,
		OccurredAt:          m.OccurredAt,
		ReceivedAt:          m.ReceivedAt,
		Applied:             m.Applied,
		AppliedAt:           m.AppliedAt,
		CreatedAt:           m.CreatedAt,
		UpdatedAt:           m.UpdatedAt,
	}
	if m.RawGrade.Valid {
		raw := m.RawGrade.Decimal
		r.RawGrade = &raw
	}
	if len(m.GradeItems) > 0 {
		r.GradeItems = json.RawMessage(m.GradeItems)
	}
	return r
}

// GradeRecordModelFromDomain creates a model from a domain record
func GradeRecordModelFromDomain(r *lms.GradeRecord) *GradeRecordModel {
	m := &GradeRecordModel{
		ID:                  r.ID,
		LocalEnrollmentID:   r.LocalEnrollmentID,
		EnrollmentMappingID: r.EnrollmentMappingID,
		ExternalUserID:      r.ExternalUserID,
		ExternalCourseID:    r.ExternalCourseID,
		GradeMax:            r.GradeMax,
		CompletionStatus:    r.CompletionStatus,
		CompletedAt:         r.CompletedAt,
		OccurredAt:          r.OccurredAt,
		ReceivedAt:          r.ReceivedAt,
		Applied:             r.Applied,
		AppliedAt:           r.AppliedAt,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}
	if r.RawGrade != nil {
		m.RawGrade = decimal.NewNullDecimal(*r.RawGrade)
	}
	if len(r.GradeItems) > 0 {
		m.GradeItems = datatypes.JSON(r.GradeItems)
	}
	return m
}

// ---------------------------------------------------------------------------
// SyncLog
// ---------------------------------------------------------------------------

// SyncLogModel is the persistence model for lms.SyncLogEntry. Rows are
// never updated.
type SyncLogModel struct {
	ID           uuid.UUID      `gorm:"type:uuid;primary_key"`
	SubjectType  string         `gorm:"type:varchar(20);not null;index:idx_lms_sync_logs_subject,priority:1"`
	SubjectID    string         `gorm:"type:varchar(100);not null;index:idx_lms_sync_logs_subject,priority:2"`
	SyncType     lms.SyncType   `gorm:"type:varchar(20);not null;index:idx_lms_sync_logs_type_time,priority:1"`
	Direction    lms.Direction  `gorm:"type:varchar(20);not null"`
	Outcome      lms.Outcome    `gorm:"type:varchar(10);not null"`
	Message      string         `gorm:"type:text"`
	RequestData  datatypes.JSON `gorm:"column:request_data"`
	ResponseData datatypes.JSON `gorm:"column:response_data"`
	RetryCount   int            `gorm:"not null;default:0"`
	SyncRunID    string         `gorm:"type:varchar(64);index:idx_lms_sync_logs_run"`
	SyncedAt     time.Time      `gorm:"not null;index:idx_lms_sync_logs_type_time,priority:2;index:idx_lms_sync_logs_synced_at"`
}

// TableName returns the table name for GORM
func (SyncLogModel) TableName() string {
	return "lms_sync_logs"
}

// ToDomain converts the model to a domain log entry
func (m *SyncLogModel) ToDomain() *lms.SyncLogEntry {
	e := &lms.SyncLogEntry{
		ID:          m.ID,
		SubjectType: m.SubjectType,
		SubjectID:   m.SubjectID,
		SyncType:    m.SyncType,
		Direction:   m.Direction,
		Outcome:     m.Outcome,
		Message:     m.Message,
		RetryCount:  m.RetryCount,
		SyncRunID:   m.SyncRunID,
		SyncedAt:    m.SyncedAt,
	}
	if len(m.RequestData) > 0 {
		e.RequestData = json.RawMessage(m.RequestData)
	}
	if len(m.ResponseData) > 0 {
		e.ResponseData = json.RawMessage(m.ResponseData)
	}
	return e
}

// SyncLogModelFromDomain creates a model from a domain log entry
func SyncLogModelFromDomain(e *lms.SyncLogEntry) *SyncLogModel {
	m := &SyncLogModel{
		ID:          e.ID,
		SubjectType: e.SubjectType,
		SubjectID:   e.SubjectID,
		SyncType:    e.SyncType,
		Direction:   e.Direction,
		Outcome:     e.Outcome,
		Message:     e.Message,
		RetryCount:  e.RetryCount,
		SyncRunID:   e.SyncRunID,
		SyncedAt:    e.SyncedAt,
	}
	if len(e.RequestData) > 0 {
		m.RequestData = datatypes.JSON(e.RequestData)
	}
	if len(e.ResponseData) > 0 {
		m.ResponseData = datatypes.JSON(e.ResponseData)
	}
	return m
}
