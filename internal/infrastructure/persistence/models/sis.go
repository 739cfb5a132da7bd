package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/campus/lmssync/internal/domain/lms"
)

// The sis_* tables belong to the student information system. The engine
// reads users, courses and enrollments from them and writes grades back.

// SISUserModel is a student or staff member
type SISUserModel struct {
	ID                 uuid.UUID    `gorm:"type:uuid;primary_key"`
	Role               lms.UserRole `gorm:"type:varchar(10);not null;index:idx_sis_users_role"`
	Number             string       `gorm:"type:varchar(50);not null"`
	Email              string       `gorm:"type:varchar(255)"`
	InstitutionalEmail string       `gorm:"type:varchar(255)"`
	FullName           string       `gorm:"type:varchar(255);not null"`
	Department         string       `gorm:"type:varchar(255)"`
	Active             bool         `gorm:"not null"`
	CreatedAt          time.Time    `gorm:"not null"`
	UpdatedAt          time.Time    `gorm:"not null"`
}

// TableName returns the table name for GORM
func (SISUserModel) TableName() string {
	return "sis_users"
}

// ToDomain converts the row to a local user
func (m *SISUserModel) ToDomain() lms.LocalUser {
	return lms.LocalUser{
		ID:                 m.ID,
		Role:               m.Role,
		Number:             m.Number,
		Email:              m.Email,
		InstitutionalEmail: m.InstitutionalEmail,
		FullName:           m.FullName,
		Department:         m.Department,
		Active:             m.Active,
	}
}

// SISCourseModel is a course of the catalogue
type SISCourseModel struct {
	ID          uuid.UUID `gorm:"type:uuid;primary_key"`
	Code        string    `gorm:"type:varchar(50);not null;index:idx_sis_courses_code"`
	Name        string    `gorm:"type:varchar(255);not null"`
	Description string    `gorm:"type:text"`
	Credits     int       `gorm:"not null;default:0"`
	Active      bool      `gorm:"not null"`
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM
func (SISCourseModel) TableName() string {
	return "sis_courses"
}

// ToDomain converts the row to a local course
func (m *SISCourseModel) ToDomain() lms.LocalCourse {
	return lms.LocalCourse{
		ID:          m.ID,
		Code:        m.Code,
		Name:        m.Name,
		Description: m.Description,
		Credits:     m.Credits,
		Active:      m.Active,
	}
}

// SISEnrollmentModel links a user to a course for a term
type SISEnrollmentModel struct {
	ID        uuid.UUID            `gorm:"type:uuid;primary_key"`
	UserID    uuid.UUID            `gorm:"type:uuid;not null;index:idx_sis_enrollments_user"`
	CourseID  uuid.UUID            `gorm:"type:uuid;not null;index:idx_sis_enrollments_course"`
	Status    lms.EnrollmentStatus `gorm:"type:varchar(20);not null;default:'ENROLLED';index:idx_sis_enrollments_status"`
	Role      string               `gorm:"type:varchar(50)"`
	Term      string               `gorm:"type:varchar(50);index:idx_sis_enrollments_term"`
	CreatedAt time.Time            `gorm:"not null"`
	UpdatedAt time.Time            `gorm:"not null"`
}

// TableName returns the table name for GORM
func (SISEnrollmentModel) TableName() string {
	return "sis_enrollments"
}

// ToDomain converts the row to a local enrollment
func (m *SISEnrollmentModel) ToDomain() lms.LocalEnrollment {
	return lms.LocalEnrollment{
		ID:       m.ID,
		UserID:   m.UserID,
		CourseID: m.CourseID,
		Status:   m.Status,
		Role:     m.Role,
		Term:     m.Term,
	}
}

// SISGradeModel is the single final grade of an enrollment
type SISGradeModel struct {
	EnrollmentID uuid.UUID       `gorm:"type:uuid;primary_key"`
	Total        decimal.Decimal `gorm:"type:decimal(6,2);not null"`
	Letter       string          `gorm:"type:varchar(5);not null"`
	Points       decimal.Decimal `gorm:"type:decimal(3,2);not null"`
	Source       string          `gorm:"type:varchar(20);not null"`
	GradedAt     time.Time       `gorm:"not null"`
	CreatedAt    time.Time       `gorm:"not null"`
	UpdatedAt    time.Time       `gorm:"not null"`
}

// TableName returns the table name for GORM
func (SISGradeModel) TableName() string {
	return "sis_grades"
}

// SISGradeModelFromDomain creates a row from a local grade
func SISGradeModelFromDomain(g lms.LocalGrade) *SISGradeModel {
	return &SISGradeModel{
		EnrollmentID: g.EnrollmentID,
		Total:        g.Total,
		Letter:       g.Letter,
		Points:       g.Points,
		Source:       g.Source,
		GradedAt:     g.GradedAt,
	}
}
