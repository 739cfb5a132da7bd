// Package lms contains the LMS synchronization bounded context.
// This context keeps users, courses and enrollments of the Student Information
// System consistent with an external learning-management system and turns
// grades reported by that system into local academic state.
//
// Key concepts:
//   - Gateway: Port interface for the remote LMS RPC API
//   - UserMapping, CourseMapping, EnrollmentMapping: Entities linking local records to remote ones
//   - GradeRecord: Externally sourced grade, one per enrollment
//   - SyncLogEntry: Append-only audit record of every synchronization attempt
//   - Directory / AcademicRecords: Ports onto the surrounding SIS
//
// Design Pattern: Ports & Adapters
//   - Ports (interfaces) are defined here in the domain layer
//   - Adapters (implementations) are in the infrastructure layer
package lms
