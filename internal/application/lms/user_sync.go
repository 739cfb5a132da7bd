package lms

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campus/lmssync/internal/domain/lms"
	"github.com/campus/lmssync/internal/infrastructure/logger"
	"github.com/campus/lmssync/internal/infrastructure/telemetry"
)

// remoteAuthMethod is the LMS authentication plugin of synced accounts
const remoteAuthMethod = "manual"

// SyncService pushes users, courses and enrollments from the SIS to the LMS.
// Every entity sync is serialized per entity through the locker and leaves
// exactly one audit entry when a remote call was attempted.
type SyncService struct {
	gateway   lms.Gateway
	repos     Repositories
	directory lms.Directory
	locker    lms.EntityLocker
	settings  Settings
	opts      options
}

// NewSyncService creates a SyncService
func NewSyncService(
	gateway lms.Gateway,
	repos Repositories,
	directory lms.Directory,
	locker lms.EntityLocker,
	settings Settings,
	opts ...Option,
) *SyncService {
	return &SyncService{
		gateway:   gateway,
		repos:     repos,
		directory: directory,
		locker:    locker,
		settings:  settings.normalized(),
		opts:      buildOptions(opts),
	}
}

// Enabled reports whether outbound sync is switched on
func (s *SyncService) Enabled() bool {
	return s.settings.SyncEnabled
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

// SyncUser creates or updates the LMS account of a local user. With sync
// disabled the PENDING mapping is returned and nothing is sent.
func (s *SyncService) SyncUser(ctx context.Context, user lms.LocalUser) (*lms.UserMapping, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "user_sync", "SyncUser",
		telemetry.WithAttribute(telemetry.SpanAttrLocalID, user.ID.String()),
		telemetry.WithAttribute(telemetry.SpanAttrSyncType, string(lms.SyncTypeUser)),
	)
	defer span.End()
	ctx = logger.WithEntity(ctx, lms.UserLockKey(user.ID))

	release, err := lockEntity(ctx, s.locker, lms.UserLockKey(user.ID))
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	defer release()

	candidate, err := lms.NewUserMapping(user.ID, user.Role, user.Username())
	if err != nil {
		return nil, err
	}
	mapping, err := s.repos.Users.GetOrCreate(ctx, candidate)
	if err != nil {
		return nil, fmt.Errorf("load user mapping: %w", err)
	}
	if !s.settings.SyncEnabled {
		return mapping, nil
	}

	mapping.Username = candidate.Username
	mapping.Role = candidate.Role

	start := s.opts.now()
	input := userInput(user)
	externalID, created, err := s.pushUser(ctx, input)
	entry := lms.NewSyncLogEntry(lms.SyncTypeUser, lms.DirectionToExternal, lms.SubjectUser, user.ID.String())
	if err != nil {
		telemetry.RecordError(span, err)
		return mapping, s.failUser(ctx, mapping, entry, input, err, start)
	}

	if err := mapping.MarkSynced(externalID); err != nil {
		return mapping, s.failUser(ctx, mapping, entry, input, err, start)
	}
	if err := s.repos.Users.Save(ctx, mapping); err != nil {
		return mapping, fmt.Errorf("save user mapping: %w", err)
	}
	telemetry.SetAttributes(span, telemetry.SpanAttrExternalID, externalID)

	action := "updated"
	if created {
		action = "created"
	}
	appendLog(ctx, s.repos.Logs, s.opts.logger, entry.Succeeded(
		fmt.Sprintf("user %s as %d", action, externalID), input, map[string]any{"id": externalID}))
	s.opts.metrics.RecordSync(ctx, lms.SyncTypeUser, lms.OutcomeSuccess, time.Since(start))

	logger.For(ctx, s.opts.logger).Info("user synced",
		zap.String("username", mapping.Username),
		zap.Int64("external_user_id", externalID),
		zap.Bool("created", created),
	)
	return mapping, nil
}

// SyncUserByID loads the local user and syncs it
func (s *SyncService) SyncUserByID(ctx context.Context, id uuid.UUID) (*lms.UserMapping, error) {
	user, err := s.directory.FindUser(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.SyncUser(ctx, *user)
}

// pushUser updates the account matching the username or creates it
func (s *SyncService) pushUser(ctx context.Context, input lms.RemoteUserInput) (int64, bool, error) {
	existing, err := s.gateway.FindUserByUsername(ctx, input.Username)
	if err != nil {
		return 0, false, err
	}
	if existing != nil {
		input.ID = existing.ID
		if err := s.gateway.UpdateUser(ctx, input); err != nil {
			return 0, false, err
		}
		return existing.ID, false, nil
	}

	input.Password = temporaryPassword()
	id, err := s.gateway.CreateUser(ctx, input)
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (s *SyncService) failUser(
	ctx context.Context,
	mapping *lms.UserMapping,
	entry *lms.SyncLogEntry,
	input lms.RemoteUserInput,
	cause error,
	start time.Time,
) error {
	mapping.MarkFailed(cause.Error())
	if err := s.repos.Users.Save(ctx, mapping); err != nil {
		logger.For(ctx, s.opts.logger).Error("failed to save user mapping", zap.Error(err))
	}
	appendLog(ctx, s.repos.Logs, s.opts.logger, entry.Failed(cause, input).WithRetryCount(mapping.FailureCount))
	s.opts.metrics.RecordSync(ctx, lms.SyncTypeUser, lms.OutcomeFailed, time.Since(start))

	logger.For(ctx, s.opts.logger).Warn("user sync failed",
		zap.String("username", mapping.Username),
		zap.Int("failure_count", mapping.FailureCount),
		zap.Error(cause),
	)
	return cause
}

// userInput builds the outgoing account payload
func userInput(user lms.LocalUser) lms.RemoteUserInput {
	first, last := user.SplitName()
	input := lms.RemoteUserInput{
		Username:  user.Username(),
		FirstName: first,
		LastName:  last,
		Email:     user.ContactEmail(),
		IDNumber:  user.IDNumber(),
		Auth:      remoteAuthMethod,
	}
	if user.Role == lms.UserRoleStudent {
		suspended := !user.Active
		input.Suspended = &suspended
		input.Department = user.Department
	}
	return input
}

// temporaryPassword satisfies the default LMS password policy: upper and
// lower case letters, a digit and a symbol. Users reset it on first login.
func temporaryPassword() string {
	token := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "Tmp#" + strings.ToUpper(token[:6]) + token[6:14] + "9"
}

// UserCourses lists the LMS courses of a mapped local user
func (s *SyncService) UserCourses(ctx context.Context, localUserID uuid.UUID) ([]lms.RemoteCourse, error) {
	mapping, err := s.repos.Users.FindByLocalUserID(ctx, localUserID)
	if err != nil {
		return nil, err
	}
	if !mapping.IsSynced() {
		return nil, fmt.Errorf("%w: user %s is %s", lms.ErrMappingNotFound, localUserID, mapping.Status)
	}
	return s.gateway.UserCourses(ctx, *mapping.ExternalUserID)
}
