package lms

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/campus/lmssync/internal/domain/lms"
	"github.com/campus/lmssync/internal/infrastructure/logger"
	"github.com/campus/lmssync/internal/infrastructure/telemetry"
)

// ErrStorageNotConfigured is returned when no picture store is wired
var ErrStorageNotConfigured = errors.New("lms: object storage is not configured")

// defaultAvatarMarker appears in the URL of the LMS's generated avatars
const defaultAvatarMarker = "theme/image.php"

// ProfilePictureService copies user pictures from the LMS into object storage
type ProfilePictureService struct {
	gateway  lms.Gateway
	users    lms.UserMappingRepository
	store    ProfilePictureStore
	settings Settings
	opts     options
}

// NewProfilePictureService creates a ProfilePictureService. store may be nil
// when object storage is disabled.
func NewProfilePictureService(
	gateway lms.Gateway,
	users lms.UserMappingRepository,
	store ProfilePictureStore,
	settings Settings,
	opts ...Option,
) *ProfilePictureService {
	return &ProfilePictureService{
		gateway:  gateway,
		users:    users,
		store:    store,
		settings: settings.normalized(),
		opts:     buildOptions(opts),
	}
}

// SyncProfilePictures downloads the picture of every active mapped LMS user.
// Default avatars and users without a mapping are skipped.
func (s *ProfilePictureService) SyncProfilePictures(ctx context.Context) (BatchResult, error) {
	if s.store == nil {
		return BatchResult{}, ErrStorageNotConfigured
	}
	ctx, span := telemetry.StartServiceSpan(ctx, "profile_pictures", "SyncProfilePictures")
	defer span.End()

	remote, err := s.gateway.ListUsers(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		return BatchResult{}, err
	}
	telemetry.SetAttributes(span, telemetry.SpanAttrBatchSize, len(remote))

	var result BatchResult
	telemetry.WithProfilingLabels(ctx, telemetry.OperationLabels("sync_profile_pictures", string(lms.SyncTypeUser)), func(ctx context.Context) {
		result = SyncMany(ctx, remote, func(u lms.RemoteUser) string { return strconv.FormatInt(u.ID, 10) },
			s.syncPicture, s.settings.BatchWorkers)
	})
	s.opts.metrics.RecordBatch(ctx, "sync_profile_pictures", result.Succeeded, result.Failed)

	logger.For(ctx, s.opts.logger).Info("profile pictures synced",
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed),
		zap.Int("skipped", result.Skipped),
	)
	return result, nil
}

func (s *ProfilePictureService) syncPicture(ctx context.Context, u lms.RemoteUser) error {
	if u.Suspended || !HasCustomPicture(u.ProfileImageURL) {
		return ErrSkipped
	}
	mapping, err := s.users.FindByExternalUserID(ctx, u.ID)
	if errors.Is(err, lms.ErrMappingNotFound) {
		return ErrSkipped
	}
	if err != nil {
		return err
	}

	file, err := s.gateway.FetchFile(ctx, u.ProfileImageURL)
	if err != nil {
		return err
	}
	key, err := s.store.StoreProfilePicture(ctx, mapping.LocalUserID, file)
	if err != nil {
		return err
	}
	logger.For(ctx, s.opts.logger).Debug("profile picture stored",
		zap.Int64("external_user_id", u.ID),
		zap.String("key", key),
	)
	return nil
}

// HasCustomPicture reports whether url points at an uploaded picture rather
// than a generated default avatar
func HasCustomPicture(url string) bool {
	return url != "" && !strings.Contains(url, defaultAvatarMarker)
}
