package lms

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/campus/lmssync/internal/domain/lms"
)

const pictureURL = "https://lms.example.edu/pluginfile.php/12/user/icon/boost/f1"

func TestSyncProfilePictures_RequiresStore(t *testing.T) {
	f := newFixture()
	svc := NewProfilePictureService(f.gateway, f.users, nil, f.settings)

	_, err := svc.SyncProfilePictures(context.Background())
	assert.ErrorIs(t, err, ErrStorageNotConfigured)
	f.gateway.AssertNotCalled(t, "ListUsers", mock.Anything)
}

func TestSyncProfilePictures(t *testing.T) {
	f := newFixture()
	store := new(MockPictureStore)
	svc := NewProfilePictureService(f.gateway, f.users, store, f.settings)

	mapped := f.syncedUser(uuid.New(), 1)
	broken := f.syncedUser(uuid.New(), 5)
	file := &lms.RemoteFile{Data: []byte{0x89, 'P', 'N', 'G'}, ContentType: "image/png"}

	f.gateway.On("ListUsers", mock.Anything).Return([]lms.RemoteUser{
		{ID: 1, ProfileImageURL: pictureURL},
		{ID: 2, ProfileImageURL: "https://lms.example.edu/theme/image.php/boost/core/1/u/f1"},
		{ID: 3, ProfileImageURL: pictureURL, Suspended: true},
		{ID: 4, ProfileImageURL: pictureURL},
		{ID: 5, ProfileImageURL: pictureURL + "?rev=2"},
	}, nil)
	f.gateway.On("FetchFile", mock.Anything, pictureURL).Return(file, nil)
	f.gateway.On("FetchFile", mock.Anything, pictureURL+"?rev=2").
		Return(nil, &lms.TransportError{Function: "pluginfile", Err: errors.New("reset by peer")})
	store.On("StoreProfilePicture", mock.Anything, mapped.LocalUserID, file).
		Return("profile-pictures/"+mapped.LocalUserID.String()+".png", nil)

	result, err := svc.SyncProfilePictures(context.Background())
	require.NoError(t, err)

	// default avatar, suspended and unmapped users are skipped
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 3, result.Skipped)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "5", result.Errors[0].ID)
	store.AssertNotCalled(t, "StoreProfilePicture", mock.Anything, broken.LocalUserID, mock.Anything)
	store.AssertExpectations(t)
}

func TestSyncProfilePictures_ListFailure(t *testing.T) {
	f := newFixture()
	svc := NewProfilePictureService(f.gateway, f.users, new(MockPictureStore), f.settings)
	f.gateway.On("ListUsers", mock.Anything).Return(nil, errors.New("down"))

	_, err := svc.SyncProfilePictures(context.Background())
	assert.Error(t, err)
}

func TestHasCustomPicture(t *testing.T) {
	assert.True(t, HasCustomPicture(pictureURL))
	assert.False(t, HasCustomPicture(""))
	assert.False(t, HasCustomPicture("https://lms.example.edu/theme/image.php/boost/core/1/u/f1"))
}
