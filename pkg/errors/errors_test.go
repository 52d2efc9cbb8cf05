package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCodeOf(t *testing.T) {
	require.Equal(t, Code(""), CodeOf(nil))
	require.Equal(t, CodeUnknown, CodeOf(stderrors.New("boom")))
	require.Equal(t, CodeValidation, CodeOf(ErrEmptyMessage))
	require.Equal(t, CodePersist, CodeOf(fmt.Errorf("send: %w", ErrPersistFailed("message insert", stderrors.New("db down")))))
}

func TestSentinelsMatchThroughWrapping(t *testing.T) {
	err := fmt.Errorf("composer: %w", ErrTooManyAttachments)
	require.ErrorIs(t, err, ErrTooManyAttachments)
	require.NotErrorIs(t, err, ErrAttachmentsTooLarge)
}

func TestMessageOf(t *testing.T) {
	require.Equal(t, "message is empty", MessageOf(ErrEmptyMessage))
	require.Equal(t, "upload failed: AccessDenied", MessageOf(ErrUploadFailed(stderrors.New("AccessDenied"))))
	require.Equal(t, "message insert failed", MessageOf(ErrPersistFailed("message insert", stderrors.New("secret dsn"))))
	require.Equal(t, "internal error", MessageOf(stderrors.New("raw")))
}

func TestAppErrorUnwrap(t *testing.T) {
	cause := stderrors.New("timeout")
	err := ErrSubscriptionFailed(cause)
	require.ErrorIs(t, err, cause)
	require.Equal(t, "realtime subscription failed: timeout", err.Error())
}

func TestInvalidMessage(t *testing.T) {
	err := InvalidMessage("sender is required")
	require.ErrorIs(t, err, ErrInvalidMessage)
	require.Equal(t, CodeValidation, CodeOf(err))
	require.Equal(t, "sender is required", MessageOf(err))
}
