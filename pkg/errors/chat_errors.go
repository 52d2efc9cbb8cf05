package errors

var (
	ErrEmptyMessage        = Validation("message is empty")
	ErrInvalidMessage      = Validation("message is invalid")
	ErrTooManyAttachments  = Validation("at most 10 attachments can be added to one message")
	ErrAttachmentsTooLarge = Validation("attachments exceed the 500 MB limit")
	ErrEmptyAttachment     = Validation("attachment is empty")
	ErrUnsupportedMedia    = Validation("only images, videos and audio can be attached")
	ErrAttachmentsInFlight = Validation("attachments are still uploading")
	ErrAttachmentNotFound  = NotFound("attachment not found")
	ErrInvalidMove         = Validation("attachment cannot be moved there")
	ErrRecordingActive     = Validation("a recording is already in progress")
	ErrNotRecording        = Validation("no recording in progress")
)

// InvalidMessage reports a broken message invariant; it matches
// ErrInvalidMessage under errors.Is.
func InvalidMessage(reason string) error {
	return Wrap(CodeValidation, reason, ErrInvalidMessage)
}

func ErrUploadFailed(cause error) error {
	return Wrap(CodeUpload, "upload failed", cause)
}

func ErrPersistFailed(what string, cause error) error {
	return Wrap(CodePersist, what+" failed", cause)
}

func ErrSubscriptionFailed(cause error) error {
	return Wrap(CodeSubscription, "realtime subscription failed", cause)
}

func ErrPresenceFailed(cause error) error {
	return Wrap(CodePresence, "activity stamp failed", cause)
}
