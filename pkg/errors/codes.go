package errors

type Code string

const (
	CodeUnknown         Code = "UNKNOWN"
	CodeValidation      Code = "VALIDATION"
	CodeUpload          Code = "UPLOAD"
	CodePersist         Code = "PERSIST"
	CodeSubscription    Code = "SUBSCRIPTION"
	CodePresence        Code = "PRESENCE"
	CodeNotFound        Code = "NOT_FOUND"
	CodeUnauthenticated Code = "UNAUTHENTICATED"
	CodeInternal        Code = "INTERNAL"
)
