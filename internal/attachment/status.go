package attachment

type Status string

const (
	StatusPending    Status = "pending"
	StatusUploading  Status = "uploading"
	StatusProcessing Status = "processing"
	StatusComplete   Status = "complete"
	StatusError      Status = "error"
)

var forward = map[Status]Status{
	StatusPending:    StatusUploading,
	StatusUploading:  StatusProcessing,
	StatusProcessing: StatusComplete,
}

func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusError
}

// CanTransition reports whether s may move to next. Progress is strictly
// forward one step at a time; error is reachable from any non-terminal
// status.
func (s Status) CanTransition(next Status) bool {
	if s.Terminal() {
		return false
	}
	if next == StatusError {
		return true
	}
	return forward[s] == next
}
