package notifier

// CompletionNotifier is called when a task leaves the live set.
type CompletionNotifier interface {
	OnCompleted(trackID string, sizeBytes int64)
	OnFailed(trackID string, err error)
	OnStopped(trackID string)
}
