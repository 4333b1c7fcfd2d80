package notifier

// QueueNotifier receives scheduling events for a track. The manager does not know who listens.
type QueueNotifier interface {
	OnQueued(trackID string, position int)
	OnStarted(trackID string, offset int64)
	OnPaused(trackID string, bytesDownloaded int64)
}

// Notifier is the full set of events the download manager emits.
type Notifier interface {
	QueueNotifier
	CompletionNotifier
}

// Noop is a Notifier that does nothing. Use in tests that only need queue structure.
var Noop Notifier = noopNotifier{}

type noopNotifier struct{}

func (noopNotifier) OnQueued(string, int)      {}
func (noopNotifier) OnStarted(string, int64)   {}
func (noopNotifier) OnPaused(string, int64)    {}
func (noopNotifier) OnCompleted(string, int64) {}
func (noopNotifier) OnFailed(string, error)    {}
func (noopNotifier) OnStopped(string)          {}
