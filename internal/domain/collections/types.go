package collections

type Status string

const (
	StatusPending   Status = "pending"
	StatusUploading Status = "uploading"
	StatusSynced    Status = "synced"
	StatusFailed    Status = "failed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusUploading, StatusSynced, StatusFailed:
		return true
	default:
		return false
	}
}

// AllStatuses en orden de ciclo de vida (útil para stats).
func AllStatuses() []Status {
	return []Status{StatusPending, StatusUploading, StatusSynced, StatusFailed}
}

type Channel string

const (
	ChannelAPI Channel = "api"
	ChannelSMS Channel = "sms"
)
