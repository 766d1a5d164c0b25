package relay

// Message types exchanged with a connected extension.
const (
	TypePing       = "ping"
	TypePong       = "pong"
	TypePost       = "post"
	TypeReply      = "reply"
	TypePostResult = "post_result"
	TypeCancel     = "cancel"
)

// JobCommand is a server -> extension automation command.
type JobCommand struct {
	Type      string `json:"type"` // "post" or "reply"
	JobID     string `json:"jobId"`
	Platform  string `json:"platform"`
	Content   string `json:"content"`
	TargetURL string `json:"targetUrl,omitempty"`
}

// CancelCommand asks the extension to drop a not-yet-started job.
type CancelCommand struct {
	Type  string `json:"type"`
	JobID string `json:"jobId"`
}

// PostResult is an extension -> server job outcome.
type PostResult struct {
	Type    string `json:"type"`
	JobID   string `json:"jobId"`
	Success bool   `json:"success"`
	PostURL string `json:"postUrl,omitempty"`
	Error   string `json:"error,omitempty"`
}

// envelope is used to sniff the type of an inbound message before decoding.
type envelope struct {
	Type string `json:"type"`
}

type pingMessage struct {
	Type string `json:"type"`
}
