package native

import (
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/postwing/postwing/internal/faults"
	"github.com/postwing/postwing/pkg/models"
)

// Request types, extension -> host.
const (
	TypeExecuteJob    = "execute_job"
	TypeCancelJob     = "cancel_job"
	TypeGetAccounts   = "get_accounts"
	TypeAddAccount    = "add_account"
	TypeRemoveAccount = "remove_account"
	TypeGetStatus     = "get_status"
	TypeHeartbeat     = "heartbeat"
)

// Push types, host -> extension.
const (
	TypeJobStatus      = "job_status"
	TypeAccountsList   = "accounts_list"
	TypeAccountAdded   = "account_added"
	TypeAccountRemoved = "account_removed"
	TypeStatusReport   = "status_report"
	TypeHeartbeatAck   = "heartbeat_ack"
	TypeError          = "error"
)

const ProtocolVersion = "1.0"

// maxClockSkew bounds how far a peer's message timestamp may drift from
// local time before the message is rejected as stale or replayed.
const maxClockSkew = 60 * time.Second

// Message is the JSON envelope carried inside every frame.
type Message struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"` // unix millis
	Version   string          `json:"version,omitempty"`
}

// NewMessage builds a stamped envelope around a marshalled payload. A nil
// payload produces an envelope with no payload field.
func NewMessage(msgType, requestID string, payload any) (*Message, error) {
	msg := &Message{
		Type:      msgType,
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
		Version:   ProtocolVersion,
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, errors.Wrap(err, "marshal payload")
		}
		msg.Payload = raw
	}
	return msg, nil
}

// Validate rejects envelopes without a type and envelopes whose timestamp
// falls outside the skew window. A zero timestamp means the peer did not
// stamp the message; the skew check is skipped for those.
func (m *Message) Validate(now time.Time) error {
	if m.Type == "" {
		return errors.Wrap(faults.ErrProtocol, "message missing type")
	}
	if m.Timestamp != 0 {
		skew := now.Sub(time.UnixMilli(m.Timestamp))
		if skew < 0 {
			skew = -skew
		}
		if skew > maxClockSkew {
			return errors.Wrapf(faults.ErrProtocol, "timestamp skewed by %s", skew)
		}
	}
	return nil
}

// DecodePayload unmarshals the envelope's payload into out.
func (m *Message) DecodePayload(out any) error {
	if len(m.Payload) == 0 {
		return errors.Wrapf(faults.ErrProtocol, "%s message has no payload", m.Type)
	}
	if err := json.Unmarshal(m.Payload, out); err != nil {
		return errors.Wrapf(faults.ErrProtocol, "decode %s payload", m.Type)
	}
	return nil
}

type CancelJobPayload struct {
	JobID string `json:"jobId"`
}

type GetAccountsPayload struct {
	UserID string `json:"userId,omitempty"`
}

type AddAccountPayload struct {
	UserID      string                 `json:"userId,omitempty"`
	Platform    models.Platform        `json:"platform"`
	AuthMethod  models.AuthMethod      `json:"authMethod"`
	Handle      string                 `json:"handle"`
	Cookies     []models.SessionCookie `json:"cookies,omitempty"`
	Credentials *models.Credentials    `json:"credentials,omitempty"`
}

type RemoveAccountPayload struct {
	AccountID string `json:"accountId"`
}

type JobStatusPayload struct {
	JobID   string           `json:"jobId"`
	Status  models.JobStatus `json:"status"`
	PostURL string           `json:"postUrl,omitempty"`
	Error   *models.JobError `json:"error,omitempty"`
}

type AccountsListPayload struct {
	Accounts []*models.Account `json:"accounts"`
}

type AccountAddedPayload struct {
	Account *models.Account `json:"account"`
}

type AccountRemovedPayload struct {
	AccountID string `json:"accountId"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
