package native

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/postwing/postwing/internal/faults"
	"github.com/postwing/postwing/internal/store"
	"github.com/postwing/postwing/internal/vault"
	"github.com/postwing/postwing/pkg/models"
)

// localUser owns every account on a native host installation when the
// extension does not name one explicitly.
const localUser = "local"

// jobDeadline bounds one full automation run triggered over the bridge.
const jobDeadline = 3 * time.Minute

// Host is the privileged stdio process behind the browser extension. It
// holds the encrypted account material, runs automation on its own pool,
// and answers the extension's requests over the bridge.
type Host struct {
	bridge   *Bridge
	jobs     *store.JobStore
	accounts *store.AccountStore
	vault    *vault.Vault
	runner   Runner
	log      *zap.SugaredLogger
}

func NewHost(bridge *Bridge, jobs *store.JobStore, accounts *store.AccountStore, v *vault.Vault, runner Runner, log *zap.SugaredLogger) *Host {
	h := &Host{
		bridge:   bridge,
		jobs:     jobs,
		accounts: accounts,
		vault:    v,
		runner:   runner,
		log:      log,
	}
	bridge.SetHandler(h.handle)
	return h
}

// Run serves the bridge until stdin closes.
func (h *Host) Run() error {
	return h.bridge.Serve()
}

func (h *Host) handle(msg *Message) {
	ctx := context.Background()

	var err error
	switch msg.Type {
	case TypeHeartbeat:
		err = h.reply(msg, TypeHeartbeatAck, nil)
	case TypeExecuteJob:
		err = h.executeJob(ctx, msg)
	case TypeCancelJob:
		err = h.cancelJob(ctx, msg)
	case TypeGetAccounts:
		err = h.listAccounts(ctx, msg)
	case TypeAddAccount:
		err = h.addAccount(ctx, msg)
	case TypeRemoveAccount:
		err = h.removeAccount(ctx, msg)
	case TypeGetStatus:
		err = h.reportStatus(ctx, msg)
	default:
		err = errors.Wrapf(faults.ErrProtocol, "unrecognized request type %q", msg.Type)
	}

	if err != nil {
		h.log.Warnw("request failed", "type", msg.Type, "request_id", msg.RequestID, "error", err)
		h.bridge.sendError(msg.RequestID, err)
	}
}

// executeJob records the job, acknowledges it immediately, and runs the
// automation in the background so the read loop stays responsive. Progress
// reaches the extension as job_status pushes.
func (h *Host) executeJob(ctx context.Context, msg *Message) error {
	var req models.CreateJobRequest
	if err := msg.DecodePayload(&req); err != nil {
		return err
	}

	job, err := h.jobs.Create(ctx, req)
	if err != nil {
		return err
	}
	if err := h.reply(msg, TypeJobStatus, JobStatusPayload{JobID: job.ID, Status: job.Status}); err != nil {
		return err
	}

	go h.runJob(job)
	return nil
}

func (h *Host) runJob(job *models.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), jobDeadline)
	defer cancel()

	if err := h.jobs.MarkProcessing(ctx, job.ID); err != nil {
		h.log.Warnw("job not claimable", "job_id", job.ID, "error", err)
		return
	}
	h.pushStatus(job.ID, models.StatusProcessing, "", nil)

	account, err := h.accounts.Get(ctx, job.AccountID)
	if err != nil {
		h.failJob(ctx, job, 0, err)
		return
	}

	start := time.Now()
	postURL, err := h.runner.Run(ctx, job, account)
	elapsed := time.Since(start)
	if err != nil {
		// flag the account before the failed push goes out, so anyone
		// reacting to the push sees the deactivation already applied
		if errors.Is(err, faults.ErrSessionExpired) {
			if derr := h.accounts.Deactivate(ctx, account.ID); derr != nil {
				h.log.Warnw("failed to flag account for reconnection", "account_id", account.ID, "error", derr)
			}
		}
		h.failJob(ctx, job, elapsed, err)
		return
	}

	if err := h.jobs.Complete(ctx, job.ID, postURL, elapsed); err != nil {
		h.log.Warnw("failed to record completion", "job_id", job.ID, "error", err)
	}
	h.pushStatus(job.ID, models.StatusCompleted, postURL, nil)
}

func (h *Host) failJob(ctx context.Context, job *models.Job, elapsed time.Duration, cause error) {
	code := faults.Code(cause)
	if err := h.jobs.Fail(ctx, job.ID, code, cause.Error(), elapsed); err != nil {
		h.log.Warnw("failed to record job failure", "job_id", job.ID, "error", err)
	}
	h.pushStatus(job.ID, models.StatusFailed, "", &models.JobError{Code: code, Message: cause.Error()})
}

func (h *Host) pushStatus(jobID string, status models.JobStatus, postURL string, jobErr *models.JobError) {
	h.push(TypeJobStatus, JobStatusPayload{JobID: jobID, Status: status, PostURL: postURL, Error: jobErr})
}

func (h *Host) cancelJob(ctx context.Context, msg *Message) error {
	var req CancelJobPayload
	if err := msg.DecodePayload(&req); err != nil {
		return err
	}
	if err := h.jobs.Cancel(ctx, req.JobID); err != nil {
		return err
	}
	return h.reply(msg, TypeJobStatus, JobStatusPayload{JobID: req.JobID, Status: models.StatusCancelled})
}

func (h *Host) listAccounts(ctx context.Context, msg *Message) error {
	userID := localUser
	if len(msg.Payload) > 0 {
		var req GetAccountsPayload
		if err := msg.DecodePayload(&req); err != nil {
			return err
		}
		if req.UserID != "" {
			userID = req.UserID
		}
	}
	accounts, err := h.accounts.ListByUser(ctx, userID)
	if err != nil {
		return err
	}
	return h.reply(msg, TypeAccountsList, AccountsListPayload{Accounts: accounts})
}

func (h *Host) addAccount(ctx context.Context, msg *Message) error {
	var req AddAccountPayload
	if err := msg.DecodePayload(&req); err != nil {
		return err
	}
	if req.UserID == "" {
		req.UserID = localUser
	}

	var payload []byte
	var err error
	switch req.AuthMethod {
	case models.AuthCookies:
		if len(req.Cookies) == 0 {
			return errors.Wrap(faults.ErrProtocol, "cookie account has no cookies")
		}
		payload, err = h.vault.EncryptJSON(req.Cookies)
	case models.AuthCredentials:
		if req.Credentials == nil {
			return errors.Wrap(faults.ErrProtocol, "credential account has no credentials")
		}
		payload, err = h.vault.EncryptJSON(req.Credentials)
	default:
		return errors.Wrapf(faults.ErrProtocol, "auth method %q not storable on native host", req.AuthMethod)
	}
	if err != nil {
		return err
	}

	account, err := h.accounts.Create(ctx, req.UserID, req.Platform, req.AuthMethod, req.Handle, payload)
	if err != nil {
		return err
	}
	return h.reply(msg, TypeAccountAdded, AccountAddedPayload{Account: account})
}

func (h *Host) removeAccount(ctx context.Context, msg *Message) error {
	var req RemoveAccountPayload
	if err := msg.DecodePayload(&req); err != nil {
		return err
	}
	if err := h.accounts.Deactivate(ctx, req.AccountID); err != nil {
		return err
	}
	return h.reply(msg, TypeAccountRemoved, AccountRemovedPayload{AccountID: req.AccountID})
}

func (h *Host) reportStatus(ctx context.Context, msg *Message) error {
	stats, err := h.jobs.Stats(ctx)
	if err != nil {
		return err
	}
	return h.reply(msg, TypeStatusReport, stats)
}

func (h *Host) reply(req *Message, msgType string, payload any) error {
	msg, err := NewMessage(msgType, req.RequestID, payload)
	if err != nil {
		return err
	}
	return h.bridge.Notify(msg)
}

func (h *Host) push(msgType string, payload any) {
	msg, err := NewMessage(msgType, "", payload)
	if err != nil {
		h.log.Warnw("push not built", "type", msgType, "error", err)
		return
	}
	if err := h.bridge.Notify(msg); err != nil {
		h.log.Warnw("push not delivered", "type", msgType, "error", err)
	}
}
