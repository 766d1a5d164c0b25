// Package dispatch routes jobs to an execution backend and reconciles
// asynchronous outcomes into the job store. Two first-class paths exist: the
// server's own browser pool, and the user's live browser reached over the
// extension WebSocket relay.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/postwing/postwing/internal/browser"
	"github.com/postwing/postwing/internal/driver"
	"github.com/postwing/postwing/internal/faults"
	"github.com/postwing/postwing/internal/relay"
	"github.com/postwing/postwing/internal/store"
	"github.com/postwing/postwing/internal/vault"
	"github.com/postwing/postwing/pkg/models"
)

// ExtensionRelay is the slice of the relay hub the dispatcher needs.
type ExtensionRelay interface {
	SendToUser(userID string, v any) error
	SetResultHandler(relay.ResultHandler)
	Connected(userID string) bool
}

// DriverFactory builds a platform driver for a page. Swappable for tests.
type DriverFactory func(platform models.Platform, page playwright.Page) (driver.Driver, error)

// Dispatcher owns the routing decision and the completion bookkeeping. No
// module-level singletons: everything it touches is injected at construction
// and torn down by the owner on shutdown.
type Dispatcher struct {
	pool     *browser.Pool
	hub      ExtensionRelay
	jobs     *store.JobStore
	accounts *store.AccountStore
	vault    *vault.Vault
	drivers  DriverFactory

	waiters       *waiters
	remoteTimeout time.Duration

	// per-account serialization: two jobs for the same account must not race
	// in the same browser session
	slotMu sync.Mutex
	slots  map[string]*semaphore.Weighted

	log *zap.SugaredLogger
}

// New builds a dispatcher and installs its result handler on the relay.
func New(pool *browser.Pool, hub ExtensionRelay, jobs *store.JobStore, accounts *store.AccountStore, v *vault.Vault, remoteTimeout time.Duration, log *zap.SugaredLogger) *Dispatcher {
	d := &Dispatcher{
		pool:          pool,
		hub:           hub,
		jobs:          jobs,
		accounts:      accounts,
		vault:         v,
		drivers:       driver.New,
		waiters:       newWaiters(30 * time.Second),
		remoteTimeout: remoteTimeout,
		slots:         make(map[string]*semaphore.Weighted),
		log:           log,
	}
	hub.SetResultHandler(d.handleRemoteResult)
	return d
}

// Close releases dispatcher-owned resources.
func (d *Dispatcher) Close() {
	d.waiters.Close()
}

// Dispatch executes one job to completion and records the outcome. The job
// record moves pending -> processing -> completed|failed; a SessionExpired
// failure additionally flags the account for re-connection.
func (d *Dispatcher) Dispatch(ctx context.Context, job *models.Job) error {
	account, err := d.accounts.Get(ctx, job.AccountID)
	if err != nil {
		d.failJob(ctx, job, 0, err)
		return err
	}

	if err := d.jobs.MarkProcessing(ctx, job.ID); err != nil {
		return err
	}

	if err := d.acquireAccountSlot(ctx, job.AccountID); err != nil {
		d.failJob(ctx, job, 0, err)
		return err
	}
	defer d.releaseAccountSlot(job.AccountID)

	start := time.Now()
	var postURL string
	if account.AuthMethod == models.AuthExtension {
		postURL, err = d.dispatchRemote(ctx, job, account)
	} else {
		postURL, err = d.dispatchLocal(ctx, job, account)
	}
	elapsed := time.Since(start)

	if err != nil {
		d.failJob(ctx, job, elapsed, err)
		if errors.Is(err, faults.ErrSessionExpired) {
			// stored cookies are stale; hide the account until it reconnects
			if derr := d.accounts.Deactivate(ctx, account.ID); derr != nil {
				d.log.Warnw("failed to flag account for reconnection", "account_id", account.ID, "error", derr)
			}
		}
		return err
	}

	if err := d.jobs.Complete(ctx, job.ID, postURL, elapsed); err != nil {
		return err
	}
	d.log.Infow("job completed", "job_id", job.ID, "post_url", postURL, "duration", elapsed)
	return nil
}

// dispatchLocal runs the job on the server's own browser pool with the
// account's decrypted session.
func (d *Dispatcher) dispatchLocal(ctx context.Context, job *models.Job, account *models.Account) (string, error) {
	lease, err := d.pool.Acquire(ctx)
	if err != nil {
		return "", err
	}
	defer lease.Release()

	drv, err := d.drivers(job.Platform, lease.Instance().Page())
	if err != nil {
		return "", err
	}

	if err := d.loginDriver(ctx, drv, account); err != nil {
		return "", err
	}

	switch job.Action {
	case models.ActionPost:
		return drv.Post(ctx, job.Content)
	case models.ActionReply, models.ActionComment:
		return drv.Reply(ctx, job.TargetURL, job.Content)
	default:
		return "", errors.Wrapf(faults.ErrUnsupported, "action %q", job.Action)
	}
}

// loginDriver restores the account's session on the driver from its
// decrypted payload.
func (d *Dispatcher) loginDriver(ctx context.Context, drv driver.Driver, account *models.Account) error {
	switch account.AuthMethod {
	case models.AuthCookies:
		var cookies []models.SessionCookie
		if err := d.vault.DecryptJSON(account.Payload, &cookies); err != nil {
			return err
		}
		return drv.LoginWithCookies(ctx, cookies)
	case models.AuthCredentials:
		var creds models.Credentials
		if err := d.vault.DecryptJSON(account.Payload, &creds); err != nil {
			return err
		}
		return drv.Login(ctx, creds)
	default:
		return errors.Wrapf(faults.ErrUnsupported, "auth method %q on local path", account.AuthMethod)
	}
}

// LatestPosts reads the newest posts for an account's handle on the local
// pool path. Extension accounts have no server-side session to read with.
func (d *Dispatcher) LatestPosts(ctx context.Context, accountID string, count int) ([]string, error) {
	account, err := d.accounts.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.AuthMethod == models.AuthExtension {
		return nil, errors.Wrap(faults.ErrUnsupported, "latest posts for extension accounts")
	}

	if err := d.acquireAccountSlot(ctx, accountID); err != nil {
		return nil, err
	}
	defer d.releaseAccountSlot(accountID)

	lease, err := d.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	drv, err := d.drivers(account.Platform, lease.Instance().Page())
	if err != nil {
		return nil, err
	}
	if err := d.loginDriver(ctx, drv, account); err != nil {
		return nil, err
	}
	return drv.LatestPosts(ctx, account.Handle, count)
}

// dispatchRemote relays the job to the user's connected extension and waits
// for the correlated post_result. The job ID is unique per attempt and never
// reissued after a timeout, so a stale late response cannot double-post.
func (d *Dispatcher) dispatchRemote(ctx context.Context, job *models.Job, account *models.Account) (string, error) {
	cmdType := relay.TypePost
	if job.Action == models.ActionReply || job.Action == models.ActionComment {
		cmdType = relay.TypeReply
	}

	ch := d.waiters.Register(job.ID, d.remoteTimeout)

	cmd := relay.JobCommand{
		Type:      cmdType,
		JobID:     job.ID,
		Platform:  string(job.Platform),
		Content:   job.Content,
		TargetURL: job.TargetURL,
	}
	if err := d.hub.SendToUser(account.UserID, cmd); err != nil {
		d.waiters.Remove(job.ID)
		return "", errors.Wrap(err, "relay job command")
	}

	timer := time.NewTimer(d.remoteTimeout)
	defer timer.Stop()

	select {
	case outcome := <-ch:
		return outcome.PostURL, outcome.Err
	case <-timer.C:
		d.waiters.Remove(job.ID)
		return "", errors.Wrapf(faults.ErrTimeout, "no result for job %s within %s", job.ID, d.remoteTimeout)
	case <-ctx.Done():
		d.waiters.Remove(job.ID)
		return "", ctx.Err()
	}
}

// handleRemoteResult resolves the waiter matching the result's job ID. A
// result arriving after its waiter timed out resolves nothing.
func (d *Dispatcher) handleRemoteResult(userID string, result relay.PostResult) {
	outcome := Outcome{PostURL: result.PostURL}
	if !result.Success {
		msg := result.Error
		if msg == "" {
			msg = "extension reported failure"
		}
		outcome.Err = errors.Wrap(faults.ErrAutomation, msg)
	}
	if !d.waiters.Resolve(result.JobID, outcome) {
		d.log.Debugw("dropping late or unknown post_result", "job_id", result.JobID, "user_id", userID)
	}
}

// Cancel marks a job cancelled and, when it was relayed to an extension,
// forwards a best-effort cancel signal. Automation already mid-click cannot
// be rolled back; cancellation only prevents future steps.
func (d *Dispatcher) Cancel(ctx context.Context, jobID string) error {
	job, err := d.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if err := d.jobs.Cancel(ctx, jobID); err != nil {
		return err
	}
	d.waiters.Remove(jobID)

	if account, err := d.accounts.Get(ctx, job.AccountID); err == nil &&
		account.AuthMethod == models.AuthExtension && d.hub.Connected(account.UserID) {
		if err := d.hub.SendToUser(account.UserID, relay.CancelCommand{Type: relay.TypeCancel, JobID: jobID}); err != nil {
			d.log.Warnw("cancel signal not delivered", "job_id", jobID, "error", err)
		}
	}
	return nil
}

// RunScheduler periodically dispatches pending jobs whose scheduled time has
// arrived. Blocks until ctx is cancelled.
func (d *Dispatcher) RunScheduler(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			due, err := d.jobs.DuePending(ctx, now)
			if err != nil {
				d.log.Warnw("scheduler scan failed", "error", err)
				continue
			}
			for _, job := range due {
				job := job
				go func() {
					if err := d.Dispatch(ctx, job); err != nil {
						d.log.Warnw("scheduled job failed", "job_id", job.ID, "error", err)
					}
				}()
			}
		}
	}
}

func (d *Dispatcher) failJob(ctx context.Context, job *models.Job, elapsed time.Duration, cause error) {
	if err := d.jobs.Fail(ctx, job.ID, faults.Code(cause), cause.Error(), elapsed); err != nil {
		d.log.Warnw("failed to record job failure", "job_id", job.ID, "error", err)
	}
}

func (d *Dispatcher) acquireAccountSlot(ctx context.Context, accountID string) error {
	d.slotMu.Lock()
	sem, ok := d.slots[accountID]
	if !ok {
		sem = semaphore.NewWeighted(1)
		d.slots[accountID] = sem
	}
	d.slotMu.Unlock()
	return sem.Acquire(ctx, 1)
}

func (d *Dispatcher) releaseAccountSlot(accountID string) {
	d.slotMu.Lock()
	sem := d.slots[accountID]
	d.slotMu.Unlock()
	if sem != nil {
		sem.Release(1)
	}
}
