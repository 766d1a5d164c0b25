package native

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/postwing/postwing/internal/faults"
	"github.com/postwing/postwing/internal/store"
	"github.com/postwing/postwing/internal/vault"
	"github.com/postwing/postwing/pkg/models"
)

type fakeRunner struct {
	mu      sync.Mutex
	postURL string
	err     error
	ran     []string
}

func (f *fakeRunner) Run(ctx context.Context, job *models.Job, account *models.Account) (string, error) {
	f.mu.Lock()
	f.ran = append(f.ran, job.ID)
	f.mu.Unlock()
	return f.postURL, f.err
}

// hostFixture runs a Host on one end of an in-process pipe and hands the
// test the extension's end.
type hostFixture struct {
	peer     *Bridge
	pushes   chan *Message
	jobs     *store.JobStore
	accounts *store.AccountStore
	vault    *vault.Vault
	runner   *fakeRunner
}

func newHostFixture(t *testing.T) *hostFixture {
	t.Helper()

	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	v, err := vault.New(bytes.Repeat([]byte{9}, 32))
	require.NoError(t, err)

	hostReads, peerWrites := io.Pipe()
	peerReads, hostWrites := io.Pipe()
	t.Cleanup(func() {
		peerWrites.Close()
		hostWrites.Close()
	})

	log := zap.NewNop().Sugar()
	jobs := store.NewJobStore(db)
	accounts := store.NewAccountStore(db)
	runner := &fakeRunner{postURL: "https://x.com/local/status/42"}

	host := NewHost(NewBridge(hostReads, hostWrites, log), jobs, accounts, v, runner, log)
	go host.Run()

	f := &hostFixture{
		peer:     NewBridge(peerReads, peerWrites, log),
		pushes:   make(chan *Message, 16),
		jobs:     jobs,
		accounts: accounts,
		vault:    v,
		runner:   runner,
	}
	f.peer.SetHandler(func(msg *Message) { f.pushes <- msg })
	go f.peer.Serve()
	return f
}

func (f *hostFixture) request(t *testing.T, msgType string, payload any) *Message {
	t.Helper()
	msg, err := NewMessage(msgType, "", payload)
	require.NoError(t, err)
	resp, err := f.peer.Request(context.Background(), msg)
	require.NoError(t, err)
	return resp
}

func (f *hostFixture) nextPush(t *testing.T, msgType string) *Message {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-f.pushes:
			if msg.Type == msgType {
				return msg
			}
		case <-deadline:
			t.Fatalf("no %s push arrived", msgType)
		}
	}
}

func (f *hostFixture) addCookieAccount(t *testing.T) *models.Account {
	t.Helper()
	resp := f.request(t, TypeAddAccount, AddAccountPayload{
		Platform:   models.PlatformTwitter,
		AuthMethod: models.AuthCookies,
		Handle:     "@local",
		Cookies:    []models.SessionCookie{{Name: "auth_token", Value: "tok"}},
	})
	require.Equal(t, TypeAccountAdded, resp.Type)
	var payload AccountAddedPayload
	require.NoError(t, resp.DecodePayload(&payload))
	return payload.Account
}

func TestHeartbeatAck(t *testing.T) {
	f := newHostFixture(t)
	resp := f.request(t, TypeHeartbeat, nil)
	assert.Equal(t, TypeHeartbeatAck, resp.Type)
}

func TestExecuteJobLifecyclePushes(t *testing.T) {
	f := newHostFixture(t)
	acct := f.addCookieAccount(t)

	resp := f.request(t, TypeExecuteJob, models.CreateJobRequest{
		Platform:  models.PlatformTwitter,
		Action:    models.ActionPost,
		Content:   "hello from the host",
		AccountID: acct.ID,
	})
	require.Equal(t, TypeJobStatus, resp.Type)

	var ack JobStatusPayload
	require.NoError(t, resp.DecodePayload(&ack))
	assert.Equal(t, models.StatusPending, ack.Status)
	require.NotEmpty(t, ack.JobID)

	// lifecycle pushes follow as the run progresses
	var processing, completed JobStatusPayload
	require.NoError(t, f.nextPush(t, TypeJobStatus).DecodePayload(&processing))
	assert.Equal(t, models.StatusProcessing, processing.Status)

	require.NoError(t, f.nextPush(t, TypeJobStatus).DecodePayload(&completed))
	assert.Equal(t, models.StatusCompleted, completed.Status)
	assert.Equal(t, "https://x.com/local/status/42", completed.PostURL)

	job, err := f.jobs.Get(context.Background(), ack.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, job.Status)
	assert.Equal(t, []string{ack.JobID}, f.runner.ran)
}

func TestExecuteJobSessionExpiredDeactivatesAccount(t *testing.T) {
	f := newHostFixture(t)
	acct := f.addCookieAccount(t)
	f.runner.err = errors.Wrap(faults.ErrSessionExpired, "cookies rejected")

	resp := f.request(t, TypeExecuteJob, models.CreateJobRequest{
		Platform:  models.PlatformTwitter,
		Action:    models.ActionPost,
		Content:   "hello",
		AccountID: acct.ID,
	})
	var ack JobStatusPayload
	require.NoError(t, resp.DecodePayload(&ack))

	var failed JobStatusPayload
	for {
		require.NoError(t, f.nextPush(t, TypeJobStatus).DecodePayload(&failed))
		if failed.Status == models.StatusFailed {
			break
		}
	}
	require.NotNil(t, failed.Error)
	assert.Equal(t, "SessionExpired", failed.Error.Code)

	_, err := f.accounts.Get(context.Background(), acct.ID)
	assert.ErrorIs(t, err, faults.ErrNotFound)
}

func TestExecuteJobRejectsReplyWithoutTarget(t *testing.T) {
	f := newHostFixture(t)
	acct := f.addCookieAccount(t)

	resp := f.request(t, TypeExecuteJob, models.CreateJobRequest{
		Platform:  models.PlatformTwitter,
		Action:    models.ActionReply,
		Content:   "hello",
		AccountID: acct.ID,
	})
	require.Equal(t, TypeError, resp.Type)
	assert.Empty(t, f.runner.ran)
}

func TestCancelJob(t *testing.T) {
	f := newHostFixture(t)
	acct := f.addCookieAccount(t)

	job, err := f.jobs.Create(context.Background(), models.CreateJobRequest{
		Platform:  models.PlatformTwitter,
		Action:    models.ActionPost,
		Content:   "never sent",
		AccountID: acct.ID,
	})
	require.NoError(t, err)

	resp := f.request(t, TypeCancelJob, CancelJobPayload{JobID: job.ID})
	require.Equal(t, TypeJobStatus, resp.Type)

	var payload JobStatusPayload
	require.NoError(t, resp.DecodePayload(&payload))
	assert.Equal(t, models.StatusCancelled, payload.Status)
}

func TestAccountRoundTrip(t *testing.T) {
	f := newHostFixture(t)
	acct := f.addCookieAccount(t)

	resp := f.request(t, TypeGetAccounts, nil)
	require.Equal(t, TypeAccountsList, resp.Type)
	var list AccountsListPayload
	require.NoError(t, resp.DecodePayload(&list))
	require.Len(t, list.Accounts, 1)
	assert.Equal(t, acct.ID, list.Accounts[0].ID)
	assert.Equal(t, localUser, list.Accounts[0].UserID)

	resp = f.request(t, TypeRemoveAccount, RemoveAccountPayload{AccountID: acct.ID})
	require.Equal(t, TypeAccountRemoved, resp.Type)

	resp = f.request(t, TypeGetAccounts, nil)
	require.NoError(t, resp.DecodePayload(&list))
	assert.Empty(t, list.Accounts)
}

func TestAddAccountWithoutSecretsRejected(t *testing.T) {
	f := newHostFixture(t)
	resp := f.request(t, TypeAddAccount, AddAccountPayload{
		Platform:   models.PlatformTwitter,
		AuthMethod: models.AuthCookies,
		Handle:     "@nope",
	})
	require.Equal(t, TypeError, resp.Type)
	var payload ErrorPayload
	require.NoError(t, resp.DecodePayload(&payload))
	assert.Equal(t, "ProtocolError", payload.Code)
}

func TestStatusReport(t *testing.T) {
	f := newHostFixture(t)
	acct := f.addCookieAccount(t)

	_, err := f.jobs.Create(context.Background(), models.CreateJobRequest{
		Platform:  models.PlatformTwitter,
		Action:    models.ActionPost,
		Content:   "queued",
		AccountID: acct.ID,
	})
	require.NoError(t, err)

	resp := f.request(t, TypeGetStatus, nil)
	require.Equal(t, TypeStatusReport, resp.Type)

	var stats models.JobStats
	require.NoError(t, resp.DecodePayload(&stats))
	assert.Equal(t, 1, stats.Pending)
}

func TestUnrecognizedTypeGetsErrorReply(t *testing.T) {
	f := newHostFixture(t)
	resp := f.request(t, "make_coffee", nil)
	require.Equal(t, TypeError, resp.Type)
	var payload ErrorPayload
	require.NoError(t, resp.DecodePayload(&payload))
	assert.Equal(t, "ProtocolError", payload.Code)
}
