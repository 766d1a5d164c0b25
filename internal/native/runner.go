package native

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/playwright-community/playwright-go"

	"github.com/postwing/postwing/internal/browser"
	"github.com/postwing/postwing/internal/driver"
	"github.com/postwing/postwing/internal/faults"
	"github.com/postwing/postwing/internal/vault"
	"github.com/postwing/postwing/pkg/models"
)

// Runner executes one job against one account and returns the resulting
// post URL.
type Runner interface {
	Run(ctx context.Context, job *models.Job, account *models.Account) (string, error)
}

// PoolRunner runs jobs on the host's own browser pool with the account's
// decrypted session material.
type PoolRunner struct {
	pool    *browser.Pool
	vault   *vault.Vault
	drivers func(models.Platform, playwright.Page) (driver.Driver, error)
}

func NewPoolRunner(pool *browser.Pool, v *vault.Vault) *PoolRunner {
	return &PoolRunner{pool: pool, vault: v, drivers: driver.New}
}

func (r *PoolRunner) Run(ctx context.Context, job *models.Job, account *models.Account) (string, error) {
	lease, err := r.pool.Acquire(ctx)
	if err != nil {
		return "", err
	}
	defer lease.Release()

	drv, err := r.drivers(job.Platform, lease.Instance().Page())
	if err != nil {
		return "", err
	}

	switch account.AuthMethod {
	case models.AuthCookies:
		var cookies []models.SessionCookie
		if err := r.vault.DecryptJSON(account.Payload, &cookies); err != nil {
			return "", err
		}
		if err := drv.LoginWithCookies(ctx, cookies); err != nil {
			return "", err
		}
	case models.AuthCredentials:
		var creds models.Credentials
		if err := r.vault.DecryptJSON(account.Payload, &creds); err != nil {
			return "", err
		}
		if err := drv.Login(ctx, creds); err != nil {
			return "", err
		}
	default:
		return "", errors.Wrapf(faults.ErrUnsupported, "auth method %q on native host", account.AuthMethod)
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
