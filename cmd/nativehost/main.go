// The native messaging host behind the browser extension. Chrome launches
// this process and speaks length-prefixed JSON over stdin/stdout, so stdout
// carries protocol frames only and all logging goes to stderr.
package main

import (
	"os"

	"github.com/postwing/postwing/internal/browser"
	"github.com/postwing/postwing/internal/config"
	"github.com/postwing/postwing/internal/logging"
	"github.com/postwing/postwing/internal/native"
	"github.com/postwing/postwing/internal/store"
	"github.com/postwing/postwing/internal/vault"
)

func main() {
	log := logging.NewStderr()
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalw("config load failed", "error", err)
	}
	if len(cfg.EncryptionKey) == 0 {
		log.Fatal("ENCRYPTION_KEY is required")
	}

	v, err := vault.New(cfg.EncryptionKey)
	if err != nil {
		log.Fatalw("vault init failed", "error", err)
	}

	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatalw("database open failed", "error", err)
	}
	defer db.Close()

	launcher, err := browser.NewPlaywrightLauncher(cfg.Headless)
	if err != nil {
		log.Fatalw("browser launcher init failed", "error", err)
	}
	pool := browser.NewPool(launcher, cfg.PoolMaxSize, cfg.PoolMaxAge, log)
	defer pool.CloseAll()

	bridge := native.NewBridge(os.Stdin, os.Stdout, log)
	host := native.NewHost(
		bridge,
		store.NewJobStore(db),
		store.NewAccountStore(db),
		v,
		native.NewPoolRunner(pool, v),
		log,
	)

	log.Info("native host ready")

	// Serve returns nil when the browser closes stdin, which is the normal
	// shutdown path for a native messaging host.
	if err := host.Run(); err != nil {
		log.Fatalw("bridge failed", "error", err)
	}
	log.Info("stdin closed, exiting")
}
