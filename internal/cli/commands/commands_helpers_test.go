package commands

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"go.uber.org/zap"

	"AvailWallet/internal/cli/bootstrap"
	"AvailWallet/internal/cli/chain/chaintest"
	"AvailWallet/internal/config"
)

const testPassword = "correct horse"

// withTempConfig переопределяет пользовательские каталоги на время теста,
// чтобы артефакты (токен/ключи/база) создавались в temp.
func withTempConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	if runtime.GOOS == "windows" {
		t.Setenv("APPDATA", dir)
	} else {
		t.Setenv("XDG_CONFIG_HOME", dir)
	}
	db := filepath.Join(dir, "db")
	_ = os.MkdirAll(db, 0o700)
	return &config.Config{
		ServerURL:      "http://127.0.0.1:1",
		ClientDBPath:   db,
		KeystoreDir:    filepath.Join(dir, "keys"),
		Network:        "testnet",
		ScanBatchSize:  49,
		ScanWorkers:    2,
		ConfirmTimeout: 5 * time.Second,
		ConfirmPoll:    10 * time.Millisecond,
		BackupBatch:    300,
	}
}

// withLedger подменяет узел кошелька локальной цепочкой.
func withLedger(t *testing.T) *chaintest.Ledger {
	t.Helper()
	l := chaintest.New()
	old := openEnv
	openEnv = func(cfg *config.Config) (*bootstrap.Env, func() error, error) {
		keys := bootstrap.Keystore(cfg)
		addr, err := keys.Address()
		if err != nil {
			return nil, nil, err
		}
		return bootstrap.OpenWith(cfg, keys, addr, l, nil, zap.NewNop().Sugar())
	}
	t.Cleanup(func() { openEnv = old })
	return l
}
