package bootstrap

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"go.uber.org/zap"

	"AvailWallet/internal/cli/chain/chaintest"
	"AvailWallet/internal/cli/crypto"
	"AvailWallet/internal/config"
)

// helper: временный пользовательский конфиг для тестов
func setTempCfg(t *testing.T) *config.Config {
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
		ClientDBPath: db,
		KeystoreDir:  filepath.Join(dir, "keys"),
		ServerURL:    "http://127.0.0.1:1",
		NodeURL:      "http://127.0.0.1:1",
		Network:      "testnet",
	}
}

func TestOpen_SuccessAndCleanup(t *testing.T) {
	cfg := setTempCfg(t)
	pk := crypto.PrivateKeyFromSeed([]byte("john"))
	if err := Keystore(cfg).Store("pw", pk, ""); err != nil {
		t.Fatalf("store keys: %v", err)
	}
	env, done, err := Open(cfg, nil, nil, zap.NewNop().Sugar())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if env.Address != pk.Address().String() {
		t.Fatalf("address mismatch: %s", env.Address)
	}
	// для адреса создаётся своя база: CLIENT_DB_PATH/<address>/...
	if _, err := os.Stat(env.DBPath); err != nil {
		t.Fatalf("wallet sqlite not created: %v", err)
	}
	if filepath.Base(filepath.Dir(env.DBPath)) != env.Address {
		t.Fatalf("db must live under the address directory, got %s", env.DBPath)
	}
	if err := done(); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	// повторный вызов cleanup не должен паниковать/падать
	if err := done(); err != nil {
		t.Fatalf("second cleanup: %v", err)
	}
}

func TestOpen_ErrorWhenNoKeystore(t *testing.T) {
	cfg := setTempCfg(t)
	if _, _, err := Open(cfg, nil, nil, zap.NewNop().Sugar()); err == nil {
		t.Fatalf("expected error when no keystore exists")
	}
}

// Доп.кейс: ошибка OpenForAddress — когда CLIENT_DB_PATH указывает на обычный файл
func TestOpenWith_FailsWhenClientDBPathIsFile(t *testing.T) {
	cfg := setTempCfg(t)
	tmpFile := filepath.Join(t.TempDir(), "not_dir")
	if err := os.WriteFile(tmpFile, []byte("x"), 0o600); err != nil {
		t.Fatalf("prepare tmp file: %v", err)
	}
	cfg.ClientDBPath = tmpFile
	pk := crypto.PrivateKeyFromSeed([]byte("john"))
	if _, _, err := OpenWith(cfg, Keystore(cfg), pk.Address().String(), chaintest.New(), nil, zap.NewNop().Sugar()); err == nil {
		t.Fatalf("expected error when CLIENT_DB_PATH points to file, got nil")
	}
}
