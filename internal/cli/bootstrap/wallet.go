package bootstrap

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"AvailWallet/internal/cli/api"
	"AvailWallet/internal/cli/backup"
	"AvailWallet/internal/cli/chain"
	"AvailWallet/internal/cli/chain/rest"
	"AvailWallet/internal/cli/event"
	"AvailWallet/internal/cli/keystore"
	fsrepo "AvailWallet/internal/cli/repo/fs"
	"AvailWallet/internal/cli/scanner"
	"AvailWallet/internal/cli/store"
	"AvailWallet/internal/cli/txlife"
	"AvailWallet/internal/cli/wallet"
	"AvailWallet/internal/config"
)

// Env — всё, что команде нужно для работы с кошельком.
type Env struct {
	Wallet *wallet.Wallet
	Keys   *keystore.File
	Store  *store.Store
	Bus    *event.Bus
	// Address — адрес из хранилища ключей.
	Address string
	DBPath  string
}

// Keystore открывает файловое хранилище ключей из конфигурации.
func Keystore(cfg *config.Config) *keystore.File {
	return keystore.NewFile(cfg.KeystoreDir)
}

// Open собирает кошелёк для адреса из хранилища ключей: открывает его БД, выполняет миграции
// и подключает узел и сервер резервных копий. cleanup необходимо вызвать по окончании работы.
// prover может быть nil — тогда кошелёк только читает цепочку.
func Open(cfg *config.Config, prover rest.Prover, registry prometheus.Registerer, logger *zap.SugaredLogger) (*Env, func() error, error) {
	keys := Keystore(cfg)
	address, err := keys.Address()
	if err != nil {
		return nil, nil, fmt.Errorf("нет кошелька: выполните create или import: %w", err)
	}
	node := rest.New(rest.Config{
		BaseURL: cfg.NodeURL,
		Network: cfg.Network,
		RPS:     cfg.NodeRPS,
	}, prover, logger.Named("node"))
	return OpenWith(cfg, keys, address, node, registry, logger)
}

// OpenWith — Open с заданными хранилищем ключей и клиентом цепочки.
func OpenWith(cfg *config.Config, keys *keystore.File, address string, node chain.Client, registry prometheus.Registerer, logger *zap.SugaredLogger) (*Env, func() error, error) {
	st, dbPath, err := store.OpenForAddress(cfg.ClientDBPath, address)
	if err != nil {
		return nil, nil, fmt.Errorf("open wallet db: %w", err)
	}
	if err := st.Migrate(); err != nil {
		_ = st.Close()
		return nil, nil, fmt.Errorf("migrate wallet db: %w", err)
	}

	bus := event.NewBus(registry, logger.Named("events"))
	backupClient := api.NewClient(cfg.ServerURL, fsrepo.AuthFSStore{Address: address}, logger.Named("api"))
	w := wallet.New(wallet.Config{
		Network:    cfg.Network,
		SessionTTL: cfg.SessionTTL,
		Scanner: scanner.Config{
			BatchSize: cfg.ScanBatchSize,
			Workers:   cfg.ScanWorkers,
		},
		Lifecycle: txlife.Config{
			ConfirmTimeout:   cfg.ConfirmTimeout,
			PollInterval:     cfg.ConfirmPoll,
			UnconfirmedAfter: cfg.UnconfirmedAfter,
		},
		Backup:     backup.Config{BatchSize: cfg.BackupBatch},
		SweepEvery: time.Minute,
	}, wallet.Deps{
		Chain:    node,
		Store:    st,
		Keys:     keys,
		Backup:   backupClient,
		Emitter:  bus,
		Registry: registry,
		Logger:   logger,
	})

	var closed bool
	cleanup := func() error {
		if closed {
			return nil
		}
		closed = true
		w.Close()
		bus.Stop()
		return st.Close()
	}
	return &Env{Wallet: w, Keys: keys, Store: st, Bus: bus, Address: address, DBPath: dbPath}, cleanup, nil
}
