package commands

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"AvailWallet/internal/cli/event"
	"AvailWallet/internal/config"
)

type loginCmd struct{}

func (loginCmd) Name() string        { return "login" }
func (loginCmd) Description() string { return "Войти на сервер резервных копий" }
func (loginCmd) Usage() string       { return "login <password>" }

func (loginCmd) Run(ctx context.Context, cfg *config.Config, args []string) error {
	if len(args) != 1 {
		return ErrUsage
	}
	ctx, env, done, err := unlock(ctx, cfg, args[0])
	if err != nil {
		return err
	}
	defer done()
	if err := env.Wallet.Login(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(Out, "✓ Вход выполнен: %s\n", env.Address)
	return nil
}

type backupCmd struct{}

func (backupCmd) Name() string        { return "backup" }
func (backupCmd) Description() string { return "Включить, выключить или удалить резервную копию" }
func (backupCmd) Usage() string       { return "backup <password> on|off|delete" }

func (backupCmd) Run(ctx context.Context, cfg *config.Config, args []string) error {
	if len(args) != 2 {
		return ErrUsage
	}
	mode := strings.ToLower(args[1])
	if mode != "on" && mode != "off" && mode != "delete" {
		return ErrUsage
	}
	ctx, env, done, err := unlock(ctx, cfg, args[0])
	if err != nil {
		return err
	}
	defer done()

	switch mode {
	case "on":
		err = env.Wallet.SetBackup(ctx, true)
	case "off":
		err = env.Wallet.SetBackup(ctx, false)
	default:
		err = env.Wallet.DeleteBackup(ctx)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(Out, "✓ backup %s\n", mode)
	return nil
}

type syncCmd struct{}

func (syncCmd) Name() string        { return "sync" }
func (syncCmd) Description() string { return "Синхронизировать с сервером резервных копий" }
func (syncCmd) Usage() string       { return "sync <password>" }

func (syncCmd) Run(ctx context.Context, cfg *config.Config, args []string) error {
	if len(args) != 1 {
		return ErrUsage
	}
	ctx, env, done, err := unlock(ctx, cfg, args[0])
	if err != nil {
		return err
	}
	defer done()
	res, err := env.Wallet.Sync(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(Out, "✓ Отправлено строк: %d, получено переводов: %d\n", res.Pushed, res.Received)
	return nil
}

type recoverCmd struct{}

func (recoverCmd) Name() string        { return "recover" }
func (recoverCmd) Description() string { return "Восстановить данные кошелька из резервной копии" }
func (recoverCmd) Usage() string       { return "recover <password>" }

func (recoverCmd) Run(ctx context.Context, cfg *config.Config, args []string) error {
	if len(args) != 1 {
		return ErrUsage
	}
	ctx, env, done, err := unlock(ctx, cfg, args[0])
	if err != nil {
		return err
	}
	defer done()
	n, err := env.Wallet.Recover(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(Out, "✓ Восстановлено строк: %d\n", n)
	return nil
}

type runCmd struct{}

func (runCmd) Name() string        { return "run" }
func (runCmd) Description() string { return "Фоновый режим: сканирование и синхронизация до Ctrl+C" }
func (runCmd) Usage() string       { return "run <password>" }

func (runCmd) Run(ctx context.Context, cfg *config.Config, args []string) error {
	if len(args) != 1 {
		return ErrUsage
	}
	ctx, env, done, err := unlock(ctx, cfg, args[0])
	if err != nil {
		return err
	}
	defer done()

	// события приходят из воркеров шины
	var mu sync.Mutex
	show := func(evt event.Event) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(Out, "%s %s %+v\n", evt.Timestamp.Format("15:04:05"), evt.Type, evt.Data)
	}
	types := []event.EventType{event.ScanProgress, event.TxStateChange, event.TxInProgress, event.Reauthenticate}
	for _, t := range types {
		id := env.Bus.SubscribeFunc(t, show)
		defer env.Bus.Unsubscribe(t, id)
	}

	fmt.Fprintf(Out, "→ %s: работаю, Ctrl+C для выхода\n", env.Address)
	return env.Wallet.Run(ctx)
}

func init() {
	Register(SectionBackup,
		loginCmd{},
		backupCmd{},
		syncCmd{},
		recoverCmd{},
		runCmd{},
	)
}
