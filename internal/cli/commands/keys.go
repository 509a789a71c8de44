package commands

import (
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	"io"

	"AvailWallet/internal/cli/apperr"
	"AvailWallet/internal/cli/bootstrap"
	"AvailWallet/internal/cli/crypto"
	"AvailWallet/internal/cli/keystore"
	"AvailWallet/internal/config"
)

type createCmd struct{}

func (createCmd) Name() string        { return "create" }
func (createCmd) Description() string { return "Создать новый кошелёк" }
func (createCmd) Usage() string       { return "create [--force] <password>" }

func (createCmd) Run(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	force := fs.Bool("force", false, "перезаписать существующее хранилище ключей")
	if err := fs.Parse(args); err != nil || fs.NArg() != 1 {
		return ErrUsage
	}
	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return fmt.Errorf("generate seed: %w", err)
	}
	return storeKey(cfg, crypto.PrivateKeyFromSeed(seed), fs.Arg(0), *force)
}

type importCmd struct{}

func (importCmd) Name() string        { return "import" }
func (importCmd) Description() string { return "Импортировать приватный ключ" }
func (importCmd) Usage() string       { return "import [--force] <private_key> <password>" }

func (importCmd) Run(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	force := fs.Bool("force", false, "перезаписать существующее хранилище ключей")
	if err := fs.Parse(args); err != nil || fs.NArg() != 2 {
		return ErrUsage
	}
	pk, err := crypto.ParsePrivateKey(fs.Arg(0))
	if err != nil {
		return apperr.Wrap(apperr.Validation, err, "Invalid private key")
	}
	return storeKey(cfg, pk, fs.Arg(1), *force)
}

func storeKey(cfg *config.Config, pk crypto.PrivateKey, password string, force bool) error {
	keys := bootstrap.Keystore(cfg)
	if addr, err := keys.Address(); err == nil && !force {
		return apperr.Newf(apperr.Validation, "keystore already holds %s, use --force to replace it", addr)
	}
	if err := keys.Store(password, pk, ""); err != nil {
		return err
	}
	fmt.Fprintf(Out, "✓ Кошелёк сохранён: %s\n", pk.Address().String())
	return nil
}

type addressCmd struct{}

func (addressCmd) Name() string        { return "address" }
func (addressCmd) Description() string { return "Показать адрес кошелька" }
func (addressCmd) Usage() string       { return "address" }

func (addressCmd) Run(ctx context.Context, cfg *config.Config, args []string) error {
	if len(args) != 0 {
		return ErrUsage
	}
	addr, err := bootstrap.Keystore(cfg).Address()
	if err != nil {
		return err
	}
	fmt.Fprintln(Out, addr)
	return nil
}

type viewKeyCmd struct{}

func (viewKeyCmd) Name() string        { return "view-key" }
func (viewKeyCmd) Description() string { return "Показать ключ просмотра" }
func (viewKeyCmd) Usage() string       { return "view-key <password>" }

func (viewKeyCmd) Run(ctx context.Context, cfg *config.Config, args []string) error {
	if len(args) != 1 {
		return ErrUsage
	}
	vk, err := bootstrap.Keystore(cfg).Read(args[0], keystore.View)
	if err != nil {
		return err
	}
	fmt.Fprintln(Out, vk)
	return nil
}

type forgetCmd struct{}

func (forgetCmd) Name() string        { return "forget" }
func (forgetCmd) Description() string { return "Удалить хранилище ключей с этого устройства" }
func (forgetCmd) Usage() string       { return "forget <password>" }

func (forgetCmd) Run(ctx context.Context, cfg *config.Config, args []string) error {
	if len(args) != 1 {
		return ErrUsage
	}
	keys := bootstrap.Keystore(cfg)
	// пароль проверяется, чтобы нельзя было случайно удалить чужой кошелёк
	if _, err := keys.PrivateKey(args[0]); err != nil {
		return err
	}
	if err := keys.Delete(); err != nil {
		return err
	}
	fmt.Fprintln(Out, "✓ Ключи удалены")
	return nil
}

func init() {
	Register(SectionKeys,
		createCmd{},
		importCmd{},
		addressCmd{},
		viewKeyCmd{},
		forgetCmd{},
	)
}
