package commands

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"AvailWallet/internal/cli/apperr"
	"AvailWallet/internal/cli/chain"
	"AvailWallet/internal/cli/txlife"
	"AvailWallet/internal/config"
)

// feeFlags — общие флаги комиссии.
type feeFlags struct {
	fee     *string
	private *bool
	wait    *bool
}

func addFeeFlags(fs *flag.FlagSet) feeFlags {
	return feeFlags{
		fee:     fs.String("fee", "0.1", "комиссия в credits (или Nu64 в microcredits)"),
		private: fs.Bool("private-fee", false, "оплатить комиссию приватной записью"),
		wait:    fs.Bool("wait", false, "дождаться подтверждения"),
	}
}

var transferKinds = map[string]chain.TransferKind{
	"public":            chain.TransferPublic,
	"private":           chain.TransferPrivate,
	"public-to-private": chain.TransferPublicToPrivate,
	"private-to-public": chain.TransferPrivateToPublic,
}

type transferCmd struct{}

func (transferCmd) Name() string        { return "transfer" }
func (transferCmd) Description() string { return "Перевести credits или токены" }
func (transferCmd) Usage() string {
	return "transfer [--fee=X] [--private-fee] [--program=ID] [--wait] <password> <public|private|public-to-private|private-to-public> <recipient> <amount>"
}

func (transferCmd) Run(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("transfer", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	ff := addFeeFlags(fs)
	program := fs.String("program", chain.CreditsProgram, "токен-программа")
	if err := fs.Parse(args); err != nil || fs.NArg() != 4 {
		return ErrUsage
	}
	kind, ok := transferKinds[strings.ToLower(fs.Arg(1))]
	if !ok {
		return ErrUsage
	}
	amount, err := parseAmount(fs.Arg(3))
	if err != nil {
		return err
	}
	fee, err := parseAmount(*ff.fee)
	if err != nil {
		return err
	}
	ctx, env, done, err := unlock(ctx, cfg, fs.Arg(0))
	if err != nil {
		return err
	}
	defer done()

	id, err := env.Wallet.Transfer(ctx, fs.Arg(0), txlife.TransferIntent{
		Kind:       kind,
		ProgramID:  *program,
		Recipient:  fs.Arg(2),
		Amount:     amount,
		Fee:        fee,
		FeePrivate: *ff.private,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(Out, "→ Перевод отправлен: %s\n", id)
	if *ff.wait {
		env.Wallet.WaitConfirmations()
		fmt.Fprintln(Out, "✓ Наблюдение за транзакцией завершено, см. history")
	}
	return nil
}

type executeCmd struct{}

func (executeCmd) Name() string        { return "execute" }
func (executeCmd) Description() string { return "Исполнить функцию программы" }
func (executeCmd) Usage() string {
	return "execute [--fee=X] [--private-fee] [--record=NONCE]... [--wait] <password> <program> <function> [inputs...]"
}

// nonceList собирает повторяющийся флаг --record.
type nonceList []string

func (n *nonceList) String() string     { return strings.Join(*n, ",") }
func (n *nonceList) Set(v string) error { *n = append(*n, v); return nil }

func (executeCmd) Run(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("execute", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	ff := addFeeFlags(fs)
	var nonces nonceList
	fs.Var(&nonces, "record", "nonce записи кошелька, которую потребляет функция")
	if err := fs.Parse(args); err != nil || fs.NArg() < 3 {
		return ErrUsage
	}
	fee, err := parseAmount(*ff.fee)
	if err != nil {
		return err
	}
	ctx, env, done, err := unlock(ctx, cfg, fs.Arg(0))
	if err != nil {
		return err
	}
	defer done()

	id, err := env.Wallet.Execute(ctx, fs.Arg(0), txlife.ExecuteIntent{
		ProgramID:    fs.Arg(1),
		Function:     fs.Arg(2),
		Inputs:       fs.Args()[3:],
		RecordNonces: nonces,
		Fee:          fee,
		FeePrivate:   *ff.private,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(Out, "→ Исполнение отправлено: %s\n", id)
	if *ff.wait {
		env.Wallet.WaitConfirmations()
	}
	return nil
}

type deployCmd struct{}

func (deployCmd) Name() string        { return "deploy" }
func (deployCmd) Description() string { return "Развернуть программу" }
func (deployCmd) Usage() string {
	return "deploy [--fee=X] [--private-fee] [--source=FILE] [--wait] <password> <program.json>"
}

func (deployCmd) Run(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("deploy", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	ff := addFeeFlags(fs)
	sourcePath := fs.String("source", "", "исходный текст программы")
	if err := fs.Parse(args); err != nil || fs.NArg() != 2 {
		return ErrUsage
	}
	fee, err := parseAmount(*ff.fee)
	if err != nil {
		return err
	}
	raw, err := os.ReadFile(fs.Arg(1))
	if err != nil {
		return fmt.Errorf("read program: %w", err)
	}
	var prog chain.Program
	if err := json.Unmarshal(raw, &prog); err != nil {
		return apperr.Wrap(apperr.Validation, err, "Invalid program description")
	}
	var source string
	if *sourcePath != "" {
		b, err := os.ReadFile(*sourcePath)
		if err != nil {
			return fmt.Errorf("read source: %w", err)
		}
		source = string(b)
	}
	ctx, env, done, err := unlock(ctx, cfg, fs.Arg(0))
	if err != nil {
		return err
	}
	defer done()

	id, err := env.Wallet.Deploy(ctx, fs.Arg(0), txlife.DeployIntent{
		Program:    prog,
		Source:     source,
		Fee:        fee,
		FeePrivate: *ff.private,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(Out, "→ Деплой %s отправлен: %s\n", prog.ID, id)
	if *ff.wait {
		env.Wallet.WaitConfirmations()
	}
	return nil
}

type cancelCmd struct{}

func (cancelCmd) Name() string        { return "cancel" }
func (cancelCmd) Description() string { return "Отменить ещё не отправленную транзакцию" }
func (cancelCmd) Usage() string       { return "cancel <password> <id>" }

func (cancelCmd) Run(ctx context.Context, cfg *config.Config, args []string) error {
	if len(args) != 2 {
		return ErrUsage
	}
	ctx, env, done, err := unlock(ctx, cfg, args[0])
	if err != nil {
		return err
	}
	defer done()
	if err := env.Wallet.Cancel(ctx, args[1]); err != nil {
		return err
	}
	fmt.Fprintf(Out, "✓ Транзакция %s отменена\n", args[1])
	return nil
}

func init() {
	Register(SectionTransactions,
		transferCmd{},
		executeCmd{},
		deployCmd{},
		cancelCmd{},
	)
}
