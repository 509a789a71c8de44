package commands

import (
	"context"
	"flag"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"AvailWallet/internal/cli/chain"
	"AvailWallet/internal/cli/store"
	"AvailWallet/internal/cli/wallet"
	"AvailWallet/internal/config"
)

type scanCmd struct{}

func (scanCmd) Name() string        { return "scan" }
func (scanCmd) Description() string { return "Просканировать цепочку до последнего блока" }
func (scanCmd) Usage() string       { return "scan [--from=H --to=H] <password>" }

func (scanCmd) Run(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("scan", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	from := fs.Uint("from", 0, "начало диапазона для повторного сканирования")
	to := fs.Uint("to", 0, "конец диапазона (включительно)")
	if err := fs.Parse(args); err != nil || fs.NArg() != 1 || *to < *from {
		return ErrUsage
	}
	ctx, env, done, err := unlock(ctx, cfg, fs.Arg(0))
	if err != nil {
		return err
	}
	defer done()

	if *to > 0 {
		fmt.Fprintf(Out, "→ Повторное сканирование блоков %d–%d…\n", *from, *to)
		err = env.Wallet.Rescan(ctx, uint32(*from), uint32(*to))
	} else {
		fmt.Fprintln(Out, "→ Сканирование…")
		err = env.Wallet.Scan(ctx)
	}
	if err != nil {
		return err
	}
	last, err := env.Store.LastSync(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(Out, "✓ Готово, следующая высота: %d\n", last)
	return nil
}

type balanceCmd struct{}

func (balanceCmd) Name() string        { return "balance" }
func (balanceCmd) Description() string { return "Показать приватные и публичный балансы" }
func (balanceCmd) Usage() string       { return "balance <password>" }

func (balanceCmd) Run(ctx context.Context, cfg *config.Config, args []string) error {
	if len(args) != 1 {
		return ErrUsage
	}
	ctx, env, done, err := unlock(ctx, cfg, args[0])
	if err != nil {
		return err
	}
	defer done()

	balances, err := env.Wallet.Balances(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TOKEN\tPROGRAM\tPRIVATE")
	for _, b := range balances {
		amount := fmt.Sprint(b.Amount)
		if chain.IsCredits(b.ProgramID) {
			amount = formatCredits(b.Amount)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", b.TokenName, b.ProgramID, amount)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	public, err := env.Wallet.PublicBalance(ctx)
	if err != nil {
		fmt.Fprintf(Out, "! Публичный баланс недоступен: %v\n", err)
		return nil
	}
	fmt.Fprintf(Out, "Публичный баланс: %s credits\n", formatCredits(public))
	return nil
}

type recordsCmd struct{}

func (recordsCmd) Name() string        { return "records" }
func (recordsCmd) Description() string { return "Список записей кошелька" }
func (recordsCmd) Usage() string       { return "records [--all] [--program=ID] <password>" }

func (recordsCmd) Run(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("records", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	all := fs.Bool("all", false, "включая потраченные")
	program := fs.String("program", "", "только записи программы")
	if err := fs.Parse(args); err != nil || fs.NArg() != 1 {
		return ErrUsage
	}
	ctx, env, done, err := unlock(ctx, cfg, fs.Arg(0))
	if err != nil {
		return err
	}
	defer done()

	recs, err := env.Wallet.Records(ctx, wallet.RecordQuery{ProgramID: *program, Unspent: !*all})
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PROGRAM\tNAME\tTYPE\tAMOUNT\tSPENT\tHEIGHT\tNONCE")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%t\t%d\t%s\n", r.ProgramID, r.RecordName, r.RecordType, r.Amount, r.Spent, r.BlockHeight, r.Nonce)
	}
	return tw.Flush()
}

type historyCmd struct{}

func (historyCmd) Name() string        { return "history" }
func (historyCmd) Description() string { return "История транзакций" }
func (historyCmd) Usage() string       { return "history [--limit=N] <password>" }

func (historyCmd) Run(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	limit := fs.Int("limit", 20, "сколько записей показать")
	if err := fs.Parse(args); err != nil || fs.NArg() != 1 {
		return ErrUsage
	}
	ctx, env, done, err := unlock(ctx, cfg, fs.Arg(0))
	if err != nil {
		return err
	}
	defer done()

	entries, err := env.Wallet.History(ctx, *limit)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tEVENT\tSTATE\tPROGRAM\tFUNCTION\tAMOUNT\tTX\tNOTE")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.ID, e.Created.Local().Format(time.DateTime), e.EventType, e.State,
			e.ProgramID, e.FunctionID, optional(e.Amount), e.TransactionID, e.Error)
	}
	return tw.Flush()
}

func optional(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprint(*v)
}

type statusCmd struct{}

func (statusCmd) Name() string        { return "status" }
func (statusCmd) Description() string { return "Состояние локальной базы кошелька" }
func (statusCmd) Usage() string       { return "status" }

func (statusCmd) Run(ctx context.Context, cfg *config.Config, args []string) error {
	if len(args) != 0 {
		return ErrUsage
	}
	env, done, err := openEnv(cfg)
	if err != nil {
		return err
	}
	defer done()
	prefs, err := env.Store.Prefs(ctx)
	if err != nil {
		return err
	}
	unsynced, err := env.Store.Count(ctx, store.Filter{Unsynced: true})
	if err != nil {
		return err
	}
	fmt.Fprintf(Out, "Address: %s\n", env.Address)
	fmt.Fprintf(Out, "Network: %s\n", cfg.Network)
	fmt.Fprintf(Out, "Next height: %d\n", prefs.LastSync)
	fmt.Fprintf(Out, "Backup: %t\n", prefs.Backup)
	fmt.Fprintf(Out, "Last backup sync: %s\n", stamp(prefs.LastBackupSync))
	fmt.Fprintf(Out, "Last messages sync: %s\n", stamp(prefs.LastTxSync))
	fmt.Fprintf(Out, "Rows not backed up: %d\n", unsynced)
	return nil
}

func stamp(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Local().Format(time.DateTime)
}


func init() {
	Register(SectionChain,
		scanCmd{},
		balanceCmd{},
		recordsCmd{},
		historyCmd{},
		statusCmd{},
	)
}
