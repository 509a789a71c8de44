package commands

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"AvailWallet/internal/cli/apperr"
	"AvailWallet/internal/config"
)

// Коды выхода CLI.
const (
	exitOK      = 0
	exitFailed  = 1
	exitUsage   = 2
	exitNetwork = 3
)

// hints — подсказки к ошибкам, которые пользователь может исправить сам.
var hints = map[apperr.Kind]string{
	apperr.JoinRequired:        "join records first: wallet execute --record=N1 --record=N2 <password> credits.aleo join",
	apperr.InsufficientBalance: "run \"wallet scan <password>\" if funds were received recently",
}

// Dispatch is the single entry point to execute CLI commands.
// It prints help and usage messages and returns a process exit code.
func Dispatch(ctx context.Context, cfg *config.Config, args []string) int {
	// If user passed global --help after flags parsing, show global usage
	for _, a := range os.Args[1:] {
		if a == "--help" || a == "-h" {
			fmt.Fprint(Out, FormatGlobalUsage())
			return exitOK
		}
	}

	if !flag.Parsed() {
		flag.Parse()
	}

	if len(args) == 0 {
		fmt.Fprint(Out, FormatGlobalUsage())
		return exitUsage
	}

	name := strings.ToLower(args[0])
	if name == "help" { // wallet help [command]
		if len(args) == 1 {
			fmt.Fprint(Out, FormatGlobalUsage())
			return exitOK
		}
		if c, ok := Get(args[1]); ok {
			fmt.Fprint(Out, formatCommandUsage(c))
			return exitOK
		}
		fmt.Fprintf(Out, "Unknown command: %s\n\n", args[1])
		fmt.Fprint(Out, FormatGlobalUsage())
		return exitUsage
	}

	c, ok := Get(name)
	if !ok {
		fmt.Fprintf(Out, "Unknown command: %s\n\n", name)
		fmt.Fprint(Out, FormatGlobalUsage())
		return exitUsage
	}

	err := c.Run(ctx, cfg, args[1:])
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, ErrUsage):
		fmt.Fprintf(Out, "Usage: %s\n", c.Usage())
		return exitUsage
	}

	fmt.Fprintf(Out, "%s error: %s\n", name, apperr.ExternalMessage(err))
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		return exitFailed
	}
	if hint, ok := hints[ae.Kind]; ok {
		fmt.Fprintf(Out, "hint: %s\n", hint)
	}
	if ae.Kind == apperr.Node || ae.Kind == apperr.External {
		return exitNetwork
	}
	return exitFailed
}
