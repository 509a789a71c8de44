package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"AvailWallet/internal/config"
)

// ErrUsage is returned by a command when arguments are invalid and usage should be shown.
var ErrUsage = errors.New("usage")

// Command represents a CLI subcommand.
type Command interface {
	// Name returns the command name as typed by the user, e.g. "transfer".
	Name() string
	// Description is a short human-readable description shown in help.
	Description() string
	// Usage returns the exact usage string, e.g. "balance <password>".
	Usage() string
	// Run executes the command with provided args (without the command name).
	Run(ctx context.Context, cfg *config.Config, args []string) error
}

// Section — раздел справки, в котором показывается команда.
type Section int

const (
	SectionKeys Section = iota
	SectionChain
	SectionTransactions
	SectionBackup
	SectionOther
)

var sectionTitles = map[Section]string{
	SectionKeys:         "Ключи",
	SectionChain:        "Сканирование и баланс",
	SectionTransactions: "Транзакции",
	SectionBackup:       "Резервная копия и фоновая работа",
	SectionOther:        "Прочее",
}

type entry struct {
	cmd     Command
	section Section
}

// registry holds available commands by name.
var registry = map[string]entry{}

// Out — общий writer для вывода CLI. По умолчанию os.Stdout, но в тестах может переназначаться.
var Out io.Writer = os.Stdout

// Register добавляет команды раздела section. Вызывается из init() файлов команд.
func Register(section Section, cmds ...Command) {
	for _, c := range cmds {
		registry[c.Name()] = entry{cmd: c, section: section}
	}
}

// RegisterCmd adds a command outside of any wallet section.
func RegisterCmd(cmd Command) {
	Register(SectionOther, cmd)
}

// Get returns a command by name.
func Get(name string) (Command, bool) {
	e, ok := registry[name]
	return e.cmd, ok
}

// List returns all registered commands ordered by section, then by name.
func List() []Command {
	entries := sortedEntries()
	list := make([]Command, 0, len(entries))
	for _, e := range entries {
		list = append(list, e.cmd)
	}
	return list
}

func sortedEntries() []entry {
	list := make([]entry, 0, len(registry))
	for _, e := range registry {
		list = append(list, e)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].section != list[j].section {
			return list[i].section < list[j].section
		}
		return list[i].cmd.Name() < list[j].cmd.Name()
	})
	return list
}

// FormatGlobalUsage builds a help text grouped by section.
func FormatGlobalUsage() string {
	lines := []string{
		"AvailWallet CLI",
		"",
		"Usage:",
		"  wallet [--node URL] [--network NAME] [--base-url <host:port>] <command> [args]",
	}
	current := Section(-1)
	for _, e := range sortedEntries() {
		if e.section != current {
			current = e.section
			lines = append(lines, "", sectionTitles[current]+":")
		}
		lines = append(lines, fmt.Sprintf("  %-52s %s", e.cmd.Usage(), e.cmd.Description()))
	}
	lines = append(lines, "", "Amounts are in credits, e.g. 1.5; \"wallet help <command>\" shows one command.")
	return strings.Join(lines, "\n") + "\n"
}

// formatCommandUsage — справка одной команды.
func formatCommandUsage(c Command) string {
	if d := c.Description(); d != "" {
		return fmt.Sprintf("Usage: %s\n  %s\n", c.Usage(), d)
	}
	return fmt.Sprintf("Usage: %s\n", c.Usage())
}
