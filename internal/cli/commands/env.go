package commands

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"AvailWallet/internal/cli/apperr"
	"AvailWallet/internal/cli/bootstrap"
	"AvailWallet/internal/cli/chain"
	"AvailWallet/internal/config"
)

// Logger — логгер компонентов кошелька. main заменяет его рабочим.
var Logger = zap.NewNop().Sugar()

// openEnv открывает кошелёк по конфигурации; в тестах подменяется.
var openEnv = func(cfg *config.Config) (*bootstrap.Env, func() error, error) {
	return bootstrap.Open(cfg, nil, nil, Logger)
}

// unlock открывает кошелёк и сессию ключа просмотра. cleanup закрывает БД.
func unlock(ctx context.Context, cfg *config.Config, password string) (context.Context, *bootstrap.Env, func() error, error) {
	env, done, err := openEnv(cfg)
	if err != nil {
		return ctx, nil, nil, err
	}
	ctx, err = env.Wallet.Unlock(ctx, password)
	if err != nil {
		_ = done()
		return ctx, nil, nil, err
	}
	return ctx, env, done, nil
}

// microPerCredit — число microcredits в одном credit.
const microPerCredit = 6

// parseAmount разбирает сумму: "1.5" — в credits, "1500000u64" — в microcredits.
func parseAmount(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "u64") {
		v, err := chain.ParseU64(s)
		if err != nil {
			return 0, apperr.Wrap(apperr.Validation, err, "Invalid amount")
		}
		return v, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, apperr.Wrap(apperr.Validation, err, "Invalid amount")
	}
	micro := d.Shift(microPerCredit)
	if micro.IsNegative() || !micro.Equal(micro.Truncate(0)) {
		return 0, apperr.Newf(apperr.Validation, "amount %s is not a whole number of microcredits", s)
	}
	return uint64(micro.IntPart()), nil
}

// formatCredits печатает microcredits в credits.
func formatCredits(micro uint64) string {
	return decimal.New(int64(micro), -microPerCredit).String()
}
