// Package rest — клиент REST API узла сети. Чтение цепочки идёт напрямую,
// а исполнение, деплой и переводы собираются внешним Prover и только рассылаются узлом.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"AvailWallet/internal/cli/apperr"
	"AvailWallet/internal/cli/chain"
)

const (
	DefaultRPS     = 10
	DefaultTimeout = 30 * time.Second

	// maxBlockRange — сколько блоков узел отдаёт за один запрос.
	maxBlockRange = 50
)

// ErrNoProver — клиент создан без Prover и не умеет собирать транзакции.
var ErrNoProver = errors.New("no prover configured")

// Prover собирает и доказывает транзакции локально.
type Prover interface {
	Execute(ctx context.Context, req chain.ExecuteRequest) (*chain.Transaction, error)
	Deploy(ctx context.Context, req chain.DeployRequest) (*chain.Transaction, error)
	Transfer(ctx context.Context, req chain.TransferRequest) (*chain.Transaction, error)
}

type Config struct {
	BaseURL string
	Network string
	RPS     float64
	Timeout time.Duration
}

// Client реализует chain.Client поверх HTTP.
type Client struct {
	base    string
	http    *http.Client
	limiter *rate.Limiter
	prover  Prover
	logger  *zap.SugaredLogger
}

var _ chain.Client = (*Client)(nil)

func New(cfg Config, prover Prover, logger *zap.SugaredLogger) *Client {
	if cfg.RPS <= 0 {
		cfg.RPS = DefaultRPS
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Network == "" {
		cfg.Network = "testnet"
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Client{
		base:    strings.TrimRight(cfg.BaseURL, "/") + "/" + cfg.Network,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), max(1, int(cfg.RPS))),
		prover:  prover,
		logger:  logger,
	}
}

func (c *Client) LatestHeight(ctx context.Context) (uint32, error) {
	var h uint32
	err := c.get(ctx, "/block/height/latest", &h)
	return h, err
}

func (c *Client) GetBlock(ctx context.Context, height uint32) (*chain.Block, error) {
	var b chain.Block
	if err := c.get(ctx, "/block/"+strconv.FormatUint(uint64(height), 10), &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// GetBlocks возвращает блоки [start, end), разбивая диапазон на запросы по maxBlockRange.
func (c *Client) GetBlocks(ctx context.Context, start, end uint32) ([]chain.Block, error) {
	var out []chain.Block
	for lo := start; lo < end; lo += maxBlockRange {
		hi := min(lo+maxBlockRange, end)
		var page []chain.Block
		path := fmt.Sprintf("/blocks?start=%d&end=%d", lo, hi)
		if err := c.get(ctx, path, &page); err != nil {
			return nil, err
		}
		out = append(out, page...)
	}
	return out, nil
}

func (c *Client) GetTransaction(ctx context.Context, id string) (*chain.TransactionStatus, error) {
	var st chain.TransactionStatus
	if err := c.get(ctx, "/transaction/confirmed/"+url.PathEscape(id), &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *Client) GetProgram(ctx context.Context, id string) (*chain.Program, error) {
	var p chain.Program
	if err := c.get(ctx, "/program/"+url.PathEscape(id), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) GetMappingValue(ctx context.Context, program, mapping, key string) (string, error) {
	var v *string
	path := "/program/" + url.PathEscape(program) + "/mapping/" + url.PathEscape(mapping) + "/" + url.PathEscape(key)
	if err := c.get(ctx, path, &v); err != nil {
		return "", err
	}
	if v == nil {
		return "", apperr.Newf(apperr.NotFound, "mapping %s/%s has no key %s", program, mapping, key)
	}
	return *v, nil
}

func (c *Client) ExecuteProgram(ctx context.Context, req chain.ExecuteRequest) (string, error) {
	if c.prover == nil {
		return "", apperr.Wrap(apperr.Node, ErrNoProver, "Transaction building is not available")
	}
	tx, err := c.prover.Execute(ctx, req)
	if err != nil {
		return "", apperr.Wrap(apperr.SnarkVm, err, "Failed to build transaction")
	}
	return c.Broadcast(ctx, tx)
}

func (c *Client) DeployProgram(ctx context.Context, req chain.DeployRequest) (string, error) {
	if c.prover == nil {
		return "", apperr.Wrap(apperr.Node, ErrNoProver, "Transaction building is not available")
	}
	tx, err := c.prover.Deploy(ctx, req)
	if err != nil {
		return "", apperr.Wrap(apperr.SnarkVm, err, "Failed to build deployment")
	}
	return c.Broadcast(ctx, tx)
}

func (c *Client) Transfer(ctx context.Context, req chain.TransferRequest) (string, error) {
	if c.prover == nil {
		return "", apperr.Wrap(apperr.Node, ErrNoProver, "Transaction building is not available")
	}
	tx, err := c.prover.Transfer(ctx, req)
	if err != nil {
		return "", apperr.Wrap(apperr.SnarkVm, err, "Failed to build transfer")
	}
	return c.Broadcast(ctx, tx)
}

// Broadcast отправляет собранную транзакцию и возвращает её id.
func (c *Client) Broadcast(ctx context.Context, tx *chain.Transaction) (string, error) {
	body, err := json.Marshal(tx)
	if err != nil {
		return "", apperr.Wrap(apperr.Internal, err, "failed to encode transaction")
	}
	var id string
	if err := c.do(ctx, http.MethodPost, "/transaction/broadcast", body, &id); err != nil {
		return "", err
	}
	c.logger.Infow("transaction broadcast", "tx", id)
	return id, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

// do выполняет запрос с учётом лимита частоты. 404 — NotFound, прочие ошибки — Node.
func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return apperr.Wrap(apperr.Node, err, "Node request cancelled")
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, bytes.NewReader(body))
	if err != nil {
		return apperr.Wrap(apperr.Internal, err, "failed to build node request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return apperr.Wrap(apperr.Node, err, "Node is unreachable")
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperr.Wrap(apperr.Node, err, "Failed to read node response")
	}
	c.logger.Debugw("node request", "method", method, "path", path, "status", resp.StatusCode)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return apperr.Newf(apperr.NotFound, "%s %s: not found", method, path)
	case resp.StatusCode != http.StatusOK:
		return apperr.New(apperr.Node,
			fmt.Sprintf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(data))),
			"Node request failed")
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return apperr.Wrap(apperr.Node, fmt.Errorf("decode %s: %w", path, err), "Invalid node response")
	}
	return nil
}
