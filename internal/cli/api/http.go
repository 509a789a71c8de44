// Package api — HTTP-клиент сервера резервных копий. Сервер видит только шифртексты.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"AvailWallet/internal/cli/apperr"
	"AvailWallet/internal/cli/model"
	"AvailWallet/internal/cli/repo"
	"AvailWallet/internal/cli/session"
)

// CookieName — имя сессионной куки сервера.
const CookieName = "auth_token"

// Message — зашифрованное сообщение о переводе в почтовом ящике сервера.
type Message struct {
	ID         string    `json:"id"`
	To         string    `json:"to,omitempty"`
	Ciphertext []byte    `json:"ciphertext"`
	Nonce      []byte    `json:"nonce"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
}

type idsRequest struct {
	IDs []string `json:"ids"`
}

type countResponse struct {
	Count int64 `json:"count"`
}

// Client реализует BackupClient поверх REST.
type Client struct {
	base   string
	http   *http.Client
	tokens repo.TokenStore
	logger *zap.SugaredLogger
}

var _ session.AuthClient = (*Client)(nil)

func NewClient(baseURL string, tokens repo.TokenStore, logger *zap.SugaredLogger) *Client {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Client{
		base:   strings.TrimRight(baseURL, "/"),
		http:   &http.Client{Timeout: 30 * time.Second},
		tokens: tokens,
		logger: logger,
	}
}

func (c *Client) RequestChallenge(ctx context.Context, address string) (session.Challenge, error) {
	var ch session.Challenge
	err := c.call(ctx, http.MethodPost, "/auth/request", map[string]string{"address": address}, &ch)
	return ch, err
}

// Login обменивает подпись на сессионную куку и сохраняет её.
func (c *Client) Login(ctx context.Context, sessionID, signature string) error {
	resp, err := c.send(ctx, http.MethodPost, "/auth/login", map[string]string{
		"session_id": sessionID,
		"signature":  signature,
	})
	if err != nil {
		return err
	}
	return PersistAuthFromResponse(resp.Response, c.tokens)
}

func (c *Client) PostData(ctx context.Context, rows []model.EncryptedRow) error {
	return c.call(ctx, http.MethodPost, "/data", rows, nil)
}

// PutData обновляет строки; сервер применяет изменение, только если updated_at новее.
func (c *Client) PutData(ctx context.Context, rows []model.EncryptedRow) error {
	return c.call(ctx, http.MethodPut, "/data", rows, nil)
}

func (c *Client) MarkSynced(ctx context.Context, ids []string) error {
	return c.call(ctx, http.MethodPut, "/sync", idsRequest{IDs: ids}, nil)
}

func (c *Client) DeleteData(ctx context.Context) error {
	return c.call(ctx, http.MethodDelete, "/data", nil, nil)
}

func (c *Client) ImportData(ctx context.Context, rows []model.EncryptedRow) error {
	return c.call(ctx, http.MethodPost, "/import_data", rows, nil)
}

func (c *Client) DataCount(ctx context.Context) (int64, error) {
	var r countResponse
	err := c.call(ctx, http.MethodGet, "/data_count", nil, &r)
	return r.Count, err
}

// RecoverData возвращает страницу page (с нуля) всех строк пользователя.
func (c *Client) RecoverData(ctx context.Context, page int) ([]model.EncryptedRow, error) {
	var rows []model.EncryptedRow
	err := c.call(ctx, http.MethodGet, "/recover_data?page="+strconv.Itoa(page), nil, &rows)
	return rows, err
}

// TxsReceived забирает входящие сообщения о переводах.
func (c *Client) TxsReceived(ctx context.Context) ([]Message, error) {
	var msgs []Message
	err := c.call(ctx, http.MethodPost, "/txs_received", struct{}{}, &msgs)
	return msgs, err
}

// DeleteTxsIn подтверждает обработку входящих сообщений.
func (c *Client) DeleteTxsIn(ctx context.Context, ids []string) error {
	return c.call(ctx, http.MethodDelete, "/txs_in", idsRequest{IDs: ids}, nil)
}

// TxSent кладёт сообщение в ящик получателя msg.To.
func (c *Client) TxSent(ctx context.Context, msg Message) error {
	return c.call(ctx, http.MethodPost, "/tx_sent", msg, nil)
}

func (c *Client) call(ctx context.Context, method, path string, payload, out any) error {
	resp, err := c.send(ctx, method, path, payload)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.body, out); err != nil {
		return apperr.Wrap(apperr.External, fmt.Errorf("decode %s: %w", path, err), "Invalid backup server response")
	}
	return nil
}

type response struct {
	*http.Response
	body []byte
}

// send выполняет запрос с кукой сессии. 200 — успех, 401 — Unauthorized, прочее — External.
func (c *Client) send(ctx context.Context, method, path string, payload any) (*response, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, err, "failed to encode request")
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, err, "failed to build request")
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		if token, err := c.tokens.Load(); err == nil {
			req.AddCookie(&http.Cookie{Name: CookieName, Value: token})
		}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.External, err, "Backup server is unreachable")
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	c.logger.Debugw("backup request", "method", method, "path", path, "status", resp.StatusCode)

	switch resp.StatusCode {
	case http.StatusOK:
		return &response{Response: resp, body: data}, nil
	case http.StatusUnauthorized:
		if c.tokens != nil {
			_ = c.tokens.Clear()
		}
		return nil, apperr.New(apperr.Unauthorized,
			fmt.Sprintf("%s %s: unauthorized", method, path), "Backup session expired, please log in again")
	}
	return nil, apperr.New(apperr.External,
		fmt.Sprintf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(data))),
		"Backup server error")
}

// PersistAuthFromResponse извлекает auth cookie из ответа и сохраняет его в tokens.
func PersistAuthFromResponse(resp *http.Response, tokens repo.TokenStore) error {
	for _, c := range resp.Cookies() {
		if c.Name == CookieName && c.Value != "" {
			if tokens == nil {
				return nil
			}
			return tokens.Save(c.Value)
		}
	}
	return apperr.New(apperr.External, "no auth cookie in response", "Backup server did not start a session")
}
