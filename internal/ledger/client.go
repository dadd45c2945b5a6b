package ledger

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"chargehive/internal/apperr"
	"chargehive/internal/price"
	"chargehive/internal/util"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// historyWindow bounds the block-range scan used for transaction
// history. History is best-effort: anything older than this window is
// not reported.
const historyWindow = 1000

// Client is a thin REST client over the chain gateway. It builds and
// signs transactions locally, submits them, and blocks until they seal.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	serviceAddress string
	serviceKey     string
	sealTimeout    time.Duration
	pollInterval   time.Duration
	logger         *zap.Logger
}

// NewClient creates a ledger client. serviceAddress/serviceKey identify
// the custodial service account that pays for account creation.
func NewClient(gatewayURL, serviceAddress, serviceKey string, sealTimeout, pollInterval time.Duration) *Client {
	return &Client{
		baseURL:        strings.TrimRight(gatewayURL, "/"),
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		serviceAddress: serviceAddress,
		serviceKey:     serviceKey,
		sealTimeout:    sealTimeout,
		pollInterval:   pollInterval,
		logger:         util.GetLogger(),
	}
}

// TransferResult reports a sealed transfer.
type TransferResult struct {
	TransactionID string
	Sealed        bool
}

// AccountInfo is the on-chain view of an account.
type AccountInfo struct {
	Address  string
	Balance  decimal.Decimal
	KeyCount int
}

// TxSummary is one entry of the best-effort transaction history.
type TxSummary struct {
	Type           string    `json:"type"`
	TransactionID  string    `json:"transaction_id"`
	Amount         string    `json:"amount"`
	Counterparty   string    `json:"counterparty,omitempty"`
	BlockHeight    uint64    `json:"block_height"`
	BlockTimestamp time.Time `json:"block_timestamp"`
	Status         string    `json:"status"`
}

// cadenceArg is a JSON-CDC encoded transaction argument.
type cadenceArg struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// CreateAccount submits an account-creation transaction signed by the
// service account and blocks until it seals. Returns the new address
// parsed from the AccountCreated event.
func (c *Client) CreateAccount(ctx context.Context, publicKeyHex string) (string, error) {
	if c.serviceAddress == "" || c.serviceKey == "" {
		return "", apperr.New(apperr.KindChainFailure, "chain service account not configured")
	}

	txID, err := c.submitTransaction(ctx, createAccountTx,
		[]cadenceArg{{Type: "String", Value: publicKeyHex}},
		c.serviceAddress, c.serviceKey)
	if err != nil {
		return "", apperr.Wrap(apperr.KindChainFailure, "account creation submission failed", err)
	}

	result, err := c.waitForSeal(ctx, txID)
	if err != nil {
		return "", apperr.Wrap(apperr.KindChainFailure, "account creation did not seal", err)
	}
	if result.errorMessage != "" {
		return "", apperr.Newf(apperr.KindChainFailure, "account creation failed: %s", result.errorMessage)
	}

	address := result.accountCreatedAddress()
	if address == "" {
		return "", apperr.New(apperr.KindChainFailure, "account creation event not found")
	}

	c.logger.Info("Chain account created",
		zap.String("address", address),
		zap.String("tx_id", txID))
	return address, nil
}

// SetupTokenVault initializes the settlement-token vault on an account
// so it can receive deposits. Signed by the account itself.
func (c *Client) SetupTokenVault(ctx context.Context, address, privateKeyHex string) (string, error) {
	txID, err := c.submitTransaction(ctx, setupVaultTx, nil, address, privateKeyHex)
	if err != nil {
		return "", apperr.Wrap(apperr.KindChainFailure, "vault setup submission failed", err)
	}

	result, err := c.waitForSeal(ctx, txID)
	if err != nil {
		return txID, apperr.Wrap(apperr.KindChainFailure, "vault setup did not seal", err)
	}
	if result.errorMessage != "" {
		return txID, apperr.Newf(apperr.KindChainFailure, "vault setup failed: %s", result.errorMessage)
	}
	return txID, nil
}

// Transfer moves amount tokens from one account to another and blocks
// until the transaction seals or errors.
func (c *Client) Transfer(ctx context.Context, fromAddress, fromPrivateKey, toAddress string, amount decimal.Decimal) (*TransferResult, error) {
	start := time.Now()
	defer func() {
		util.LedgerTransferLatency.Observe(time.Since(start).Seconds())
	}()

	args := []cadenceArg{
		{Type: "UFix64", Value: amount.StringFixed(price.TokenDecimals)},
		{Type: "Address", Value: withHexPrefix(toAddress)},
	}

	txID, err := c.submitTransaction(ctx, transferTokensTx, args, fromAddress, fromPrivateKey)
	if err != nil {
		util.LedgerTransfersTotal.WithLabelValues("unreachable").Inc()
		return nil, apperr.Wrap(apperr.KindChainFailure, "transfer submission failed", err)
	}

	c.logger.Info("Transfer transaction submitted",
		zap.String("tx_id", txID),
		zap.String("from", fromAddress),
		zap.String("to", toAddress),
		zap.String("amount", amount.StringFixed(price.TokenDecimals)))

	result, err := c.waitForSeal(ctx, txID)
	if err != nil {
		util.LedgerTransfersTotal.WithLabelValues("timeout").Inc()
		return nil, apperr.Wrap(apperr.KindChainFailure, "transfer did not seal within timeout", err)
	}
	if result.errorMessage != "" {
		util.LedgerTransfersTotal.WithLabelValues("execution_error").Inc()
		if strings.Contains(strings.ToLower(result.errorMessage), "insufficient") {
			return nil, apperr.Newf(apperr.KindChainFailure, "insufficient funds: %s", result.errorMessage)
		}
		return nil, apperr.Newf(apperr.KindChainFailure, "transfer failed: %s", result.errorMessage)
	}

	util.LedgerTransfersTotal.WithLabelValues("sealed").Inc()
	return &TransferResult{TransactionID: txID, Sealed: true}, nil
}

// GetBalance returns the settlement-token balance of an account.
func (c *Client) GetBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	info, err := c.GetAccountInfo(ctx, address)
	if err != nil {
		return decimal.Zero, err
	}
	return info.Balance, nil
}

// GetAccountInfo fetches the on-chain account record.
func (c *Client) GetAccountInfo(ctx context.Context, address string) (*AccountInfo, error) {
	body, err := c.getJSON(ctx, "/v1/accounts/"+sansHexPrefix(address)+"?expand=keys")
	if err != nil {
		return nil, apperr.Wrap(apperr.KindChainFailure, "failed to fetch account", err)
	}

	parsed := gjson.ParseBytes(body)
	balanceRaw := parsed.Get("balance").String()
	balance, err := decimal.NewFromString(balanceRaw)
	if err != nil {
		return nil, apperr.Newf(apperr.KindChainFailure, "unparseable account balance %q", balanceRaw)
	}

	// The gateway reports balances in the token's smallest unit.
	return &AccountInfo{
		Address:  withHexPrefix(parsed.Get("address").String()),
		Balance:  balance.Shift(-price.TokenDecimals),
		KeyCount: int(parsed.Get("keys.#").Int()),
	}, nil
}

// GetTransactionHistory scans the last historyWindow sealed blocks for
// deposit and withdraw events touching address. Best-effort only: the
// window bounds completeness.
func (c *Client) GetTransactionHistory(ctx context.Context, address string, limit int) ([]TxSummary, error) {
	latest, err := c.latestSealedHeight(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindChainFailure, "failed to fetch sealed height", err)
	}

	start := uint64(0)
	if latest > historyWindow {
		start = latest - historyWindow
	}

	normalized := strings.ToLower(sansHexPrefix(address))
	var history []TxSummary

	withdraws, err := c.fetchEvents(ctx, eventTokensWithdrawn, start, latest)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindChainFailure, "failed to fetch withdraw events", err)
	}
	for _, ev := range withdraws {
		if strings.ToLower(sansHexPrefix(ev.counterpartyFrom)) == normalized {
			history = append(history, TxSummary{
				Type:           "sent",
				TransactionID:  ev.transactionID,
				Amount:         ev.amount,
				Counterparty:   ev.counterpartyFrom,
				BlockHeight:    ev.blockHeight,
				BlockTimestamp: ev.blockTimestamp,
				Status:         "sealed",
			})
		}
	}

	deposits, err := c.fetchEvents(ctx, eventTokensDeposited, start, latest)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindChainFailure, "failed to fetch deposit events", err)
	}
	for _, ev := range deposits {
		if strings.ToLower(sansHexPrefix(ev.counterpartyTo)) == normalized {
			history = append(history, TxSummary{
				Type:           "received",
				TransactionID:  ev.transactionID,
				Amount:         ev.amount,
				Counterparty:   ev.counterpartyTo,
				BlockHeight:    ev.blockHeight,
				BlockTimestamp: ev.blockTimestamp,
				Status:         "sealed",
			})
		}
	}

	sort.Slice(history, func(i, j int) bool {
		return history[i].BlockHeight > history[j].BlockHeight
	})
	if limit > 0 && len(history) > limit {
		history = history[:limit]
	}
	return history, nil
}

// submitTransaction encodes, signs, and posts a transaction. The
// gateway accepts base64 Cadence with JSON-CDC arguments and an
// envelope signature over the SHA3-256 digest of the canonical payload.
func (c *Client) submitTransaction(ctx context.Context, script string, args []cadenceArg, signerAddress, signerKey string) (string, error) {
	encodedArgs := make([]string, 0, len(args))
	for _, a := range args {
		raw, err := json.Marshal(a)
		if err != nil {
			return "", fmt.Errorf("failed to encode argument: %w", err)
		}
		encodedArgs = append(encodedArgs, base64.StdEncoding.EncodeToString(raw))
	}

	payload := struct {
		Script    string   `json:"script"`
		Arguments []string `json:"arguments"`
		Proposer  string   `json:"proposer"`
		Payer     string   `json:"payer"`
	}{
		Script:    base64.StdEncoding.EncodeToString([]byte(script)),
		Arguments: encodedArgs,
		Proposer:  sansHexPrefix(signerAddress),
		Payer:     sansHexPrefix(signerAddress),
	}

	message, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode transaction payload: %w", err)
	}

	signature, err := signMessage(signerKey, message)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	body := map[string]interface{}{
		"script":      payload.Script,
		"arguments":   payload.Arguments,
		"proposer":    payload.Proposer,
		"payer":       payload.Payer,
		"authorizers": []string{payload.Proposer},
		"envelope_signatures": []map[string]interface{}{
			{
				"address":   payload.Proposer,
				"key_index": 0,
				"signature": base64.StdEncoding.EncodeToString(signature),
			},
		},
	}

	resp, err := c.postJSON(ctx, "/v1/transactions", body)
	if err != nil {
		return "", err
	}

	txID := gjson.GetBytes(resp, "id").String()
	if txID == "" {
		return "", fmt.Errorf("gateway returned no transaction id")
	}
	return txID, nil
}

type txResult struct {
	status       string
	errorMessage string
	events       []chainEvent
}

func (r *txResult) accountCreatedAddress() string {
	for _, ev := range r.events {
		if ev.eventType == eventAccountCreated {
			return ev.counterpartyTo
		}
	}
	return ""
}

// waitForSeal polls the transaction result until it reaches the sealed
// state or the seal timeout elapses.
func (c *Client) waitForSeal(ctx context.Context, txID string) (*txResult, error) {
	deadline := time.NewTimer(c.sealTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(c.pollInterval)
	defer tick.Stop()

	for {
		body, err := c.getJSON(ctx, "/v1/transaction_results/"+txID)
		if err == nil {
			parsed := gjson.ParseBytes(body)
			status := strings.ToUpper(parsed.Get("status").String())
			if status == "SEALED" {
				return &txResult{
					status:       status,
					errorMessage: parsed.Get("error_message").String(),
					events:       parseResultEvents(parsed.Get("events")),
				}, nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, fmt.Errorf("transaction %s not sealed after %s", txID, c.sealTimeout)
		case <-tick.C:
		}
	}
}

// chainEvent is a decoded gateway event. Payloads arrive base64-encoded
// JSON-CDC.
type chainEvent struct {
	eventType        string
	transactionID    string
	amount           string
	counterpartyFrom string
	counterpartyTo   string
	blockHeight      uint64
	blockTimestamp   time.Time
}

func (c *Client) latestSealedHeight(ctx context.Context) (uint64, error) {
	body, err := c.getJSON(ctx, "/v1/blocks?height=sealed")
	if err != nil {
		return 0, err
	}
	height := gjson.GetBytes(body, "0.header.height")
	if !height.Exists() {
		return 0, fmt.Errorf("gateway returned no sealed block")
	}
	return height.Uint(), nil
}

func (c *Client) fetchEvents(ctx context.Context, eventType string, start, end uint64) ([]chainEvent, error) {
	path := fmt.Sprintf("/v1/events?type=%s&start_height=%d&end_height=%d", eventType, start, end)
	body, err := c.getJSON(ctx, path)
	if err != nil {
		return nil, err
	}

	var events []chainEvent
	gjson.ParseBytes(body).ForEach(func(_, block gjson.Result) bool {
		height := block.Get("block_height").Uint()
		ts, _ := time.Parse(time.RFC3339, block.Get("block_timestamp").String())
		block.Get("events").ForEach(func(_, raw gjson.Result) bool {
			ev := decodeEventPayload(raw)
			ev.blockHeight = height
			ev.blockTimestamp = ts
			events = append(events, ev)
			return true
		})
		return true
	})
	return events, nil
}

func parseResultEvents(raw gjson.Result) []chainEvent {
	var events []chainEvent
	raw.ForEach(func(_, ev gjson.Result) bool {
		events = append(events, decodeEventPayload(ev))
		return true
	})
	return events
}

// decodeEventPayload extracts amount/from/to fields from a JSON-CDC
// payload of a token or account event.
func decodeEventPayload(raw gjson.Result) chainEvent {
	ev := chainEvent{
		eventType:     raw.Get("type").String(),
		transactionID: raw.Get("transaction_id").String(),
	}

	payload, err := base64.StdEncoding.DecodeString(raw.Get("payload").String())
	if err != nil {
		return ev
	}

	gjson.GetBytes(payload, "value.fields").ForEach(func(_, field gjson.Result) bool {
		name := field.Get("name").String()
		value := field.Get("value")
		// Optional values nest one level deeper.
		if value.Get("type").String() == "Optional" {
			value = value.Get("value")
		}
		switch name {
		case "amount":
			ev.amount = value.Get("value").String()
		case "from":
			ev.counterpartyFrom = value.Get("value").String()
		case "to", "address":
			ev.counterpartyTo = value.Get("value").String()
		}
		return true
	})
	return ev
}

func (c *Client) getJSON(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *Client) postJSON(ctx context.Context, path string, body interface{}) ([]byte, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chain gateway unreachable: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read gateway response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("chain gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func sansHexPrefix(address string) string {
	return strings.TrimPrefix(address, "0x")
}

func withHexPrefix(address string) string {
	if strings.HasPrefix(address, "0x") {
		return address
	}
	return "0x" + address
}
