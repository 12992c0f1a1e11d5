/**
 * @description
 * This package provides the payment-channel client used by the echo bot. It
 * talks to a remote channel node over its HTTP JSON API for channel setup,
 * balance queries and transfer submission, and receives node events over an
 * AMQP topic exchange.
 *
 * Key features:
 * - Probes the Ethereum RPC endpoint at construction so an unreachable chain
 *   fails the process at startup rather than on first transfer.
 * - Opens the channel by presenting the wallet mnemonic to the node and
 *   persists the returned channel state through the store handle.
 * - Exposes free-balance queries and transfer submission with context support.
 *
 * @dependencies
 * - github.com/ethereum/go-ethereum: RPC probe, address types.
 * - github.com/rabbitmq/amqp091-go: Event subscription transport.
 * - github.com/rs/zerolog: Structured logging.
 */

package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// StateStore is the persistence handle the client writes channel state
// through. Satisfied by store.Repository.
type StateStore interface {
	SaveChannelState(ctx context.Context, publicIdentifier string, state []byte) error
	LatestChannelState(ctx context.Context, publicIdentifier string) ([]byte, error)
}

// Options configures NewClient.
type Options struct {
	Store        StateStore
	Mnemonic     string
	EthereumRPC  string // empty skips the chain probe
	MessagingURL string // empty disables the event subscription
	NodeURL      string
	Logger       zerolog.Logger
}

// Client is a client for a payment-channel node.
type Client struct {
	nodeURL    string
	httpClient *http.Client
	store      StateStore
	log        zerolog.Logger

	publicIdentifier   string
	freeBalanceAddress common.Address
	multisigAddress    common.Address
	chainID            *big.Int

	conn *amqp.Connection
	ch   *amqp.Channel
}

type connectRequest struct {
	Mnemonic string `json:"mnemonic"`
}

type connectResponse struct {
	PublicIdentifier   string          `json:"publicIdentifier"`
	FreeBalanceAddress string          `json:"freeBalanceAddress"`
	MultisigAddress    string          `json:"multisigAddress"`
	ChainID            uint64          `json:"chainId"`
	State              json.RawMessage `json:"state"`
}

type transferRequest struct {
	Amount    string `json:"amount"`
	Recipient string `json:"recipient"`
	AssetID   string `json:"assetId"`
}

type transferResponse struct {
	PaymentID string `json:"paymentId"`
}

type balanceResponse struct {
	FreeBalance map[string]string `json:"freeBalance"`
}

// nodeError is the node's error envelope on non-2xx responses.
type nodeError struct {
	Err struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

func (e *nodeError) Error() string {
	if e.Err.Code != "" {
		return fmt.Sprintf("node error %s: %s", e.Err.Code, e.Err.Message)
	}
	return fmt.Sprintf("node error: %s", e.Err.Message)
}

// NewClient constructs the channel client: chain probe, node handshake, state
// persistence, and (when a messaging URL is configured) the AMQP connection
// for events. Any failure here is meant to be fatal to the caller.
func NewClient(ctx context.Context, opts Options) (*Client, error) {
	if opts.NodeURL == "" {
		return nil, errors.New("channel: node URL is required")
	}
	if opts.Store == nil {
		return nil, errors.New("channel: state store is required")
	}

	c := &Client{
		nodeURL: strings.TrimRight(opts.NodeURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		store: opts.Store,
		log:   opts.Logger,
	}

	if opts.EthereumRPC != "" {
		ethc, err := ethclient.DialContext(ctx, opts.EthereumRPC)
		if err != nil {
			return nil, fmt.Errorf("dial ethereum rpc: %w", err)
		}
		chainID, err := ethc.ChainID(ctx)
		ethc.Close()
		if err != nil {
			return nil, fmt.Errorf("query chain id: %w", err)
		}
		c.chainID = chainID
	}

	if err := c.connect(ctx, opts.Mnemonic); err != nil {
		return nil, err
	}

	if opts.MessagingURL != "" {
		cleanURL, err := sanitizeAMQPURL(opts.MessagingURL)
		if err != nil {
			return nil, fmt.Errorf("messaging url: %w", err)
		}
		conn, err := amqp.Dial(cleanURL)
		if err != nil {
			return nil, fmt.Errorf("dial messaging: %w", err)
		}
		ch, err := conn.Channel()
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("open messaging channel: %w", err)
		}
		c.conn = conn
		c.ch = ch
	}

	return c, nil
}

// connect performs the node handshake and persists the returned state.
func (c *Client) connect(ctx context.Context, mnemonic string) error {
	var resp connectResponse
	if err := c.post(ctx, "/api/connect", connectRequest{Mnemonic: mnemonic}, &resp); err != nil {
		return fmt.Errorf("connect to node: %w", err)
	}
	if resp.PublicIdentifier == "" {
		return errors.New("connect to node: empty public identifier")
	}

	c.publicIdentifier = resp.PublicIdentifier
	c.freeBalanceAddress = common.HexToAddress(resp.FreeBalanceAddress)
	c.multisigAddress = common.HexToAddress(resp.MultisigAddress)

	if c.chainID != nil && resp.ChainID != 0 && c.chainID.Uint64() != resp.ChainID {
		c.log.Warn().
			Uint64("node_chain_id", resp.ChainID).
			Str("rpc_chain_id", c.chainID.String()).
			Msg("node and rpc disagree on chain id")
	}

	if len(resp.State) > 0 {
		if err := c.store.SaveChannelState(ctx, resp.PublicIdentifier, resp.State); err != nil {
			return fmt.Errorf("persist channel state: %w", err)
		}
	}

	c.log.Info().
		Str("public_identifier", c.publicIdentifier).
		Str("multisig", c.multisigAddress.Hex()).
		Msg("channel client connected")
	return nil
}

// PublicIdentifier returns the node-assigned identifier of this client.
func (c *Client) PublicIdentifier() string {
	return c.publicIdentifier
}

// FreeBalanceAddress returns the address holding this client's free balance.
func (c *Client) FreeBalanceAddress() common.Address {
	return c.freeBalanceAddress
}

// GetFreeBalance returns the channel's free balance for one asset, keyed by
// holder address.
func (c *Client) GetFreeBalance(ctx context.Context, assetID common.Address) (map[common.Address]*big.Int, error) {
	var resp balanceResponse
	if err := c.get(ctx, "/api/balance/"+assetID.Hex(), &resp); err != nil {
		return nil, fmt.Errorf("get free balance: %w", err)
	}

	balances := make(map[common.Address]*big.Int, len(resp.FreeBalance))
	for holder, amount := range resp.FreeBalance {
		value, ok := new(big.Int).SetString(amount, 10)
		if !ok {
			return nil, fmt.Errorf("get free balance: unparsable amount %q for %s", amount, holder)
		}
		balances[common.HexToAddress(holder)] = value
	}
	return balances, nil
}

// Transfer submits an outbound transfer and returns the node's receipt.
func (c *Client) Transfer(ctx context.Context, req TransferParams) (*TransferReceipt, error) {
	if req.Amount == nil || req.Amount.Sign() < 0 {
		return nil, errors.New("transfer: amount must be non-negative")
	}
	if req.Recipient == "" {
		return nil, errors.New("transfer: recipient is required")
	}

	payload := transferRequest{
		Amount:    req.Amount.String(),
		Recipient: req.Recipient,
		AssetID:   req.AssetID.Hex(),
	}
	var resp transferResponse
	if err := c.post(ctx, "/api/transfer", payload, &resp); err != nil {
		return nil, fmt.Errorf("transfer: %w", err)
	}
	return &TransferReceipt{PaymentID: resp.PaymentID}, nil
}

// Close releases the messaging connection.
func (c *Client) Close() {
	if c.ch != nil {
		c.ch.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.nodeURL+path, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.nodeURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var nerr nodeError
		if err := json.Unmarshal(bodyBytes, &nerr); err != nil || nerr.Err.Message == "" {
			return fmt.Errorf("node returned status %d", resp.StatusCode)
		}
		return &nerr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	if !strings.HasSuffix(clean, "/") {
		clean += "/"
	}
	parsed, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if parsed.Scheme != "amqp" && parsed.Scheme != "amqps" {
		return "", fmt.Errorf("invalid AMQP scheme: %s", parsed.Scheme)
	}
	return clean, nil
}
