package bitcoin

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

const (
	// defaultHTTPTimeout bounds every request to the REST api.
	defaultHTTPTimeout = 30 * time.Second

	// maxResponseSize bounds the size of a response body.
	maxResponseSize = 4 << 20
)

// MempoolURL returns the REST api base url of mempool.space for a network.
func MempoolURL(network string) (string, error) {
	switch network {
	case "mainnet", "bitcoin":
		return "https://mempool.space/api", nil

	case "testnet", "testnet3":
		return "https://mempool.space/testnet/api", nil

	case "signet":
		return "https://mempool.space/signet/api", nil

	default:
		return "", fmt.Errorf("no public mempool api for network %v",
			network)
	}
}

// MempoolBackend queries an esplora compatible REST api such as
// mempool.space.
type MempoolBackend struct {
	baseURL string
	client  *http.Client
}

// A compile-time flag to ensure that MempoolBackend implements the
// ChainBackend interface.
var _ ChainBackend = (*MempoolBackend)(nil)

// NewMempoolBackend creates a backend for the api at baseURL.
func NewMempoolBackend(baseURL string) *MempoolBackend {
	return &MempoolBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: defaultHTTPTimeout,
		},
	}
}

// mempoolUtxo is the json representation of an unspent output.
type mempoolUtxo struct {
	TxID  string `json:"txid"`
	Vout  uint32 `json:"vout"`
	Value int64  `json:"value"`
}

func (m *MempoolBackend) do(ctx context.Context, method, path string,
	body []byte) ([]byte, error) {

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(
		ctx, method, m.baseURL+path, reader,
	)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "text/plain")
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %v", ErrTxNotFound, path)

	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%v %v: %v: %s", method, path,
			resp.Status, strings.TrimSpace(string(respBody)))
	}

	return respBody, nil
}

// BestHeight returns the height of the chain tip.
func (m *MempoolBackend) BestHeight(ctx context.Context) (int32, error) {
	body, err := m.do(ctx, http.MethodGet, "/blocks/tip/height", nil)
	if err != nil {
		return 0, err
	}

	height, err := strconv.ParseInt(strings.TrimSpace(string(body)), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid tip height: %w", err)
	}

	return int32(height), nil
}

// ListUnspent returns the unspent outputs paying to addr.
func (m *MempoolBackend) ListUnspent(ctx context.Context,
	addr btcutil.Address) ([]*Utxo, error) {

	body, err := m.do(
		ctx, http.MethodGet,
		fmt.Sprintf("/address/%v/utxo", addr.EncodeAddress()), nil,
	)
	if err != nil {
		return nil, err
	}

	var raw []mempoolUtxo
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("invalid utxo list: %w", err)
	}

	utxos := make([]*Utxo, 0, len(raw))
	for _, u := range raw {
		hash, err := chainhash.NewHashFromStr(u.TxID)
		if err != nil {
			return nil, err
		}

		utxos = append(utxos, &Utxo{
			OutPoint: wire.OutPoint{
				Hash:  *hash,
				Index: u.Vout,
			},
			Value: btcutil.Amount(u.Value),
		})
	}

	return utxos, nil
}

// GetTransaction returns a transaction by id.
func (m *MempoolBackend) GetTransaction(ctx context.Context,
	txid chainhash.Hash) (*wire.MsgTx, error) {

	body, err := m.do(
		ctx, http.MethodGet, fmt.Sprintf("/tx/%v/hex", txid), nil,
	)
	if err != nil {
		return nil, err
	}

	rawTx, err := hex.DecodeString(strings.TrimSpace(string(body)))
	if err != nil {
		return nil, fmt.Errorf("invalid tx hex: %w", err)
	}

	tx := &wire.MsgTx{}
	if err := tx.Deserialize(bytes.NewReader(rawTx)); err != nil {
		return nil, err
	}

	return tx, nil
}

// Broadcast publishes a transaction and returns its id.
func (m *MempoolBackend) Broadcast(ctx context.Context,
	tx *wire.MsgTx) (chainhash.Hash, error) {

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return chainhash.Hash{}, err
	}

	body, err := m.do(
		ctx, http.MethodPost, "/tx",
		[]byte(hex.EncodeToString(buf.Bytes())),
	)
	if err != nil {
		return chainhash.Hash{}, err
	}

	txid, err := chainhash.NewHashFromStr(strings.TrimSpace(string(body)))
	if err != nil {
		return chainhash.Hash{}, fmt.Errorf("invalid txid: %w", err)
	}

	return *txid, nil
}
