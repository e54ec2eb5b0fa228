package fetcher

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"trade-alert-engine/internal/logging"
)

const aggregatorABIJSON = `[
{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"latestRoundData","outputs":[{"internalType":"uint80","name":"roundId","type":"uint80"},{"internalType":"int256","name":"answer","type":"int256"},{"internalType":"uint256","name":"startedAt","type":"uint256"},{"internalType":"uint256","name":"updatedAt","type":"uint256"},{"internalType":"uint80","name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"},
{"inputs":[{"internalType":"uint80","name":"_roundId","type":"uint80"}],"name":"getRoundData","outputs":[{"internalType":"uint80","name":"roundId","type":"uint80"},{"internalType":"int256","name":"answer","type":"int256"},{"internalType":"uint256","name":"startedAt","type":"uint256"},{"internalType":"uint256","name":"updatedAt","type":"uint256"},{"internalType":"uint80","name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"}
]`

var aggregatorABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(aggregatorABIJSON))
	if err != nil {
		panic("failed to parse aggregator ABI: " + err.Error())
	}
	aggregatorABI = parsed
}

// ChainlinkOptions parameterise the on-chain fetcher. Feeds maps a symbol
// (case-insensitive) onto an AggregatorV3 proxy address.
type ChainlinkOptions struct {
	RPCURL  string
	Feeds   map[string]string
	Timeout time.Duration
}

// Chainlink builds candles from consecutive aggregator rounds. The feed has
// no notion of timeframe, so every timeframe reads the same two rounds.
type Chainlink struct {
	opts      ChainlinkOptions
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex
	decimals  map[common.Address]int32
}

// NewChainlink builds a new aggregator fetcher.
func NewChainlink(opts ChainlinkOptions, logger zerolog.Logger) *Chainlink {
	feeds := make(map[string]string, len(opts.Feeds))
	for symbol, addr := range opts.Feeds {
		feeds[strings.ToLower(symbol)] = addr
	}
	opts.Feeds = feeds
	return &Chainlink{
		opts:     opts,
		logger:   logging.Component(logger, "chainlink_fetcher"),
		decimals: make(map[common.Address]int32),
	}
}

type roundData struct {
	roundID   *big.Int
	answer    *big.Int
	updatedAt *big.Int
}

// FetchCandle reads the latest round and the one before it.
func (c *Chainlink) FetchCandle(ctx context.Context, symbol, timeframe string) (Candle, error) {
	if c.opts.RPCURL == "" {
		return Candle{}, errors.New("chainlink rpc url not configured")
	}
	feed, ok := c.opts.Feeds[strings.ToLower(symbol)]
	if !ok || !common.IsHexAddress(feed) {
		return Candle{}, fmt.Errorf("no chainlink feed for %s: %w", symbol, ErrUnavailable)
	}

	timeout := c.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := c.getClient(ctx)
	if err != nil {
		return Candle{}, err
	}

	addr := common.HexToAddress(feed)
	scale, err := c.feedDecimals(ctx, client, addr)
	if err != nil {
		return Candle{}, err
	}

	latest, err := c.callRound(ctx, client, addr, "latestRoundData")
	if err != nil {
		return Candle{}, err
	}

	closePrice := decimal.NewFromBigInt(latest.answer, -scale)
	prevPrice := closePrice
	if latest.roundID.Sign() > 0 {
		prevID := new(big.Int).Sub(latest.roundID, big.NewInt(1))
		prev, err := c.callRound(ctx, client, addr, "getRoundData", prevID)
		if err != nil {
			// first round of a phase has no predecessor reachable by id-1
			c.logger.Debug().Err(err).Str("symbol", symbol).Msg("previous round unavailable")
		} else {
			prevPrice = decimal.NewFromBigInt(prev.answer, -scale)
		}
	}

	candle := Candle{
		Open:          prevPrice.InexactFloat64(),
		High:          decimal.Max(prevPrice, closePrice).InexactFloat64(),
		Low:           decimal.Min(prevPrice, closePrice).InexactFloat64(),
		Close:         closePrice.InexactFloat64(),
		PreviousClose: prevPrice.InexactFloat64(),
		Timestamp:     time.Unix(latest.updatedAt.Int64(), 0).UTC(),
	}
	if !candle.Valid() {
		return Candle{}, fmt.Errorf("chainlink %s answered non-positive price: %w", symbol, ErrUnavailable)
	}
	return candle, nil
}

func (c *Chainlink) callRound(ctx context.Context, client *ethclient.Client, addr common.Address, method string, args ...interface{}) (roundData, error) {
	payload, err := aggregatorABI.Pack(method, args...)
	if err != nil {
		return roundData{}, err
	}

	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return roundData{}, fmt.Errorf("call %s: %w", method, err)
	}

	outputs, err := aggregatorABI.Unpack(method, res)
	if err != nil {
		return roundData{}, err
	}
	if len(outputs) != 5 {
		return roundData{}, fmt.Errorf("unexpected %s response", method)
	}

	roundID, ok1 := outputs[0].(*big.Int)
	answer, ok2 := outputs[1].(*big.Int)
	updatedAt, ok3 := outputs[3].(*big.Int)
	if !ok1 || !ok2 || !ok3 {
		return roundData{}, fmt.Errorf("failed to decode %s output", method)
	}
	return roundData{roundID: roundID, answer: answer, updatedAt: updatedAt}, nil
}

func (c *Chainlink) feedDecimals(ctx context.Context, client *ethclient.Client, addr common.Address) (int32, error) {
	c.clientMux.Lock()
	scale, ok := c.decimals[addr]
	c.clientMux.Unlock()
	if ok {
		return scale, nil
	}

	payload, err := aggregatorABI.Pack("decimals")
	if err != nil {
		return 0, err
	}
	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return 0, fmt.Errorf("call decimals: %w", err)
	}
	outputs, err := aggregatorABI.Unpack("decimals", res)
	if err != nil {
		return 0, err
	}
	if len(outputs) != 1 {
		return 0, errors.New("unexpected decimals response")
	}
	d, ok := outputs[0].(uint8)
	if !ok {
		return 0, errors.New("failed to decode decimals output")
	}

	c.clientMux.Lock()
	c.decimals[addr] = int32(d)
	c.clientMux.Unlock()
	return int32(d), nil
}

func (c *Chainlink) getClient(ctx context.Context) (*ethclient.Client, error) {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	client, err := ethclient.DialContext(ctx, c.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	c.client = client
	return client, nil
}

var _ PriceFetcher = (*Chainlink)(nil)
