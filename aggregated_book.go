package match

import (
	"bytes"
	"errors"
	"sort"
	"sync"

	"github.com/0x5487/matching-core/protocol"
	"github.com/0x5487/matching-core/tradelog"
	"github.com/igrmk/treemap/v2"
	"github.com/shopspring/decimal"
)

// ErrSentinelExecution is returned by Replay for executions written with the
// sentinel id. They are still aggregated.
var ErrSentinelExecution = errors.New("execution carries the sentinel id")

// AggregatedBook maintains traded volume per price level for each symbol.
// It is rebuilt offline by replaying trade log directories and is designed
// for downstream services and tooling, never for the matching path.
type AggregatedBook struct {
	mu       sync.RWMutex
	symbols  map[protocol.Symbol]*volumeProfile
	replayed uint64
}

type volumeProfile struct {
	levels   *treemap.TreeMap[protocol.Price, uint64]
	trades   uint64
	volume   uint64
	notional decimal.Decimal
}

// VolumeSummary is the traded activity of one symbol.
type VolumeSummary struct {
	Symbol   protocol.Symbol `json:"symbol"`
	Trades   uint64          `json:"trades"`
	Volume   uint64          `json:"volume"`
	Notional decimal.Decimal `json:"notional"`
	VWAP     decimal.Decimal `json:"vwap"`
	Low      protocol.Price  `json:"low"`
	High     protocol.Price  `json:"high"`
}

// NewAggregatedBook creates an empty AggregatedBook.
func NewAggregatedBook() *AggregatedBook {
	return &AggregatedBook{
		symbols: make(map[protocol.Symbol]*volumeProfile),
	}
}

// Replayed returns how many executions have been applied.
func (ab *AggregatedBook) Replayed() uint64 {
	ab.mu.RLock()
	defer ab.mu.RUnlock()
	return ab.replayed
}

// Replay applies one execution.
func (ab *AggregatedBook) Replay(e *protocol.Execution) error {
	ab.mu.Lock()
	defer ab.mu.Unlock()

	profile, ok := ab.symbols[e.Symbol]
	if !ok {
		profile = &volumeProfile{
			levels: treemap.NewWithKeyCompare[protocol.Price, uint64](func(a, b protocol.Price) bool {
				return a < b
			}),
		}
		ab.symbols[e.Symbol] = profile
	}

	volume, _ := profile.levels.Get(e.Price)
	profile.levels.Set(e.Price, volume+uint64(e.Quantity))
	profile.trades++
	profile.volume += uint64(e.Quantity)
	profile.notional = profile.notional.Add(decimal.NewFromUint64(e.Notional()).Shift(-protocol.PriceDecimals))
	ab.replayed++

	if e.ID == SentinelExecutionID {
		return ErrSentinelExecution
	}
	return nil
}

// Rebuild replays every trade log file in dir. Sentinel executions do not
// stop the replay; they are counted and reported once at the end.
func (ab *AggregatedBook) Rebuild(dir string) (sentinels int, err error) {
	err = tradelog.Replay(dir, func(e *protocol.Execution) error {
		if err := ab.Replay(e); err != nil {
			if errors.Is(err, ErrSentinelExecution) {
				sentinels++
				return nil
			}
			return err
		}
		return nil
	})
	return sentinels, err
}

// Volume returns the traded quantity at price.
func (ab *AggregatedBook) Volume(symbol protocol.Symbol, price protocol.Price) uint64 {
	ab.mu.RLock()
	defer ab.mu.RUnlock()

	profile, ok := ab.symbols[symbol]
	if !ok {
		return 0
	}
	volume, _ := profile.levels.Get(price)
	return volume
}

// Levels returns the traded price levels of symbol, lowest first.
func (ab *AggregatedBook) Levels(symbol protocol.Symbol) []DepthItem {
	ab.mu.RLock()
	defer ab.mu.RUnlock()

	profile, ok := ab.symbols[symbol]
	if !ok {
		return nil
	}

	result := make([]DepthItem, 0, profile.levels.Len())
	var i uint32
	for it := profile.levels.Iterator(); it.Valid(); it.Next() {
		result = append(result, DepthItem{ID: i, Price: it.Key(), Size: it.Value()})
		i++
	}
	return result
}

// Summary returns the activity of symbol.
func (ab *AggregatedBook) Summary(symbol protocol.Symbol) (VolumeSummary, bool) {
	ab.mu.RLock()
	defer ab.mu.RUnlock()

	profile, ok := ab.symbols[symbol]
	if !ok || profile.volume == 0 {
		return VolumeSummary{}, false
	}

	s := VolumeSummary{
		Symbol:   symbol,
		Trades:   profile.trades,
		Volume:   profile.volume,
		Notional: profile.notional,
		VWAP:     profile.notional.Div(decimal.NewFromUint64(profile.volume)).Round(protocol.PriceDecimals),
	}
	if it := profile.levels.Iterator(); it.Valid() {
		s.Low = it.Key()
	}
	if it := profile.levels.Reverse(); it.Valid() {
		s.High = it.Key()
	}
	return s, true
}

// Symbols returns every symbol seen so far in byte order.
func (ab *AggregatedBook) Symbols() []protocol.Symbol {
	ab.mu.RLock()
	defer ab.mu.RUnlock()

	symbols := make([]protocol.Symbol, 0, len(ab.symbols))
	for s := range ab.symbols {
		symbols = append(symbols, s)
	}
	sort.Slice(symbols, func(i, j int) bool {
		return bytes.Compare(symbols[i][:], symbols[j][:]) < 0
	})
	return symbols
}
