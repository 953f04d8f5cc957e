package normalization

import (
	"sort"

	"regime-precursor-lab/internal/domain"
)

// AggregateTicks buckets ticks into OHLCV bars by interval.
// Ticks must be pre-sorted with SortTicks; open and close follow iteration
// order within a bucket.
//
// Interval alignment: floor(timestamp_ms / interval_ms) * interval_ms
// Aggregation per (symbol, interval_start):
//   - open/close = first/last tick price
//   - high/low = max/min tick price
//   - volume = SUM(quantity)
//   - trade_count = COUNT(*)
//   - buy_volume = SUM(quantity) WHERE is_buyer_maker = false
//   - buyer_maker_count = COUNT(*) WHERE is_buyer_maker = true
//
// Only intervals containing at least one tick produce a bar; gaps stay gaps.
func AggregateTicks(ticks []*domain.Tick, intervalSec int) []*domain.Bar {
	if len(ticks) == 0 || intervalSec <= 0 {
		return nil
	}

	intervalMs := int64(intervalSec) * 1000

	// Map: symbol -> intervalStart -> bar
	buckets := make(map[string]map[int64]*domain.Bar)

	for _, t := range ticks {
		intervalStart := (t.TimestampMs / intervalMs) * intervalMs

		symbolBuckets, ok := buckets[t.Symbol]
		if !ok {
			symbolBuckets = make(map[int64]*domain.Bar)
			buckets[t.Symbol] = symbolBuckets
		}

		bar, ok := symbolBuckets[intervalStart]
		if !ok {
			bar = &domain.Bar{
				Symbol:      t.Symbol,
				TimestampMs: intervalStart,
				IntervalSec: intervalSec,
				Open:        t.Price,
				High:        t.Price,
				Low:         t.Price,
			}
			symbolBuckets[intervalStart] = bar
		}

		if t.Price > bar.High {
			bar.High = t.Price
		}
		if t.Price < bar.Low {
			bar.Low = t.Price
		}
		bar.Close = t.Price
		bar.Volume += t.Quantity
		bar.TradeCount++

		if t.IsBuyerMaker != nil {
			if *t.IsBuyerMaker {
				bar.BuyerMakerCount++
			} else {
				bar.BuyVolume += t.Quantity
			}
		}
	}

	// Flatten and sort by (symbol, intervalStart)
	var result []*domain.Bar
	for _, symbolBuckets := range buckets {
		for _, bar := range symbolBuckets {
			result = append(result, bar)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Symbol != result[j].Symbol {
			return result[i].Symbol < result[j].Symbol
		}
		return result[i].TimestampMs < result[j].TimestampMs
	})

	return result
}

// ResampleBars rolls finer bars up into a coarser interval. Bars must be
// pre-sorted by timestamp; toSec must be a multiple of every input bar's
// interval for the aggregation to be exact.
func ResampleBars(bars []*domain.Bar, toSec int) []*domain.Bar {
	if len(bars) == 0 || toSec <= 0 {
		return nil
	}

	intervalMs := int64(toSec) * 1000

	buckets := make(map[string]map[int64]*domain.Bar)

	for _, b := range bars {
		intervalStart := (b.TimestampMs / intervalMs) * intervalMs

		symbolBuckets, ok := buckets[b.Symbol]
		if !ok {
			symbolBuckets = make(map[int64]*domain.Bar)
			buckets[b.Symbol] = symbolBuckets
		}

		agg, ok := symbolBuckets[intervalStart]
		if !ok {
			agg = &domain.Bar{
				Symbol:      b.Symbol,
				TimestampMs: intervalStart,
				IntervalSec: toSec,
				Open:        b.Open,
				High:        b.High,
				Low:         b.Low,
			}
			symbolBuckets[intervalStart] = agg
		}

		if b.High > agg.High {
			agg.High = b.High
		}
		if b.Low < agg.Low {
			agg.Low = b.Low
		}
		agg.Close = b.Close
		agg.Volume += b.Volume
		agg.TradeCount += b.TradeCount
		agg.BuyVolume += b.BuyVolume
		agg.BuyerMakerCount += b.BuyerMakerCount
	}

	var result []*domain.Bar
	for _, symbolBuckets := range buckets {
		for _, bar := range symbolBuckets {
			result = append(result, bar)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Symbol != result[j].Symbol {
			return result[i].Symbol < result[j].Symbol
		}
		return result[i].TimestampMs < result[j].TimestampMs
	})

	return result
}
