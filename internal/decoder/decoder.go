package decoder

import (
	"strconv"
	"strings"
	"time"

	"minutebars/internal/domain"
)

const (
	anchorMarker = 'a'
	rowFields    = 6
)

// metadataKeys mark header lines; a line is skipped when it contains any of them.
var metadataKeys = []string{
	"EXCHANGE=",
	"MARKET_OPEN_MINUTE=",
	"MARKET_CLOSE_MINUTE=",
	"INTERVAL=",
	"COLUMNS=",
	"DATA=",
	"TIMEZONE_OFFSET",
	"DATA_SESSIONS",
}

// Result is the outcome of decoding one document.
type Result struct {
	Bars []domain.Bar
	// Metadata counts skipped header lines.
	Metadata int
	// Discarded counts lines that looked like neither a header nor a usable
	// data row, including offset rows seen before any anchor.
	Discarded int
}

// Decode parses doc into bars for asset, in document order. An empty document
// yields an empty Result.
func Decode(asset domain.Asset, doc string) Result {
	var (
		res      Result
		anchor   time.Time
		anchored bool
	)

	for _, line := range strings.Fields(doc) {
		if isMetadata(line) {
			res.Metadata++
			continue
		}

		fields := strings.Split(line, ",")
		if len(fields) != rowFields {
			res.Discarded++
			continue
		}

		if strings.IndexByte(fields[0], anchorMarker) == 0 {
			secs, err := strconv.ParseInt(fields[0][1:], 10, 64)
			if err != nil {
				// Offsets after a broken anchor cannot be placed in time.
				anchored = false
				res.Discarded++
				continue
			}
			anchor = time.Unix(secs, 0).UTC()
			anchored = true
			continue
		}

		if !anchored {
			res.Discarded++
			continue
		}

		bar, ok := parseRow(asset, anchor, fields)
		if !ok {
			res.Discarded++
			continue
		}
		res.Bars = append(res.Bars, bar)
	}

	return res
}

func isMetadata(line string) bool {
	for _, key := range metadataKeys {
		if strings.Contains(line, key) {
			return true
		}
	}
	return false
}

// parseRow reads an offset row: offset, close, high, low, open, volume.
func parseRow(asset domain.Asset, anchor time.Time, fields []string) (domain.Bar, bool) {
	offset, err := strconv.Atoi(fields[0])
	if err != nil {
		return domain.Bar{}, false
	}

	var prices [4]float64
	for i := range prices {
		prices[i], err = strconv.ParseFloat(fields[i+1], 64)
		if err != nil {
			return domain.Bar{}, false
		}
	}

	volume, err := strconv.ParseInt(fields[5], 10, 64)
	if err != nil {
		return domain.Bar{}, false
	}

	return domain.Bar{
		Symbol:    asset.Symbol,
		Exchange:  asset.ExchangeCode,
		Duration:  domain.BarDurationMinute,
		Timestamp: anchor.Add(time.Duration(offset) * time.Minute),
		Close:     prices[0],
		High:      prices[1],
		Low:       prices[2],
		Open:      prices[3],
		Volume:    volume,
	}, true
}
