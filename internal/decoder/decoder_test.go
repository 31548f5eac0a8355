package decoder

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"minutebars/internal/domain"
)

var testAsset = domain.Asset{Symbol: "A", Name: "Agilent Technologies", ExchangeCode: "NYSE"}

func doc(lines ...string) string {
	return strings.Join(lines, "\n")
}

func TestDecode_AnchorReconstruction(t *testing.T) {
	res := Decode(testAsset, doc(
		"a1609459200,0,0,0,0,0",
		"0,10.5,11,10,10.2,500",
		"5,10.6,11,10,10.3,600",
	))

	require.Len(t, res.Bars, 2)
	assert.Equal(t, time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC), res.Bars[0].Timestamp)
	assert.Equal(t, time.Date(2021, 1, 1, 0, 5, 0, 0, time.UTC), res.Bars[1].Timestamp)

	assert.Equal(t, domain.Bar{
		Symbol:    "A",
		Exchange:  "NYSE",
		Duration:  "1m",
		Timestamp: time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC),
		Close:     10.5,
		High:      11,
		Low:       10,
		Open:      10.2,
		Volume:    500,
	}, res.Bars[0])
	assert.Equal(t, 0, res.Discarded)
}

func TestDecode_MalformedRowTolerance(t *testing.T) {
	res := Decode(testAsset, doc(
		"a1609459200,0,0,0,0,0",
		"1,10.5,11,10,10.2",
		"2,10.6,11,10,10.3,600",
	))

	require.Len(t, res.Bars, 1)
	assert.Equal(t, time.Date(2021, 1, 1, 0, 2, 0, 0, time.UTC), res.Bars[0].Timestamp)
	assert.Equal(t, 1, res.Discarded)
}

func TestDecode_MissingAnchorDiscard(t *testing.T) {
	res := Decode(testAsset, doc(
		"0,10.5,11,10,10.2,500",
		"5,10.6,11,10,10.3,600",
	))

	assert.Empty(t, res.Bars)
	assert.Equal(t, 2, res.Discarded)
}

func TestDecode_OffsetsBeforeFirstAnchorAreDropped(t *testing.T) {
	res := Decode(testAsset, doc(
		"3,9.9,10,9,9.5,100",
		"a1609459200,0,0,0,0,0",
		"1,10.5,11,10,10.2,500",
	))

	require.Len(t, res.Bars, 1)
	assert.Equal(t, time.Date(2021, 1, 1, 0, 1, 0, 0, time.UTC), res.Bars[0].Timestamp)
	assert.Equal(t, 1, res.Discarded)
}

func TestDecode_MetadataSkip(t *testing.T) {
	res := Decode(testAsset, doc(
		"a1609459200,0,0,0,0,0",
		"COLUMNS=DATE,CLOSE,HIGH,LOW,OPEN,VOLUME",
		"1,10.5,11,10,10.2,500",
	))

	require.Len(t, res.Bars, 1)
	assert.Equal(t, 1, res.Metadata)
	assert.Equal(t, 0, res.Discarded)
}

func TestDecode_FullDocument(t *testing.T) {
	res := Decode(testAsset, doc(
		"EXCHANGE%3DNYSE",
		"MARKET_OPEN_MINUTE=570",
		"MARKET_CLOSE_MINUTE=960",
		"INTERVAL=60",
		"COLUMNS=DATE,CLOSE,HIGH,LOW,OPEN,VOLUME",
		"DATA=",
		"TIMEZONE_OFFSET=-300",
		"a1609770600,129.41,129.62,129.33,129.5,1024",
		"1,129.2,129.45,129.1,129.41,900",
		"2,129.3,129.35,129.05,129.2,800",
		"TIMEZONE_OFFSET=-300",
		"a1609857000,131.0,131.2,130.9,131.1,1200",
		"390,131.5,131.6,131.4,131.45,3000",
	))

	require.Len(t, res.Bars, 3)
	assert.Equal(t, time.Unix(1609770600+60, 0).UTC(), res.Bars[0].Timestamp)
	assert.Equal(t, time.Unix(1609770600+120, 0).UTC(), res.Bars[1].Timestamp)
	assert.Equal(t, time.Unix(1609857000+390*60, 0).UTC(), res.Bars[2].Timestamp)
	assert.Equal(t, 7, res.Metadata)
	// "EXCHANGE%3DNYSE" is url-encoded, so it is not a recognized header.
	assert.Equal(t, 1, res.Discarded)
}

func TestDecode_BrokenAnchorClearsAnchor(t *testing.T) {
	res := Decode(testAsset, doc(
		"a1609459200,0,0,0,0,0",
		"1,10.5,11,10,10.2,500",
		"abc,0,0,0,0,0",
		"2,10.6,11,10,10.3,600",
	))

	require.Len(t, res.Bars, 1)
	assert.Equal(t, 2, res.Discarded)
}

func TestDecode_UnparsableFieldsAreDropped(t *testing.T) {
	tests := []struct {
		name string
		row  string
	}{
		{"offset", "x,10.5,11,10,10.2,500"},
		{"close", "1,abc,11,10,10.2,500"},
		{"open", "1,10.5,11,10,,500"},
		{"fractional volume", "1,10.5,11,10,10.2,500.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Decode(testAsset, doc("a1609459200,0,0,0,0,0", tt.row))
			assert.Empty(t, res.Bars)
			assert.Equal(t, 1, res.Discarded)
		})
	}
}

func TestDecode_EmptyDocument(t *testing.T) {
	for _, body := range []string{"", "   \n\t\n"} {
		res := Decode(testAsset, body)
		assert.Empty(t, res.Bars)
		assert.Zero(t, res.Discarded)
		assert.Zero(t, res.Metadata)
	}
}

func TestDecode_Deterministic(t *testing.T) {
	body := doc(
		"INTERVAL=60",
		"a1609459200,0,0,0,0,0",
		"0,10.5,11,10,10.2,500",
		"garbage",
		"5,10.6,11,10,10.3,600",
	)

	first := Decode(testAsset, body)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Decode(testAsset, body))
	}
}
