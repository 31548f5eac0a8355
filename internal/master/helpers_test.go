package master

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"minutebars/internal/domain"

	"github.com/stretchr/testify/require"
)

// sampleDoc decodes to two bars; the anchor row only sets the base time.
const sampleDoc = `EXCHANGE%3DNYSE
MARKET_OPEN_MINUTE=570
MARKET_CLOSE_MINUTE=960
INTERVAL=60
COLUMNS=DATE,CLOSE,HIGH,LOW,OPEN,VOLUME
DATA=
TIMEZONE_OFFSET=-300
a1609459200,10,11,9,9.5,1000
1,10.5,11,10,10,500
2,10.25,10.75,10,10.5,700
`

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testAssets() []domain.Asset {
	return []domain.Asset{
		{Symbol: "A", Name: "Agilent", ExchangeCode: "NYSE"},
		{Symbol: "ABEV", Name: "Ambev", ExchangeCode: "NYSE"},
		{Symbol: "ACN", Name: "Accenture", ExchangeCode: "NYSE"},
	}
}

func fetchResult(t *testing.T, runID string, asset domain.Asset, body string) []byte {
	t.Helper()
	asset.RunID = runID
	asset.FetchURL = domain.BuildFetchURL("", asset)
	payload, err := json.Marshal(asset.WithResponse(body))
	require.NoError(t, err)
	return payload
}
