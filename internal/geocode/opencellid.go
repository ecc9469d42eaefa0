// Package geocode resolves GSM/LTE cell identifiers to coordinates through
// the OpenCellID web API.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const defaultBaseUrl = "https://opencellid.org"

// CellId is the cell description submitted by a tracker that has no GPS fix.
// Lat and Long carry -1 when the device could not read the cell location
// itself, in which case the OpenCellID database is consulted.
type CellId struct {
	NetworkType  string `json:"network_type"`
	Mcc          string `json:"mcc"`
	Mnc          string `json:"mnc"`
	Cid          int64  `json:"cid"`
	Lac          int32  `json:"lac"`
	Lat          int64  `json:"lat"`
	Long         int64  `json:"long"`
	BatteryLevel int32  `json:"battery_level"`
}

type cellResponse struct {
	Lat                   float64 `json:"lat"`
	Lon                   float64 `json:"lon"`
	Mcc                   int32   `json:"mcc"`
	Mnc                   int32   `json:"mnc"`
	Lac                   int32   `json:"lac"`
	CellId                int32   `json:"cellid"`
	AverageSignalStrength int32   `json:"averageSignalStrength"`
	Range                 int32   `json:"range"`
	Samples               int32   `json:"samples"`
	Changeable            int32   `json:"changeable"`
	Radio                 string  `json:"radio"`
	Rnc                   int32   `json:"rnc"`
	Cid                   int64   `json:"cid"`
	Tac                   int32   `json:"tac"`
	Sid                   int32   `json:"sid"`
	Nid                   int32   `json:"nid"`
	Bid                   int32   `json:"bid"`
}

type Client struct {
	apiKey  string
	baseUrl string
	client  *http.Client
	logger  zerolog.Logger
}

func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:  apiKey,
		baseUrl: defaultBaseUrl,
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  log.With().Str("module", "geocode").Logger(),
	}
}

// Locate queries OpenCellID for the coordinates of the given cell.
func (c *Client) Locate(ctx context.Context, cell *CellId) (lat float64, lon float64, err error) {
	url := fmt.Sprintf("%s/cell/get?key=%s&mcc=%s&mnc=%s&lac=%d&cellid=%d&format=json",
		c.baseUrl, c.apiKey, cell.Mcc, cell.Mnc, cell.Lac, cell.Cid)
	c.logger.Info().Str("url", url).Msg("Creating position from open cell id database")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("Open Cell ID did not respond: %v", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, 0, fmt.Errorf("Open Cell ID did not respond: %v", err)
	}
	defer resp.Body.Close()
	var cr cellResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return 0, 0, fmt.Errorf("Cell not found in Open Cell ID Database: %v", err)
	}
	return cr.Lat, cr.Lon, nil
}
