package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cuihairu/croupier-economy/internal/ports"
)

// DefaultHermesURL is the public Pyth price service.
const DefaultHermesURL = "https://hermes.pyth.network"

// HermesSource fetches the latest parsed update from a Pyth Hermes endpoint.
type HermesSource struct {
	base string
	hc   *http.Client
}

func NewHermesSource(base string, timeout time.Duration) *HermesSource {
	if base == "" {
		base = DefaultHermesURL
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HermesSource{base: strings.TrimRight(base, "/"), hc: &http.Client{Timeout: timeout}}
}

type hermesPrice struct {
	Price       string `json:"price"`
	Conf        string `json:"conf"`
	Expo        int32  `json:"expo"`
	PublishTime int64  `json:"publish_time"`
}

type hermesResponse struct {
	Parsed []struct {
		ID    string      `json:"id"`
		Price hermesPrice `json:"price"`
	} `json:"parsed"`
}

func (s *HermesSource) Latest(ctx context.Context, feedID common.Hash) (ports.Price, error) {
	id := strings.TrimPrefix(feedID.Hex(), "0x")
	q := url.Values{}
	q.Set("ids[]", id)
	q.Set("parsed", "true")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.base+"/v2/updates/price/latest?"+q.Encode(), nil)
	if err != nil {
		return ports.Price{}, err
	}
	resp, err := s.hc.Do(req)
	if err != nil {
		return ports.Price{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return ports.Price{}, unknownFeed(feedID)
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return ports.Price{}, fmt.Errorf("hermes status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var out hermesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return ports.Price{}, fmt.Errorf("hermes decode: %w", err)
	}
	for _, u := range out.Parsed {
		if !strings.EqualFold(strings.TrimPrefix(u.ID, "0x"), id) {
			continue
		}
		return parsePriceFields(map[string]string{
			"price":        u.Price.Price,
			"conf":         u.Price.Conf,
			"expo":         strconv.FormatInt(int64(u.Price.Expo), 10),
			"publish_time": strconv.FormatInt(u.Price.PublishTime, 10),
		})
	}
	return ports.Price{}, unknownFeed(feedID)
}
