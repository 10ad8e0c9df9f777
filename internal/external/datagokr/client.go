// Package datagokr fetches daily stock prices from the 공공데이터포털 주식시세정보 API.
package datagokr

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/ChaneHaDa/stock-batch-server/internal/contracts"
	"github.com/ChaneHaDa/stock-batch-server/internal/importfile"
	"github.com/ChaneHaDa/stock-batch-server/pkg/httputil"
	"github.com/ChaneHaDa/stock-batch-server/pkg/logger"
)

const (
	pricePath       = "/getStockPriceInfo"
	resultCodeOK    = "00"
	defaultPageSize = 1000
	maxPages        = 100
)

// Client handles communication with the data portal stock price API
// ⭐ SSOT: 공공데이터포털 호출은 이 클라이언트에서만
type Client struct {
	httpClient *httputil.Client
	logger     *logger.Logger
	baseURL    string
	serviceKey string
	pageSize   int
}

// NewClient creates a data portal client
func NewClient(httpClient *httputil.Client, baseURL, serviceKey string, pageSize int, log *logger.Logger) *Client {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &Client{
		httpClient: httpClient,
		logger:     log.WithField("module", "datagokr"),
		baseURL:    baseURL,
		serviceKey: serviceKey,
		pageSize:   pageSize,
	}
}

// APIError is a non-OK resultCode in the response header
type APIError struct {
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("data portal error %s: %s", e.Code, e.Message)
}

// FetchDay returns every instrument's price for date, following pagination.
// A day without trading (totalCount 0) yields no entries.
func (c *Client) FetchDay(ctx context.Context, date time.Time) ([]contracts.ImportEntry, error) {
	basDt := date.Format(contracts.BasDtLayout)

	var entries []contracts.ImportEntry
	total := 0
	for page := 1; page <= maxPages; page++ {
		resp, err := c.fetchPage(ctx, basDt, page)
		if err != nil {
			return nil, fmt.Errorf("fetch %s page %d: %w", basDt, page, err)
		}

		body := resp.Response.Body
		if body == nil || body.TotalCount == 0 {
			break
		}
		total = body.TotalCount

		pageEntries := resp.Entries()
		for i := range pageEntries {
			pageEntries[i].Source = fmt.Sprintf("%s[%d]", basDt, len(entries)+i)
		}
		entries = append(entries, pageEntries...)

		if len(pageEntries) == 0 || len(entries) >= total {
			break
		}
	}

	c.logger.WithFields(map[string]interface{}{
		"date":    basDt,
		"entries": len(entries),
		"total":   total,
	}).Info("Fetched daily prices")

	return entries, nil
}

func (c *Client) fetchPage(ctx context.Context, basDt string, page int) (*importfile.PortalResponse, error) {
	q := url.Values{}
	q.Set("serviceKey", c.serviceKey)
	q.Set("resultType", "json")
	q.Set("basDt", basDt)
	q.Set("numOfRows", strconv.Itoa(c.pageSize))
	q.Set("pageNo", strconv.Itoa(page))

	var resp importfile.PortalResponse
	if err := c.httpClient.GetJSON(ctx, c.baseURL+pricePath+"?"+q.Encode(), &resp); err != nil {
		return nil, err
	}

	if resp.Response == nil {
		return nil, fmt.Errorf("missing response")
	}
	if h := resp.Response.Header; h != nil && h.ResultCode != "" && h.ResultCode != resultCodeOK {
		return nil, &APIError{Code: h.ResultCode, Message: h.ResultMsg}
	}
	return &resp, nil
}
