package connectors

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	logger "github.com/sirupsen/logrus"
)

// SheetBalance is one row of the published balances spreadsheet.
type SheetBalance struct {
	Label    string  `json:"label"`
	Value    float64 `json:"value"`
	Currency string  `json:"currency"`
}

// SheetClient reads balances from a spreadsheet published as CSV.
type SheetClient struct {
	url  string
	http *resty.Client
	log  *logger.Entry
}

func NewSheetClient(csvURL string, timeout time.Duration) *SheetClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &SheetClient{
		url:  csvURL,
		http: resty.New().SetTimeout(timeout),
		log:  logger.WithField("component", "SheetClient"),
	}
}

// FetchBalances returns the parsed rows. Any fetch or parse problem is logged
// and yields an empty list.
func (c *SheetClient) FetchBalances(ctx context.Context) []SheetBalance {
	resp, err := c.http.R().SetContext(ctx).Get(c.url)
	if err != nil {
		c.log.WithError(err).Error("failed to fetch sheet")
		return []SheetBalance{}
	}
	if resp.StatusCode() != http.StatusOK {
		c.log.WithField("status", resp.StatusCode()).Error("failed to fetch sheet")
		return []SheetBalance{}
	}

	balances, err := ParseSheetBalances(strings.NewReader(string(resp.Body())))
	if err != nil {
		c.log.WithError(err).Error("failed to parse sheet")
		return []SheetBalance{}
	}
	return balances
}

// ParseSheetBalances skips the header row and reads label, value and optional
// currency columns. Values may carry thousands separators and a dollar sign.
func ParseSheetBalances(r io.Reader) ([]SheetBalance, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}

	balances := []SheetBalance{}
	for i, row := range rows {
		if i == 0 || len(row) < 2 {
			continue
		}
		label := strings.TrimSpace(row[0])
		rawValue := strings.TrimSpace(row[1])
		if label == "" || rawValue == "" {
			continue
		}

		cleaned := strings.NewReplacer(",", "", "$", "").Replace(rawValue)
		value, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			value = 0
		}

		currency := "USD"
		if len(row) > 2 && strings.TrimSpace(row[2]) != "" {
			currency = strings.TrimSpace(row[2])
		}

		balances = append(balances, SheetBalance{Label: label, Value: value, Currency: currency})
	}
	return balances, nil
}
