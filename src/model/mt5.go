package model

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// FlexFloat decodes MT5 numeric fields, which the gateway sends either as
// JSON numbers or as quoted strings.
type FlexFloat float64

func (f *FlexFloat) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(bytes.Trim(b, `"`)))
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid numeric value %q: %w", s, err)
	}
	*f = FlexFloat(v)
	return nil
}

func (f FlexFloat) Float64() float64 { return float64(f) }

// FlexInt is the integer counterpart of FlexFloat (logins, timestamps, ids).
type FlexInt int64

func (i *FlexInt) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(bytes.Trim(b, `"`)))
	if s == "" || s == "null" {
		*i = 0
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		fv, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return fmt.Errorf("invalid integer value %q: %w", s, err)
		}
		v = int64(fv)
	}
	*i = FlexInt(v)
	return nil
}

func (i FlexInt) Int64() int64 { return int64(i) }

// Deal and position directions as reported by the gateway.
const (
	MT5ActionBuy  = 0
	MT5ActionSell = 1
)

type MT5User struct {
	Login    FlexInt   `json:"Login"`
	Name     string    `json:"Name"`
	Email    string    `json:"Email"`
	Group    string    `json:"Group"`
	Balance  FlexFloat `json:"Balance"`
	Credit   FlexFloat `json:"Credit"`
	Leverage FlexInt   `json:"Leverage"`
	Country  string    `json:"Country,omitempty"`
	Comment  string    `json:"Comment,omitempty"`
}

// MT5AccountState is a point-in-time trading account snapshot keyed by login.
type MT5AccountState struct {
	Login       FlexInt   `json:"Login"`
	Balance     FlexFloat `json:"Balance"`
	Credit      FlexFloat `json:"Credit"`
	Equity      FlexFloat `json:"Equity"`
	Profit      FlexFloat `json:"Profit"`
	Margin      FlexFloat `json:"Margin"`
	MarginFree  FlexFloat `json:"MarginFree"`
	MarginLevel FlexFloat `json:"MarginLevel"`
}

// MT5Position is an open exposure. Volume is in 1/10,000 lot and VolumeExt
// in 1/100,000,000 lot; a positive VolumeExt is authoritative.
type MT5Position struct {
	Position     FlexInt   `json:"Position"`
	Login        FlexInt   `json:"Login"`
	Symbol       string    `json:"Symbol"`
	Action       FlexInt   `json:"Action"`
	Volume       FlexFloat `json:"Volume"`
	VolumeExt    FlexFloat `json:"VolumeExt"`
	PriceOpen    FlexFloat `json:"PriceOpen"`
	PriceCurrent FlexFloat `json:"PriceCurrent"`
	ContractSize FlexFloat `json:"ContractSize"`
	Profit       FlexFloat `json:"Profit"`
}

// MT5Deal is an executed trade record.
type MT5Deal struct {
	Deal         FlexInt   `json:"Deal"`
	Login        FlexInt   `json:"Login"`
	Symbol       string    `json:"Symbol"`
	Action       FlexInt   `json:"Action"`
	Entry        FlexInt   `json:"Entry"`
	Volume       FlexFloat `json:"Volume"`
	VolumeExt    FlexFloat `json:"VolumeExt"`
	Price        FlexFloat `json:"Price"`
	ContractSize FlexFloat `json:"ContractSize"`
	Time         FlexInt   `json:"Time"`
	Profit       FlexFloat `json:"Profit"`
}

// MT5DailyReport is the end-of-day snapshot for a login.
type MT5DailyReport struct {
	Login        FlexInt   `json:"Login"`
	Timestamp    FlexInt   `json:"Timestamp"`
	Group        string    `json:"Group"`
	Currency     string    `json:"Currency"`
	Balance      FlexFloat `json:"Balance"`
	Credit       FlexFloat `json:"Credit"`
	Profit       FlexFloat `json:"Profit"`
	ProfitEquity FlexFloat `json:"ProfitEquity"`
	Margin       FlexFloat `json:"Margin"`
}
