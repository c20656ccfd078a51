package model

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// Transaction types understood by the CRM.
const (
	TransactionDeposit      = "deposit"
	TransactionWithdrawal   = "withdrawal"
	TransactionIBWithdrawal = "ib withdrawal"

	StatusApproved = "approved"

	ClientTypeIndividual = "Individual"
	ClientTypeCorporate  = "Corporate"

	// DefaultEntity is used for users without an entity tag.
	DefaultEntity = "Default"
)

// CustomField is a CRM custom-field value. The CRM sends it either as a plain
// string or as an object with a "value" property; both decode into the same
// shape so callers only ever use Value.
type CustomField struct {
	value string
	set   bool
}

func NewCustomField(v string) CustomField {
	return CustomField{value: v, set: true}
}

func (c *CustomField) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*c = CustomField{}
		return nil
	}

	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*c = CustomField{value: s, set: s != ""}
	case '{':
		var obj struct {
			Value *string `json:"value"`
		}
		if err := json.Unmarshal(b, &obj); err != nil {
			return err
		}
		if obj.Value == nil || *obj.Value == "" {
			*c = CustomField{}
			return nil
		}
		*c = CustomField{value: *obj.Value, set: true}
	default:
		// numbers and booleans are kept verbatim
		*c = CustomField{value: string(b), set: true}
	}
	return nil
}

func (c CustomField) MarshalJSON() ([]byte, error) {
	if !c.set {
		return []byte("null"), nil
	}
	return json.Marshal(c.value)
}

// Value returns the normalized field value and whether it was present.
func (c CustomField) Value() (string, bool) {
	return c.value, c.set
}

type CustomFields map[string]CustomField

// Get looks up a custom field by name.
func (c CustomFields) Get(name string) (string, bool) {
	if c == nil {
		return "", false
	}
	f, ok := c[name]
	if !ok {
		return "", false
	}
	return f.Value()
}

type User struct {
	ID               int64        `json:"id"`
	ManagerID        *int64       `json:"managerId,omitempty"`
	FirstName        string       `json:"firstName"`
	LastName         string       `json:"lastName"`
	Email            string       `json:"email"`
	Country          string       `json:"country,omitempty"`
	Phone            string       `json:"phone,omitempty"`
	ClientType       string       `json:"clientType,omitempty"`
	Verified         bool         `json:"verified"`
	Created          string       `json:"created,omitempty"`
	FirstDepositDate string       `json:"firstDepositDate,omitempty"`
	CustomFields     CustomFields `json:"customFields,omitempty"`
}

// Name joins first and last name.
func (u User) Name() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Entity returns the entity tag stored under field, or DefaultEntity.
func (u User) Entity(field string) string {
	if v, ok := u.CustomFields.Get(field); ok {
		return v
	}
	return DefaultEntity
}

type Account struct {
	ID            FlexInt   `json:"id"`
	UserID        int64     `json:"userId"`
	Login         string    `json:"login"`
	ServerID      int       `json:"serverId,omitempty"`
	Name          string    `json:"name,omitempty"`
	Currency      string    `json:"currency"`
	Balance       FlexFloat `json:"balance"`
	Credit        FlexFloat `json:"credit"`
	Equity        FlexFloat `json:"equity"`
	Margin        FlexFloat `json:"margin"`
	Group         string    `json:"group,omitempty"`
	GroupName     string    `json:"groupName,omitempty"`
	AccountTypeID int64     `json:"accountTypeId,omitempty"`
	Leverage      int       `json:"leverage,omitempty"`
	CreatedAt     string    `json:"createdAt"`
}

// GroupLabel prefers groupName and falls back to group.
func (a Account) GroupLabel() string {
	if a.GroupName != "" {
		return a.GroupName
	}
	return a.Group
}

// Transaction amounts keep full precision; withdrawals come back negative.
type Transaction struct {
	ID                int64           `json:"id"`
	FromUserID        int64           `json:"fromUserId"`
	Type              string          `json:"type"`
	ProcessedAmount   decimal.Decimal `json:"processedAmount"`
	ProcessedCurrency string          `json:"processedCurrency"`
	Status            string          `json:"status"`
	ProcessedAt       string          `json:"processedAt"`
	Comment           string          `json:"comment,omitempty"`
	PlatformComment   string          `json:"platformComment,omitempty"`
	PSP               string          `json:"psp,omitempty"`
}

type Trade struct {
	UserID     int64     `json:"userId"`
	Login      string    `json:"login"`
	Ticket     string    `json:"ticket"`
	TicketType string    `json:"ticketType"`
	Symbol     string    `json:"symbol"`
	Volume     FlexFloat `json:"volume"`
	Currency   string    `json:"currency"`
	PL         FlexFloat `json:"pl"`
	OpenPrice  FlexFloat `json:"openPrice"`
	ClosePrice FlexFloat `json:"closePrice"`
	OpenDate   string    `json:"openDate"`
	CloseDate  *string   `json:"closeDate"`
}

// ---------------------------------------------------------------------
// CRM query bodies
// ---------------------------------------------------------------------

type DateRange struct {
	Begin string `json:"begin"`
	End   string `json:"end"`
}

type RangeFilter struct {
	LT  *float64 `json:"lt,omitempty"`
	GT  *float64 `json:"gt,omitempty"`
	LTE *float64 `json:"lte,omitempty"`
	GTE *float64 `json:"gte,omitempty"`
	EQ  *float64 `json:"eq,omitempty"`
}

type OrderBy struct {
	Field     string `json:"field"`
	Direction string `json:"direction"`
}

type Segment struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

type TransactionRequest struct {
	CreatedAt        *DateRange        `json:"createdAt,omitempty"`
	ProcessedAt      *DateRange        `json:"processedAt,omitempty"`
	Statuses         []string          `json:"statuses,omitempty"`
	CustomFields     map[string]string `json:"customFields,omitempty"`
	FromUserID       *int64            `json:"fromUserId,omitempty"`
	TransactionTypes []string          `json:"transactionTypes,omitempty"`
}

type UserRequest struct {
	IDs          []int64           `json:"ids,omitempty"`
	Created      *DateRange        `json:"created,omitempty"`
	ClientType   string            `json:"clientType,omitempty"`
	ClientTypes  []string          `json:"clientTypes,omitempty"`
	CustomFields map[string]string `json:"customFields,omitempty"`
	Verified     *bool             `json:"verified,omitempty"`
}

type AccountRequest struct {
	CreatedAt *DateRange   `json:"createdAt,omitempty"`
	UserID    *int64       `json:"userId,omitempty"`
	UserIDs   []int64      `json:"userIds,omitempty"`
	Login     string       `json:"login,omitempty"`
	ServerID  *int         `json:"serverId,omitempty"`
	Balance   *RangeFilter `json:"balance,omitempty"`
	Credit    *RangeFilter `json:"credit,omitempty"`
	Equity    *RangeFilter `json:"equity,omitempty"`
	Margin    *RangeFilter `json:"margin,omitempty"`
	Orders    []OrderBy    `json:"orders,omitempty"`
	Segment   *Segment     `json:"segment,omitempty"`
}

type TradeRequest struct {
	OpenDate   *DateRange `json:"openDate,omitempty"`
	CloseDate  *DateRange `json:"closeDate,omitempty"`
	TicketType []string   `json:"ticketType,omitempty"`
}
