package model

// Mirror tables hold a best-effort local copy of CRM entities. Rows are only
// ever inserted (insert or ignore on the natural keys below).

type Entity struct {
	ID   uint   `gorm:"primaryKey" json:"id"`
	Name string `gorm:"size:200;not null;uniqueIndex" json:"name"`
}

func (Entity) TableName() string { return "entity" }

type Client struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	Name     string `gorm:"size:255" json:"name"`
	CrmID    int64  `gorm:"column:crm_id;not null;uniqueIndex" json:"crm_id"`
	EntityID *uint  `gorm:"column:entity_id;index" json:"entity_id"`
}

func (Client) TableName() string { return "client" }

type MT5Group struct {
	ID   uint   `gorm:"primaryKey" json:"id"`
	Name string `gorm:"size:255;not null;uniqueIndex" json:"name"`
	Path string `gorm:"size:255" json:"path"`
}

func (MT5Group) TableName() string { return "mt5_group" }

type MT5Account struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	AccountID   int64  `gorm:"column:account_id;not null;uniqueIndex" json:"account_id"`
	AccountType string `gorm:"column:account_type;size:50" json:"account_type"`
	ClientID    *uint  `gorm:"column:client_id;index" json:"client_id"`
	GroupID     *uint  `gorm:"column:group_id;index" json:"group_id"`
}

func (MT5Account) TableName() string { return "mt5_account" }

type Symbol struct {
	ID      uint   `gorm:"primaryKey" json:"id"`
	Name    string `gorm:"size:100;not null" json:"name"`
	Symbol  string `gorm:"size:100;not null;uniqueIndex:idx_symbol_group" json:"symbol"`
	GroupID uint   `gorm:"column:group_id;not null;uniqueIndex:idx_symbol_group" json:"group_id"`
}

func (Symbol) TableName() string { return "symbol" }
