package controller

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// MT5 groups scanned by the dealing widget.
	DealingGroups []string `envconfig:"DEALING_GROUPS" default:"*"`
	// Pause between consecutive leverage updates.
	LeverageDelay time.Duration `envconfig:"LEVERAGE_DELAY" default:"100ms"`
	// Page size used for CRM account listings.
	AccountsPageLimit int    `envconfig:"DASHBOARD_ACCOUNTS_LIMIT" default:"1000"`
	EntityField       string `envconfig:"CRM_ENTITY_FIELD" default:"custom_change_me_field"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
