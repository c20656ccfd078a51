package importer

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// MT5 groups scanned for open positions by import_symbols.
	SymbolGroups []string `envconfig:"IMPORT_SYMBOL_GROUPS" default:"*"`
	EmailsOutput string   `envconfig:"EMAILS_OUTPUT" default:"mt5_emails.csv"`
}

func GetConfig() *Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return &config
}
