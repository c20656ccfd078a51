package connectors

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// CRM REST API. VITE_API_URL may point at the base host, at /rest, or at
	// /rest/transactions; NormalizeCRMBaseURL sorts that out.
	CRMAPIURL     string        `envconfig:"VITE_API_URL" default:"https://portal.skylinkscapital.com/rest"`
	CRMAPIVersion string        `envconfig:"VITE_API_VERSION" default:"1.0.0"`
	CRMAPIToken   string        `envconfig:"VITE_API_TOKEN"`
	CRMTimeout    time.Duration `envconfig:"CRM_TIMEOUT" default:"30s"`
	// CRMEntityField is the custom field carrying the client's entity tag.
	CRMEntityField string `envconfig:"CRM_ENTITY_FIELD" default:"custom_change_me_field"`

	// MT5 WebAPI gateway (manager credentials).
	MT5Server      string        `envconfig:"MT5_SERVER" default:"mt5.skylinkstrader.com:443"`
	MT5Login       string        `envconfig:"MT5_LOGIN"`
	MT5Password    string        `envconfig:"MT5_PASSWORD"`
	MT5Build       string        `envconfig:"MT5_BUILD" default:"4330"`
	MT5Agent       string        `envconfig:"MT5_AGENT" default:"WebAPI"`
	MT5Timeout     time.Duration `envconfig:"MT5_TIMEOUT" default:"30s"`
	MT5InsecureTLS bool          `envconfig:"MT5_INSECURE_TLS" default:"false"`

	// MT5 proxy endpoint consumed by the dashboard and CLI. Empty means the
	// proxy mounted on this server.
	MT5ProxyURL string `envconfig:"VITE_MT5_API_URL"`

	SheetCSVURL  string        `envconfig:"SHEET_CSV_URL" default:"https://docs.google.com/spreadsheets/d/e/2PACX-1vRmH7o0tjWx9MxvTDYNBNhkXA9R6h18rJFzEsKXX8oUDicl0Z6udnl4SrH-vKSOxA/pub?output=csv"`
	SheetTimeout time.Duration `envconfig:"SHEET_TIMEOUT" default:"15s"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}

// MT5SessionConfig extracts the gateway settings.
func (c Config) MT5SessionConfig() MT5SessionConfig {
	return MT5SessionConfig{
		Server:      c.MT5Server,
		Login:       c.MT5Login,
		Password:    c.MT5Password,
		Build:       c.MT5Build,
		Agent:       c.MT5Agent,
		Timeout:     c.MT5Timeout,
		InsecureTLS: c.MT5InsecureTLS,
	}
}
