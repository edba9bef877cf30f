// Package autoload configures the global logger from LOG_* environment
// variables when imported.
package autoload

import (
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"

	logx "github.com/tanpawarit/chative-crm-agent/pkg/logger"
)

func init() {
	Reload()
}

// Reload re-reads LOG_* and re-initializes the global logger. Call it after a
// .env file has been exported so values set only there take effect.
func Reload() {
	var conf logx.Config
	if err := envconfig.Process("LOG", &conf); err != nil {
		logx.Init()
		log.Warn().Err(err).Msg("invalid LOG_* settings, using defaults")
		return
	}
	logx.Init(conf)
}
