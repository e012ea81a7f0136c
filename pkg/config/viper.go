// Package config is responsible for initializing the application's
// configuration. It uses the Viper library to read settings from a config
// file and environment variables, providing a unified configuration system.
package config

import (
	"errors"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Init initializes the application's configuration using Viper. It sets up
// default values, defines configuration search paths, and enables reading
// from environment variables. Call once at startup, before anything reads
// configuration.
func Init(cfgFile string, logger *zap.Logger) {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/gazette-crawler/")
		viper.AddConfigPath("$HOME/.gazette-crawler")
	}

	// Database pool.
	viper.SetDefault("db.dsn", "")
	viper.SetDefault("db.max_conns", 4)
	viper.SetDefault("db.min_conns", 0)
	viper.SetDefault("db.max_conn_lifetime", "30m")

	// Crawl behavior. max_steps 0 keeps each source's own budget.
	viper.SetDefault("crawler.timeout", "20s")
	viper.SetDefault("crawler.max_steps", 0)

	// Browser process.
	viper.SetDefault("browser.headless", true)
	viper.SetDefault("browser.user_agent", "")
	viper.SetDefault("browser.domain_qps", 0.5)
	viper.SetDefault("browser.window_width", 1600)
	viper.SetDefault("browser.window_height", 1200)

	// Forensic captures.
	viper.SetDefault("artifacts.dir", "data/artifacts")

	// Source entry points, used when the database row has no base URL.
	viper.SetDefault("sources.boe.url", "https://www.boe.es/buscar/boe.php")
	viper.SetDefault("sources.dogc.url", "https://dogc.gencat.cat/ca")

	// Optional debug endpoint. Empty disables it.
	viper.SetDefault("metrics.addr", "")

	viper.SetEnvPrefix("CRAWLER") // e.g. CRAWLER_DB_DSN=postgres://...
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			logger.Debug("config file not found; using defaults and environment variables")
		} else {
			logger.Error("error reading config file", zap.Error(err))
		}
	} else {
		logger.Info("using config file", zap.String("path", viper.ConfigFileUsed()))
	}
}
