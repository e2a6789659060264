package main

import (
	"slices"

	"github.com/spf13/viper"
	"github.com/tarik02/apiproxy/logging"
	"github.com/tarik02/apiproxy/recordstore"
)

type Config struct {
	Log logging.Config

	Bind string

	Store recordstore.Config

	APITokens []string

	Metrics bool
	Pprof   bool
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("bind", ":5000")
	v.SetDefault("store.driver", "json")
	v.SetDefault("store.path", "data/records.json")
	v.SetDefault("apitokens", []string{})
	v.SetDefault("metrics", true)
	v.SetDefault("pprof", false)
}

// AuthEnabled reports whether record mutations need a bearer token.
func (c *Config) AuthEnabled() bool {
	return len(c.APITokens) > 0
}

func (c *Config) FindAPIToken(token string) bool {
	return slices.Contains(c.APITokens, token)
}
