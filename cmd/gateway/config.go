package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gobwas/glob"
	"github.com/spf13/viper"
	"github.com/tarik02/apiproxy/logging"
	"github.com/tarik02/apiproxy/upstream"
)

type ConfigOperation struct {
	Name     string
	Method   string
	Methods  []string
	Path     string
	Schema   string
	Fallback any
}

type Config struct {
	Log logging.Config

	Bind string

	Upstream struct {
		BaseURL     string
		Timeout     time.Duration
		Token       string
		MinVersion  string
		MaxParallel int
	}

	DefaultOperations bool
	Operations        []ConfigOperation

	CORS struct {
		AllowedOrigins   []glob.Glob
		AllowCredentials bool
	}

	ForwardAuth bool
	Metrics     bool
	Pprof       bool
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("bind", ":8080")
	v.SetDefault("upstream.baseurl", "http://localhost:5000")
	v.SetDefault("upstream.timeout", "30s")
	v.SetDefault("upstream.token", "")
	v.SetDefault("upstream.minversion", "")
	v.SetDefault("upstream.maxparallel", upstream.DefaultMaxParallel)
	v.SetDefault("defaultoperations", true)
	v.SetDefault("forwardauth", false)
	v.SetDefault("metrics", true)
	v.SetDefault("pprof", false)
}

func (c *Config) Target() upstream.Target {
	return upstream.Target{
		BaseURL:    c.Upstream.BaseURL,
		Timeout:    c.Upstream.Timeout,
		Token:      c.Upstream.Token,
		MinVersion: c.Upstream.MinVersion,
	}
}

// BuildOperations starts from the built-in catalog (unless disabled) and lets
// configured operations replace entries by name or add new ones.
func (c *Config) BuildOperations() ([]upstream.Operation, error) {
	var ops []upstream.Operation
	if c.DefaultOperations {
		ops = upstream.DefaultOperations()
	}

	index := make(map[string]int, len(ops))
	for i, op := range ops {
		index[op.Name] = i
	}

	for _, co := range c.Operations {
		op := upstream.Operation{
			Name:    co.Name,
			Method:  co.Method,
			Methods: co.Methods,
			Path:    co.Path,
			Schema:  co.Schema,
		}
		if co.Fallback != nil {
			b, err := json.Marshal(co.Fallback)
			if err != nil {
				return nil, fmt.Errorf("operation %s: encoding fallback: %w", co.Name, err)
			}
			op.Fallback = b
		}

		if i, ok := index[op.Name]; ok {
			ops[i] = op
		} else {
			index[op.Name] = len(ops)
			ops = append(ops, op)
		}
	}

	return ops, nil
}

func (c *Config) BuildProxy() (*upstream.Proxy, error) {
	ops, err := c.BuildOperations()
	if err != nil {
		return nil, err
	}
	return upstream.New(c.Target(), ops, upstream.WithMaxParallel(c.Upstream.MaxParallel))
}

func (c *Config) AllowOrigin(origin string) bool {
	for _, g := range c.CORS.AllowedOrigins {
		if g.Match(origin) {
			return true
		}
	}
	return false
}
