// Package config loads the poolbroker TOML configuration file.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// SubscriberDef describes one webhook subscriber entry under
// [borrow.subscribers.<name>], [return.subscribers.<name>], or
// [submit.subscribers.<name>].
type SubscriberDef struct {
	Post        string `toml:"post"`
	MustSucceed bool   `toml:"mustSucceed"`
	Async       bool   `toml:"async"`
}

// SubscriberGroup is a named set of subscribers for one operation kind.
type SubscriberGroup struct {
	Subscribers map[string]SubscriberDef `toml:"subscribers"`
}

// Config is the top-level TOML document.
type Config struct {
	Borrow SubscriberGroup `toml:"borrow"`
	Return SubscriberGroup `toml:"return"`
	Submit SubscriberGroup `toml:"submit"`
}

// Load parses a TOML config file at path. A missing or empty subscriber
// group is valid and defaults to no subscribers.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return &cfg, nil
}

// BorrowSubscribers returns the configured borrow-time subscribers, never nil.
func (c *Config) BorrowSubscribers() map[string]SubscriberDef {
	return nonNil(c.Borrow.Subscribers)
}

// ReturnSubscribers returns the configured return-time subscribers, never nil.
func (c *Config) ReturnSubscribers() map[string]SubscriberDef {
	return nonNil(c.Return.Subscribers)
}

// SubmitSubscribers returns the configured submit-time subscribers, never nil.
func (c *Config) SubmitSubscribers() map[string]SubscriberDef {
	return nonNil(c.Submit.Subscribers)
}

func nonNil(m map[string]SubscriberDef) map[string]SubscriberDef {
	if m == nil {
		return map[string]SubscriberDef{}
	}
	return m
}
