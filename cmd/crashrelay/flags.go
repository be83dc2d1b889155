package main

import (
	"reflect"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sznuper/crashrelay/internal/config"
)

// optionFlag maps a config.Options field to its CLI flag.
type optionFlag struct {
	field int
	key   string // yaml key
	name  string // flag name
}

// optionFlags derives one kebab-case flag per config.Options field from
// its yaml tag (api_key → --api-key).
func optionFlags() []optionFlag {
	t := reflect.TypeOf(config.Options{})
	flags := make([]optionFlag, 0, t.NumField())
	for i := range t.NumField() {
		key, _, _ := strings.Cut(t.Field(i).Tag.Get("yaml"), ",")
		if key == "" || key == "-" {
			continue
		}
		flags = append(flags, optionFlag{field: i, key: key, name: strings.ReplaceAll(key, "_", "-")})
	}
	return flags
}

// registerOptionFlags adds a persistent --flag for every option.
func registerOptionFlags(cmd *cobra.Command) {
	for _, f := range optionFlags() {
		cmd.PersistentFlags().String(f.name, "", "override options."+f.key)
	}
}

// applyOptionFlags overlays CLI flag values onto the config. Only flags
// explicitly set by the user are applied.
func applyOptionFlags(cmd *cobra.Command, cfg *config.Config) {
	v := reflect.ValueOf(&cfg.Options).Elem()
	for _, f := range optionFlags() {
		if cmd.Flags().Changed(f.name) {
			val, _ := cmd.Flags().GetString(f.name)
			v.Field(f.field).SetString(val)
		}
	}
}
