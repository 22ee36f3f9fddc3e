package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
)

// EnvPrefix prefixes every environment override, e.g. MODHOST_LISTEN.
const EnvPrefix = "MODHOST"

// PrefixedEnvFeeder sets fields tagged `env:"NAME"` from PREFIX_NAME
// environment variables. It implements the golobby config feeder contract.
type PrefixedEnvFeeder struct {
	Prefix string
}

// NewPrefixedEnvFeeder creates a feeder for prefix.
func NewPrefixedEnvFeeder(prefix string) PrefixedEnvFeeder {
	return PrefixedEnvFeeder{Prefix: prefix}
}

// Feed populates structure, which must be a pointer to a struct.
func (f PrefixedEnvFeeder) Feed(structure any) error {
	v, err := structValue(structure)
	if err != nil {
		return err
	}
	return f.fill(v)
}

func (f PrefixedEnvFeeder) fill(v reflect.Value) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)
		if !field.CanSet() {
			continue
		}
		if field.Kind() == reflect.Struct {
			if err := f.fill(field); err != nil {
				return err
			}
			continue
		}
		tag, ok := fieldType.Tag.Lookup(tagEnv)
		if !ok {
			continue
		}
		name := strings.ToUpper(tag)
		if f.Prefix != "" {
			name = strings.ToUpper(f.Prefix) + "_" + name
		}
		value := os.Getenv(name)
		if value == "" {
			continue
		}
		if err := setFromString(field, value); err != nil {
			return fmt.Errorf("env %s: %w", name, err)
		}
	}
	return nil
}
