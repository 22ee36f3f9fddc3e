package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/golobby/cast"
)

const (
	tagDefault  = "default"
	tagRequired = "required"
	tagEnv      = "env"
)

var (
	ErrNotStructPointer     = errors.New("config: expected pointer to struct")
	ErrRequiredFieldMissing = errors.New("config: required field missing")
)

var durationType = reflect.TypeOf(time.Duration(0))

// ApplyDefaults sets every zero field that carries a `default:"..."` tag.
func ApplyDefaults(cfg any) error {
	v, err := structValue(cfg)
	if err != nil {
		return err
	}
	return applyStructDefaults(v)
}

func applyStructDefaults(v reflect.Value) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)
		if !field.CanSet() {
			continue
		}

		switch field.Kind() {
		case reflect.Struct:
			if err := applyStructDefaults(field); err != nil {
				return err
			}
			continue
		case reflect.Slice:
			if field.Type().Elem().Kind() == reflect.Struct {
				for j := 0; j < field.Len(); j++ {
					if err := applyStructDefaults(field.Index(j)); err != nil {
						return err
					}
				}
				continue
			}
		}

		def, ok := fieldType.Tag.Lookup(tagDefault)
		if !ok || !field.IsZero() {
			continue
		}
		if err := setFromString(field, def); err != nil {
			return fmt.Errorf("default for %s: %w", fieldType.Name, err)
		}
	}
	return nil
}

// CheckRequired reports every field tagged `required:"true"` that is empty,
// by its dotted path.
func CheckRequired(cfg any) error {
	v, err := structValue(cfg)
	if err != nil {
		return err
	}
	var missing []string
	requiredFields(v, "", &missing)
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrRequiredFieldMissing, strings.Join(missing, ", "))
	}
	return nil
}

func requiredFields(v reflect.Value, prefix string, missing *[]string) {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)
		if !field.CanSet() {
			continue
		}
		name := fieldType.Name
		if prefix != "" {
			name = prefix + "." + name
		}

		switch field.Kind() {
		case reflect.Struct:
			requiredFields(field, name, missing)
			continue
		case reflect.Slice:
			if field.Type().Elem().Kind() == reflect.Struct {
				for j := 0; j < field.Len(); j++ {
					requiredFields(field.Index(j), fmt.Sprintf("%s[%d]", name, j), missing)
				}
				continue
			}
		}

		if fieldType.Tag.Get(tagRequired) == "true" && field.IsZero() {
			*missing = append(*missing, name)
		}
	}
}

// setFromString converts s to the field's type and stores it.
func setFromString(field reflect.Value, s string) error {
	if field.Type() == durationType {
		d, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		field.SetInt(int64(d))
		return nil
	}

	converted, err := cast.FromType(s, field.Type())
	if err != nil {
		return fmt.Errorf("cannot convert %q to %v: %w", s, field.Type(), err)
	}
	field.Set(reflect.ValueOf(converted).Convert(field.Type()))
	return nil
}

func structValue(cfg any) (reflect.Value, error) {
	v := reflect.ValueOf(cfg)
	if v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return reflect.Value{}, ErrNotStructPointer
	}
	return v.Elem(), nil
}
