package config

import (
	"encoding"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
)

// ApplyEnvOverrides sets fields from variables named
// PREFIX_SECTION_FIELD after their yaml keys, e.g. PARALLEL_POOL_WORKERS or
// PARALLEL_TRACING_SERVICE_NAME. An empty prefix disables overrides.
func ApplyEnvOverrides(prefix string, cfg *Config) error {
	if prefix == "" || cfg == nil {
		return nil
	}
	return applyEnv(reflect.ValueOf(cfg).Elem(), strings.ToUpper(prefix))
}

func applyEnv(val reflect.Value, prefix string) error {
	t := val.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		fieldVal := val.Field(i)
		key := prefix + "_" + strings.ToUpper(tagName(field))

		if fieldVal.Kind() == reflect.Struct && !isTextField(fieldVal) {
			if err := applyEnv(fieldVal, key); err != nil {
				return err
			}
			continue
		}

		raw, ok := os.LookupEnv(key)
		if !ok {
			continue
		}
		if err := setField(fieldVal, raw); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	return nil
}

func isTextField(v reflect.Value) bool {
	if !v.CanAddr() {
		return false
	}
	_, ok := v.Addr().Interface().(encoding.TextUnmarshaler)
	return ok
}

func setField(v reflect.Value, raw string) error {
	if isTextField(v) {
		return v.Addr().Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(raw))
	}

	raw = strings.TrimSpace(raw)
	switch v.Kind() {
	case reflect.String:
		v.SetString(raw)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer %q", raw)
		}
		v.SetInt(n)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("invalid boolean %q", raw)
		}
		v.SetBool(b)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("invalid number %q", raw)
		}
		v.SetFloat(f)
	default:
		return fmt.Errorf("unsupported field kind %s", v.Kind())
	}
	return nil
}
