package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// Validator checks one constraint of a Config.
type Validator interface {
	Validate(cfg *Config) error
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(cfg *Config) error

func (f ValidatorFunc) Validate(cfg *Config) error {
	return f(cfg)
}

// DefaultValidators are the constraints Config.Validate enforces.
func DefaultValidators() []Validator {
	return []Validator{
		RangeValidator("pool.workers", 0, 4096),
		OneOfValidator("pool.shutdown_policy", "", "drain", "discard"),
		RangeValidator("pool.stop_timeout", 0, float64(1<<62)),
		OneOfValidator("log.level", "", "debug", "info", "warn", "warning", "error"),
		OneOfValidator("tracing.exporter", "", "none", "stdout", "zipkin"),
		RequiredWhen("metrics.enabled", "metrics.address", "metrics.path"),
		ValidatorFunc(func(cfg *Config) error {
			if cfg.Tracing.Exporter == "zipkin" && cfg.Tracing.Endpoint == "" {
				return errors.New("tracing.endpoint is required for the zipkin exporter")
			}
			return nil
		}),
	}
}

// Validate runs every validator and joins the failures under ErrInvalidConfig.
func Validate(cfg *Config, validators ...Validator) error {
	var errs []error
	for _, v := range validators {
		if err := v.Validate(cfg); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

// RangeValidator requires a numeric field, addressed by its dotted YAML path
// (e.g. "pool.workers"), to lie within [min, max].
func RangeValidator(path string, min, max float64) Validator {
	return ValidatorFunc(func(cfg *Config) error {
		fieldVal, err := lookup(cfg, path)
		if err != nil {
			return err
		}

		var numVal float64
		switch fieldVal.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			numVal = float64(fieldVal.Int())
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			numVal = float64(fieldVal.Uint())
		case reflect.Float32, reflect.Float64:
			numVal = fieldVal.Float()
		default:
			return fmt.Errorf("field %s is not numeric", path)
		}

		if numVal < min || numVal > max {
			return fmt.Errorf("field %s value %v is out of range [%v, %v]", path, numVal, min, max)
		}
		return nil
	})
}

// OneOfValidator requires a string field to match one of allowed,
// ignoring case.
func OneOfValidator(path string, allowed ...string) Validator {
	return ValidatorFunc(func(cfg *Config) error {
		fieldVal, err := lookup(cfg, path)
		if err != nil {
			return err
		}
		if fieldVal.Kind() != reflect.String {
			return fmt.Errorf("field %s is not a string", path)
		}

		got := strings.ToLower(strings.TrimSpace(fieldVal.String()))
		for _, a := range allowed {
			if got == a {
				return nil
			}
		}
		return fmt.Errorf("field %s value %q is not one of %v", path, fieldVal.String(), allowed)
	})
}

// RequiredWhen requires the given fields to be non-empty while the boolean
// field at flag is true.
func RequiredWhen(flag string, fields ...string) Validator {
	return ValidatorFunc(func(cfg *Config) error {
		flagVal, err := lookup(cfg, flag)
		if err != nil {
			return err
		}
		if flagVal.Kind() != reflect.Bool || !flagVal.Bool() {
			return nil
		}

		var missing []string
		for _, f := range fields {
			v, err := lookup(cfg, f)
			if err != nil {
				return err
			}
			if v.IsZero() {
				missing = append(missing, f)
			}
		}
		if len(missing) > 0 {
			return fmt.Errorf("required when %s is set: %s", flag, strings.Join(missing, ", "))
		}
		return nil
	})
}

func lookup(cfg *Config, path string) (reflect.Value, error) {
	v := fieldByPath(reflect.ValueOf(cfg), path)
	if !v.IsValid() {
		return v, fmt.Errorf("field %s not found in config", path)
	}
	return v, nil
}

// fieldByPath walks a dotted path of yaml tag names.
func fieldByPath(val reflect.Value, path string) reflect.Value {
	current := val
	for _, part := range strings.Split(path, ".") {
		if current.Kind() == reflect.Ptr {
			current = current.Elem()
		}
		if current.Kind() != reflect.Struct {
			return reflect.Value{}
		}

		next := reflect.Value{}
		t := current.Type()
		for i := 0; i < t.NumField(); i++ {
			if tagName(t.Field(i)) == part {
				next = current.Field(i)
				break
			}
		}
		if !next.IsValid() {
			return reflect.Value{}
		}
		current = next
	}
	return current
}

// tagName is the yaml key of a field, falling back to its lowercased name.
func tagName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
	if name == "" || name == "-" {
		return strings.ToLower(f.Name)
	}
	return name
}
