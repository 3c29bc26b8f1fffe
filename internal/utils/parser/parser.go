package parser

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// Lookup returns the raw value for a parameter name, or "" when absent.
type Lookup func(name string) string

// ParseQuery binds query parameters onto the fields tagged 'form'. Absent
// parameters leave the field untouched, so values decoded earlier from a
// JSON body survive.
func ParseQuery(c *fiber.Ctx, out interface{}) error {
	return Bind(func(name string) string { return c.Query(name) }, out)
}

// Bind fills the 'form'-tagged fields of out from lookup.
func Bind(lookup Lookup, out interface{}) error {
	val := reflect.ValueOf(out)
	if val.Kind() != reflect.Ptr || val.IsNil() || val.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("bind target must be a pointer to a struct, got %T", out)
	}
	elem := val.Elem()
	for i, name := range formNames(elem.Type()) {
		if name == "" {
			continue
		}
		raw := strings.TrimSpace(lookup(name))
		if raw == "" {
			continue
		}
		if err := assign(elem.Field(i), raw); err != nil {
			return fmt.Errorf("parameter %s: %w", name, err)
		}
	}
	return nil
}

// formNames returns the parameter name of each field by index; "" marks
// fields that are untagged or explicitly skipped.
func formNames(t reflect.Type) []string {
	names := make([]string, t.NumField())
	for i := range names {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		tag, _, _ := strings.Cut(f.Tag.Get("form"), ",")
		if tag == "-" {
			continue
		}
		names[i] = tag
	}
	return names
}

func assign(field reflect.Value, raw string) error {
	if field.Kind() == reflect.Ptr {
		if field.IsNil() {
			field.Set(reflect.New(field.Type().Elem()))
		}
		field = field.Elem()
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("expected integer, got %q", raw)
		}
		field.SetInt(n)
	case reflect.Bool:
		b, err := parseBool(raw)
		if err != nil {
			return fmt.Errorf("expected boolean, got %q", raw)
		}
		field.SetBool(b)
	default:
		return fmt.Errorf("unsupported field kind %s", field.Kind())
	}
	return nil
}

// parseBool also accepts the yes/no and on/off spellings HTML forms send.
func parseBool(value string) (bool, error) {
	switch strings.ToLower(value) {
	case "yes", "on", "y":
		return true, nil
	case "no", "off", "n":
		return false, nil
	}
	return strconv.ParseBool(value)
}
