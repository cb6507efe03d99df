package binder

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// bindToStruct copies values into the fields tagged with tagName.
func bindToStruct(v any, tagName string, values map[string][]string, bindErr error) error {
	rv, err := structPtr(v, bindErr)
	if err != nil {
		return err
	}

	rt := rv.Type()
	for i := range rv.NumField() {
		field := rv.Field(i)
		fieldType := rt.Field(i)
		if !field.CanSet() {
			continue
		}
		name, skip := parseFieldTag(fieldType, tagName)
		if skip {
			continue
		}
		fieldValues, ok := values[name]
		if !ok || len(fieldValues) == 0 {
			continue
		}
		if err := setFieldValue(field, fieldType.Type, fieldValues); err != nil {
			return fmt.Errorf("%w: field %s: %v", bindErr, fieldType.Name, err)
		}
	}
	return nil
}

// parseFieldTag returns the parameter name for tagName. Untagged fields and
// fields tagged "-" are skipped, so a binder never writes a field that
// belongs to another source.
func parseFieldTag(field reflect.StructField, tagName string) (name string, skip bool) {
	tag := field.Tag.Get(tagName)
	if tag == "" || tag == "-" {
		return "", true
	}
	name, _, _ = strings.Cut(tag, ",")
	return name, name == ""
}

func setFieldValue(field reflect.Value, fieldType reflect.Type, values []string) error {
	if fieldType.Kind() == reflect.Pointer {
		if field.IsNil() {
			field.Set(reflect.New(fieldType.Elem()))
		}
		return setFieldValue(field.Elem(), fieldType.Elem(), values)
	}
	if fieldType.Kind() == reflect.Slice {
		return setSliceValue(field, fieldType, values)
	}
	if len(values) == 0 {
		return nil
	}
	value := values[0]

	switch fieldType.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, fieldType.Bits())
		if err != nil {
			return fmt.Errorf("invalid int value %q", value)
		}
		field.SetInt(n)

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(value, 10, fieldType.Bits())
		if err != nil {
			return fmt.Errorf("invalid uint value %q", value)
		}
		field.SetUint(n)

	case reflect.Float32, reflect.Float64:
		n, err := strconv.ParseFloat(value, fieldType.Bits())
		if err != nil {
			return fmt.Errorf("invalid float value %q", value)
		}
		field.SetFloat(n)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			switch strings.ToLower(value) {
			case "on", "yes":
				b = true
			case "off", "no":
				b = false
			default:
				return fmt.Errorf("invalid bool value %q", value)
			}
		}
		field.SetBool(b)

	default:
		return fmt.Errorf("unsupported type %s", fieldType.Kind())
	}
	return nil
}

// setSliceValue accepts both repeated parameters and comma-separated lists.
func setSliceValue(field reflect.Value, fieldType reflect.Type, values []string) error {
	var all []string
	for _, v := range values {
		all = append(all, strings.Split(v, ",")...)
	}

	slice := reflect.MakeSlice(fieldType, len(all), len(all))
	for i, value := range all {
		if err := setFieldValue(slice.Index(i), fieldType.Elem(), []string{strings.TrimSpace(value)}); err != nil {
			return err
		}
	}
	field.Set(slice)
	return nil
}
