package binder

import (
	"fmt"
	"net/http"
	"reflect"
)

// Path creates a binder for fields tagged `path:"name"`. The extractor
// returns the raw value of a route parameter; chi.URLParam fits as is.
func Path(extractor func(r *http.Request, name string) string) func(r *http.Request, v any) error {
	return func(r *http.Request, v any) error {
		if extractor == nil {
			return fmt.Errorf("%w: extractor function is nil", ErrFailedToParsePath)
		}
		rv, err := structPtr(v, ErrFailedToParsePath)
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
			name, skip := parseFieldTag(fieldType, "path")
			if skip {
				continue
			}
			value := extractor(r, name)
			if value == "" {
				continue
			}
			if err := setFieldValue(field, fieldType.Type, []string{value}); err != nil {
				return fmt.Errorf("%w: field %s: %v", ErrFailedToParsePath, fieldType.Name, err)
			}
		}
		return nil
	}
}

// Query creates a binder for fields tagged `query:"name"`.
func Query() func(r *http.Request, v any) error {
	return func(r *http.Request, v any) error {
		return bindToStruct(v, "query", r.URL.Query(), ErrFailedToParseQuery)
	}
}

func structPtr(v any, bindErr error) (reflect.Value, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return reflect.Value{}, fmt.Errorf("%w: target must be a non-nil pointer", bindErr)
	}
	rv = rv.Elem()
	if rv.Kind() != reflect.Struct {
		return reflect.Value{}, fmt.Errorf("%w: target must be a pointer to struct", bindErr)
	}
	return rv, nil
}
