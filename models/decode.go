package models

import (
	"fmt"
	"reflect"
	"time"

	"github.com/bitly/go-simplejson"
	"github.com/disgoorg/snowflake/v2"
	"github.com/mitchellh/mapstructure"
)

var snowflakeType = reflect.TypeOf(snowflake.ID(0))

// Decode parses a JSON document and maps it onto out, which must be a
// pointer to a payload struct or a slice of them.
func Decode(data []byte, out any) error {
	js, err := simplejson.NewJson(data)
	if err != nil {
		return fmt.Errorf("parse payload: %w", err)
	}
	return DecodeValue(js.Interface(), out)
}

// DecodeValue maps an already parsed JSON tree onto out. Ids may arrive as
// strings or numbers, timestamps as RFC 3339 strings.
func DecodeValue(in any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			snowflakeHook,
			mapstructure.StringToTimeHookFunc(time.RFC3339),
		),
		WeaklyTypedInput: true,
		Squash:           true,
		TagName:          "json",
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(in); err != nil {
		return fmt.Errorf("map payload: %w", err)
	}
	return nil
}

func snowflakeHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to != snowflakeType || from.Kind() != reflect.String {
		return data, nil
	}
	raw := reflect.ValueOf(data).String()
	if raw == "" {
		return snowflake.ID(0), nil
	}
	id, err := snowflake.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid id %q: %w", raw, err)
	}
	return id, nil
}
