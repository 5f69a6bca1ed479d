package utils

import (
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
)

// AttributeMap is a loosely typed configuration map, typically read from a YAML or JSON file.
type AttributeMap map[string]interface{}

// Has returns whether the key is present.
func (am AttributeMap) Has(name string) bool {
	_, has := am[name]
	return has
}

// DecodeAttributes decodes attrs into out using the json tags of out's fields. Unknown keys are
// reported as an error so that typos in config files do not pass silently.
func DecodeAttributes(attrs AttributeMap, out interface{}) error {
	var md mapstructure.Metadata
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           out,
		Metadata:         &md,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.TextUnmarshallerHookFunc(),
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(map[string]interface{}(attrs)); err != nil {
		return errors.Wrap(err, "error decoding attributes")
	}
	if len(md.Unused) > 0 {
		return errors.Errorf("unknown attributes %v", md.Unused)
	}
	return nil
}
