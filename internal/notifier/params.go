package notifier

import "github.com/spf13/cast"

// Params from config files arrive as whatever the decoder produced
// (int vs float64, []any vs []string). These helpers normalise them.

// String returns the named string param, or "".
func (c Config) String(key string) string {
	return cast.ToString(c.Params[key])
}

// Int returns the named integer param, or 0.
func (c Config) Int(key string) int {
	return cast.ToInt(c.Params[key])
}

// Strings returns the named list param. A single string becomes a
// one-element list.
func (c Config) Strings(key string) []string {
	v, ok := c.Params[key]
	if !ok || v == nil {
		return nil
	}
	if s, ok := v.(string); ok {
		if s == "" {
			return nil
		}
		return []string{s}
	}
	return cast.ToStringSlice(v)
}

// StringMap returns the named map param.
func (c Config) StringMap(key string) map[string]string {
	v, ok := c.Params[key]
	if !ok || v == nil {
		return nil
	}
	return cast.ToStringMapString(v)
}
