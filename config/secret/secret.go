// Package secret holds credentials (store passwords, S3 keys, DSNs with passwords) so they
// do not leak into logs, spans or serialised config.
package secret

type String string

const redacted = "REDACTED"

// String implements fmt.Stringer and redacts the sensitive value.
func (s String) String() string {
	return redacted
}

// GoString implements fmt.GoStringer and redacts the sensitive value.
func (s String) GoString() string {
	return redacted
}

// Raw returns the sensitive value as a string.
func (s String) Raw() string {
	return string(s)
}

// IsSet reports whether a non-empty secret is held.
func (s String) IsSet() bool {
	return s != ""
}

func (s String) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redacted + `"`), nil
}

// MarshalYAML redacts the value when a config struct is dumped as YAML.
func (s String) MarshalYAML() (interface{}, error) {
	return redacted, nil
}
