package config

// Secret is a string type that redacts itself when printed
type Secret string

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "[REDACTED]"
}

// GoString redacts the secret under the %#v verb as well, including
// when it is empty.
func (s Secret) GoString() string {
	return "[REDACTED]"
}

// MarshalJSON ensures secrets are redacted when marshaled to JSON
func (s Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"[REDACTED]"`), nil
}

// MarshalYAML ensures secrets are redacted when the config is dumped
// to YAML for logging.
func (s Secret) MarshalYAML() (interface{}, error) {
	return "[REDACTED]", nil
}
