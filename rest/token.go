package rest

import "log/slog"

// Token is an opaque bearer credential. It never prints or logs its value.
type Token struct {
	value string
}

func NewToken(value string) Token {
	return Token{value: value}
}

func (t Token) String() string { return "[REDACTED]" }

func (t Token) GoString() string { return "rest.Token{[REDACTED]}" }

func (t Token) LogValue() slog.Value { return slog.StringValue("[REDACTED]") }

func (t Token) MarshalText() ([]byte, error) { return []byte("[REDACTED]"), nil }

// Expose returns the raw credential for the Authorization header.
func (t Token) Expose() string { return t.value }

func (t Token) IsEmpty() bool { return t.value == "" }
