package protocol

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ErrInvalidParameter indicates a malformed or incomplete command
var ErrInvalidParameter = errors.New("invalid parameter")

// Truthy values accepted for boolean command fields, matched
// case-insensitively; anything else is false.
var truthy = map[string]bool{
	"true": true, "t": true, "yes": true, "y": true, "1": true,
}

// Command is a decoded coordinator request: a command name plus its
// key-value parameters.
type Command struct {
	Name   string
	Params map[string]string
}

// ParseQuery decodes a command from a raw query string of key=value pairs
// joined by '&'. A pair without '=' is a decode error.
func ParseQuery(raw string) (*Command, error) {
	params := make(map[string]string)

	for _, field := range strings.Split(raw, "&") {
		key, value, found := strings.Cut(field, "=")
		if !found {
			return nil, fmt.Errorf("%w: malformed field %q", ErrInvalidParameter, field)
		}

		key, err := url.QueryUnescape(key)
		if err != nil {
			return nil, fmt.Errorf("%w: undecodable key %q", ErrInvalidParameter, field)
		}
		value, err = url.QueryUnescape(value)
		if err != nil {
			return nil, fmt.Errorf("%w: undecodable value %q", ErrInvalidParameter, field)
		}

		params[key] = value
	}

	name, ok := params["command"]
	if !ok {
		return nil, fmt.Errorf("%w: missing command field", ErrInvalidParameter)
	}

	return &Command{Name: name, Params: params}, nil
}

// Require verifies that all named fields are present
func (c *Command) Require(keys ...string) error {
	for _, key := range keys {
		if _, ok := c.Params[key]; !ok {
			return fmt.Errorf("%w: missing required field %q", ErrInvalidParameter, key)
		}
	}
	return nil
}

// Get returns a parameter value, or "" if absent
func (c *Command) Get(key string) string {
	return c.Params[key]
}

// Float parses a required numeric field
func (c *Command) Float(key string) (float64, error) {
	raw, ok := c.Params[key]
	if !ok {
		return 0, fmt.Errorf("%w: missing required field %q", ErrInvalidParameter, key)
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: field %q is not a number: %q", ErrInvalidParameter, key, raw)
	}
	return value, nil
}

// Bool normalizes a boolean field: true, t, yes, y and 1 (any case) are
// true, everything else is false.
func (c *Command) Bool(key string) bool {
	return IsTruthy(c.Params[key])
}

// IsTruthy reports whether a raw value belongs to the accepted truthy set
func IsTruthy(raw string) bool {
	return truthy[strings.ToLower(raw)]
}
