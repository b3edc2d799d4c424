package auth

import (
	"encoding/json"
	"time"
)

// PermissionsClaim is the claim carrying granted permission strings.
const PermissionsClaim = "permissions"

// Claims is a verified claim set. Values keep their JSON-decoded types.
type Claims map[string]any

func (c Claims) str(name string) string {
	s, _ := c[name].(string)
	return s
}

func (c Claims) Issuer() string  { return c.str("iss") }
func (c Claims) Subject() string { return c.str("sub") }

// Audience returns the "aud" claim, which may be a string or an array.
func (c Claims) Audience() []string {
	switch v := c["aud"].(type) {
	case string:
		return []string{v}
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// ExpiresAt returns the "exp" claim, or the zero time when absent.
func (c Claims) ExpiresAt() time.Time {
	switch v := c["exp"].(type) {
	case float64:
		return time.Unix(int64(v), 0)
	case int64:
		return time.Unix(v, 0)
	case json.Number:
		n, err := v.Int64()
		if err == nil {
			return time.Unix(n, 0)
		}
	}
	return time.Time{}
}

// Permissions returns the string members of the permissions claim. Non-string
// members are ignored.
func (c Claims) Permissions() []string {
	switch v := c[PermissionsClaim].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Decode unmarshals the claims into ref.
func (c Claims) Decode(ref any) error {
	b, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, ref)
}
