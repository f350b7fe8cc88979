package oidc

import "encoding/json"

// IdentityClaims is the decoded identity of the authenticated user: the
// standard subject/email/tenant claims plus an open bag of provider-defined
// custom fields. It is also the decoded payload of a verified id_token.
type IdentityClaims struct {
	Subject  string
	Email    string
	TenantId string

	// Custom holds every claim not mapped to a named field. No fixed
	// schema exists for these; key order is not significant.
	Custom map[string]interface{}
}

// reserved claims lifted out of the custom bag.
const (
	claimSubject  = "sub"
	claimEmail    = "email"
	claimTenantId = "tid"
)

// UnmarshalJSON decodes the named claims and collects everything else into
// Custom.
func (c *IdentityClaims) UnmarshalJSON(data []byte) error {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = IdentityClaims{Custom: map[string]interface{}{}}
	for k, v := range raw {
		switch k {
		case claimSubject:
			if s, ok := v.(string); ok {
				c.Subject = s
				continue
			}
		case claimEmail:
			if s, ok := v.(string); ok {
				c.Email = s
				continue
			}
		case claimTenantId:
			if s, ok := v.(string); ok {
				c.TenantId = s
				continue
			}
		}
		c.Custom[k] = v
	}
	return nil
}

// MarshalJSON re-flattens the named claims and the custom bag, so identity
// claims survive a session-storage round-trip.
func (c IdentityClaims) MarshalJSON() ([]byte, error) {
	raw := make(map[string]interface{}, len(c.Custom)+3)
	for k, v := range c.Custom {
		raw[k] = v
	}
	if c.Subject != "" {
		raw[claimSubject] = c.Subject
	}
	if c.Email != "" {
		raw[claimEmail] = c.Email
	}
	if c.TenantId != "" {
		raw[claimTenantId] = c.TenantId
	}
	return json.Marshal(raw)
}
