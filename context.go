package togglekit

// Context carries the request and environment attributes strategies evaluate
// against. A static context configured at construction is merged with the
// per-call context on every evaluation; per-call fields strictly override
// same-named static fields, unspecified per-call fields inherit the static
// value.
type Context struct {
	UserID        string
	SessionID     string
	RemoteAddress string
	Environment   string
	AppName       string

	// Properties holds custom attributes not covered by the named fields.
	Properties map[string]string
}

// Field resolves a context attribute by its canonical name, falling back to
// custom properties for unrecognized names.
func (c Context) Field(name string) string {
	switch name {
	case "userId":
		return c.UserID
	case "sessionId":
		return c.SessionID
	case "remoteAddress":
		return c.RemoteAddress
	case "environment":
		return c.Environment
	case "appName":
		return c.AppName
	default:
		return c.Properties[name]
	}
}

// merge overlays the per-call context onto the static one. Zero-value fields
// in the per-call context inherit the static value; properties are merged
// key-wise with per-call entries winning on collision.
func (c Context) merge(call Context) Context {
	merged := c
	if call.UserID != "" {
		merged.UserID = call.UserID
	}
	if call.SessionID != "" {
		merged.SessionID = call.SessionID
	}
	if call.RemoteAddress != "" {
		merged.RemoteAddress = call.RemoteAddress
	}
	if call.Environment != "" {
		merged.Environment = call.Environment
	}
	if call.AppName != "" {
		merged.AppName = call.AppName
	}
	if len(call.Properties) > 0 {
		props := make(map[string]string, len(c.Properties)+len(call.Properties))
		for k, v := range c.Properties {
			props[k] = v
		}
		for k, v := range call.Properties {
			props[k] = v
		}
		merged.Properties = props
	}
	return merged
}
