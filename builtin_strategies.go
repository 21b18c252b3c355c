package togglekit

import (
	"math/rand"
	"strconv"
	"strings"

	"github.com/twmb/murmur3"
)

// builtinStrategies returns the default strategy set. The hostname is
// resolved once at client construction through the configured lookup so
// evaluation never touches process-global state.
func builtinStrategies(hostname string) []Strategy {
	return []Strategy{
		defaultStrategy{},
		userWithIDStrategy{},
		remoteAddressStrategy{},
		environmentStrategy{},
		applicationHostnameStrategy{hostname: hostname},
		gradualRolloutStrategy{name: "gradualRolloutUserId", field: "userId"},
		gradualRolloutStrategy{name: "gradualRolloutSessionId", field: "sessionId"},
		gradualRolloutRandomStrategy{},
		flexibleRolloutStrategy{},
	}
}

// defaultStrategy activates the toggle for every request.
type defaultStrategy struct{}

func (defaultStrategy) Name() string { return "default" }

func (defaultStrategy) IsEnabled(_ map[string]string, _ Context) bool { return true }

// userWithIDStrategy activates the toggle for the user ids listed in the
// "userIds" parameter.
type userWithIDStrategy struct{}

func (userWithIDStrategy) Name() string { return "userWithId" }

func (userWithIDStrategy) IsEnabled(params map[string]string, ctx Context) bool {
	return ctx.UserID != "" && listContains(params["userIds"], ctx.UserID, false)
}

// remoteAddressStrategy activates the toggle for callers whose remote
// address is listed in the "IPs" parameter.
type remoteAddressStrategy struct{}

func (remoteAddressStrategy) Name() string { return "remoteAddress" }

func (remoteAddressStrategy) IsEnabled(params map[string]string, ctx Context) bool {
	return ctx.RemoteAddress != "" && listContains(params["IPs"], ctx.RemoteAddress, false)
}

// environmentStrategy activates the toggle when the merged context's
// environment is listed in the "environments" parameter.
type environmentStrategy struct{}

func (environmentStrategy) Name() string { return "environment" }

func (environmentStrategy) IsEnabled(params map[string]string, ctx Context) bool {
	return ctx.Environment != "" && listContains(params["environments"], ctx.Environment, false)
}

// applicationHostnameStrategy activates the toggle on hosts listed in the
// "hostNames" parameter. Matching is case-insensitive.
type applicationHostnameStrategy struct {
	hostname string
}

func (applicationHostnameStrategy) Name() string { return "applicationHostname" }

func (s applicationHostnameStrategy) IsEnabled(params map[string]string, _ Context) bool {
	return s.hostname != "" && listContains(params["hostNames"], s.hostname, true)
}

// gradualRolloutStrategy buckets a stable context field into 1..100 and
// activates the toggle for buckets at or below the "percentage" parameter.
// The "groupId" parameter seeds the bucketing so the same identifier can
// land differently across toggles.
type gradualRolloutStrategy struct {
	name  string
	field string
}

func (s gradualRolloutStrategy) Name() string { return s.name }

func (s gradualRolloutStrategy) IsEnabled(params map[string]string, ctx Context) bool {
	id := ctx.Field(s.field)
	if id == "" {
		return false
	}
	percentage := parsePercentage(params["percentage"])
	if percentage == 0 {
		return false
	}
	return normalizedBucket(params["groupId"], id) <= percentage
}

// gradualRolloutRandomStrategy activates the toggle for a random share of
// evaluations, without stickiness.
type gradualRolloutRandomStrategy struct{}

func (gradualRolloutRandomStrategy) Name() string { return "gradualRolloutRandom" }

func (gradualRolloutRandomStrategy) IsEnabled(params map[string]string, _ Context) bool {
	percentage := parsePercentage(params["percentage"])
	if percentage == 0 {
		return false
	}
	return rand.Intn(100)+1 <= percentage
}

// flexibleRolloutStrategy is the parameterized rollout: the "rollout"
// parameter sets the share, "stickiness" picks the bucketing identifier
// (default, userId, sessionId or random) and "groupId" seeds the hash.
type flexibleRolloutStrategy struct{}

func (flexibleRolloutStrategy) Name() string { return "flexibleRollout" }

func (flexibleRolloutStrategy) IsEnabled(params map[string]string, ctx Context) bool {
	rollout := parsePercentage(params["rollout"])
	if rollout == 0 {
		return false
	}

	stickiness := params["stickiness"]
	if stickiness == "" {
		stickiness = "default"
	}

	var id string
	switch stickiness {
	case "userId":
		id = ctx.UserID
	case "sessionId":
		id = ctx.SessionID
	case "random":
		return rand.Intn(100)+1 <= rollout
	default:
		// default stickiness: first available stable identifier,
		// random when the context carries none.
		switch {
		case ctx.UserID != "":
			id = ctx.UserID
		case ctx.SessionID != "":
			id = ctx.SessionID
		default:
			return rand.Intn(100)+1 <= rollout
		}
	}
	if id == "" {
		return false
	}
	return normalizedBucket(params["groupId"], id) <= rollout
}

// normalizedBucket maps a (group, identifier) pair onto 1..100 using
// murmur3, matching the bucketing other SDKs of the service use so a user
// sees the same rollout decision from every client.
func normalizedBucket(group, id string) int {
	hash := murmur3.Sum32([]byte(group + ":" + id))
	return int(hash%100) + 1
}

func parsePercentage(raw string) int {
	if raw == "" {
		return 0
	}
	p, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// listContains reports whether value appears in a comma-separated parameter
// list. Entries are trimmed; fold enables case-insensitive matching.
func listContains(list, value string, fold bool) bool {
	if list == "" {
		return false
	}
	for _, entry := range strings.Split(list, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if entry == value || (fold && strings.EqualFold(entry, value)) {
			return true
		}
	}
	return false
}
