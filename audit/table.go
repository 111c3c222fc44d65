package audit

import (
	"slices"
	"strings"
)

// networkTypes are the typed network roots of the orchestrator API that
// share the gateway and network-object layout.
var networkTypes = []string{"lte", "feg", "feg_lte", "cwf"}

// DefaultRules returns the rule table for the orchestrator API, most
// specific paths first. Order is significant: the first structural match
// wins, so a rule must precede any shorter rule that also matches it.
func DefaultRules() []PathRule {
	rules := []PathRule{
		// Policy enforcement
		{Path: "/networks/:networkId/policies/rules/:objectId", Type: "policy"},
		{Path: "/networks/:networkId/policies/rules", Resolver: FromBodyField("id", "policy")},
		{Path: "/networks/:networkId/rules/policies", Resolver: FromBodyField("id", "policy")},
		{Path: "/networks/:networkId/policies/base_names/:objectId", Type: "base_name"},
		{Path: "/networks/:networkId/policies/base_names", Resolver: FromBodyField("name", "base_name")},

		// Alerting. Bulk deletes name their object in the query string.
		{Path: "/networks/:networkId/prometheus/alert_config/:objectId", Type: "alert"},
		{Path: "/networks/:networkId/prometheus/alert_config", Resolver: FirstOf(
			FromQuery("alert_name", "alert"),
			FromBodyField("alert", "alert"),
		)},
		{Path: "/networks/:networkId/prometheus/alert_receiver/route", Resolver: FromParam(0, "alert_route")},
		{Path: "/networks/:networkId/prometheus/alert_receiver/:objectId", Type: "alert_receiver"},
		{Path: "/networks/:networkId/prometheus/alert_receiver", Resolver: FirstOf(
			FromQuery("receiver", "alert_receiver"),
			FromBodyField("name", "alert_receiver"),
		)},

		// Network-scoped objects
		{Path: "/networks/:networkId/gateways/:objectId", Type: "gateway"},
		{Path: "/networks/:networkId/gateways/:objectId/*", Type: "gateway"},
		{Path: "/networks/:networkId/gateways", Resolver: FromBodyField("id", "gateway")},
		{Path: "/networks/:networkId/subscribers/:objectId", Type: "subscriber"},
		{Path: "/networks/:networkId/subscribers", Resolver: FromBodyField("id", "subscriber")},
		{Path: "/networks/:networkId/tiers/:objectId", Type: "tier"},
		{Path: "/networks/:networkId/tiers", Resolver: FromBodyField("id", "tier")},

		// LTE
		{Path: "/lte/:networkId/enodebs/:objectId", Type: "enodeb"},
		{Path: "/lte/:networkId/enodebs", Resolver: FromBodyField("serial", "enodeb")},
		{Path: "/lte/:networkId/apns/:objectId", Type: "apn"},
		{Path: "/lte/:networkId/apns", Resolver: FromBodyField("apn_name", "apn")},
		{Path: "/lte/:networkId/subscribers/:objectId", Type: "subscriber"},
		{Path: "/lte/:networkId/subscribers/:objectId/*", Type: "subscriber"},
		{Path: "/lte/:networkId/subscribers", Resolver: FromBodyField("id", "subscriber")},
		{Path: "/lte/:networkId/policy_qos_profiles/:objectId", Type: "policy_qos_profile"},
		{Path: "/lte/:networkId/policy_qos_profiles", Resolver: FromBodyField("id", "policy_qos_profile")},
		{Path: "/lte/:networkId/gateway_pools/:objectId", Type: "gateway_pool"},
		{Path: "/lte/:networkId/gateway_pools", Resolver: FromBodyField("gateway_pool_id", "gateway_pool")},
		{Path: "/lte/:networkId/network_probe/tasks/:objectId", Type: "network_probe_task"},
		{Path: "/lte/:networkId/network_probe/tasks", Resolver: FromBodyField("task_id", "network_probe_task")},
		{Path: "/lte/:networkId/network_probe/destinations/:objectId", Type: "network_probe_destination"},
		{Path: "/lte/:networkId/network_probe/destinations", Resolver: FromBodyField("destination_id", "network_probe_destination")},
		{Path: "/lte/:networkId/subscriber_config", Resolver: FromParam(0, "subscriber_config")},
		{Path: "/lte/:networkId/subscriber_config/*", Resolver: FromParam(0, "subscriber_config")},

		// Carrier WiFi
		{Path: "/cwf/:networkId/ha_pairs/:objectId", Type: "ha_pair"},
		{Path: "/cwf/:networkId/ha_pairs/:objectId/*", Type: "ha_pair"},
		{Path: "/cwf/:networkId/ha_pairs", Resolver: FromBodyField("ha_pair_id", "ha_pair")},
	}

	for _, nt := range networkTypes {
		rules = append(rules,
			PathRule{Path: "/" + nt + "/:networkId/gateways/:objectId", Type: "gateway"},
			PathRule{Path: "/" + nt + "/:networkId/gateways/:objectId/*", Type: "gateway"},
			PathRule{Path: "/" + nt + "/:networkId/gateways", Resolver: FromBodyField("id", "gateway")},
		)
	}

	rules = append(rules,
		PathRule{Path: "/channels/:objectId", Type: "channel"},
		PathRule{Path: "/channels", Resolver: FromBodyField("id", "channel")},
	)

	// Network objects last: these prefixes cover every rule above.
	for _, root := range append([]string{"networks"}, networkTypes...) {
		rules = append(rules,
			PathRule{Path: "/" + root + "/:objectId", Type: "network"},
			PathRule{Path: "/" + root + "/:objectId/*", Type: "network"},
			PathRule{Path: "/" + root, Resolver: FromBodyField("id", "network")},
		)
	}

	return rules
}

// FirstOf tries each resolver in turn and returns the first non-empty id.
func FirstOf(resolvers ...ResolverFunc) ResolverFunc {
	return func(req *Request, params Params) (string, string, error) {
		var objectType string
		for _, resolve := range resolvers {
			id, typ, err := resolve(req, params)
			if err != nil {
				return "", "", err
			}
			if id != "" {
				return id, typ, nil
			}
			if objectType == "" {
				objectType = typ
			}
		}
		return "", objectType, nil
	}
}

// NetworkID returns the network a path is scoped to, e.g. "n1" for
// /magma/v1/lte/n1/enodebs. The path may carry one of DefaultPrefixes.
func NetworkID(path string) (string, bool) {
	path = StripPrefix(path, DefaultPrefixes...)
	segments := strings.SplitN(strings.TrimPrefix(path, "/"), "/", 3)
	if len(segments) < 2 || segments[1] == "" {
		return "", false
	}
	if segments[0] != "networks" && !slices.Contains(networkTypes, segments[0]) {
		return "", false
	}
	return segments[1], true
}
