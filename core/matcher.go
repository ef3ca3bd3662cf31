package core

import "strings"

// TopicMatcher determines whether a binding pattern matches a routing key.
type TopicMatcher interface {
	Match(pattern string, routingKey string) bool
}

// DefaultMatcher implements topic exchange matching: words are separated by
// dots, "*" matches exactly one word and "#" matches zero or more words.
//
//	"orders.created" matches "orders.created"
//	"orders.*"       matches "orders.created", not "orders.us.created"
//	"orders.#"       matches "orders", "orders.created", "orders.us.created"
type DefaultMatcher struct{}

func (DefaultMatcher) Match(pattern, routingKey string) bool {
	return matchWords(strings.Split(pattern, "."), strings.Split(routingKey, "."))
}

func matchWords(pat, key []string) bool {
	for len(pat) > 0 {
		switch pat[0] {
		case "#":
			// collapse consecutive hashes
			for len(pat) > 1 && pat[1] == "#" {
				pat = pat[1:]
			}
			if len(pat) == 1 {
				return true
			}
			for i := 0; i <= len(key); i++ {
				if matchWords(pat[1:], key[i:]) {
					return true
				}
			}
			return false
		case "*":
			if len(key) == 0 {
				return false
			}
		default:
			if len(key) == 0 || pat[0] != key[0] {
				return false
			}
		}
		pat, key = pat[1:], key[1:]
	}
	return len(key) == 0
}

// RoutingKey joins a namespace and an event into "<namespace>.<event>".
func RoutingKey(namespace, event string) string {
	if namespace == "" {
		return event
	}
	return namespace + "." + event
}

// QueueName derives the queue used for a namespace/event subscription.
func QueueName(namespace, event string) string {
	if namespace == "" {
		return event
	}
	return namespace + "-" + event
}
