// Package gateway classifies every inbound request into exactly one security
// chain and enforces that chain's authorisation rules.
//
// Two chains exist and are evaluated in order:
//
//	programmatic  /api/**   stateless, per-request credentials, no cookies
//	interactive   /**       session cookie, CSRF double-submit, sign-in redirect
//
// Within a chain, rules are tried top-down and the first matching pattern
// wins. Every chain ends with a deny-all rule, so an unlisted path is never
// reachable by accident.
//
// Patterns use the ant style the prefixes are configured in: "/**" matches
// everything, "/x/**" matches /x and anything beneath it, and any other
// pattern matches one exact path. Paths are cleaned before matching.
package gateway
