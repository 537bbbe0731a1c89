// Package audit keeps the append-only trail of security-relevant events:
// operator sign-ins and sign-outs and every charging command submitted
// through the external endpoints. The trail lives in the audit_events table
// of the credential store.
package audit
