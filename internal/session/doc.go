// Package session keeps server-side state for signed-in console operators.
//
// A session is addressed by an opaque random ID carried in a cookie. Two
// backends implement Store: MemoryStore for a single instance and RedisStore
// when several gateway instances share sign-ins. The programmatic API chain
// never touches this package.
package session
