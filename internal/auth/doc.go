// Package auth resolves who is calling chargegate.
//
// Two kinds of identity exist:
//   - Operators sign in to the interactive console with a username and
//     password and are then bound to a server-side session.
//   - API clients present credentials on every programmatic request, either
//     HTTP Basic (client name and secret) or an HS256 bearer token.
//
// Both resolve to a Principal carrying its roles. ADMIN grants the console;
// USER is a plain authenticated identity.
//
// Passwords and client secrets are stored as Argon2id PHC strings. bcrypt
// hashes imported from an existing deployment verify too and are upgraded
// on the next successful sign-in.
package auth
