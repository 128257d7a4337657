// Package providerstub hosts a deterministic HTTP fake of the upstream music
// provider for integration tests. It serves the auth endpoints (register and
// cookie-based login) and the catalog endpoints (search and stream) from
// in-memory state, records every interaction, and can be told to expire
// sessions or fail logins to exercise renewal paths.
package providerstub
