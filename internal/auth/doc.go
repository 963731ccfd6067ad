// Package auth identifies the current user for the inbox gateway.
//
// User accounts and sessions live in the wider CRM; this package only
// answers "who is calling and with what role".
//
// # JWT Tokens
//
// Clients authenticate with HS256 JWTs signed with auth.jwt_secret:
//
//	{"sub": "user-42", "role": "agent", "exp": ...}
//
// The role claim is optional and defaults to "customer". Agents and admins
// may open a conversation with an empty first message.
//
// Browsers cannot set headers on a websocket handshake, so upgrade requests
// may pass the token as ?token=.
//
// # Development Mode
//
// Without a jwt_secret the gateway trusts X-User-ID and X-User-Role headers
// via HeaderIdentityMiddleware. Only use this behind a trusted proxy.
//
// # Context
//
// Handlers read the caller with FromContext:
//
//	authCtx := auth.FromContext(r.Context())
//	if authCtx == nil { ... }
package auth
