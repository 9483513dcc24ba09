// Package auth handles agent tokens.
//
// # Tokens
//
// Agent tokens are HS256 JWTs:
//
//	{"sub": "<user id>", "name": "...", "role": "agent", "caps": ["accept_chat", ...]}
//
// The backend mints and verifies them with a Verifier. The console only reads
// them with ParseIdentity; the resulting desk.Identity is the permission
// collaborator that gates accept, send, end and transfer locally before any
// network call.
//
// # Roles
//
// DefaultCapabilities maps admin, supervisor, agent and observer to their
// default capability sets.
package auth
