// Package api is the HTTP client for the support backend's REST endpoints.
//
// # Endpoints
//
//	GET  /api/groups?scope=queue|chat          directory snapshot
//	GET  /api/sessions/{id}/messages           one history page
//	POST /api/groups/{chatGroupId}/accept      claim a queued session
//	POST /api/groups/{chatGroupId}/transfer    reroute to another department
//	GET  /api/departments                      department catalog
//
// Requests carry "Authorization: Bearer <token>". Reads and transfers are
// retried on transport errors and 5xx responses; accept is sent exactly once
// because a blind retry after a timeout could double-assign the session.
//
// Messages without a server id get a positional id built from the page
// request and their index. Such ids are only meaningful for the current
// process.
package api
