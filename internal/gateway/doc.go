// Package gateway is the development desk backend.
//
// # Overview
//
// The gateway serves the REST and websocket contract the console talks to,
// backed by a SQLite store. It exists so the console can be run and tested
// end to end without the production contact-center backend.
//
// # HTTP API
//
// All /api routes and /ws require a bearer token signed with the configured
// secret (see package auth):
//
//   - GET /api/groups?scope=queue|chat - directory snapshot for the caller
//   - GET /api/sessions/{id}/messages?limit=&before= - one history page, oldest first
//   - POST /api/groups/{id}/accept - conditional claim; losers get success=false
//   - POST /api/groups/{id}/transfer - requeue in another department
//   - GET /api/departments - department catalog
//   - GET /health, GET /health/ready - no auth
//
// # Rooms
//
// Every websocket connection is subscribed to the lobby, which carries
// move_to_top, group_list_changed and accepted room_membership frames. A join
// intent adds the chat group's room, which carries message frames (echoed to
// the sender too) and joined/left membership frames.
//
// # Simulator
//
// Simulator opens queued sessions in active departments and posts customer
// messages into live ones, so a console has traffic to react to.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	go gw.Run(ctx)
//	...
//	cancel()
package gateway
