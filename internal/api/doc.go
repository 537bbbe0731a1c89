// Package api is the HTTP surface of chargegate.
//
// Every request passes through the gateway middleware, which decides
// whether the programmatic chain (/api/**, per-request credentials) or the
// interactive chain (everything else, operator session plus CSRF) governs
// it. The handlers here can rely on that decision: a handler behind an
// ADMIN rule only runs for a signed-in administrator.
//
// # Routes
//
//	POST /api/external/charging/start   partner remote start
//	POST /api/external/charging/stop    partner remote stop
//	GET  /api/v1/health                 liveness for API clients
//	GET  /api/v1/tasks/{id}             task outcome polling
//	GET  /manager/signin                operator sign-in form
//	POST /manager/signin                operator sign-in
//	POST /manager/signout               operator sign-out
//	GET  /manager/home                  console summary
//	GET  /manager/operations/tasks      recent tasks
//	GET  /manager/operations/audit      sign-in and command trail
//	/websocket/*                        live task events
//	/services/*                         legacy SOAP passthrough
//	/static/*                           console assets
//
// The server follows the same lifecycle as the infrastructure clients:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api
