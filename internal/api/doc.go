// Package api provides the relay's local HTTP status API and WebSocket
// event stream.
//
// Routes:
//
//	GET /api/v1/health   component health (200 ok, 503 degraded)
//	GET /api/v1/status   link, session, output and supervisor state
//	GET /api/v1/events   stored event log (type, source, since, limit, offset)
//	GET /api/v1/ws       live events; subscribe with {"type":"subscribe","payload":{"channels":["*"]}}
//
// The API never drives the output; control stays on the broker topic.
//
//	server, err := api.New(deps)
//	if err := server.Start(ctx); err != nil {
//	    return err
//	}
//	defer server.Close()
package api
