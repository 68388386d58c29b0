// Package devserver is an in-process implementation of the data service
// control plane and its signed storage URLs, backed by an objectstore.
//
// It exists so the transfer engines can be exercised end to end without the
// real service, and so ddsclient serve can offer a local sandbox.
//
// # Routes
//
//	POST /api/v1/projects/{project}/uploads
//	GET  /api/v1/uploads/{id}
//	PUT  /api/v1/uploads/{id}/chunks
//	PUT  /api/v1/uploads/{id}/complete
//	POST /api/v1/files
//	GET  /api/v1/files/{id}
//	PUT  /api/v1/files/{id}
//	GET  /api/v1/files/{id}/url
//	POST /api/v1/software_agents/api_token
//
// Signed URLs point at /storage/chunks/{token} (one-time PUT or POST) and
// /storage/files/{token} (ranged GET until the token expires).
//
// # Fault injection
//
// [Faults] makes the server misbehave a fixed number of times: answer
// resource_not_consistent, answer 503, reject chunk sends with 403, treat
// download URLs as expired, return short or long range bodies, or drop the
// connection mid-send.
package devserver
