// Package ddsapi talks to the data service control plane and to the signed
// storage URLs it hands out.
//
// # Control plane
//
// [Client] issues JSON requests against the service base URL with an
// Authorization token and a User-Agent header. Responses are decoded into
// the types in this package; failures become [*DataServiceError], which
// supports errors.Is against the sentinels ([ErrResourceNotConsistent],
// [ErrForbidden], [ErrServiceDown], ...).
//
// A 503 means the service is down for maintenance: the call waits
// Connection.ServiceDownWait and retries until the context is cancelled.
// Idempotent calls are retried on connection failure with a fresh session.
//
// # External storage
//
// [Client.SendExternal] and [Client.ReceiveExternal] move bytes to and from
// the signed URLs described by [URLInfo]. Chunk PUTs are retried with a
// fixed sleep and a fresh session; POSTs never are. A 403 on send is
// reported as [ErrForbidden] so the caller can re-issue the URL; a 401 or
// 403 on receive is reported as [ErrExpiredURL].
//
// # Connection
//
// [Connection] is a plain value holding everything needed to build a
// client. Workers receive a copy and construct their own [Client].
package ddsapi
