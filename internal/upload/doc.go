// Package upload sends local files to the data service in chunks.
//
// Each file becomes a chain of four tasks on a parallel.Runner:
//
//	CreateUpload -> SendChunks -> CompleteUpload -> CreateFile
//
// SendChunks partitions the chunk indexes into work parcels and sends them
// concurrently. For every chunk it reads and hashes the bytes, asks the
// service for a one-time signed URL and sends the bytes there. PUT sends are
// retried on connection errors by ddsapi; a 403 means the signed URL
// perished and a fresh one is requested.
//
// The first failing task aborts the whole run.
package upload
