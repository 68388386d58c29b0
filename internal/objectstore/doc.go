// Package objectstore keeps uploaded chunks in a gocloud.dev/blob bucket and
// serves byte ranges of completed uploads.
//
// # Storage Layout
//
//	{bucket}/uploads/{upload_id}/chunk-000001
//	{bucket}/uploads/{upload_id}/chunk-000002
//	{bucket}/uploads/{upload_id}/manifest.json
//
// Chunk numbers are 1-based, matching the wire protocol. Chunks may arrive
// in any order and may be overwritten until the upload is completed.
// [Store.Complete] checks that chunks 1..N are present, computes the whole
// file hash and writes the manifest. After that the upload is immutable and
// [Store.NewRangeReader] can read any byte range across chunk boundaries.
//
// Any bucket URL supported by gocloud.dev works: mem://, file:///path,
// s3://bucket?endpoint=..., gs://bucket.
package objectstore
