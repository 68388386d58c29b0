// Package chunking computes how files are cut into pieces for transfer.
//
// Uploads are sent as fixed-size chunks numbered from zero internally (the
// data service numbers them from one). Chunk indexes are grouped into
// contiguous work parcels, one per worker:
//
//	n := chunking.NumChunks(chunkSize, fileSize)
//	for _, p := range chunking.WorkParcels(workers, n) {
//	    // send chunks p.Index .. p.Index+p.Count-1
//	}
//
// Downloads are split into inclusive byte ranges that are large enough to be
// worth a separate request:
//
//	per := chunking.DownloadBytesPerChunk(fileSize, workers)
//	ranges := chunking.ByteRanges(fileSize, per)
//
// A zero byte file still counts as a single (empty) upload chunk because the
// data service expects one explicit chunk for it.
package chunking
