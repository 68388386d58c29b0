package chunking

import "fmt"

// MinDownloadChunkSize is the smallest byte range handed to a download worker.
const MinDownloadChunkSize int64 = 20 * 1024 * 1024

// Parcel is a contiguous run of chunk indexes assigned to one worker.
type Parcel struct {
	Index int // first chunk index (0-based)
	Count int // number of chunks
}

// Range is an inclusive byte range, as used in an HTTP Range header.
type Range struct {
	Start int64
	End   int64
}

// Size returns the number of bytes covered by the range.
func (r Range) Size() int64 {
	return r.End - r.Start + 1
}

// Header returns the value for an HTTP Range request header.
func (r Range) Header() string {
	return fmt.Sprintf("bytes=%d-%d", r.Start, r.End)
}

func (r Range) String() string {
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

// NumChunks returns how many chunks of chunkSize are needed for fileSize bytes.
// A zero byte file needs exactly one (empty) chunk.
func NumChunks(chunkSize, fileSize int64) int {
	if fileSize == 0 {
		return 1
	}
	return int((fileSize + chunkSize - 1) / chunkSize)
}

// WorkParcels divides numChunks chunk indexes into contiguous parcels of
// ceil(numChunks/workers) chunks each. Small chunk counts can produce fewer
// parcels than workers.
func WorkParcels(workers, numChunks int) []Parcel {
	if workers < 1 {
		workers = 1
	}
	if numChunks <= 0 {
		return nil
	}
	batch := (numChunks + workers - 1) / workers
	parcels := make([]Parcel, 0, (numChunks+batch-1)/batch)
	for start := 0; start < numChunks; start += batch {
		count := batch
		if start+count > numChunks {
			count = numChunks - start
		}
		parcels = append(parcels, Parcel{Index: start, Count: count})
	}
	return parcels
}

// ByteRanges walks fileSize bytes emitting inclusive ranges of at most
// bytesPerChunk bytes. A zero byte file has no ranges.
func ByteRanges(fileSize, bytesPerChunk int64) []Range {
	if bytesPerChunk <= 0 {
		bytesPerChunk = fileSize
	}
	var ranges []Range
	var start int64
	remaining := fileSize
	for remaining > 0 {
		amount := bytesPerChunk
		if amount > remaining {
			amount = remaining
		}
		ranges = append(ranges, Range{Start: start, End: start + amount - 1})
		start += amount
		remaining -= amount
	}
	return ranges
}

// DownloadBytesPerChunk returns the range size for downloading fileSize bytes
// with the given number of workers: an even split, but never smaller than
// MinDownloadChunkSize.
func DownloadBytesPerChunk(fileSize int64, workers int) int64 {
	if workers < 1 {
		workers = 1
	}
	per := (fileSize + int64(workers) - 1) / int64(workers)
	if per < MinDownloadChunkSize {
		per = MinDownloadChunkSize
	}
	return per
}

// ChunkOffset returns the file offset of the chunk at index for a given chunk size.
func ChunkOffset(index int, chunkSize int64) int64 {
	return int64(index) * chunkSize
}
