// Package download fetches remote files in parallel byte ranges.
//
// Every file is pre-sized on disk and split into disjoint ranges. Each range
// is a task on a parallel.Executor that streams a ranged GET from a signed
// URL and writes the bytes in place, so concurrent writers never need locks.
// Once every range of a file lands, a verify task hashes the file and
// compares it with the hashes the service reported.
//
// Failures are recorded per file. Every file is attempted before Download
// returns a FilesFailedError listing the ones that failed.
package download
