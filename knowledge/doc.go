// Package knowledge contains Store implementations used by the coordinator
// to attach relevant snippets to a problem before it is solved.
//
// Three backends are provided:
//  1. MemoryStore: process-local term overlap scoring, for tests and demos
//  2. BleveStore: a bleve full-text index, in memory or on disk
//  3. ChromemStore: a chromem-go vector collection; the embedding function is
//     supplied by the caller
//
// All stores return core.SearchResult values ordered by descending score, so
// callers can switch backends at wiring time.
package knowledge
