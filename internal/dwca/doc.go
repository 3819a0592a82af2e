// Package dwca reads Darwin Core Archives as produced by GBIF downloads.
//
// An archive is a zip holding a meta.xml descriptor, a core occurrence
// table and extension tables. Only the Multimedia extension is consumed:
// each core row joined with its media rows yields one download item. The
// Multimedia table is indexed up front; core rows are then streamed so an
// archive never has to fit in memory twice.
package dwca
