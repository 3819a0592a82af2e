// Package media defines the item descriptor exchanged between URL producers
// and the download engine, along with stream adapters that normalize any
// producer shape into a single pull-based sequence.
//
// # Descriptors
//
// An Item describes one fetchable media asset: its URL, an optional stable
// basename, an optional label (either a plain string used as an output
// sub-folder or structured metadata written as a JSON sidecar), and an
// optional subset partition name.
//
// # Streams
//
// Producers come in several shapes: slices, channels, pull iterators and
// plain text files of URLs. All of them are converted into a Stream at the
// ingestion boundary so the engine only ever deals with one sequence type:
//
//	stream := media.FromSlice(items)
//	stream := media.FromChannel(ch)
//	stream := media.FromSeq(seq)
//	stream, err := media.FromFile("urls.txt")
package media
