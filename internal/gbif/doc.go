// Package gbif is a client for the GBIF occurrence API.
//
// It turns occurrence search queries, download keys and DOIs into streams of
// media items that the download engine consumes. Searches are paginated
// lazily: no request is issued until the stream is pulled.
package gbif
