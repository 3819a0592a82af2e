package dwca

import (
	"archive/zip"
	"bufio"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"math/rand/v2"
	"strings"

	"github.com/klauspost/compress/flate"

	"github.com/plantnet/gbif-dl/internal/media"
)


// Term qualifiers used by GBIF archives.
const (
	dcQual   = "http://purl.org/dc/terms/"
	gbifQual = "http://rs.gbif.org/terms/1.0/"
	dwcQual  = "http://rs.tdwg.org/dwc/terms/"

	multimediaRowType = gbifQual + "Multimedia"
)

// Options configures archive reading.
type Options struct {
	// Label names the core field whose value becomes the item label,
	// e.g. "speciesKey". When empty, the full core record is attached as
	// structured metadata instead.
	Label string

	// MediaType filters the Multimedia extension. Default: "StillImage"
	MediaType string

	// Subset tags every produced item with a fixed subset name.
	Subset string
}

// metaArchive mirrors the meta.xml descriptor.
type metaArchive struct {
	XMLName    xml.Name   `xml:"archive"`
	Core       metaFile   `xml:"core"`
	Extensions []metaFile `xml:"extension"`
}

type metaFile struct {
	RowType            string      `xml:"rowType,attr"`
	FieldsTerminatedBy string      `xml:"fieldsTerminatedBy,attr"`
	IgnoreHeaderLines  int         `xml:"ignoreHeaderLines,attr"`
	Location           string      `xml:"files>location"`
	ID                 *metaIndex  `xml:"id"`
	CoreID             *metaIndex  `xml:"coreid"`
	Fields             []metaField `xml:"field"`
}

type metaIndex struct {
	Index int `xml:"index,attr"`
}

type metaField struct {
	Index int    `xml:"index,attr"`
	Term  string `xml:"term,attr"`
}

// separator decodes the escaped terminator from meta.xml, defaulting to tab.
func (f metaFile) separator() string {
	switch f.FieldsTerminatedBy {
	case "", "\\t":
		return "\t"
	case "\\n":
		return "\n"
	default:
		return f.FieldsTerminatedBy
	}
}

// shortTerm strips the qualifier from a term URI: ".../dc/terms/identifier"
// becomes "identifier".
func shortTerm(term string) string {
	if i := strings.LastIndex(term, "/"); i >= 0 {
		return term[i+1:]
	}
	return term
}

type archiveStream struct {
	zr      *zip.ReadCloser
	core    metaFile
	scanner *bufio.Scanner
	closer  io.Closer
	opts    Options

	// media rows of the requested type, keyed by core id
	mediaByID map[string][]string

	skip   int
	closed bool
}

// Open reads the archive descriptor, indexes the Multimedia extension and
// returns a lazy stream over the core rows that carry media.
func Open(path string, opts Options) (media.Stream, error) {
	if opts.MediaType == "" {
		opts.MediaType = "StillImage"
	}

	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("dwca: open %s: %w", path, err)
	}
	zr.RegisterDecompressor(zip.Deflate, func(r io.Reader) io.ReadCloser {
		return flate.NewReader(r)
	})

	meta, err := readMeta(zr)
	if err != nil {
		zr.Close()
		return nil, err
	}

	mediaByID, err := indexMultimedia(zr, meta, opts.MediaType)
	if err != nil {
		zr.Close()
		return nil, err
	}

	coreFile, err := openEntry(zr, meta.Core.Location)
	if err != nil {
		zr.Close()
		return nil, err
	}

	scanner := bufio.NewScanner(coreFile)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	return &archiveStream{
		zr:        zr,
		core:      meta.Core,
		scanner:   scanner,
		closer:    coreFile,
		opts:      opts,
		mediaByID: mediaByID,
		skip:      meta.Core.IgnoreHeaderLines,
	}, nil
}

func readMeta(zr *zip.ReadCloser) (*metaArchive, error) {
	f, err := openEntry(zr, "meta.xml")
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var meta metaArchive
	if err := xml.NewDecoder(f).Decode(&meta); err != nil {
		return nil, fmt.Errorf("dwca: parse meta.xml: %w", err)
	}
	if meta.Core.Location == "" {
		return nil, fmt.Errorf("dwca: meta.xml names no core file")
	}
	if meta.Core.ID == nil {
		return nil, fmt.Errorf("dwca: core file has no id column")
	}
	return &meta, nil
}

func openEntry(zr *zip.ReadCloser, name string) (io.ReadCloser, error) {
	for _, f := range zr.File {
		if f.Name == name {
			return f.Open()
		}
	}
	return nil, fmt.Errorf("dwca: archive entry %s not found", name)
}

// indexMultimedia loads the Multimedia extension into a coreid to URL map,
// keeping only rows of the requested media type.
func indexMultimedia(zr *zip.ReadCloser, meta *metaArchive, mediaType string) (map[string][]string, error) {
	var ext *metaFile
	for i := range meta.Extensions {
		if meta.Extensions[i].RowType == multimediaRowType {
			ext = &meta.Extensions[i]
			break
		}
	}
	if ext == nil {
		return nil, fmt.Errorf("dwca: archive has no Multimedia extension")
	}
	if ext.CoreID == nil {
		return nil, fmt.Errorf("dwca: Multimedia extension has no coreid column")
	}

	typeIdx, identIdx := -1, -1
	for _, field := range ext.Fields {
		switch field.Term {
		case dcQual + "type":
			typeIdx = field.Index
		case dcQual + "identifier":
			identIdx = field.Index
		}
	}
	if identIdx < 0 {
		return nil, fmt.Errorf("dwca: Multimedia extension has no identifier field")
	}

	f, err := openEntry(zr, ext.Location)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sep := ext.separator()
	byID := make(map[string][]string)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	skip := ext.IgnoreHeaderLines
	for scanner.Scan() {
		if skip > 0 {
			skip--
			continue
		}
		row := strings.Split(scanner.Text(), sep)
		if ext.CoreID.Index >= len(row) || identIdx >= len(row) {
			continue
		}
		if typeIdx >= 0 && typeIdx < len(row) && row[typeIdx] != mediaType {
			continue
		}
		url := row[identIdx]
		if url == "" {
			continue
		}
		id := row[ext.CoreID.Index]
		byID[id] = append(byID[id], url)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("dwca: read %s: %w", ext.Location, err)
	}
	return byID, nil
}

func (s *archiveStream) Next(ctx context.Context) (media.Item, error) {
	if s.closed {
		return media.Item{}, io.EOF
	}
	if err := ctx.Err(); err != nil {
		s.close()
		return media.Item{}, err
	}

	sep := s.core.separator()
	for s.scanner.Scan() {
		if s.skip > 0 {
			s.skip--
			continue
		}

		row := strings.Split(s.scanner.Text(), sep)
		if s.core.ID.Index >= len(row) {
			continue
		}

		urls := s.mediaByID[row[s.core.ID.Index]]
		if len(urls) == 0 {
			continue
		}
		// Occurrences with several media rows yield one at random.
		url := urls[rand.IntN(len(urls))]

		item := media.Item{
			URL:      url,
			Basename: media.HashURL(url),
			Subset:   s.opts.Subset,
		}
		if s.opts.Label != "" {
			item.Label = s.fieldValue(row, s.opts.Label)
		} else {
			item.Meta = s.recordOf(row)
		}
		return item, nil
	}

	err := s.scanner.Err()
	s.close()
	if err != nil {
		return media.Item{}, fmt.Errorf("dwca: read %s: %w", s.core.Location, err)
	}
	return media.Item{}, io.EOF
}

// fieldValue resolves a short field name like "speciesKey" against the core
// columns, whatever qualifier the archive uses for it.
func (s *archiveStream) fieldValue(row []string, name string) string {
	for _, field := range s.core.Fields {
		if shortTerm(field.Term) != name {
			continue
		}
		if field.Index < len(row) {
			return row[field.Index]
		}
	}
	return ""
}

// recordOf builds the full core record keyed by short term names.
func (s *archiveStream) recordOf(row []string) map[string]any {
	record := make(map[string]any, len(s.core.Fields))
	for _, field := range s.core.Fields {
		if field.Index < len(row) && row[field.Index] != "" {
			record[shortTerm(field.Term)] = row[field.Index]
		}
	}
	return record
}

func (s *archiveStream) close() {
	if s.closed {
		return
	}
	s.closed = true
	s.closer.Close()
	s.zr.Close()
}
