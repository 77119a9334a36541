package storage

import (
	"bufio"
	"fmt"
	"hash"
	"io"
	"strings"

	"dbrb/internal/checksum"
)

// SegmentedUploadStream splits one logical stream into checksummed segments
// of at most maxSize bytes. Each segment is one reader pass: Read returns
// io.EOF at a segment boundary and at the end of the source. NextSegment
// opens the segment that follows a boundary.
type SegmentedUploadStream struct {
	src          *bufio.Reader
	filename     string
	prefix       string
	maxSize      int64
	index        int
	length       int64
	total        int64
	segmentHash  hash.Hash
	streamHash   hash.Hash
	endOfSegment bool
	endOfFile    bool
	err          error
}

func NewSegmentedUploadStream(src io.Reader, filename string, maxSize int64) *SegmentedUploadStream {
	prefix, _, _ := strings.Cut(filename, ".")
	if maxSize <= 0 {
		maxSize = DefaultSegmentMaxSize
	}
	return &SegmentedUploadStream{
		src:         bufio.NewReader(src),
		filename:    filename,
		prefix:      prefix,
		maxSize:     maxSize,
		segmentHash: checksum.New(),
		streamHash:  checksum.New(),
	}
}

// SegmentName is the object name of segment index for prefix.
func SegmentName(prefix string, index int) string {
	return fmt.Sprintf("%s_%08d", prefix, index)
}

func (s *SegmentedUploadStream) Read(p []byte) (int, error) {
	if s.endOfFile {
		return 0, io.EOF
	}
	if s.length >= s.maxSize {
		if !s.endOfSegment {
			s.endOfSegment = true
			s.index++
		}
		return 0, io.EOF
	}

	// Pipes answer an empty read with 0, nil even when drained, so look
	// ahead for the end of the source instead.
	if len(p) == 0 {
		if _, err := s.src.Peek(1); err != nil {
			return 0, s.record(err)
		}
		return 0, nil
	}

	if remaining := s.maxSize - s.length; int64(len(p)) > remaining {
		p = p[:remaining]
	}

	n, err := s.src.Read(p)
	if n > 0 {
		s.segmentHash.Write(p[:n])
		s.streamHash.Write(p[:n])
		s.length += int64(n)
		s.total += int64(n)
	}
	return n, s.record(err)
}

func (s *SegmentedUploadStream) record(err error) error {
	switch {
	case err == io.EOF:
		s.endOfFile = true
	case err != nil:
		s.err = err
	}
	return err
}

// NextSegment resets the per-segment state after a boundary.
func (s *SegmentedUploadStream) NextSegment() {
	if !s.endOfSegment {
		return
	}
	s.length = 0
	s.segmentHash.Reset()
	s.endOfSegment = false
}

// Segment is the label of the segment currently being read. After a
// boundary it already names the next segment.
func (s *SegmentedUploadStream) Segment() string { return SegmentName(s.prefix, s.index) }

func (s *SegmentedUploadStream) Index() int { return s.index }

func (s *SegmentedUploadStream) Prefix() string { return s.prefix }

func (s *SegmentedUploadStream) BaseFilename() string { return s.filename }

func (s *SegmentedUploadStream) SegmentLength() int64 { return s.length }

func (s *SegmentedUploadStream) SegmentChecksum() string { return checksum.Hex(s.segmentHash) }

func (s *SegmentedUploadStream) StreamChecksum() string { return checksum.Hex(s.streamHash) }

func (s *SegmentedUploadStream) BytesRead() int64 { return s.total }

func (s *SegmentedUploadStream) EndOfSegment() bool { return s.endOfSegment }

func (s *SegmentedUploadStream) EndOfFile() bool { return s.endOfFile }

// Err is the first non-EOF error returned by the source.
func (s *SegmentedUploadStream) Err() error { return s.err }

// chunkReader caps every read from r at size bytes.
type chunkReader struct {
	r    io.Reader
	size int
}

func (c chunkReader) Read(p []byte) (int, error) {
	if c.size > 0 && len(p) > c.size {
		p = p[:c.size]
	}
	return c.r.Read(p)
}
