package journal

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fxamacker/cbor/v2"
)

var cborEncMode cbor.EncMode

func init() {
	opts := cbor.CanonicalEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	em, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("journal: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// CBORSink appends records to a stream as a sequence of CBOR items.
type CBORSink struct {
	w   io.WriteCloser
	buf *bufio.Writer
	enc *cbor.Encoder
}

// NewCBORSink writes to w and closes it on Close.
func NewCBORSink(w io.WriteCloser) *CBORSink {
	buf := bufio.NewWriter(w)
	return &CBORSink{w: w, buf: buf, enc: cborEncMode.NewEncoder(buf)}
}

// CreateCBOR opens path for appending.
func CreateCBOR(path string) (*CBORSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	return NewCBORSink(f), nil
}

func (s *CBORSink) Write(r Record) error {
	if err := s.enc.Encode(r); err != nil {
		return fmt.Errorf("journal: encode record %d: %w", r.Seq, err)
	}
	return nil
}

// Close flushes buffered records and closes the stream.
func (s *CBORSink) Close() error {
	ferr := s.buf.Flush()
	cerr := s.w.Close()
	if ferr != nil {
		return fmt.Errorf("journal: flush: %w", ferr)
	}
	return cerr
}

// ReadCBOR decodes every record in a CBOR journal stream.
func ReadCBOR(r io.Reader) ([]Record, error) {
	dec := cbor.NewDecoder(r)
	var out []Record
	for {
		var rec Record
		err := dec.Decode(&rec)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("journal: decode record %d: %w", len(out)+1, err)
		}
		out = append(out, rec)
	}
}

// ReadCBORFile decodes the journal stored at path.
func ReadCBORFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	defer f.Close()
	return ReadCBOR(f)
}
