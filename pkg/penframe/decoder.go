package penframe

import (
	"bufio"
	"errors"
	"io"
)

// Decoder reads consecutive frames from a byte stream. The stream has no delimiters, frame
// boundaries are implied by the fixed size.
type Decoder struct {
	r *bufio.Reader
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, 64*Size)}
}

// Next returns the next frame. It returns io.EOF at a clean frame boundary and
// io.ErrUnexpectedEOF when the stream ends inside a frame.
func (d *Decoder) Next() (Frame, error) {
	var f Frame
	_, err := io.ReadFull(d.r, f[:])
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Frame{}, io.EOF
		}
		return Frame{}, err
	}
	return f, nil
}
