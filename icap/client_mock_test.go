package icap

import (
	"bufio"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/avgate/avgate/icap/mocks"
)

// TestScanDrivesContentSourceThroughMockExpectations exercises Scan
// against a MockContentSource to assert exactly which calls the wire
// protocol makes on its source: one Preview up front, and a Reader call
// for the remainder once the server asks to continue past the preview.
func TestScanDrivesContentSourceThroughMockExpectations(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	req := require.New(t)

	payload := []byte("the quick brown fox jumps over the lazy dog")

	source := mocks.NewMockContentSource(ctrl)
	source.EXPECT().TotalSize().Return(int64(len(payload))).AnyTimes()
	source.EXPECT().Preview(gomock.Any()).Return(payload[:8], nil).Times(1)
	source.EXPECT().Reader(int64(8)).Return(io.NopCloser(newByteReader(payload[8:])), nil).Times(1)

	port, stop := fakeICAPServer(t, func(r *bufio.Reader, w io.Writer) {
		drainRequest(r)
		io.WriteString(w, "ICAP/1.0 100 Continue\r\n\r\n")
		drainRequest(r)
		io.WriteString(w, "\r\nICAP/1.0 204 No Content\r\n\r\n")
	})
	defer stop()

	c := NewClient(Config{Host: "127.0.0.1", Port: port, Service: "avscan", PreviewSize: 8}, dialerFor(port))
	v, err := c.Scan(context.Background(), source, "text/plain", "fox.txt")

	req.NoError(err)
	req.Equal(Clean, v.Kind)
}

type byteReader struct {
	data []byte
	pos  int
}

func newByteReader(b []byte) *byteReader {
	return &byteReader{data: b}
}

func (r *byteReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}
