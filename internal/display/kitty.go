package display

import (
	"encoding/base64"
	"fmt"
	"io"
	"strconv"
)

const (
	escapeStart = "\x1b_G"
	escapeEnd   = "\x1b\\"
	chunkSize   = 4096
)

// KittyEncoder writes PNG bytes using the kitty graphics protocol.
type KittyEncoder struct {
	out     io.Writer
	columns int
}

func NewKittyEncoder(out io.Writer) *KittyEncoder {
	return &KittyEncoder{out: out}
}

// WithColumns scales the placement to n terminal cells wide. Zero keeps the
// image at its native size.
func (e *KittyEncoder) WithColumns(n int) *KittyEncoder {
	e.columns = max(n, 0)
	return e
}

func (e *KittyEncoder) Encode(data []byte) error {
	if len(data) == 0 {
		return nil
	}

	encoded := base64.StdEncoding.EncodeToString(data)
	chunks := splitIntoChunks(encoded, chunkSize)
	if len(chunks) == 1 {
		return e.write(e.controlKeys(), chunks[0])
	}

	for i, chunk := range chunks {
		var params string
		switch i {
		case 0:
			params = e.controlKeys() + ",m=1"
		case len(chunks) - 1:
			params = "m=0"
		default:
			params = "m=1"
		}
		if err := e.write(params, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (e *KittyEncoder) controlKeys() string {
	keys := "a=T,f=100,q=2"
	if e.columns > 0 {
		keys += ",c=" + strconv.Itoa(e.columns)
	}
	return keys
}

func (e *KittyEncoder) write(params, payload string) error {
	_, err := fmt.Fprintf(e.out, "%s%s;%s%s", escapeStart, params, payload, escapeEnd)
	return err
}

func splitIntoChunks(s string, size int) []string {
	var chunks []string
	for len(s) > 0 {
		n := min(size, len(s))
		chunks = append(chunks, s[:n])
		s = s[n:]
	}
	return chunks
}
