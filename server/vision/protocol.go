package vision

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/sproutcast/sproutcast/pkg/vegmetrics"
	"github.com/vmihailenco/msgpack/v5"
)

// Wire protocol between us and the vision helper process: length-prefixed
// msgpack envelopes over stdin/stdout. One request, one response, matched by
// request ID. The helper announces its capabilities in a hello envelope
// before the first request.

const (
	opHello   = "hello"
	opExtract = "extract"
	opDepth   = "depth"
)

// Envelopes larger than this are a protocol violation, not a big frame.
const maxEnvelopeSize = 64 << 20

type requestEnvelope struct {
	ID    string `msgpack:"id"`
	Op    string `msgpack:"op"`
	Frame []byte `msgpack:"frame,omitempty"` // JPEG bytes
}

type depthPayload struct {
	Width  int       `msgpack:"width"`
	Height int       `msgpack:"height"`
	Values []float32 `msgpack:"values"`
}

type responseEnvelope struct {
	ID    string `msgpack:"id"`
	Op    string `msgpack:"op"`
	Error string `msgpack:"error,omitempty"`

	// hello
	DepthAvailable bool   `msgpack:"depth_available,omitempty"`
	HelperVersion  string `msgpack:"helper_version,omitempty"`

	// extract
	Scene *vegmetrics.SceneStats `msgpack:"scene,omitempty"`

	// depth
	Depth *depthPayload `msgpack:"depth,omitempty"`
}

func writeEnvelope(w io.Writer, env any) error {
	body, err := msgpack.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	var prefix [4]byte
	binary.LittleEndian.PutUint32(prefix[:], uint32(len(body)))
	if _, err := w.Write(prefix[:]); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

func readEnvelope(r io.Reader, env any) error {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return err
	}
	size := binary.LittleEndian.Uint32(prefix[:])
	if size == 0 || size > maxEnvelopeSize {
		return fmt.Errorf("invalid envelope size %v", size)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return err
	}
	if err := msgpack.Unmarshal(body, env); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	return nil
}
