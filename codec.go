package scserver

import (
	"encoding/json"

	"github.com/frank-dspeed/socketcluster-server/internal/protocol"
)

// JSONCodec is the default codec engine. Frames are plain JSON except
// the ping/pong sentinels, which travel as the raw unquoted bytes #1
// and #2. Decoded objects come back as map[string]any, batches as
// []any and the sentinels as strings.
type JSONCodec struct{}

func (JSONCodec) Encode(v any) ([]byte, error) {
	if s, ok := v.(string); ok && (s == protocol.Ping || s == protocol.Pong) {
		return []byte(s), nil
	}
	return json.Marshal(v)
}

func (JSONCodec) Decode(data []byte) (any, error) {
	if s := string(data); s == protocol.Ping || s == protocol.Pong {
		return s, nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}
