// Package protocol classifies decoded wire values into the frame kinds
// understood by the server.
//
// A frame is either a ping/pong sentinel string, a single structured
// object, or an array of structured objects (a batch). A structured
// object with an "event" field is a one-way event, or a request when it
// also carries a "cid". An object with an "rid" field is a response to a
// previously issued request. Anything else is raw.
package protocol

// Ping and pong sentinel frames exchanged for keepalive.
const (
	Ping = "#1"
	Pong = "#2"
)

// Packet is one classified inbound object.
type Packet struct {
	Event string
	Data  any
	CID   uint64
	RID   uint64
	Error any
	Raw   bool
}

// IsEvent reports whether the packet is a one-way event or a request.
func (p *Packet) IsEvent() bool { return p.Event != "" }

// IsResponse reports whether the packet answers one of our own requests.
func (p *Packet) IsResponse() bool { return p.Event == "" && p.RID != 0 }

// IsPong reports whether the decoded value is the pong sentinel.
func IsPong(v any) bool {
	s, ok := v.(string)
	return ok && s == Pong
}

// IsPing reports whether the decoded value is the ping sentinel.
func IsPing(v any) bool {
	s, ok := v.(string)
	return ok && s == Ping
}

// Batch returns the elements of an array frame, or nil if the value is
// not a batch.
func Batch(v any) []any {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	return arr
}

// Parse classifies a single decoded object. It never fails: values that
// match no structured shape come back with Raw set and are delivered to
// the raw-message stream by the caller.
func Parse(v any) *Packet {
	obj, ok := v.(map[string]any)
	if !ok {
		return &Packet{Data: v, Raw: true}
	}

	if event, ok := obj["event"].(string); ok && event != "" {
		return &Packet{
			Event: event,
			Data:  obj["data"],
			CID:   toID(obj["cid"]),
		}
	}

	if rid := toID(obj["rid"]); rid != 0 {
		return &Packet{
			RID:   rid,
			Data:  obj["data"],
			Error: obj["error"],
		}
	}

	return &Packet{Data: v, Raw: true}
}

// Event is the wire shape of an outbound one-way event or request. A
// zero CID is omitted, which makes the frame a transmit rather than an
// invoke.
type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
	CID   uint64 `json:"cid,omitempty"`
}

// Response is the wire shape of an answer to an inbound request.
type Response struct {
	RID   uint64 `json:"rid"`
	Data  any    `json:"data,omitempty"`
	Error any    `json:"error,omitempty"`
}

// toID coerces the numeric forms a codec may produce for cid/rid.
func toID(v any) uint64 {
	switch n := v.(type) {
	case float64:
		if n < 0 {
			return 0
		}
		return uint64(n)
	case int:
		if n < 0 {
			return 0
		}
		return uint64(n)
	case int64:
		if n < 0 {
			return 0
		}
		return uint64(n)
	case uint64:
		return n
	}
	return 0
}
