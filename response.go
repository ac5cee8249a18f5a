package scserver

import (
	"fmt"
	"sync"

	"github.com/frank-dspeed/socketcluster-server/internal/protocol"
)

// Response answers one inbound request. End and Error are mutually
// exclusive and each response is sent at most once; a second attempt is
// reported as a server warning, not a crash.
type Response struct {
	socket *Socket
	cid    uint64

	mu   sync.Mutex
	sent bool
}

func newResponse(socket *Socket, cid uint64) *Response {
	return &Response{socket: socket, cid: cid}
}

// End resolves the request with optional data.
func (r *Response) End(data any) {
	r.respond(data, nil, false)
}

// Error rejects the request. The error is dehydrated to its wire shape.
func (r *Response) Error(err error) {
	r.respond(nil, err, false)
}

// endBatched resolves the request on the batched send path.
func (r *Response) endBatched(data any) {
	r.respond(data, nil, true)
}

func (r *Response) respond(data any, err error, batch bool) {
	r.mu.Lock()
	if r.sent {
		r.mu.Unlock()
		r.socket.server.EmitWarning(&InvalidActionError{
			Message: fmt.Sprintf("Response to request %d has already been sent", r.cid),
		})
		return
	}
	r.sent = true
	r.mu.Unlock()

	r.socket.sendObject(protocol.Response{
		RID:   r.cid,
		Data:  data,
		Error: dehydrateError(err),
	}, batch)
}

// RPC is one inbound request delivered to a procedure stream. The
// consumer must settle it exactly once via End or Error.
type RPC struct {
	// Data is the request payload after middleware rewrites.
	Data     any
	response *Response
}

func (r *RPC) End(data any)    { r.response.End(data) }
func (r *RPC) Error(err error) { r.response.Error(err) }
