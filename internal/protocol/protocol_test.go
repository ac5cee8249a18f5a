package protocol

import (
	"reflect"
	"testing"
)

func TestParseClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   any
		want Packet
	}{
		{
			name: "transmit event",
			in:   map[string]any{"event": "chat", "data": "hello"},
			want: Packet{Event: "chat", Data: "hello"},
		},
		{
			name: "invoke event with cid",
			in:   map[string]any{"event": "proc", "data": "x", "cid": float64(7)},
			want: Packet{Event: "proc", Data: "x", CID: 7},
		},
		{
			name: "response",
			in:   map[string]any{"rid": float64(3), "data": "ok"},
			want: Packet{RID: 3, Data: "ok"},
		},
		{
			name: "response with error",
			in:   map[string]any{"rid": float64(4), "error": map[string]any{"name": "TimeoutError"}},
			want: Packet{RID: 4, Error: map[string]any{"name": "TimeoutError"}},
		},
		{
			name: "object with neither event nor rid is raw",
			in:   map[string]any{"foo": "bar"},
			want: Packet{Data: map[string]any{"foo": "bar"}, Raw: true},
		},
		{
			name: "empty event name is raw",
			in:   map[string]any{"event": ""},
			want: Packet{Data: map[string]any{"event": ""}, Raw: true},
		},
		{
			name: "non-object is raw",
			in:   "hello",
			want: Packet{Data: "hello", Raw: true},
		},
		{
			name: "negative cid coerces to transmit",
			in:   map[string]any{"event": "chat", "cid": float64(-1)},
			want: Packet{Event: "chat"},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Parse(tt.in)
			if !reflect.DeepEqual(*got, tt.want) {
				t.Errorf("Parse(%v) = %+v, want %+v", tt.in, *got, tt.want)
			}
		})
	}
}

func TestPacketKinds(t *testing.T) {
	t.Parallel()

	event := Parse(map[string]any{"event": "x"})
	if !event.IsEvent() || event.IsResponse() {
		t.Errorf("event packet misclassified: %+v", event)
	}
	resp := Parse(map[string]any{"rid": float64(1)})
	if resp.IsEvent() || !resp.IsResponse() {
		t.Errorf("response packet misclassified: %+v", resp)
	}
}

func TestSentinels(t *testing.T) {
	t.Parallel()

	if !IsPing("#1") || IsPing("#2") || IsPing(1) {
		t.Error("IsPing misclassified")
	}
	if !IsPong("#2") || IsPong("#1") || IsPong(nil) {
		t.Error("IsPong misclassified")
	}
}

func TestBatch(t *testing.T) {
	t.Parallel()

	if got := Batch([]any{"a", "b"}); len(got) != 2 {
		t.Errorf("Batch returned %v, want 2 elements", got)
	}
	if got := Batch(map[string]any{}); got != nil {
		t.Errorf("Batch on object = %v, want nil", got)
	}
	if got := Batch("#1"); got != nil {
		t.Errorf("Batch on string = %v, want nil", got)
	}
}
