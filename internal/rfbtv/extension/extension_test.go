package extension

import "testing"

func TestEchoReturnsSameBytes(t *testing.T) {
	e := Echo{}
	reply, ok := e.Handle([]byte("ping"))
	if !ok {
		t.Fatalf("expected ok=true")
	}
	if string(reply) != "ping" {
		t.Fatalf("expected echoed bytes, got %q", reply)
	}
}

func TestRegistryDispatchesToRegisteredExtension(t *testing.T) {
	r := NewRegistry()
	r.Register(Echo{})

	reply, ok := r.Dispatch(EchoExtensionID, []byte("hello"))
	if !ok || string(reply) != "hello" {
		t.Fatalf("expected echoed reply, got %q ok=%v", reply, ok)
	}
}

func TestRegistryDispatchUnknownIDReturnsNotOK(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Dispatch(0x1234, []byte("x")); ok {
		t.Fatalf("expected no reply for unregistered extension id")
	}
}
