// Package ledgerv1 is the wire contract of the ledger gRPC service. Messages
// are protobuf, described by File at runtime rather than generated. Token
// amounts are decimal strings so the full unsigned 64-bit range survives
// clients without native uint64.
package ledgerv1

import (
	"fmt"

	"google.golang.org/grpc/encoding"
	protoenc "google.golang.org/grpc/encoding/proto"
	"google.golang.org/grpc/mem"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/dynamicpb"
)

// codec replaces the default "proto" codec. Ledger messages are encoded
// through dynamic messages; anything else (health, reflection) goes to the
// codec it replaced.
type codec struct {
	fallback encoding.CodecV2
}

func (c codec) Marshal(v any) (mem.BufferSlice, error) {
	w, ok := v.(wireMessage)
	if !ok {
		return c.fallback.Marshal(v)
	}
	b, err := Marshal(w)
	if err != nil {
		return nil, err
	}
	return mem.BufferSlice{mem.SliceBuffer(b)}, nil
}

func (c codec) Unmarshal(data mem.BufferSlice, v any) error {
	w, ok := v.(wireMessage)
	if !ok {
		return c.fallback.Unmarshal(data, v)
	}
	return Unmarshal(data.Materialize(), w)
}

func (codec) Name() string { return protoenc.Name }

func init() {
	encoding.RegisterCodecV2(codec{fallback: encoding.GetCodecV2(protoenc.Name)})
}

// Marshal encodes a ledger message in the protobuf wire format.
func Marshal(v any) ([]byte, error) {
	w, ok := v.(wireMessage)
	if !ok {
		return nil, fmt.Errorf("ledgerv1: cannot marshal %T", v)
	}
	m := dynamicpb.NewMessage(descriptorOf(w.protoName()))
	w.toProto(m)
	// dynamic messages range over fields in map order
	return proto.MarshalOptions{Deterministic: true}.Marshal(m)
}

// Unmarshal decodes data into a ledger message.
func Unmarshal(data []byte, v any) error {
	w, ok := v.(wireMessage)
	if !ok {
		return fmt.Errorf("ledgerv1: cannot unmarshal into %T", v)
	}
	m := dynamicpb.NewMessage(descriptorOf(w.protoName()))
	if err := proto.Unmarshal(data, m); err != nil {
		return fmt.Errorf("ledgerv1: %s: %w", w.protoName(), err)
	}
	w.fromProto(m)
	return nil
}
