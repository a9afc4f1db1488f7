// Package codec provides rpc.Codec implementations for characteristic payloads.
//
//   - Binary: fixed-layout structs in big-endian byte order
//   - CBOR: RFC 8949 with deterministic encoding
//   - Raw: byte slices passed through unchanged
package codec
