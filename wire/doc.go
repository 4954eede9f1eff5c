/*
	Package wire defines the message model shared by the client and server
	runtimes: the Operation identifier, frame headers, call ids, the error
	taxonomy, and two interchangeable frame encodings.

	The binary encoding serializes the header with fixed, self-terminating
	fields and appends the payload bytes directly, with no payload length
	prefix. It is payload-agnostic: any byte sequence round-trips exactly,
	including the empty one.

	The JSON encoding maps each frame to a single JSON object carrying a
	nullable id, the method name, and params (or result/error for
	responses). It requires payloads to already be self-describing JSON
	values.
*/
package wire
