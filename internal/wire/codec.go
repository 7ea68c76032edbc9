// Package wire holds the message shapes shared across the Edge, Aggregator
// and Ranker processes: websocket frames, RPC request/response envelopes,
// and the click batches that flow between them.
package wire

import (
	jsoniter "github.com/json-iterator/go"
	"github.com/vmihailenco/msgpack/v5"
)

// JSON is the codec used for websocket text frames and config files.
var JSON = jsoniter.ConfigCompatibleWithStandardLibrary

// EncodeRPC marshals an RPC payload as msgpack, which is smaller and
// faster to decode than JSON for the high-volume Aggregator/Ranker traffic.
func EncodeRPC(v interface{}) ([]byte, error) {
	return msgpack.Marshal(v)
}

// DecodeRPC unmarshals an RPC payload previously produced by EncodeRPC.
func DecodeRPC(data []byte, v interface{}) error {
	return msgpack.Unmarshal(data, v)
}
