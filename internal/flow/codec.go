package flow

import (
	"posgate/internal/types"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"
)

var enc, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
var dec, _ = zstd.NewReader(nil)

// EncodeResponse encodes the response as JSON and compresses it for the
// shared value store.
func EncodeResponse(r *types.Response) ([]byte, error) {
	s, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return enc.EncodeAll(s, make([]byte, 0, len(s))), nil
}

// DecodeResponse reverses EncodeResponse.
func DecodeResponse(in []byte) (*types.Response, error) {
	b, err := dec.DecodeAll(in, nil)
	if err != nil {
		return nil, err
	}
	var r types.Response
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
