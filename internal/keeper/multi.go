package keeper

import v1 "github.com/mrshabel/raftkeeper/api/v1"

// decodeSubRequest turns one already-framed MultiOp into the same typed
// Request applyLocked dispatches on for a top-level call. Only the
// sub-ops ZooKeeper's multi actually allows are recognized (create,
// delete, setData, check); anything else is rejected with an
// UNIMPLEMENTED error so it fails closed rather than silently no-op'ing.
func decodeSubRequest(op v1.MultiOp) (Request, error) {
	switch op.OpCode {
	case v1.OpCreate, v1.OpCreate2:
		req, err := v1.DecodeCreateRequest(op.Body)
		if err != nil {
			return Request{}, err
		}
		return Request{OpCode: op.OpCode, Create: req}, nil
	case v1.OpDelete:
		req, err := v1.DecodeDeleteRequest(op.Body)
		if err != nil {
			return Request{}, err
		}
		return Request{OpCode: op.OpCode, Delete: req}, nil
	case v1.OpSetData:
		req, err := v1.DecodeSetDataRequest(op.Body)
		if err != nil {
			return Request{}, err
		}
		return Request{OpCode: op.OpCode, SetData: req}, nil
	case v1.OpCheck:
		req, err := v1.DecodeCheckRequest(op.Body)
		if err != nil {
			return Request{}, err
		}
		return Request{OpCode: op.OpCode, Check: req}, nil
	default:
		return Request{}, v1.NewError(v1.ErrUnimplemented)
	}
}

// encodeSubResponse re-encodes a sub-op's Response for MultiResponse's
// per-op body, mirroring decodeSubRequest's supported opcode set.
func encodeSubResponse(op v1.OpCode, resp Response) []byte {
	switch op {
	case v1.OpCreate, v1.OpCreate2:
		if resp.Create != nil {
			return resp.Create.Encode()
		}
	case v1.OpDelete, v1.OpCheck:
		return nil
	case v1.OpSetData:
		if resp.Stat != nil {
			return resp.Stat.Encode()
		}
	}
	return nil
}
