package keeper

import v1 "github.com/mrshabel/raftkeeper/api/v1"

// DecodeRequest turns a raw opcode-tagged body (either straight off the
// client wire or out of a replicated api.LogEntry) into the typed Request
// Apply dispatches on. This is the top-level counterpart of multi.go's
// decodeSubRequest, covering every opcode a client can send standalone
// rather than only the subset `multi` allows.
func DecodeRequest(op v1.OpCode, body []byte) (Request, error) {
	switch op {
	case v1.OpCreate, v1.OpCreate2:
		req, err := v1.DecodeCreateRequest(body)
		if err != nil {
			return Request{}, v1.NewError(v1.ErrMarshallingError)
		}
		return Request{OpCode: op, Create: req}, nil
	case v1.OpDelete:
		req, err := v1.DecodeDeleteRequest(body)
		if err != nil {
			return Request{}, v1.NewError(v1.ErrMarshallingError)
		}
		return Request{OpCode: op, Delete: req}, nil
	case v1.OpExists, v1.OpGetData, v1.OpGetChildren, v1.OpGetChildren2:
		req, err := v1.DecodePathWatchRequest(body)
		if err != nil {
			return Request{}, v1.NewError(v1.ErrMarshallingError)
		}
		return Request{OpCode: op, PathWatch: req}, nil
	case v1.OpGetACL:
		req, err := v1.DecodePathWatchRequest(body)
		if err != nil {
			return Request{}, v1.NewError(v1.ErrMarshallingError)
		}
		return Request{OpCode: op, PathWatch: req}, nil
	case v1.OpSetData:
		req, err := v1.DecodeSetDataRequest(body)
		if err != nil {
			return Request{}, v1.NewError(v1.ErrMarshallingError)
		}
		return Request{OpCode: op, SetData: req}, nil
	case v1.OpSetACL:
		req, err := v1.DecodeSetACLRequest(body)
		if err != nil {
			return Request{}, v1.NewError(v1.ErrMarshallingError)
		}
		return Request{OpCode: op, SetACL: req}, nil
	case v1.OpSync:
		req, err := v1.DecodeSyncRequest(body)
		if err != nil {
			return Request{}, v1.NewError(v1.ErrMarshallingError)
		}
		return Request{OpCode: op, Sync: req}, nil
	case v1.OpCheck:
		req, err := v1.DecodeCheckRequest(body)
		if err != nil {
			return Request{}, v1.NewError(v1.ErrMarshallingError)
		}
		return Request{OpCode: op, Check: req}, nil
	case v1.OpMulti:
		req, err := v1.DecodeMultiRequest(body)
		if err != nil {
			return Request{}, v1.NewError(v1.ErrMarshallingError)
		}
		return Request{OpCode: op, Multi: req}, nil
	case v1.OpAuth:
		req, err := v1.DecodeAuthRequest(body)
		if err != nil {
			return Request{}, v1.NewError(v1.ErrMarshallingError)
		}
		return Request{OpCode: op, Auth: req}, nil
	case v1.OpClose:
		return Request{OpCode: op}, nil
	case v1.OpCreateSessionInternal:
		req, err := v1.DecodeCreateSessionRequest(body)
		if err != nil {
			return Request{}, v1.NewError(v1.ErrMarshallingError)
		}
		return Request{OpCode: op, CreateSession: req}, nil
	case v1.OpPing:
		return Request{OpCode: op}, nil
	}
	return Request{}, v1.NewError(v1.ErrUnimplemented)
}

// EncodeResponseBody re-encodes resp's typed payload back to wire bytes,
// mirroring DecodeRequest's opcode set. Void responses (delete, close,
// check, ping, auth) encode to nil, matching the empty body §4.1
// specifies for a success response with nothing to carry.
func EncodeResponseBody(op v1.OpCode, resp Response) []byte {
	switch op {
	case v1.OpCreate, v1.OpCreate2:
		if resp.Create != nil {
			return resp.Create.Encode()
		}
	case v1.OpExists:
		if resp.Exists != nil {
			return resp.Exists.Encode()
		}
	case v1.OpGetData:
		if resp.GetData != nil {
			return resp.GetData.Encode()
		}
	case v1.OpSetData, v1.OpSetACL:
		if resp.Stat != nil {
			return resp.Stat.Encode()
		}
	case v1.OpGetChildren, v1.OpGetChildren2:
		if resp.GetChildren != nil {
			return resp.GetChildren.Encode()
		}
	case v1.OpGetACL:
		if resp.GetACL != nil {
			return resp.GetACL.Encode()
		}
	case v1.OpSync:
		if resp.Sync != nil {
			return resp.Sync.Encode()
		}
	case v1.OpMulti:
		if resp.Multi != nil {
			return resp.Multi.Encode()
		}
	}
	return nil
}

// IsWrite reports whether op must go through Raft rather than be served
// as a local read (§4.6 dispatch stage). createSession/close/auth all
// mutate replicated state too even though they're control-plane frames.
func IsWrite(op v1.OpCode) bool {
	switch op {
	case v1.OpCreate, v1.OpCreate2, v1.OpDelete, v1.OpSetData, v1.OpSetACL,
		v1.OpMulti, v1.OpAuth, v1.OpClose, v1.OpCreateSessionInternal:
		return true
	default:
		return false
	}
}
