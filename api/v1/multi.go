package v1

import "bytes"

// MultiOp is one sub-operation inside a `multi` request. Body is the
// already-encoded opcode-specific payload (e.g. the output of
// (*CreateRequest).Encode), so MultiRequest reuses every other request's
// codec instead of duplicating it.
type MultiOp struct {
	OpCode OpCode
	Body   []byte
}

// MultiRequest is a sequence of sub-ops terminated by OpMultiSentinel
// (§4.1). All sub-ops commit atomically: see internal/keeper's undo-log
// apply path.
type MultiRequest struct {
	Ops []MultiOp
}

func (r *MultiRequest) Encode() []byte {
	var buf bytes.Buffer
	for _, op := range r.Ops {
		putInt32(&buf, int32(op.OpCode))
		putBytes(&buf, op.Body)
	}
	putInt32(&buf, int32(OpMultiSentinel))
	return buf.Bytes()
}

func DecodeMultiRequest(body []byte) (*MultiRequest, error) {
	r := newReader(body)
	req := &MultiRequest{}
	for {
		op, err := r.getInt32()
		if err != nil {
			return nil, err
		}
		if OpCode(op) == OpMultiSentinel {
			return req, nil
		}
		sub, err := r.getBytes()
		if err != nil {
			return nil, err
		}
		req.Ops = append(req.Ops, MultiOp{OpCode: OpCode(op), Body: sub})
	}
}

// MultiSubResult is one sub-op's outcome: Err is ErrRuntimeInconsistency
// for every sub-op except the one that actually failed (§4.4), and ErrOK
// with Body set to that sub-op's encoded response on success.
type MultiSubResult struct {
	OpCode OpCode
	Err    ErrorCode
	Body   []byte
}

// MultiResponse lists sub-results in request order (§8 property 10).
type MultiResponse struct {
	Results []MultiSubResult
}

func (r *MultiResponse) Encode() []byte {
	var buf bytes.Buffer
	for _, res := range r.Results {
		putInt32(&buf, int32(res.OpCode))
		putInt32(&buf, int32(res.Err))
		putBytes(&buf, res.Body)
	}
	putInt32(&buf, int32(OpMultiSentinel))
	return buf.Bytes()
}

func DecodeMultiResponse(body []byte) (*MultiResponse, error) {
	r := newReader(body)
	resp := &MultiResponse{}
	for {
		op, err := r.getInt32()
		if err != nil {
			return nil, err
		}
		if OpCode(op) == OpMultiSentinel {
			return resp, nil
		}
		errc, err := r.getInt32()
		if err != nil {
			return nil, err
		}
		sub, err := r.getBytes()
		if err != nil {
			return nil, err
		}
		resp.Results = append(resp.Results, MultiSubResult{OpCode: OpCode(op), Err: ErrorCode(errc), Body: sub})
	}
}
