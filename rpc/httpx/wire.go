// Package httpx is the RPC transport binding the daemons use when
// "rpc_framework_type" is anything other than "grpc" (the default is grpc):
// a raw net/http + jsoniter request/response pair over cmn's wire
// schemas, grounded on the teacher's own cmn/api.go jsoniter-over-HTTP
// style. It implements, over the wire, the same three capability
// surfaces the in-process deployment wires directly: cis.MSClient (to a
// memory server), cis.MDSClient (to the metadata service), and
// cis.Interface (to CIS itself, for the client library).
package httpx

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/openfam/fam/cmn"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// errBody is the wire shape of a failed call: enough to reconstruct the
// FamErrKind client-side instead of collapsing every failure to a plain
// string, per spec.md §7's "single sum-type of error kinds... every kind
// is both a wire value and a locally-thrown failure".
type errBody struct {
	Kind cmn.FamErrKind `json:"kind"`
	Msg  string         `json:"msg"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = jsonAPI.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, err error) {
	fe, ok := err.(*cmn.FamError)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errBody{Kind: cmn.ErrUnknown, Msg: err.Error()})
		return
	}
	writeJSON(w, httpStatusFor(fe.Kind), errBody{Kind: fe.Kind, Msg: fe.Error()})
}

// httpStatusFor maps a FamErrKind to the nearest HTTP status so
// intermediate proxies/load balancers see a sensible code; the
// authoritative error is always the decoded JSON body, not the status.
func httpStatusFor(k cmn.FamErrKind) int {
	switch k {
	case cmn.ErrRegionNotFound, cmn.ErrDataItemNotFound:
		return http.StatusNotFound
	case cmn.ErrNoPermission, cmn.ErrRegionPermModifyNotPermitted, cmn.ErrItemPermModifyNotPermitted, cmn.ErrRegionResizeNotPermitted:
		return http.StatusForbidden
	case cmn.ErrOutOfRange, cmn.ErrInvalidOption:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func readJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	if err := jsonAPI.NewDecoder(r.Body).Decode(v); err != nil && err != io.EOF {
		return cmn.WrapFamError(cmn.ErrRPC, "malformed request body", err)
	}
	return nil
}

// doer is a minimal http.Client wrapper every *Client in this package
// embeds: POST req as JSON to base+path, decode the response (or the
// error body) into resp.
type doer struct {
	base   string
	client *http.Client
}

func newDoer(base string) *doer {
	return &doer{base: base, client: &http.Client{Timeout: 30 * time.Second}}
}

func (d *doer) call(path string, req, resp interface{}) error {
	body, err := jsonAPI.Marshal(req)
	if err != nil {
		return cmn.WrapFamError(cmn.ErrRPC, "encoding request", err)
	}
	httpReq, err := http.NewRequest(http.MethodPost, d.base+path, bytes.NewReader(body))
	if err != nil {
		return cmn.WrapFamError(cmn.ErrRPC, "building request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpResp, err := d.client.Do(httpReq)
	if err != nil {
		return cmn.WrapFamError(cmn.ErrRPCClientNotFound, fmt.Sprintf("unreachable at %s", d.base), err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 300 {
		var eb errBody
		if err := json.NewDecoder(httpResp.Body).Decode(&eb); err != nil {
			return cmn.NewFamError(cmn.ErrRPC, fmt.Sprintf("%s: http %d", path, httpResp.StatusCode))
		}
		return cmn.NewFamError(eb.Kind, eb.Msg)
	}
	if resp == nil {
		return nil
	}
	if err := json.NewDecoder(httpResp.Body).Decode(resp); err != nil && err != io.EOF {
		return cmn.WrapFamError(cmn.ErrRPC, "decoding response", err)
	}
	return nil
}
