// Codec implements Request/Response encoding using protobuf's wire format
// directly via google.golang.org/protobuf/encoding/protowire, without a
// generated .proto/pb.go pair: the Shim's cgo shared object cannot pull in
// the full protoc-gen-go runtime, but the wire format itself (varint, tag,
// length-delimited encoding) is exactly what a hand-rolled binary codec
// over a Unix socket needs, so the library is used for the encoding
// primitives only.
package protocol

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/velo-sh/rift/internal/hashid"
)

// Request field numbers.
const (
	fieldReqOp            = 1
	fieldReqRequestID     = 2
	fieldReqWorkspaceID   = 3
	fieldReqVPath         = 4
	fieldReqNewVPath      = 5
	fieldReqMode          = 6
	fieldReqMtimeNS       = 7
	fieldReqTruncate      = 8
	fieldReqStagingHandle = 9
	fieldReqHash          = 10
	fieldReqSize          = 11
	fieldReqSymlinkTarget = 12
	fieldReqExcl          = 13
)

// Response field numbers.
const (
	fieldRespRequestID     = 1
	fieldRespStatus        = 2
	fieldRespMessage       = 3
	fieldRespMode          = 4
	fieldRespSize          = 5
	fieldRespMtimeNS       = 6
	fieldRespHash          = 7
	fieldRespKind          = 8
	fieldRespSymlinkTarget = 9
	fieldRespStagingHandle = 10
	fieldRespHostPath      = 11
	fieldRespEntries       = 12
)

// DirEntry field numbers.
const (
	fieldEntryName = 1
	fieldEntryMode = 2
	fieldEntryKind = 3
)

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, 1)
}

func appendUint64(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendInt64(b []byte, num protowire.Number, v int64) []byte {
	return appendUint64(b, num, uint64(v))
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendBytesMsg(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

// forEachField walks b's top-level tagged fields, invoking fn with the
// field number, wire type, and the remaining bytes positioned at the
// field's value. fn returns the number of bytes it consumed from v (not
// including the tag, which forEachField has already consumed).
func forEachField(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("protocol: malformed tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		consumed, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if consumed < 0 || consumed > len(b) {
			return fmt.Errorf("protocol: field %d consumed out of range", num)
		}
		b = b[consumed:]
	}
	return nil
}

func consumeVarintField(v []byte) (uint64, int, error) {
	val, n := protowire.ConsumeVarint(v)
	if n < 0 {
		return 0, 0, fmt.Errorf("protocol: malformed varint: %w", protowire.ParseError(n))
	}
	return val, n, nil
}

func consumeStringField(v []byte) (string, int, error) {
	val, n := protowire.ConsumeString(v)
	if n < 0 {
		return "", 0, fmt.Errorf("protocol: malformed string: %w", protowire.ParseError(n))
	}
	return val, n, nil
}

func consumeBytesField(v []byte) ([]byte, int, error) {
	val, n := protowire.ConsumeBytes(v)
	if n < 0 {
		return nil, 0, fmt.Errorf("protocol: malformed bytes: %w", protowire.ParseError(n))
	}
	return val, n, nil
}

// EncodeRequest marshals req into its wire representation.
func EncodeRequest(req *Request) []byte {
	var b []byte
	b = appendUint64(b, fieldReqOp, uint64(req.Op))
	b = appendString(b, fieldReqRequestID, req.RequestID)
	b = appendString(b, fieldReqWorkspaceID, req.WorkspaceID)
	b = appendString(b, fieldReqVPath, req.VPath)
	b = appendString(b, fieldReqNewVPath, req.NewVPath)
	b = appendUint64(b, fieldReqMode, uint64(req.Mode))
	b = appendInt64(b, fieldReqMtimeNS, req.MtimeNS)
	b = appendBool(b, fieldReqTruncate, req.Truncate)
	b = appendString(b, fieldReqStagingHandle, req.StagingHandle)
	b = appendString(b, fieldReqHash, string(req.Hash))
	b = appendInt64(b, fieldReqSize, req.Size)
	b = appendString(b, fieldReqSymlinkTarget, req.SymlinkTarget)
	b = appendBool(b, fieldReqExcl, req.Excl)
	return b
}

// DecodeRequest unmarshals b into a Request. Unknown field numbers are
// skipped, matching protobuf's forward-compatibility convention.
func DecodeRequest(b []byte) (*Request, error) {
	req := &Request{}
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch num {
		case fieldReqOp:
			val, n, err := consumeVarintField(v)
			if err != nil {
				return 0, err
			}
			req.Op = Opcode(val)
			return n, nil
		case fieldReqRequestID:
			val, n, err := consumeStringField(v)
			if err != nil {
				return 0, err
			}
			req.RequestID = val
			return n, nil
		case fieldReqWorkspaceID:
			val, n, err := consumeStringField(v)
			if err != nil {
				return 0, err
			}
			req.WorkspaceID = val
			return n, nil
		case fieldReqVPath:
			val, n, err := consumeStringField(v)
			if err != nil {
				return 0, err
			}
			req.VPath = val
			return n, nil
		case fieldReqNewVPath:
			val, n, err := consumeStringField(v)
			if err != nil {
				return 0, err
			}
			req.NewVPath = val
			return n, nil
		case fieldReqMode:
			val, n, err := consumeVarintField(v)
			if err != nil {
				return 0, err
			}
			req.Mode = uint32(val)
			return n, nil
		case fieldReqMtimeNS:
			val, n, err := consumeVarintField(v)
			if err != nil {
				return 0, err
			}
			req.MtimeNS = int64(val)
			return n, nil
		case fieldReqTruncate:
			val, n, err := consumeVarintField(v)
			if err != nil {
				return 0, err
			}
			req.Truncate = val != 0
			return n, nil
		case fieldReqStagingHandle:
			val, n, err := consumeStringField(v)
			if err != nil {
				return 0, err
			}
			req.StagingHandle = val
			return n, nil
		case fieldReqHash:
			val, n, err := consumeStringField(v)
			if err != nil {
				return 0, err
			}
			req.Hash = hashid.ContentHash(val)
			return n, nil
		case fieldReqSize:
			val, n, err := consumeVarintField(v)
			if err != nil {
				return 0, err
			}
			req.Size = int64(val)
			return n, nil
		case fieldReqSymlinkTarget:
			val, n, err := consumeStringField(v)
			if err != nil {
				return 0, err
			}
			req.SymlinkTarget = val
			return n, nil
		case fieldReqExcl:
			val, n, err := consumeVarintField(v)
			if err != nil {
				return 0, err
			}
			req.Excl = val != 0
			return n, nil
		default:
			return skipField(typ, v)
		}
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

// EncodeResponse marshals resp into its wire representation.
func EncodeResponse(resp *Response) []byte {
	var b []byte
	b = appendString(b, fieldRespRequestID, resp.RequestID)
	b = appendUint64(b, fieldRespStatus, uint64(resp.Status))
	b = appendString(b, fieldRespMessage, resp.Message)
	b = appendUint64(b, fieldRespMode, uint64(resp.Mode))
	b = appendInt64(b, fieldRespSize, resp.Size)
	b = appendInt64(b, fieldRespMtimeNS, resp.MtimeNS)
	b = appendString(b, fieldRespHash, string(resp.Hash))
	b = appendUint64(b, fieldRespKind, uint64(resp.Kind))
	b = appendString(b, fieldRespSymlinkTarget, resp.SymlinkTarget)
	b = appendString(b, fieldRespStagingHandle, resp.StagingHandle)
	b = appendString(b, fieldRespHostPath, resp.HostPath)
	for _, e := range resp.Entries {
		b = appendBytesMsg(b, fieldRespEntries, encodeDirEntry(e))
	}
	return b
}

// DecodeResponse unmarshals b into a Response.
func DecodeResponse(b []byte) (*Response, error) {
	resp := &Response{}
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch num {
		case fieldRespRequestID:
			val, n, err := consumeStringField(v)
			if err != nil {
				return 0, err
			}
			resp.RequestID = val
			return n, nil
		case fieldRespStatus:
			val, n, err := consumeVarintField(v)
			if err != nil {
				return 0, err
			}
			resp.Status = Status(val)
			return n, nil
		case fieldRespMessage:
			val, n, err := consumeStringField(v)
			if err != nil {
				return 0, err
			}
			resp.Message = val
			return n, nil
		case fieldRespMode:
			val, n, err := consumeVarintField(v)
			if err != nil {
				return 0, err
			}
			resp.Mode = uint32(val)
			return n, nil
		case fieldRespSize:
			val, n, err := consumeVarintField(v)
			if err != nil {
				return 0, err
			}
			resp.Size = int64(val)
			return n, nil
		case fieldRespMtimeNS:
			val, n, err := consumeVarintField(v)
			if err != nil {
				return 0, err
			}
			resp.MtimeNS = int64(val)
			return n, nil
		case fieldRespHash:
			val, n, err := consumeStringField(v)
			if err != nil {
				return 0, err
			}
			resp.Hash = hashid.ContentHash(val)
			return n, nil
		case fieldRespKind:
			val, n, err := consumeVarintField(v)
			if err != nil {
				return 0, err
			}
			resp.Kind = uint8(val)
			return n, nil
		case fieldRespSymlinkTarget:
			val, n, err := consumeStringField(v)
			if err != nil {
				return 0, err
			}
			resp.SymlinkTarget = val
			return n, nil
		case fieldRespStagingHandle:
			val, n, err := consumeStringField(v)
			if err != nil {
				return 0, err
			}
			resp.StagingHandle = val
			return n, nil
		case fieldRespHostPath:
			val, n, err := consumeStringField(v)
			if err != nil {
				return 0, err
			}
			resp.HostPath = val
			return n, nil
		case fieldRespEntries:
			val, n, err := consumeBytesField(v)
			if err != nil {
				return 0, err
			}
			entry, derr := decodeDirEntry(val)
			if derr != nil {
				return 0, derr
			}
			resp.Entries = append(resp.Entries, entry)
			return n, nil
		default:
			return skipField(typ, v)
		}
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func encodeDirEntry(e DirEntry) []byte {
	var b []byte
	b = appendString(b, fieldEntryName, e.Name)
	b = appendUint64(b, fieldEntryMode, uint64(e.Mode))
	b = appendUint64(b, fieldEntryKind, uint64(e.Kind))
	return b
}

func decodeDirEntry(b []byte) (DirEntry, error) {
	var e DirEntry
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch num {
		case fieldEntryName:
			val, n, err := consumeStringField(v)
			if err != nil {
				return 0, err
			}
			e.Name = val
			return n, nil
		case fieldEntryMode:
			val, n, err := consumeVarintField(v)
			if err != nil {
				return 0, err
			}
			e.Mode = uint32(val)
			return n, nil
		case fieldEntryKind:
			val, n, err := consumeVarintField(v)
			if err != nil {
				return 0, err
			}
			e.Kind = uint8(val)
			return n, nil
		default:
			return skipField(typ, v)
		}
	})
	return e, err
}

// skipField consumes and discards a field of an unrecognized number, the
// forward-compatibility fallback every case above that isn't a known field
// number falls through to.
func skipField(typ protowire.Type, v []byte) (int, error) {
	n := protowire.ConsumeFieldValue(0, typ, v)
	if n < 0 {
		return 0, fmt.Errorf("protocol: malformed unknown field: %w", protowire.ParseError(n))
	}
	return n, nil
}
