package grpcx

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/openfam/fam/cmn"
)

// famErrKindToCode/codeToFamErrKind map cmn.FamErrKind onto the gRPC
// status space, the grpcx equivalent of httpx's httpStatusFor, so a
// FamError survives the round trip with its Kind intact.
func famErrKindToCode(k cmn.FamErrKind) codes.Code {
	switch k {
	case cmn.ErrRegionNotFound, cmn.ErrDataItemNotFound, cmn.ErrRPCClientNotFound:
		return codes.NotFound
	case cmn.ErrInvalidOption, cmn.ErrOutOfRange:
		return codes.InvalidArgument
	case cmn.ErrNoPermission, cmn.ErrNoPerm, cmn.ErrRegionPermModifyNotPermitted, cmn.ErrItemPermModifyNotPermitted, cmn.ErrRegionResizeNotPermitted:
		return codes.PermissionDenied
	case cmn.ErrRegionNoSpace, cmn.ErrAllocator:
		return codes.ResourceExhausted
	case cmn.ErrBackupFileExist:
		return codes.AlreadyExists
	case cmn.ErrTimeout:
		return codes.DeadlineExceeded
	default:
		return codes.Internal
	}
}

func codeToFamErrKind(c codes.Code) cmn.FamErrKind {
	switch c {
	case codes.NotFound:
		return cmn.ErrRegionNotFound
	case codes.InvalidArgument:
		return cmn.ErrInvalidOption
	case codes.PermissionDenied:
		return cmn.ErrNoPermission
	case codes.ResourceExhausted:
		return cmn.ErrRegionNoSpace
	case codes.AlreadyExists:
		return cmn.ErrBackupFileExist
	case codes.DeadlineExceeded:
		return cmn.ErrTimeout
	default:
		return cmn.ErrUnknown
	}
}

func toStatusErr(err error) error {
	if err == nil {
		return nil
	}
	return status.Error(famErrKindToCode(cmn.KindOf(err)), err.Error())
}

func fromStatusErr(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	return cmn.NewFamError(codeToFamErrKind(st.Code()), st.Message())
}

// call is a generic unary method descriptor: decode a request of the
// shape newReq() produces, invoke fn against srv, map any FamError onto
// a grpc status. Every service in this package registers its methods
// this way instead of through protoc-generated stubs.
func call(name string, newReq func() interface{}, fn func(srv interface{}, ctx context.Context, req interface{}) (interface{}, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			req := newReq()
			if err := dec(req); err != nil {
				return nil, err
			}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				resp, err := fn(srv, ctx, req)
				return resp, toStatusErr(err)
			}
			if interceptor == nil {
				return handler(ctx, req)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: name}
			return interceptor(ctx, req, info, handler)
		},
	}
}

// invoke is the client-side counterpart: cc.Invoke already applies the
// registered jsonCodec, so req/resp are the same plain structs the
// server-side handlers above use.
func invoke(ctx context.Context, cc *grpc.ClientConn, fullMethod string, req, resp interface{}) error {
	if err := cc.Invoke(ctx, fullMethod, req, resp); err != nil {
		return fromStatusErr(err)
	}
	return nil
}
