// Package grpcfetch carries bulk lookups over gRPC. A Client turns a remote
// Lookup service into a coalescer.Fetcher, Register exposes a Handler as
// that service.
//
// Messages are google.protobuf.Struct:
//
//	request:  {"group": "stations", "keys": ["a", "b"]}
//	response: {"values": {"a": {...}}}
//
// Keys the server could not resolve are absent from "values".
package grpcfetch

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName    = "coalescer.lookup.v1.Lookup"
	batchGetMethod = "/" + ServiceName + "/BatchGet"
)

var (
	ErrMissingGroup = errors.New("lookup request without group")
	ErrBadKey       = errors.New("lookup key must be a string")
)

// Handler resolves keys of group. Unknown keys are left out of the map, an
// error fails the whole request.
type Handler func(ctx context.Context, group string, keys []string) (map[string]*structpb.Struct, error)

// LookupServer is the server API for the Lookup service.
type LookupServer interface {
	BatchGet(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// Register adds the Lookup service backed by h to s.
func Register(s grpc.ServiceRegistrar, h Handler) {
	s.RegisterService(&lookupServiceDesc, &server{handler: h})
}

type server struct {
	handler Handler
}

func (s *server) BatchGet(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	group, keys, err := decodeRequest(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	values, err := s.handler(ctx, group, keys)
	if err != nil {
		if _, ok := status.FromError(err); ok {
			return nil, err
		}

		return nil, status.Error(codes.Unavailable, err.Error())
	}

	return encodeResponse(values), nil
}

func batchGetHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LookupServer).BatchGet(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: batchGetMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(LookupServer).BatchGet(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var lookupServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LookupServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "BatchGet",
			Handler:    batchGetHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "coalescer/lookup/v1/lookup.proto",
}

func encodeRequest(group string, keys []string) *structpb.Struct {
	list := make([]*structpb.Value, 0, len(keys))
	for _, key := range keys {
		list = append(list, structpb.NewStringValue(key))
	}

	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"group": structpb.NewStringValue(group),
		"keys":  structpb.NewListValue(&structpb.ListValue{Values: list}),
	}}
}

func decodeRequest(in *structpb.Struct) (string, []string, error) {
	fields := in.GetFields()

	group := fields["group"].GetStringValue()
	if group == "" {
		return "", nil, ErrMissingGroup
	}

	values := fields["keys"].GetListValue().GetValues()
	keys := make([]string, 0, len(values))
	for _, v := range values {
		s, ok := v.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return "", nil, fmt.Errorf("%w: %v", ErrBadKey, v)
		}

		keys = append(keys, s.StringValue)
	}

	return group, keys, nil
}

func encodeResponse(values map[string]*structpb.Struct) *structpb.Struct {
	fields := make(map[string]*structpb.Value, len(values))
	for key, v := range values {
		if v == nil {
			continue
		}

		fields[key] = structpb.NewStructValue(v)
	}

	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"values": structpb.NewStructValue(&structpb.Struct{Fields: fields}),
	}}
}

func decodeResponse(out *structpb.Struct) map[string]*structpb.Struct {
	fields := out.GetFields()["values"].GetStructValue().GetFields()

	result := make(map[string]*structpb.Struct, len(fields))
	for key, v := range fields {
		if s := v.GetStructValue(); s != nil {
			result[key] = s
		}
	}

	return result
}
