package custody_api

import (
	"context"

	"google.golang.org/grpc"
)

const serviceName = "custody.v1.CustodyService"

// CustodyServiceServer is implemented by CustodyAPI.
type CustodyServiceServer interface {
	Ping(context.Context, *PingRequest) (*PingResponse, error)
	CreatePackets(context.Context, *CreatePacketsRequest) (*CreatePacketsResponse, error)
	LookupPacket(context.Context, *LookupPacketRequest) (*LookupPacketResponse, error)
	ListHandovers(context.Context, *ListHandoversRequest) (*ListHandoversResponse, error)
	SubmitHandover(context.Context, *SubmitHandoverRequest) (*SubmitHandoverResponse, error)
	SyncHandovers(context.Context, *SyncHandoversRequest) (*SyncHandoversResponse, error)
	RecordStatus(context.Context, *RecordStatusRequest) (*RecordStatusResponse, error)
}

func RegisterCustodyServiceServer(s grpc.ServiceRegistrar, srv CustodyServiceServer) {
	s.RegisterService(&CustodyServiceDesc, srv)
}

func unaryHandler[Req any, Resp any](method string, call func(CustodyServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(CustodyServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + method}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(CustodyServiceServer), ctx, req.(*Req))
			})
		},
	}
}

var CustodyServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*CustodyServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("Ping", CustodyServiceServer.Ping),
		unaryHandler("CreatePackets", CustodyServiceServer.CreatePackets),
		unaryHandler("LookupPacket", CustodyServiceServer.LookupPacket),
		unaryHandler("ListHandovers", CustodyServiceServer.ListHandovers),
		unaryHandler("SubmitHandover", CustodyServiceServer.SubmitHandover),
		unaryHandler("SyncHandovers", CustodyServiceServer.SyncHandovers),
		unaryHandler("RecordStatus", CustodyServiceServer.RecordStatus),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "custody/v1/custody.proto",
}

// CustodyServiceClient is the typed client stub over a connection using CodecName.
type CustodyServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewCustodyServiceClient(cc grpc.ClientConnInterface) *CustodyServiceClient {
	return &CustodyServiceClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, "/"+serviceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *CustodyServiceClient) Ping(ctx context.Context, in *PingRequest, opts ...grpc.CallOption) (*PingResponse, error) {
	return invoke[PingResponse](ctx, c.cc, "Ping", in, opts)
}

func (c *CustodyServiceClient) CreatePackets(ctx context.Context, in *CreatePacketsRequest, opts ...grpc.CallOption) (*CreatePacketsResponse, error) {
	return invoke[CreatePacketsResponse](ctx, c.cc, "CreatePackets", in, opts)
}

func (c *CustodyServiceClient) LookupPacket(ctx context.Context, in *LookupPacketRequest, opts ...grpc.CallOption) (*LookupPacketResponse, error) {
	return invoke[LookupPacketResponse](ctx, c.cc, "LookupPacket", in, opts)
}

func (c *CustodyServiceClient) ListHandovers(ctx context.Context, in *ListHandoversRequest, opts ...grpc.CallOption) (*ListHandoversResponse, error) {
	return invoke[ListHandoversResponse](ctx, c.cc, "ListHandovers", in, opts)
}

func (c *CustodyServiceClient) SubmitHandover(ctx context.Context, in *SubmitHandoverRequest, opts ...grpc.CallOption) (*SubmitHandoverResponse, error) {
	return invoke[SubmitHandoverResponse](ctx, c.cc, "SubmitHandover", in, opts)
}

func (c *CustodyServiceClient) SyncHandovers(ctx context.Context, in *SyncHandoversRequest, opts ...grpc.CallOption) (*SyncHandoversResponse, error) {
	return invoke[SyncHandoversResponse](ctx, c.cc, "SyncHandovers", in, opts)
}

func (c *CustodyServiceClient) RecordStatus(ctx context.Context, in *RecordStatusRequest, opts ...grpc.CallOption) (*RecordStatusResponse, error) {
	return invoke[RecordStatusResponse](ctx, c.cc, "RecordStatus", in, opts)
}
