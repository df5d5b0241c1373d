package ledgerv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Fully-qualified method names.
const (
	ServiceName                    = "piggybank.ledger.v1.Ledger"
	Ledger_MintTokens_FullMethod   = "/" + ServiceName + "/MintTokens"
	Ledger_BurnTokens_FullMethod   = "/" + ServiceName + "/BurnTokens"
	Ledger_BurnDeposit_FullMethod  = "/" + ServiceName + "/BurnDeposit"
	Ledger_GetBalance_FullMethod   = "/" + ServiceName + "/GetBalance"
	Ledger_ApplyRewards_FullMethod = "/" + ServiceName + "/ApplyRewards"
)

// LedgerServer is the server API for the ledger service.
type LedgerServer interface {
	MintTokens(context.Context, *MintRequest) (*MintResponse, error)
	BurnTokens(context.Context, *BurnRequest) (*BurnResponse, error)
	BurnDeposit(context.Context, *BurnDepositRequest) (*BurnResponse, error)
	GetBalance(context.Context, *GetBalanceRequest) (*BalanceResponse, error)
	ApplyRewards(context.Context, *ApplyRewardsRequest) (*ApplyRewardsResponse, error)
}

// UnimplementedLedgerServer can be embedded to keep servers forward compatible.
type UnimplementedLedgerServer struct{}

func (UnimplementedLedgerServer) MintTokens(context.Context, *MintRequest) (*MintResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method MintTokens not implemented")
}
func (UnimplementedLedgerServer) BurnTokens(context.Context, *BurnRequest) (*BurnResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method BurnTokens not implemented")
}
func (UnimplementedLedgerServer) BurnDeposit(context.Context, *BurnDepositRequest) (*BurnResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method BurnDeposit not implemented")
}
func (UnimplementedLedgerServer) GetBalance(context.Context, *GetBalanceRequest) (*BalanceResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetBalance not implemented")
}
func (UnimplementedLedgerServer) ApplyRewards(context.Context, *ApplyRewardsRequest) (*ApplyRewardsResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ApplyRewards not implemented")
}

// RegisterLedgerServer registers srv on s.
func RegisterLedgerServer(s grpc.ServiceRegistrar, srv LedgerServer) {
	s.RegisterService(&Ledger_ServiceDesc, srv)
}

func unary[Req any, Resp any](
	method string, call func(LedgerServer, context.Context, *Req) (*Resp, error),
) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(LedgerServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(LedgerServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// Ledger_ServiceDesc describes the ledger service for grpc.Server.
var Ledger_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LedgerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "MintTokens", Handler: unary(Ledger_MintTokens_FullMethod, LedgerServer.MintTokens)},
		{MethodName: "BurnTokens", Handler: unary(Ledger_BurnTokens_FullMethod, LedgerServer.BurnTokens)},
		{MethodName: "BurnDeposit", Handler: unary(Ledger_BurnDeposit_FullMethod, LedgerServer.BurnDeposit)},
		{MethodName: "GetBalance", Handler: unary(Ledger_GetBalance_FullMethod, LedgerServer.GetBalance)},
		{MethodName: "ApplyRewards", Handler: unary(Ledger_ApplyRewards_FullMethod, LedgerServer.ApplyRewards)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: FileName,
}

// LedgerClient is the client API for the ledger service.
type LedgerClient interface {
	MintTokens(ctx context.Context, in *MintRequest, opts ...grpc.CallOption) (*MintResponse, error)
	BurnTokens(ctx context.Context, in *BurnRequest, opts ...grpc.CallOption) (*BurnResponse, error)
	BurnDeposit(ctx context.Context, in *BurnDepositRequest, opts ...grpc.CallOption) (*BurnResponse, error)
	GetBalance(ctx context.Context, in *GetBalanceRequest, opts ...grpc.CallOption) (*BalanceResponse, error)
	ApplyRewards(ctx context.Context, in *ApplyRewardsRequest, opts ...grpc.CallOption) (*ApplyRewardsResponse, error)
}

type ledgerClient struct {
	cc grpc.ClientConnInterface
}

// NewLedgerClient returns a client for the ledger service on cc.
func NewLedgerClient(cc grpc.ClientConnInterface) LedgerClient {
	return &ledgerClient{cc: cc}
}

func (c *ledgerClient) invoke(ctx context.Context, method string, in, out any, opts []grpc.CallOption) error {
	return c.cc.Invoke(ctx, method, in, out, opts...)
}

func (c *ledgerClient) MintTokens(ctx context.Context, in *MintRequest, opts ...grpc.CallOption) (*MintResponse, error) {
	out := new(MintResponse)
	if err := c.invoke(ctx, Ledger_MintTokens_FullMethod, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ledgerClient) BurnTokens(ctx context.Context, in *BurnRequest, opts ...grpc.CallOption) (*BurnResponse, error) {
	out := new(BurnResponse)
	if err := c.invoke(ctx, Ledger_BurnTokens_FullMethod, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ledgerClient) BurnDeposit(ctx context.Context, in *BurnDepositRequest, opts ...grpc.CallOption) (*BurnResponse, error) {
	out := new(BurnResponse)
	if err := c.invoke(ctx, Ledger_BurnDeposit_FullMethod, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ledgerClient) GetBalance(ctx context.Context, in *GetBalanceRequest, opts ...grpc.CallOption) (*BalanceResponse, error) {
	out := new(BalanceResponse)
	if err := c.invoke(ctx, Ledger_GetBalance_FullMethod, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ledgerClient) ApplyRewards(ctx context.Context, in *ApplyRewardsRequest, opts ...grpc.CallOption) (*ApplyRewardsResponse, error) {
	out := new(ApplyRewardsResponse)
	if err := c.invoke(ctx, Ledger_ApplyRewards_FullMethod, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}
