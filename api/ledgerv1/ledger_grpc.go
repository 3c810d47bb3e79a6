package ledgerv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const ServiceName = "doint.ledger.v1.LedgerService"

type LedgerServiceClient interface {
	GetBank(ctx context.Context, in *GetBankRequest, opts ...grpc.CallOption) (*BankResponse, error)
	SetTaxRate(ctx context.Context, in *SetRateRequest, opts ...grpc.CallOption) (*SetRateResponse, error)
	SetUBIRate(ctx context.Context, in *SetRateRequest, opts ...grpc.CallOption) (*SetRateResponse, error)
	CalculateFee(ctx context.Context, in *CalculateFeeRequest, opts ...grpc.CallOption) (*CalculateFeeResponse, error)
	Transfer(ctx context.Context, in *TransferRequest, opts ...grpc.CallOption) (*TransferResponse, error)
	CollectTaxes(ctx context.Context, in *CollectTaxesRequest, opts ...grpc.CallOption) (*CollectTaxesResponse, error)
	DisperseUBI(ctx context.Context, in *DisperseUBIRequest, opts ...grpc.CallOption) (*DisperseUBIResponse, error)
	AuditConservation(ctx context.Context, in *AuditConservationRequest, opts ...grpc.CallOption) (*AuditConservationResponse, error)
	Enroll(ctx context.Context, in *EnrollRequest, opts ...grpc.CallOption) (*EnrollResponse, error)
	Unenroll(ctx context.Context, in *UnenrollRequest, opts ...grpc.CallOption) (*UnenrollResponse, error)
	GetUser(ctx context.Context, in *GetUserRequest, opts ...grpc.CallOption) (*UserResponse, error)
	Leaderboard(ctx context.Context, in *LeaderboardRequest, opts ...grpc.CallOption) (*LeaderboardResponse, error)
}

type ledgerServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewLedgerServiceClient returns a client that speaks the JSON codec on
// every call.
func NewLedgerServiceClient(cc grpc.ClientConnInterface) LedgerServiceClient {
	return &ledgerServiceClient{cc: cc}
}

func (c *ledgerServiceClient) invoke(ctx context.Context, method string, in, out any, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...)
}

func (c *ledgerServiceClient) GetBank(ctx context.Context, in *GetBankRequest, opts ...grpc.CallOption) (*BankResponse, error) {
	out := new(BankResponse)
	if err := c.invoke(ctx, "GetBank", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ledgerServiceClient) SetTaxRate(ctx context.Context, in *SetRateRequest, opts ...grpc.CallOption) (*SetRateResponse, error) {
	out := new(SetRateResponse)
	if err := c.invoke(ctx, "SetTaxRate", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ledgerServiceClient) SetUBIRate(ctx context.Context, in *SetRateRequest, opts ...grpc.CallOption) (*SetRateResponse, error) {
	out := new(SetRateResponse)
	if err := c.invoke(ctx, "SetUBIRate", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ledgerServiceClient) CalculateFee(ctx context.Context, in *CalculateFeeRequest, opts ...grpc.CallOption) (*CalculateFeeResponse, error) {
	out := new(CalculateFeeResponse)
	if err := c.invoke(ctx, "CalculateFee", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ledgerServiceClient) Transfer(ctx context.Context, in *TransferRequest, opts ...grpc.CallOption) (*TransferResponse, error) {
	out := new(TransferResponse)
	if err := c.invoke(ctx, "Transfer", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ledgerServiceClient) CollectTaxes(ctx context.Context, in *CollectTaxesRequest, opts ...grpc.CallOption) (*CollectTaxesResponse, error) {
	out := new(CollectTaxesResponse)
	if err := c.invoke(ctx, "CollectTaxes", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ledgerServiceClient) DisperseUBI(ctx context.Context, in *DisperseUBIRequest, opts ...grpc.CallOption) (*DisperseUBIResponse, error) {
	out := new(DisperseUBIResponse)
	if err := c.invoke(ctx, "DisperseUBI", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ledgerServiceClient) AuditConservation(ctx context.Context, in *AuditConservationRequest, opts ...grpc.CallOption) (*AuditConservationResponse, error) {
	out := new(AuditConservationResponse)
	if err := c.invoke(ctx, "AuditConservation", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ledgerServiceClient) Enroll(ctx context.Context, in *EnrollRequest, opts ...grpc.CallOption) (*EnrollResponse, error) {
	out := new(EnrollResponse)
	if err := c.invoke(ctx, "Enroll", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ledgerServiceClient) Unenroll(ctx context.Context, in *UnenrollRequest, opts ...grpc.CallOption) (*UnenrollResponse, error) {
	out := new(UnenrollResponse)
	if err := c.invoke(ctx, "Unenroll", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ledgerServiceClient) GetUser(ctx context.Context, in *GetUserRequest, opts ...grpc.CallOption) (*UserResponse, error) {
	out := new(UserResponse)
	if err := c.invoke(ctx, "GetUser", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ledgerServiceClient) Leaderboard(ctx context.Context, in *LeaderboardRequest, opts ...grpc.CallOption) (*LeaderboardResponse, error) {
	out := new(LeaderboardResponse)
	if err := c.invoke(ctx, "Leaderboard", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

type LedgerServiceServer interface {
	GetBank(context.Context, *GetBankRequest) (*BankResponse, error)
	SetTaxRate(context.Context, *SetRateRequest) (*SetRateResponse, error)
	SetUBIRate(context.Context, *SetRateRequest) (*SetRateResponse, error)
	CalculateFee(context.Context, *CalculateFeeRequest) (*CalculateFeeResponse, error)
	Transfer(context.Context, *TransferRequest) (*TransferResponse, error)
	CollectTaxes(context.Context, *CollectTaxesRequest) (*CollectTaxesResponse, error)
	DisperseUBI(context.Context, *DisperseUBIRequest) (*DisperseUBIResponse, error)
	AuditConservation(context.Context, *AuditConservationRequest) (*AuditConservationResponse, error)
	Enroll(context.Context, *EnrollRequest) (*EnrollResponse, error)
	Unenroll(context.Context, *UnenrollRequest) (*UnenrollResponse, error)
	GetUser(context.Context, *GetUserRequest) (*UserResponse, error)
	Leaderboard(context.Context, *LeaderboardRequest) (*LeaderboardResponse, error)
	mustEmbedUnimplementedLedgerServiceServer()
}

// UnimplementedLedgerServiceServer must be embedded by implementations so
// that methods added later fail with Unimplemented instead of breaking the
// build.
type UnimplementedLedgerServiceServer struct{}

func (UnimplementedLedgerServiceServer) GetBank(context.Context, *GetBankRequest) (*BankResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetBank not implemented")
}
func (UnimplementedLedgerServiceServer) SetTaxRate(context.Context, *SetRateRequest) (*SetRateResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method SetTaxRate not implemented")
}
func (UnimplementedLedgerServiceServer) SetUBIRate(context.Context, *SetRateRequest) (*SetRateResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method SetUBIRate not implemented")
}
func (UnimplementedLedgerServiceServer) CalculateFee(context.Context, *CalculateFeeRequest) (*CalculateFeeResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method CalculateFee not implemented")
}
func (UnimplementedLedgerServiceServer) Transfer(context.Context, *TransferRequest) (*TransferResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Transfer not implemented")
}
func (UnimplementedLedgerServiceServer) CollectTaxes(context.Context, *CollectTaxesRequest) (*CollectTaxesResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method CollectTaxes not implemented")
}
func (UnimplementedLedgerServiceServer) DisperseUBI(context.Context, *DisperseUBIRequest) (*DisperseUBIResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method DisperseUBI not implemented")
}
func (UnimplementedLedgerServiceServer) AuditConservation(context.Context, *AuditConservationRequest) (*AuditConservationResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method AuditConservation not implemented")
}
func (UnimplementedLedgerServiceServer) Enroll(context.Context, *EnrollRequest) (*EnrollResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Enroll not implemented")
}
func (UnimplementedLedgerServiceServer) Unenroll(context.Context, *UnenrollRequest) (*UnenrollResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Unenroll not implemented")
}
func (UnimplementedLedgerServiceServer) GetUser(context.Context, *GetUserRequest) (*UserResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetUser not implemented")
}
func (UnimplementedLedgerServiceServer) Leaderboard(context.Context, *LeaderboardRequest) (*LeaderboardResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Leaderboard not implemented")
}
func (UnimplementedLedgerServiceServer) mustEmbedUnimplementedLedgerServiceServer() {}

func RegisterLedgerServiceServer(s grpc.ServiceRegistrar, srv LedgerServiceServer) {
	s.RegisterService(&LedgerService_ServiceDesc, srv)
}

func unaryHandler[Req, Resp any](method string, call func(LedgerServiceServer, context.Context, *Req) (*Resp, error)) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	fullMethod := "/" + ServiceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(LedgerServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(LedgerServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var LedgerService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LedgerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetBank", Handler: unaryHandler("GetBank", LedgerServiceServer.GetBank)},
		{MethodName: "SetTaxRate", Handler: unaryHandler("SetTaxRate", LedgerServiceServer.SetTaxRate)},
		{MethodName: "SetUBIRate", Handler: unaryHandler("SetUBIRate", LedgerServiceServer.SetUBIRate)},
		{MethodName: "CalculateFee", Handler: unaryHandler("CalculateFee", LedgerServiceServer.CalculateFee)},
		{MethodName: "Transfer", Handler: unaryHandler("Transfer", LedgerServiceServer.Transfer)},
		{MethodName: "CollectTaxes", Handler: unaryHandler("CollectTaxes", LedgerServiceServer.CollectTaxes)},
		{MethodName: "DisperseUBI", Handler: unaryHandler("DisperseUBI", LedgerServiceServer.DisperseUBI)},
		{MethodName: "AuditConservation", Handler: unaryHandler("AuditConservation", LedgerServiceServer.AuditConservation)},
		{MethodName: "Enroll", Handler: unaryHandler("Enroll", LedgerServiceServer.Enroll)},
		{MethodName: "Unenroll", Handler: unaryHandler("Unenroll", LedgerServiceServer.Unenroll)},
		{MethodName: "GetUser", Handler: unaryHandler("GetUser", LedgerServiceServer.GetUser)},
		{MethodName: "Leaderboard", Handler: unaryHandler("Leaderboard", LedgerServiceServer.Leaderboard)},
	},
	Streams:  []grpc.StreamDesc{},
}
