package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang/glog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	serviceName = "minispace.Analysis"
	queryMethod = "/minispace.Analysis/Query"
)

// jsonCodec lets both ends talk gRPC with plain JSON structs.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return "json"
}

// AnalysisServer is implemented by analysis services.
type AnalysisServer interface {
	Query(context.Context, *Request) (*Result, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*AnalysisServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Query",
			Handler:    queryHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "analysis",
}

func queryHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(Request)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AnalysisServer).Query(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: queryMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AnalysisServer).Query(ctx, req.(*Request))
	}
	return interceptor(ctx, in, info, handler)
}

// NewServer creates a gRPC server speaking the JSON codec, with `srv` registered.
func NewServer(srv AnalysisServer, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ForceServerCodec(jsonCodec{}))
	s := grpc.NewServer(opts...)
	s.RegisterService(&serviceDesc, srv)
	return s
}

// grpcAnalyzer implements `IAnalyzer` by calling a remote analysis service.
type grpcAnalyzer struct {
	conn    *grpc.ClientConn
	timeout time.Duration
}

// Dial connects to analysis service at `addr`, it does not block.
func Dial(addr string, timeout time.Duration, opts ...grpc.DialOption) (*grpcAnalyzer, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{})),
	}, opts...)
	conn, err := grpc.Dial(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial analysis service `%s`: %w", addr, err)
	}
	return &grpcAnalyzer{conn: conn, timeout: timeout}, nil
}

func (a *grpcAnalyzer) QueryAI(ctx context.Context, spaceID, prompt string, hints map[string]string) (*Result, error) {
	ctx2, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	req := &Request{SpaceID: spaceID, Prompt: prompt, Context: hints}
	var resp Result
	if err := a.conn.Invoke(ctx2, queryMethod, req, &resp); err != nil {
		glog.Errorf("analysis: query space `%s` err: %v", spaceID, err)
		return nil, err
	}
	glog.V(5).Infof("analysis: space `%s` suggested: %v", spaceID, resp.SuggestedMorphs)
	return &resp, nil
}

func (a *grpcAnalyzer) Close() error {
	return a.conn.Close()
}
