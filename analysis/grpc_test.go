package analysis

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type failingServer struct{}

func (failingServer) Query(context.Context, *Request) (*Result, error) {
	return nil, status.Error(codes.Unavailable, "model offline")
}

func startServer(t *testing.T, srv AnalysisServer) *grpcAnalyzer {
	lis := bufconn.Listen(1 << 20)
	s := NewServer(srv)
	go func() {
		_ = s.Serve(lis)
	}()
	t.Cleanup(s.Stop)

	a, err := Dial("bufnet", time.Second, grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestGrpcQuery(t *testing.T) {
	a := startServer(t, NewRuleAnalyzer())

	res, err := a.QueryAI(context.Background(), "s1", "suggest", map[string]string{"current_type": "meeting"})
	require.NoError(t, err)
	assert.Equal(t, []string{"whiteboard", "document"}, res.SuggestedMorphs)

	res, err = a.QueryAI(context.Background(), "s1", "suggest", map[string]string{"current_type": "unknown"})
	require.NoError(t, err)
	assert.Empty(t, res.SuggestedMorphs)
}

func TestGrpcQueryError(t *testing.T) {
	a := startServer(t, failingServer{})

	_, err := a.QueryAI(context.Background(), "s1", "suggest", nil)
	assert.Equal(t, codes.Unavailable, status.Code(err))
}

func TestRuleAnalyzerCopiesRules(t *testing.T) {
	a := NewRuleAnalyzer()
	res, err := a.QueryAI(context.Background(), "s1", "", map[string]string{"current_type": "document"})
	require.NoError(t, err)
	res.SuggestedMorphs[0] = "changed"

	res, _ = a.QueryAI(context.Background(), "s1", "", map[string]string{"current_type": "document"})
	assert.Equal(t, []string{"meeting"}, res.SuggestedMorphs)
}
