package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/louisbranch/tierstore/internal/platform/discovery"
	apperrors "github.com/louisbranch/tierstore/internal/platform/errors"
	platformgrpc "github.com/louisbranch/tierstore/internal/platform/grpc"
	"github.com/louisbranch/tierstore/internal/services/storage/cascade"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ListKeysRequest selects one page of registered keys.
type ListKeysRequest struct {
	PageSize   int32
	PageToken  string
	SecureOnly bool
}

// ListKeysResponse is one page of registered keys.
type ListKeysResponse struct {
	Keys          []string
	NextPageToken string
}

// Client calls ServiceName over a connection.
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient creates a client on conn.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Dial connects to a tierstore server at addr and waits until it reports the
// storage service as serving. An empty addr uses the in-network default. The
// caller closes the returned connection.
func Dial(ctx context.Context, dialer platformgrpc.Dialer, addr string, timeout time.Duration, logf func(string, ...any), opts ...grpc.DialOption) (*Client, *grpc.ClientConn, error) {
	addr = discovery.OrDefaultGRPCAddr(addr, discovery.ServiceStorage)
	dialOpts := append(platformgrpc.DefaultClientDialOptions(), opts...)
	conn, err := platformgrpc.DialWithHealth(ctx, dialer, addr, ServiceName, timeout, logf, dialOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("dial tierstore %s: %w", addr, err)
	}
	return NewClient(conn), conn, nil
}

// Get reads key through the server cascade.
func (c *Client) Get(ctx context.Context, key string, cfg cascade.Config) (any, bool, error) {
	in, err := request(key, cfg)
	if err != nil {
		return nil, false, err
	}
	out, err := c.invoke(ctx, MethodGet, in)
	if err != nil {
		return nil, false, err
	}
	fields := out.GetFields()
	if !fields[fieldFound].GetBoolValue() {
		return nil, false, nil
	}
	return fields[fieldValue].AsInterface(), true, nil
}

// Set writes value for key through the server cascade.
func (c *Client) Set(ctx context.Context, key string, value any, cfg cascade.Config) error {
	in, err := request(key, cfg)
	if err != nil {
		return err
	}
	encoded, err := toValue(value)
	if err != nil {
		return err
	}
	in.Fields[fieldValue] = encoded
	_, err = c.invoke(ctx, MethodSet, in)
	return err
}

// Delete removes key from the server's local tiers.
func (c *Client) Delete(ctx context.Context, key string) error {
	_, err := c.invoke(ctx, MethodDelete, &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldKey: structpb.NewStringValue(key),
	}})
	return err
}

// ListKeys reads one page of registered keys.
func (c *Client) ListKeys(ctx context.Context, req ListKeysRequest) (ListKeysResponse, error) {
	out, err := c.invoke(ctx, MethodListKeys, &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldPageSize:   structpb.NewNumberValue(float64(req.PageSize)),
		fieldPageToken:  structpb.NewStringValue(req.PageToken),
		fieldSecureOnly: structpb.NewBoolValue(req.SecureOnly),
	}})
	if err != nil {
		return ListKeysResponse{}, err
	}
	resp := ListKeysResponse{NextPageToken: out.GetFields()[fieldNextPageToken].GetStringValue()}
	for _, item := range out.GetFields()[fieldKeys].GetListValue().GetValues() {
		resp.Keys = append(resp.Keys, item.GetStringValue())
	}
	return resp, nil
}

func (c *Client) invoke(ctx context.Context, method string, in *structpb.Struct) (*structpb.Struct, error) {
	if c == nil || c.conn == nil {
		return nil, fmt.Errorf("tierstore client is not configured")
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, fullMethod(method), in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func request(key string, cfg cascade.Config) (*structpb.Struct, error) {
	encoded, err := EncodeConfig(cfg)
	if err != nil {
		return nil, err
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldKey:    structpb.NewStringValue(key),
		fieldConfig: structpb.NewStructValue(encoded),
	}}, nil
}

// ErrorCode recovers the domain code carried by a status error returned from
// the server, or CodeUnknown when it carries none.
func ErrorCode(err error) apperrors.Code {
	st, ok := status.FromError(err)
	if !ok {
		return apperrors.CodeUnknown
	}
	for _, detail := range st.Details() {
		info, ok := detail.(*errdetails.ErrorInfo)
		if ok && info.GetDomain() == apperrors.Domain {
			return apperrors.Code(info.GetReason())
		}
	}
	return apperrors.CodeUnknown
}
