package storage

import (
	"context"
	"errors"
	"strings"

	apperrors "github.com/louisbranch/tierstore/internal/platform/errors"
	"github.com/louisbranch/tierstore/internal/platform/grpc/pagination"
	"github.com/louisbranch/tierstore/internal/services/storage/cascade"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	defaultListKeysPageSize = 50
	maxListKeysPageSize     = 500
)

// Store is the cascade surface served by Service.
type Store interface {
	Get(ctx context.Context, key string, cfg cascade.Config) (any, bool, error)
	Set(ctx context.Context, key string, value any, cfg cascade.Config) error
	Delete(ctx context.Context, key string) error
	RegisteredKeys() []string
	SecureKeys() []string
}

// Service implements StorageServer over a Store.
type Service struct {
	store Store
}

// NewService creates a storage service backed by store.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Get answers {"found": bool, "value": any} for the request key.
func (s *Service) Get(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	key, cfg, err := s.decodeRequest("get", in)
	if err != nil {
		return nil, err
	}
	value, found, err := s.store.Get(ctx, key, cfg)
	if err != nil {
		return nil, grpcError("get", err)
	}
	out := structpb.NewNullValue()
	if found {
		out, err = toValue(value)
		if err != nil {
			return nil, status.Errorf(codes.Internal, "get %q: %v", key, err)
		}
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldFound: structpb.NewBoolValue(found),
		fieldValue: out,
	}}, nil
}

// Set writes the request value. A missing value stores null.
func (s *Service) Set(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	key, cfg, err := s.decodeRequest("set", in)
	if err != nil {
		return nil, err
	}
	if err := s.store.Set(ctx, key, in.GetFields()[fieldValue].AsInterface(), cfg); err != nil {
		return nil, grpcError("set", err)
	}
	return &structpb.Struct{}, nil
}

// Delete removes the request key from the local tiers and registries.
func (s *Service) Delete(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	key, _, err := s.decodeRequest("delete", in)
	if err != nil {
		return nil, err
	}
	if err := s.store.Delete(ctx, key); err != nil {
		return nil, grpcError("delete", err)
	}
	return &structpb.Struct{}, nil
}

// ListKeys returns a page of registered keys, or of secure keys only with
// secure_only set.
func (s *Service) ListKeys(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if in == nil {
		return nil, status.Error(codes.InvalidArgument, "list keys request is required")
	}
	if s == nil || s.store == nil {
		return nil, status.Error(codes.Internal, "storage is not configured")
	}
	fields := in.GetFields()

	var pageSize float64
	if value, ok := fields[fieldPageSize]; ok {
		var err error
		if pageSize, err = numberField(fieldPageSize, value); err != nil {
			return nil, grpcError("list keys", err)
		}
	}
	var token string
	if value, ok := fields[fieldPageToken]; ok {
		var err error
		if token, err = stringField(fieldPageToken, value); err != nil {
			return nil, grpcError("list keys", err)
		}
	}
	var secureOnly bool
	if value, ok := fields[fieldSecureOnly]; ok {
		var err error
		if secureOnly, err = boolField(fieldSecureOnly, value); err != nil {
			return nil, grpcError("list keys", err)
		}
	}

	keys := s.store.RegisteredKeys()
	if secureOnly {
		keys = s.store.SecureKeys()
	}
	size := pagination.ClampPageSize(int32(pageSize), pagination.PageSizeConfig{
		Default: defaultListKeysPageSize,
		Max:     maxListKeysPageSize,
	})
	page, next, err := pagination.Page(keys, token, size)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	items := make([]*structpb.Value, len(page))
	for i, key := range page {
		items[i] = structpb.NewStringValue(key)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldKeys:          structpb.NewListValue(&structpb.ListValue{Values: items}),
		fieldNextPageToken: structpb.NewStringValue(next),
	}}, nil
}

func (s *Service) decodeRequest(op string, in *structpb.Struct) (string, cascade.Config, error) {
	if in == nil {
		return "", cascade.Config{}, status.Errorf(codes.InvalidArgument, "%s request is required", op)
	}
	if s == nil || s.store == nil {
		return "", cascade.Config{}, status.Error(codes.Internal, "storage is not configured")
	}
	fields := in.GetFields()

	var key string
	if value, ok := fields[fieldKey]; ok {
		var err error
		if key, err = stringField(fieldKey, value); err != nil {
			return "", cascade.Config{}, grpcError(op, err)
		}
	}
	if strings.TrimSpace(key) == "" {
		return "", cascade.Config{}, grpcError(op, apperrors.InvalidArgument(fieldKey))
	}

	var cfg cascade.Config
	if value, ok := fields[fieldConfig]; ok {
		object, isStruct := value.GetKind().(*structpb.Value_StructValue)
		if !isStruct {
			return "", cascade.Config{}, grpcError(op, invalidField(fieldConfig, "an object"))
		}
		var err error
		if cfg, err = DecodeConfig(object.StructValue); err != nil {
			return "", cascade.Config{}, grpcError(op, err)
		}
	}
	return strings.TrimSpace(key), cfg, nil
}

// grpcError converts err to a status. Domain errors keep their code and
// metadata in the ErrorInfo detail.
func grpcError(op string, err error) error {
	var domainErr *apperrors.Error
	switch {
	case errors.As(err, &domainErr):
		return apperrors.WrapWithMetadata(domainErr.Code, op, domainErr.Metadata, err).GRPCStatus().Err()
	case errors.Is(err, context.Canceled):
		return status.Errorf(codes.Canceled, "%s: %v", op, err)
	case errors.Is(err, context.DeadlineExceeded):
		return status.Errorf(codes.DeadlineExceeded, "%s: %v", op, err)
	default:
		return status.Errorf(codes.Internal, "%s: %v", op, err)
	}
}
