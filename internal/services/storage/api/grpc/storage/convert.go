package storage

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	apperrors "github.com/louisbranch/tierstore/internal/platform/errors"
	"github.com/louisbranch/tierstore/internal/services/storage/cascade"
	"github.com/louisbranch/tierstore/internal/services/storage/tier"
	"google.golang.org/protobuf/types/known/structpb"
)

// Request and response field names.
const (
	fieldKey           = "key"
	fieldValue         = "value"
	fieldConfig        = "config"
	fieldFound         = "found"
	fieldPageSize      = "page_size"
	fieldPageToken     = "page_token"
	fieldSecureOnly    = "secure_only"
	fieldKeys          = "keys"
	fieldNextPageToken = "next_page_token"
)

// Config field names. TTLs and expires are milliseconds.
const (
	configCacheTTL       = "cache_ttl_ms"
	configSessionTTL     = "session_ttl_ms"
	configLocalTTL       = "local_ttl_ms"
	configGoogleID       = "google_id"
	configGithubFilename = "github_filename"
	configPrivateKey     = "private_key"
	configPublicKey      = "public_key"
	configSecure         = "secure"
	configTags           = "tags"
	configOwner          = "owner"
	configCustom         = "custom"
	configExpires        = "expires"
)

func invalidField(name, want string) error {
	return apperrors.WithMetadata(apperrors.CodeInvalidArgument, fmt.Sprintf("%s must be %s", name, want), map[string]string{"param": name})
}

// DecodeConfig reads a cascade config from its Struct form. A nil struct is
// the zero config.
func DecodeConfig(in *structpb.Struct) (cascade.Config, error) {
	var cfg cascade.Config
	names := make([]string, 0, len(in.GetFields()))
	for name := range in.GetFields() {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		value := in.GetFields()[name]
		var err error
		switch name {
		case configCacheTTL:
			cfg.CacheTTL, err = durationField(name, value)
		case configSessionTTL:
			cfg.SessionTTL, err = durationField(name, value)
		case configLocalTTL:
			cfg.LocalTTL, err = durationField(name, value)
		case configGoogleID:
			cfg.GoogleID, err = stringField(name, value)
		case configGithubFilename:
			cfg.GithubFilename, err = stringField(name, value)
		case configPrivateKey:
			cfg.PrivateKey, err = stringField(name, value)
		case configPublicKey:
			cfg.PublicKey, err = stringField(name, value)
		case configSecure:
			cfg.Secure, err = boolField(name, value)
		case configOwner:
			cfg.Owner, err = stringField(name, value)
		case configTags:
			cfg.Tags, err = stringListField(name, value)
		case configCustom:
			cfg.Custom, err = stringMapField(name, value)
		case configExpires:
			var ms float64
			ms, err = numberField(name, value)
			cfg.Expires = tier.FromUnixMillis(int64(ms))
		default:
			err = apperrors.WithMetadata(apperrors.CodeInvalidArgument, "unknown config field "+name, map[string]string{"param": name})
		}
		if err != nil {
			return cascade.Config{}, err
		}
	}
	return cfg, nil
}

// EncodeConfig is the inverse of DecodeConfig. Unset fields are omitted.
func EncodeConfig(cfg cascade.Config) (*structpb.Struct, error) {
	fields := map[string]any{}
	putDuration := func(name string, ttl *time.Duration) {
		if ttl != nil {
			fields[name] = float64(ttl.Milliseconds())
		}
	}
	putString := func(name, value string) {
		if value != "" {
			fields[name] = value
		}
	}
	putDuration(configCacheTTL, cfg.CacheTTL)
	putDuration(configSessionTTL, cfg.SessionTTL)
	putDuration(configLocalTTL, cfg.LocalTTL)
	putString(configGoogleID, cfg.GoogleID)
	putString(configGithubFilename, cfg.GithubFilename)
	putString(configPrivateKey, cfg.PrivateKey)
	putString(configPublicKey, cfg.PublicKey)
	putString(configOwner, cfg.Owner)
	if cfg.Secure {
		fields[configSecure] = true
	}
	if len(cfg.Tags) > 0 {
		tags := make([]any, len(cfg.Tags))
		for i, tag := range cfg.Tags {
			tags[i] = tag
		}
		fields[configTags] = tags
	}
	if len(cfg.Custom) > 0 {
		custom := make(map[string]any, len(cfg.Custom))
		for key, value := range cfg.Custom {
			custom[key] = value
		}
		fields[configCustom] = custom
	}
	if !cfg.Expires.IsZero() {
		fields[configExpires] = float64(tier.UnixMillis(cfg.Expires))
	}
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return out, nil
}

func numberField(name string, value *structpb.Value) (float64, error) {
	kind, ok := value.GetKind().(*structpb.Value_NumberValue)
	if !ok || math.IsNaN(kind.NumberValue) || math.IsInf(kind.NumberValue, 0) {
		return 0, invalidField(name, "a number")
	}
	return kind.NumberValue, nil
}

// maxDurationMillis is the largest millisecond count a time.Duration holds.
const maxDurationMillis = float64(math.MaxInt64 / int64(time.Millisecond))

func durationField(name string, value *structpb.Value) (*time.Duration, error) {
	ms, err := numberField(name, value)
	if err != nil {
		return nil, err
	}
	if math.Abs(ms) > maxDurationMillis {
		return nil, invalidField(name, "a number of milliseconds within range")
	}
	return cascade.TTL(time.Duration(ms) * time.Millisecond), nil
}

func stringField(name string, value *structpb.Value) (string, error) {
	kind, ok := value.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", invalidField(name, "a string")
	}
	return kind.StringValue, nil
}

func boolField(name string, value *structpb.Value) (bool, error) {
	kind, ok := value.GetKind().(*structpb.Value_BoolValue)
	if !ok {
		return false, invalidField(name, "a bool")
	}
	return kind.BoolValue, nil
}

func stringListField(name string, value *structpb.Value) ([]string, error) {
	list, ok := value.GetKind().(*structpb.Value_ListValue)
	if !ok {
		return nil, invalidField(name, "a list of strings")
	}
	out := make([]string, 0, len(list.ListValue.GetValues()))
	for _, item := range list.ListValue.GetValues() {
		s, ok := item.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return nil, invalidField(name, "a list of strings")
		}
		out = append(out, s.StringValue)
	}
	return out, nil
}

func stringMapField(name string, value *structpb.Value) (map[string]string, error) {
	object, ok := value.GetKind().(*structpb.Value_StructValue)
	if !ok {
		return nil, invalidField(name, "an object of strings")
	}
	out := make(map[string]string, len(object.StructValue.GetFields()))
	for key, item := range object.StructValue.GetFields() {
		s, ok := item.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return nil, invalidField(name, "an object of strings")
		}
		out[key] = s.StringValue
	}
	return out, nil
}

// toValue converts a stored value to a protobuf value. Types structpb does not
// know, such as structs and typed slices, go through their JSON form.
func toValue(v any) (*structpb.Value, error) {
	if out, err := structpb.NewValue(v); err == nil {
		return out, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	out, err := structpb.NewValue(generic)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	return out, nil
}
