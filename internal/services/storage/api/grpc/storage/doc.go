// Package storage exposes the storage cascade as the tierstore.v1.StorageService
// gRPC API. Messages are google.protobuf.Struct values so the service needs no
// generated code: requests carry "key", "value" and a "config" struct, and
// responses mirror the cascade results.
package storage
