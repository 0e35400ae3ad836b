// Package discovery centralizes in-network address conventions.
package discovery

import (
	"strconv"
	"strings"
)

// ServiceStorage is the storage gRPC service identity.
const ServiceStorage = "tierstore"

var grpcPorts = map[string]int{
	ServiceStorage: 8095,
}

// GRPCPort returns the conventional gRPC port of a service, or zero when the
// service is unknown.
func GRPCPort(service string) int {
	return grpcPorts[strings.TrimSpace(service)]
}

// DefaultGRPCAddr returns the canonical in-network gRPC address for a service.
func DefaultGRPCAddr(service string) string {
	service = strings.TrimSpace(service)
	port := GRPCPort(service)
	if port <= 0 {
		return ""
	}
	return service + ":" + strconv.Itoa(port)
}

// OrDefaultGRPCAddr returns value when set, otherwise the service convention.
func OrDefaultGRPCAddr(value, service string) string {
	value = strings.TrimSpace(value)
	if value != "" {
		return value
	}
	return DefaultGRPCAddr(service)
}
