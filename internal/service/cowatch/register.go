package cowatch

import (
	"google.golang.org/grpc"
)

// Registrar ties the CoWatch service into the gRPC server
type Registrar struct {
	service *Service
}

// NewRegistrar creates a new Registrar for the CoWatch service
func NewRegistrar(service *Service) *Registrar {
	return &Registrar{service: service}
}

// Register attaches the CoWatch service implementation to the gRPC server
func (r *Registrar) Register(s *grpc.Server) {
	RegisterCoWatchServer(s, r.service)
}

func (r *Registrar) ServiceName() string { return ServiceName }
