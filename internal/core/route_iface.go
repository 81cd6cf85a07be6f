package core

import (
	"context"

	"github.com/dkeye/costudy/internal/domain"
)

//go:generate mockgen -source=route_iface.go -destination=mocks/route_resolver_mock.go -package=mocks

// RouteResolver returns the signaling server URL that hosts a room.
type RouteResolver interface {
	Resolve(ctx context.Context, roomID domain.RoomID) (string, error)
}
