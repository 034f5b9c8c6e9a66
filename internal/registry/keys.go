package registry

import (
	"github.com/nfrund/roomrelay/internal/broadcast"
	"github.com/nfrund/roomrelay/internal/connection"
	"github.com/nfrund/roomrelay/internal/metrics"
	"github.com/nfrund/roomrelay/internal/persistence"
	"github.com/nfrund/roomrelay/internal/presence"
	"github.com/nfrund/roomrelay/internal/pubsub"
	"github.com/nfrund/roomrelay/internal/room"
)

// Core service keys shared between the server and the modules it boots.
var (
	ConnectionsKey = Key[*connection.Registry]("core.connections")
	RoomsKey       = Key[*room.Store]("core.rooms")
	PresenceKey    = Key[*presence.Service]("core.presence")
	RouterKey      = Key[*broadcast.Router]("core.router")
	PubSubKey      = Key[pubsub.PubSub]("core.pubsub")
	SinkKey        = Key[persistence.Sink]("core.sink")
	MetricsKey     = Key[*metrics.Metrics]("core.metrics")
)
