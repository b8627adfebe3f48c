package protocol

const Version = "1.0"

// Websocket message types.
const (
	TypeSubscribe = "SUBSCRIBE"
	TypeWelcome   = "WELCOME"
	TypeEvent     = "EVENT"
	TypeError     = "ERROR"
)
