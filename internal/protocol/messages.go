package protocol

// SUBSCRIBE (client -> server). An empty Prefixes list receives every event.
type SubscribeMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	Prefixes        []string `json:"prefixes,omitempty"`
	MaxQueue        int      `json:"max_queue,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	SessionID       string `json:"session_id"`
}

// EVENT (server -> client)
type EventMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	Event           string         `json:"event"`
	Args            map[string]any `json:"args"`
}

type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message,omitempty"`
}

// RelayRequest is the body POSTed by engine processes to the realtime relay.
type RelayRequest struct {
	Event string         `json:"event"`
	Args  map[string]any `json:"args"`
}
