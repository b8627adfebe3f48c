package protocol

import "strings"

// Notification kinds. The emitted event name is the kind followed by its
// identifying parameters, joined with "_" (RAIL_POSITION_CHANGED_G1_RED).
const (
	KindRailPositionChanged   = "RAIL_POSITION_CHANGED"
	KindMapPositionsUpdated   = "MAP_POSITIONS_UPDATED"
	KindGamePreferenceUpdated = "GAME_PREFERENCE_UPDATED"
	KindNFTOwnerUpdated       = "NFT_OWNER_UPDATED"
)

// Notification is one realtime event pushed to clients.
type Notification struct {
	Name string         `json:"event"`
	Args map[string]any `json:"args"`
}

func EventName(kind string, params ...string) string {
	if len(params) == 0 {
		return kind
	}
	return kind + "_" + strings.Join(params, "_")
}

func RailPositionChanged(gameID, color string, x, y int, direction string) Notification {
	return Notification{
		Name: EventName(KindRailPositionChanged, gameID, color),
		Args: map[string]any{"gameId": gameID, "color": color, "x": x, "y": y, "direction": direction},
	}
}

func MapPositionsUpdated(gameID, color string) Notification {
	return Notification{
		Name: EventName(KindMapPositionsUpdated, gameID, color),
		Args: map[string]any{"gameId": gameID, "color": color},
	}
}

func NFTOwnerUpdated(gameID, tokenID, owner string) Notification {
	return Notification{
		Name: EventName(KindNFTOwnerUpdated, gameID, tokenID),
		Args: map[string]any{"gameId": gameID, "tokenId": tokenID, "owner": owner},
	}
}

// GamePreferenceUpdated carries whichever typed values are set.
func GamePreferenceUpdated(key string, boolValue *bool, numValue *float64, strValue *string) Notification {
	args := map[string]any{"key": key}
	if boolValue != nil {
		args["boolValue"] = *boolValue
	}
	if numValue != nil {
		args["numValue"] = *numValue
	}
	if strValue != nil {
		args["strValue"] = *strValue
	}
	return Notification{Name: EventName(KindGamePreferenceUpdated, key), Args: args}
}
