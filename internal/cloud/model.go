package cloud

// Timestamps in payloads are Unix milliseconds, matching what the
// application's local database stores.

// ScoreColumn is one scoring category of a template.
type ScoreColumn struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Weight  float64 `json:"weight,omitempty"`
	IsScore bool    `json:"isScoring,omitempty"`
}

// Template is a game template snapshot.
type Template struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Description  string        `json:"description,omitempty"`
	Columns      []ScoreColumn `json:"columns,omitempty"`
	CloudImageID string        `json:"cloudImageId,omitempty"`
	CreatedAt    int64         `json:"createdAt,omitempty"`
	UpdatedAt    int64         `json:"updatedAt,omitempty"`
	LastSyncedAt int64         `json:"lastSyncedAt,omitempty"`
}

// PlayerScore holds one player's entries in a session.
type PlayerScore struct {
	ID     string             `json:"id"`
	Name   string             `json:"name"`
	Scores map[string]float64 `json:"scores,omitempty"`
	Total  float64            `json:"totalScore,omitempty"`
}

// Session is an in-progress game.
type Session struct {
	ID            string        `json:"id"`
	TemplateID    string        `json:"templateId"`
	Title         string        `json:"title"`
	StartTime     int64         `json:"startTime"`
	Players       []PlayerScore `json:"players,omitempty"`
	Location      string        `json:"location,omitempty"`
	CloudFolderID string        `json:"cloudFolderId,omitempty"`
	PhotoIDs      []string      `json:"photoCloudIds,omitempty"`
	UpdatedAt     int64         `json:"updatedAt,omitempty"`
}

// HistoryRecord is a finalized game.
type HistoryRecord struct {
	ID            string        `json:"id"`
	SessionID     string        `json:"sessionId,omitempty"`
	TemplateID    string        `json:"templateId"`
	Title         string        `json:"gameName"`
	StartTime     int64         `json:"startTime"`
	EndTime       int64         `json:"endTime"`
	Players       []PlayerScore `json:"players,omitempty"`
	WinnerIDs     []string      `json:"winnerIds,omitempty"`
	Location      string        `json:"location,omitempty"`
	CloudFolderID string        `json:"cloudFolderId,omitempty"`
	PhotoIDs      []string      `json:"photoCloudIds,omitempty"`
}

// SavedEntry is one shared reference-list entity (a player or location name).
// Name is the case-sensitive identity.
type SavedEntry struct {
	Name       string `json:"name"`
	LastUsed   int64  `json:"lastUsed"`
	UsageCount int    `json:"usageCount"`
}

// Preferences are single-owner, last-write-wins settings.
type Preferences struct {
	Theme             string   `json:"theme,omitempty"`
	PinnedTemplateIDs []string `json:"pinnedIds,omitempty"`
}

// Library holds the union-merged shared reference lists.
// Categories never cross-merge.
type Library struct {
	SavedPlayers   []SavedEntry `json:"savedPlayers"`
	SavedLocations []SavedEntry `json:"savedLocations"`
}

// SettingsBackup is the payload of the settings snapshot file.
type SettingsBackup struct {
	Version     int         `json:"version"`
	ExportedAt  int64       `json:"exportedAt"`
	Preferences Preferences `json:"preferences"`
	Library     Library     `json:"library"`
}
