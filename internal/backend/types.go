package backend

import "time"

// DeviceProfile is the fleet backend's record for one device.
type DeviceProfile struct {
	Name           string    `json:"name"`
	PersonaPrompt  string    `json:"persona_prompt"`
	VoiceID        string    `json:"voice_id"`
	LastGreetingAt time.Time `json:"last_greeting_at"`
}

// ChildProfile personalises replies.
type ChildProfile struct {
	Name      string   `json:"name"`
	Age       int      `json:"age"`
	Language  string   `json:"language"`
	Interests []string `json:"interests"`
}

// QuietWindow is a daily time range in which the device stays silent.
// Start and End are "HH:MM" in the device's local time; a window may wrap
// past midnight.
type QuietWindow struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// ParentalControls gates whether the device may hold conversations.
type ParentalControls struct {
	DoNotDisturb      bool          `json:"do_not_disturb"`
	QuietWindows      []QuietWindow `json:"quiet_windows"`
	DailyLimitMinutes int           `json:"daily_limit_minutes"`
	UsedMinutes       int           `json:"used_minutes"`
}

// Metadata is the heartbeat payload.
type Metadata struct {
	BoardName      string `json:"board_name"`
	BatteryPercent int    `json:"battery_percent"`
	Online         bool   `json:"online"`
	FirmwareVer    string `json:"firmware_version,omitempty"`
}
