package model

// Response represents a generic API response
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// Prerequisite represents a required or optional tool
type Prerequisite struct {
	Name      string `json:"name"`
	Installed bool   `json:"installed"`
	Path      string `json:"path,omitempty"`
	Version   string `json:"version,omitempty"`
	Required  bool   `json:"required"`
	Message   string `json:"message,omitempty"`
}

// DesktopInfo describes the session the app is running in
type DesktopInfo struct {
	Environment string `json:"environment"` // "kde", "gnome", "xfce" or raw XDG value
	LiveISO     bool   `json:"liveIso"`
	Theme       string `json:"theme"`
	DarkTheme   bool   `json:"darkTheme"`
	Autostart   bool   `json:"autostart"`
}
