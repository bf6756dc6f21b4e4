package models

// Site is a physical branch with its own daily ticket numbering.
// Deactivation is a soft flag; existing tickets keep their site.
type Site struct {
	SiteID  string `json:"site_id"`
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
	Active  bool   `json:"active"`
}

type Service struct {
	ServiceID string `json:"service_id"`
	Name      string `json:"name"`
	Active    bool   `json:"active"`
}
