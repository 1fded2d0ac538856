package domain

import "time"

// Option keys understood by the firebase-style provider.
const (
	// OptionRegistrationURL is the URL devices call for enrollment step 2 and
	// confirmation callbacks; embedded in the enrollment QR payload.
	OptionRegistrationURL = "registration_url"
	// OptionTTL is the enrollment URL validity in minutes, shown to the device.
	OptionTTL = "ttl"
	// OptionAPIKey authorizes calls to the push delivery API.
	OptionAPIKey = "api_key"
	// OptionProjectID identifies the provider-side project.
	OptionProjectID = "project_id"
	// OptionProjectNumber is the numeric project identifier.
	OptionProjectNumber = "project_number"
	// OptionAppID identifies the mobile application.
	OptionAppID = "app_id"
	// OptionAPIURL overrides the delivery endpoint (tests, self-hosted relays).
	OptionAPIURL = "api_url"
)

// Gateway is one named push delivery configuration, referenced from
// enrollment policies by name.
type Gateway struct {
	ID        string
	Name      string
	Provider  string
	Options   map[string]string
	CreatedAt time.Time
}

// Option returns the option value for key, or "" if absent.
func (g *Gateway) Option(key string) string {
	if g.Options == nil {
		return ""
	}
	return g.Options[key]
}
