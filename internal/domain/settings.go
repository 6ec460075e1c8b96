package domain

// UserSettings holds the profile of the signed-in user.
type UserSettings struct {
	Name         string `json:"name"`
	Organization string `json:"organization"`
	Footer       string `json:"footer"`
	Avatar       []byte `json:"avatar,omitempty"`
	MasterKeyPEM string `json:"-"`
}
