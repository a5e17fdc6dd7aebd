package domain

import "errors"

// Location is one extraction target.
type Location struct {
	Name    string `koanf:"name"`
	APIName string `koanf:"api_name"`
	Code    string `koanf:"code"`
	Region  string `koanf:"region"`
}

// Query returns the upstream query key, falling back to the display name.
func (l Location) Query() string {
	if l.APIName != "" {
		return l.APIName
	}
	return l.Name
}

// Validate reports whether the location can be queried.
func (l Location) Validate() error {
	if l.Name == "" {
		return errors.New("location name is required")
	}
	return nil
}
