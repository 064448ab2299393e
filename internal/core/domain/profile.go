package domain

// Profile is the record fetched from the external service for one username.
type Profile struct {
	Username      string   `json:"username"`
	Commendations int      `json:"commendations"`
	Medals        []string `json:"medals"`
	Country       string   `json:"country"`
	VacBanned     bool     `json:"vac_banned"`
}

// FilterFunc decides whether a fetched profile meets the filter criteria.
// The rule set is pluggable; the worker only routes on the verdict.
type FilterFunc func(*Profile) bool
