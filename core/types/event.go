package types

// Event represents a typed event emitted during state transitions.
type Event struct {
	Name string            `json:"event"`
	Data map[string]string `json:"data"`
}
