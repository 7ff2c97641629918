package mode

// Mode is the search strategy.
type Mode string

// Search mode constants.
const (
	// Semantic ranks by vector similarity only.
	Semantic Mode = "semantic"
	// Hybrid fuses vector and keyword rankings on backends with keyword search.
	Hybrid  Mode = "hybrid"
	Keyword Mode = "keyword"
)

// IsValid checks if the mode is one of the supported values.
func (m Mode) IsValid() bool {
	return m == Hybrid || m == Semantic || m == Keyword
}

// OrDefault returns Semantic for the empty mode.
func (m Mode) OrDefault() Mode {
	if m == "" {
		return Semantic
	}
	return m
}
