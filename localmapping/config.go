package localmapping

// Config carries the tunables of the Local Mapper.
type Config struct {
	// PointNeighbors is the number of top-covisible neighbor keyframes used
	// by CreateNewMapPoints (nn=20 for monocular).
	PointNeighbors int
	// LineNeighbors is the number of top-covisible neighbor keyframes used
	// by CreateNewMapLinesConstraint (nn=10).
	LineNeighbors int
	// MinObservationsMono is theta_obs for MapPointCulling/MapLineCulling in
	// the monocular case.
	MinObservationsMono int
	// FoundRatioThreshold is the minimum foundCount/visibleCount ratio a
	// probationary map element must clear to survive culling.
	FoundRatioThreshold float64
	// PollInterval mirrors the original's usleep(3000): how long the main
	// loop sleeps at the end of every iteration, and between checks while
	// it is stopped.
	PollInterval int // milliseconds
}

// DefaultConfig returns the reference Local Mapper configuration.
func DefaultConfig() *Config {
	return &Config{
		PointNeighbors:      20,
		LineNeighbors:       10,
		MinObservationsMono: 2,
		FoundRatioThreshold: 0.25,
		PollInterval:        3,
	}
}
