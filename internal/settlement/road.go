package settlement

// RoadID is a unique identifier for a road within one run.
type RoadID = uint64

// Road is an undirected link between two distinct cities.
// The link never changes after creation; its endpoints do.
type Road struct {
	ID      RoadID  `json:"id"`
	Start   *City   `json:"-"`
	End     *City   `json:"-"`
	BuiltAt float64 `json:"built_at"` // Simulation clock (ms) at creation
}

// NewRoad links two cities.
func NewRoad(id RoadID, start, end *City, builtAt float64) *Road {
	return &Road{ID: id, Start: start, End: end, BuiltAt: builtAt}
}

// IsMember reports whether c is one of the road's endpoints.
func (r *Road) IsMember(c *City) bool {
	return r.Start == c || r.End == c
}

// Other returns the endpoint opposite c, or nil if c is not on the road.
func (r *Road) Other(c *City) *City {
	switch c {
	case r.Start:
		return r.End
	case r.End:
		return r.Start
	}
	return nil
}

// IsMutual reports whether both endpoints are the same size.
func (r *Road) IsMutual() bool {
	return r.Start.LogicalSize == r.End.LogicalSize
}

// IsOutgrown reports whether the endpoints differ in size by more than one step.
func (r *Road) IsOutgrown() bool {
	d := r.Start.LogicalSize - r.End.LogicalSize
	return d > 1 || d < -1
}

// SmallestEndpointSize returns the logical size of the smaller endpoint.
func (r *Road) SmallestEndpointSize() int {
	return min(r.Start.LogicalSize, r.End.LogicalSize)
}

// Age returns how long the road has existed at simulation clock now.
func (r *Road) Age(now float64) float64 {
	return now - r.BuiltAt
}
