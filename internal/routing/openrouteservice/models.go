package openrouteservice

// directionsRequest is the body of POST /v2/directions/{profile}.
type directionsRequest struct {
	Coordinates  [][]float64 `json:"coordinates"` // [lon, lat]
	Instructions bool        `json:"instructions"`
	Geometry     bool        `json:"geometry"`
	Units        string      `json:"units"`
	Options      *options    `json:"options,omitempty"`
}

type options struct {
	RoundTrip *roundTrip `json:"round_trip,omitempty"`
}

// roundTrip asks ORS for a loop from the single coordinate. Length is in meters.
type roundTrip struct {
	Length float64 `json:"length"`
	Points int     `json:"points"`
	Seed   int     `json:"seed"`
}

type directionsResponse struct {
	Routes []route `json:"routes"`
}

type route struct {
	Summary struct {
		Distance float64 `json:"distance"` // meters
		Duration float64 `json:"duration"` // seconds
	} `json:"summary"`
	Geometry string `json:"geometry"` // encoded polyline, precision 5
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ORS internal error codes that mean the street network has no answer.
const (
	codeRouteNotFound = 2009
	codePointNotFound = 2010
)
