package api

type HealthResponse struct {
	Healthy bool   `json:"healthy"`
	Version string `json:"version"`
}
