package health

import "time"

type readinessOutput struct {
	Body Response
}

// Response is the readiness report polled by client connectivity watchers.
type Response struct {
	Status         string    `json:"status" example:"OK" doc:"OK while edits can be stored"`
	StorageLatency string    `json:"storage_latency" example:"1.2ms" doc:"Round trip of the storage ping"`
	ServerTime     time.Time `json:"server_time" doc:"Server clock, for spotting skew in edit timestamps"`
}
