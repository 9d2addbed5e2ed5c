package review

// Latency bucket names, from quickest to slowest.
const (
	LatencyFast    = "fast"
	LatencyNormal  = "normal"
	LatencySlow    = "slow"
	LatencyStalled = "stalled"
)

// BucketLatency quantizes a response latency into a named bucket using the
// configured upper bounds (fast, normal, slow; anything above is stalled).
func BucketLatency(latencyMs int, boundsMs [3]int) string {
	switch {
	case latencyMs <= boundsMs[0]:
		return LatencyFast
	case latencyMs <= boundsMs[1]:
		return LatencyNormal
	case latencyMs <= boundsMs[2]:
		return LatencySlow
	default:
		return LatencyStalled
	}
}
