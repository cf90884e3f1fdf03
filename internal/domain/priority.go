package domain

// Size tier boundaries for the initial priority heuristic.
const (
	tierSmallBytes  = 1 << 20  // 1 MiB
	tierMediumBytes = 5 << 20  // 5 MiB
	tierLargeBytes  = 20 << 20 // 20 MiB

	// videoPriorityPenalty lowers video work slightly below image work of
	// the same size tier.
	videoPriorityPenalty = 5
)

// InitialPriority computes a job's starting priority from its payload size.
// Smaller payloads run sooner. A non-positive size is treated as the smallest tier.
func InitialPriority(workType WorkType, sizeBytes int64) int {
	var p int
	switch {
	case sizeBytes < tierSmallBytes:
		p = 50
	case sizeBytes < tierMediumBytes:
		p = 40
	case sizeBytes < tierLargeBytes:
		p = 30
	default:
		p = 20
	}

	if workType == WorkTypeVideoFrameAnalysis {
		p -= videoPriorityPenalty
	}
	return p
}
