package gemini

// Strategy selects the prompt and response schema used for a call.
type Strategy string

// Supported strategies
const (
	StrategyFull    Strategy = "full"
	StrategyReduced Strategy = "reduced"
)

// Image is the input to one analysis call.
type Image struct {
	Data     []byte
	MIMEType string
	// Kind is a free-form hint included in the prompt, e.g. "image" or "video frame".
	Kind string
}

// Analysis is the parsed model answer.
type Analysis struct {
	Items   []Item `json:"items"`
	Summary string `json:"summary,omitempty"`
}

// Item is one detected object.
type Item struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence,omitempty"`
	// Box is [x, y, width, height] normalised to 0..1, absent in reduced mode.
	Box []float64 `json:"box,omitempty"`
}

// BoxCount returns how many items carry a complete bounding box.
func (a *Analysis) BoxCount() int {
	n := 0
	for _, it := range a.Items {
		if len(it.Box) == 4 {
			n++
		}
	}
	return n
}

// promptData represents the data passed to the prompt template
type promptData struct {
	Kind     string
	MIMEType string
}
