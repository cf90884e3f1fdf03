package gemini

import "google.golang.org/genai"

var fullSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"items": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"label":      {Type: genai.TypeString},
					"confidence": {Type: genai.TypeNumber},
					"box": {
						Type:  genai.TypeArray,
						Items: &genai.Schema{Type: genai.TypeNumber},
					},
				},
				Required: []string{"label"},
			},
		},
		"summary": {Type: genai.TypeString},
	},
	Required: []string{"items"},
}

var reducedSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"items": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"label": {Type: genai.TypeString},
				},
				Required: []string{"label"},
			},
		},
	},
	Required: []string{"items"},
}

func schemaFor(s Strategy) *genai.Schema {
	if s == StrategyReduced {
		return reducedSchema
	}
	return fullSchema
}
