// Package gemini provides the vision analyzer behind the local processing
// adapters, using Google's Gemini API through the google.golang.org/genai
// client.
//
// This package is an infrastructure adapter: it translates an image and a
// prompt strategy into a structured GenerateContent call and maps the JSON
// answer back into an Analysis, without exposing genai types to callers.
//
// Key components:
//
// 1. VisionAnalyzer:
//   - Sends image bytes inline with a templated prompt
//   - Requests a JSON response constrained by a response schema
//   - Retries transient API errors with jittered exponential backoff
//
// 2. Strategies:
//   - StrategyFull asks for labelled items with bounding boxes
//   - StrategyReduced asks for labels only, for the degraded fallback path
//
// The genai client is reached through the ContentGenerator interface so tests
// can substitute a fake.
package gemini
