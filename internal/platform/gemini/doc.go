// Package gemini implements transform.Transformer with Google's Gemini API.
// The model receives the input image together with an instruction to remove
// its background and returns the edited image as inline data.
package gemini
