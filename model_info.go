// model_info.go defines the model directory tool types: list_models,
// list_active_models, unload_model and generate.
package main

// ListModelsArgs is the input for the list_models tool. No arguments needed.
type ListModelsArgs struct{}

// ListModelsOutput lists all models available in the local Ollama instance.
type ListModelsOutput struct {
	Models []ModelInfo `json:"models"`
}

// ModelInfo describes a single installed Ollama model.
type ModelInfo struct {
	Name              string `json:"name"`
	Size              int64  `json:"size"`               // size in bytes
	ParameterSize     string `json:"parameter_size"`     // e.g. "14B", "7B"
	QuantizationLevel string `json:"quantization_level"` // e.g. "Q4_K_M"
	Family            string `json:"family"`             // e.g. "qwen2"
}

// ListActiveModelsArgs is the input for the list_active_models tool.
type ListActiveModelsArgs struct{}

// ListActiveModelsOutput names the models currently loaded in memory. Empty
// when none are loaded or the server exposes no running-models endpoint.
type ListActiveModelsOutput struct {
	Models []string `json:"models"`
}

// UnloadModelArgs is the input for the unload_model tool.
type UnloadModelArgs struct {
	Model string `json:"model" jsonschema:"Model to evict from memory"`
}

// UnloadModelOutput confirms the unload request was accepted.
type UnloadModelOutput struct {
	Model    string `json:"model"`
	Unloaded bool   `json:"unloaded"`
}

// GenerateArgs is the input for the generate tool.
type GenerateArgs struct {
	Model  string `json:"model"  jsonschema:"Ollama model name"`
	Prompt string `json:"prompt" jsonschema:"Prompt text; the full response is returned in one piece"`
}

// GenerateOutput carries the whole completion.
type GenerateOutput struct {
	Model    string `json:"model"`
	Response string `json:"response"`
}
