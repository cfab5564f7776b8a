package wire

// ChatCompleteRequest is the input contract for POST /llm/chat_complete.
type ChatCompleteRequest struct {
	Prompt      string  `json:"prompt"`
	Model       string  `json:"model,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

// Image is a single base64-encoded image attachment for vision calls.
type Image struct {
	Mime   string `json:"mime"`
	Base64 string `json:"base64"`
}

// VisionCompleteRequest is the input contract for POST /llm/vision_complete.
type VisionCompleteRequest struct {
	ChatCompleteRequest
	Images []Image `json:"images"`
}

// LLMResponse is the shared output contract for both chat_complete and
// vision_complete.
type LLMResponse struct {
	Status   string `json:"status"`
	Response string `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
}

// SandboxRunFileRequest is the input contract for POST /sandbox/run_file.
type SandboxRunFileRequest struct {
	FileRef string `json:"file_ref"`
}

// SandboxRunFileResponse is the output contract for POST /sandbox/run_file.
type SandboxRunFileResponse struct {
	Status    string         `json:"status"`
	Logs      []string       `json:"logs,omitempty"`
	Artifacts map[string]any `json:"artifacts,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// EmulatorRunAppRequest is the input contract for POST /emulator/run_app.
// TaskID is threaded through from the originating Service-tier task so the
// Provider tier can map a later GET /{task_id}/vnc to this emulator session.
type EmulatorRunAppRequest struct {
	TaskID       string `json:"task_id,omitempty"`
	AppRef       string `json:"app_ref"`
	Instructions string `json:"instructions"`
}

// EmulatorVisuals holds the screenshot payload of an emulator run.
type EmulatorVisuals struct {
	Screenshots []string `json:"screenshots"`
}

// EmulatorRunAppResponse is the output contract for POST /emulator/run_app.
type EmulatorRunAppResponse struct {
	Status  string          `json:"status"`
	TaskID  string          `json:"task_id,omitempty"`
	Visuals EmulatorVisuals `json:"visuals"`
	Events  []string        `json:"events,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// VNCResponse is the output contract for GET /{task_id}/vnc.
type VNCResponse struct {
	URL string `json:"url"`
}

// ErrorEnvelope is the body shape returned on any handled business error
// across all three tiers.
type ErrorEnvelope struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}
