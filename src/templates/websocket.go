package templates

// WebSocketCallTemplate configures a WebSocket endpoint with a reusable
// per-template session.
type WebSocketCallTemplate struct {
	BaseCallTemplate

	URL       string            `json:"url"`
	Protocol  *string           `json:"protocol,omitempty"`
	KeepAlive bool              `json:"keep_alive,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`

	// Message, when set, is a text template whose ${arg} placeholders are
	// filled from call arguments before sending.
	Message *string `json:"message,omitempty"`

	// ResponseFormat is one of "json", "text", "raw"; unset behaves as json
	// with a raw-string fallback.
	ResponseFormat *string `json:"response_format,omitempty"`

	// Timeout is the per-message wait in milliseconds, default 30000.
	Timeout int64 `json:"timeout,omitempty"`
}

// NewWebSocketCallTemplate constructs a WebSocketCallTemplate.
func NewWebSocketCallTemplate(name, url string) *WebSocketCallTemplate {
	return &WebSocketCallTemplate{
		BaseCallTemplate: BaseCallTemplate{Name: name, CallTemplateType: TemplateWebSocket},
		URL:              url,
	}
}

// EffectiveTimeoutMs returns the per-message wait in milliseconds.
func (t *WebSocketCallTemplate) EffectiveTimeoutMs() int64 {
	if t.Timeout <= 0 {
		return 30000
	}
	return t.Timeout
}
