package templates

// StreamableHttpCallTemplate configures an HTTP endpoint whose responses
// are decoded incrementally (NDJSON, octet-stream chunks, buffered JSON).
type StreamableHttpCallTemplate struct {
	BaseCallTemplate

	URL          string            `json:"url"`
	HTTPMethod   string            `json:"http_method,omitempty"`
	ContentType  string            `json:"content_type,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
	BodyField    *string           `json:"body_field,omitempty"`
	HeaderFields []string          `json:"header_fields,omitempty"`

	// ChunkSize is the read size for octet-stream responses, default 8192.
	ChunkSize int `json:"chunk_size,omitempty"`

	// Timeout is the per-call budget in milliseconds.
	Timeout int64 `json:"timeout,omitempty"`
}

// NewStreamableHttpCallTemplate constructs a template with defaults.
func NewStreamableHttpCallTemplate(name, url string) *StreamableHttpCallTemplate {
	return &StreamableHttpCallTemplate{
		BaseCallTemplate: BaseCallTemplate{Name: name, CallTemplateType: TemplateStreamableHTTP},
		URL:              url,
		HTTPMethod:       "GET",
		ChunkSize:        8192,
	}
}

// Method returns the configured HTTP method, defaulting to GET.
func (t *StreamableHttpCallTemplate) Method() string {
	if t.HTTPMethod == "" {
		return "GET"
	}
	return t.HTTPMethod
}

// EffectiveChunkSize returns the octet-stream read size.
func (t *StreamableHttpCallTemplate) EffectiveChunkSize() int {
	if t.ChunkSize <= 0 {
		return 8192
	}
	return t.ChunkSize
}
