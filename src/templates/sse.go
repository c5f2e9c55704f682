package templates

// SseCallTemplate configures a Server-Sent Events endpoint.
type SseCallTemplate struct {
	BaseCallTemplate

	URL          string            `json:"url"`
	Headers      map[string]string `json:"headers,omitempty"`
	BodyField    *string           `json:"body_field,omitempty"`
	HeaderFields []string          `json:"header_fields,omitempty"`

	// EventType, when set, drops records whose event field does not match.
	EventType *string `json:"event_type,omitempty"`
}

// NewSseCallTemplate constructs an SseCallTemplate.
func NewSseCallTemplate(name, url string) *SseCallTemplate {
	return &SseCallTemplate{
		BaseCallTemplate: BaseCallTemplate{Name: name, CallTemplateType: TemplateSSE},
		URL:              url,
	}
}
