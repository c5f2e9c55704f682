package templates

// HttpCallTemplate configures a plain HTTP request/response endpoint.
type HttpCallTemplate struct {
	BaseCallTemplate

	URL          string            `json:"url"`
	HTTPMethod   string            `json:"http_method,omitempty"`
	ContentType  string            `json:"content_type,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
	BodyField    *string           `json:"body_field,omitempty"`
	HeaderFields []string          `json:"header_fields,omitempty"`
}

// NewHttpCallTemplate constructs an HttpCallTemplate with defaults.
func NewHttpCallTemplate(name, url string) *HttpCallTemplate {
	return &HttpCallTemplate{
		BaseCallTemplate: BaseCallTemplate{Name: name, CallTemplateType: TemplateHTTP},
		URL:              url,
		HTTPMethod:       "GET",
		ContentType:      "application/json",
	}
}

// Method returns the configured HTTP method, defaulting to GET.
func (t *HttpCallTemplate) Method() string {
	if t.HTTPMethod == "" {
		return "GET"
	}
	return t.HTTPMethod
}

// BodyContentType returns the configured content type, defaulting to JSON.
func (t *HttpCallTemplate) BodyContentType() string {
	if t.ContentType == "" {
		return "application/json"
	}
	return t.ContentType
}
