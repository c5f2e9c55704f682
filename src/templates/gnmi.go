package templates

// GnmiCallTemplate configures a gNMI gRPC endpoint. The manual exposes the
// four virtual tools capabilities, get, set and subscribe.
type GnmiCallTemplate struct {
	BaseCallTemplate

	// Target is the host:port of the gNMI server.
	Target string `json:"target"`

	UseTLS bool `json:"use_tls,omitempty"`

	// StubModule and MessageModule are carried for cross-implementation
	// compatibility; this client always uses the generated gNMI binding.
	StubModule    string `json:"stub_module,omitempty"`
	MessageModule string `json:"message_module,omitempty"`

	Operation string `json:"operation,omitempty"`

	// Metadata is sent with every RPC; MetadataFields names call arguments
	// whose values are promoted into metadata.
	Metadata       map[string]string `json:"metadata,omitempty"`
	MetadataFields []string          `json:"metadata_fields,omitempty"`
}

// NewGnmiCallTemplate constructs a GnmiCallTemplate.
func NewGnmiCallTemplate(name, target string) *GnmiCallTemplate {
	return &GnmiCallTemplate{
		BaseCallTemplate: BaseCallTemplate{Name: name, CallTemplateType: TemplateGNMI},
		Target:           target,
	}
}
