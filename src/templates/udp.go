package templates

// UdpCallTemplate configures a UDP datagram endpoint.
type UdpCallTemplate struct {
	BaseCallTemplate

	Host string `json:"host"`
	Port int    `json:"port"`

	// NumberOfResponseDatagrams is how many datagrams make one response,
	// minimum 1.
	NumberOfResponseDatagrams int `json:"number_of_response_datagrams,omitempty"`

	RequestDataFormat   string  `json:"request_data_format,omitempty"`
	RequestDataTemplate *string `json:"request_data_template,omitempty"`
	ResponseByteFormat  *string `json:"response_byte_format,omitempty"`

	// Timeout is the per-operation budget in milliseconds, default 30000.
	Timeout int64 `json:"timeout,omitempty"`
}

// NewUdpCallTemplate constructs a UdpCallTemplate.
func NewUdpCallTemplate(name, host string, port int) *UdpCallTemplate {
	return &UdpCallTemplate{
		BaseCallTemplate: BaseCallTemplate{Name: name, CallTemplateType: TemplateUDP},
		Host:             host,
		Port:             port,
	}
}

// ResponseDatagrams returns the configured datagram count, minimum 1.
func (t *UdpCallTemplate) ResponseDatagrams() int {
	if t.NumberOfResponseDatagrams < 1 {
		return 1
	}
	return t.NumberOfResponseDatagrams
}

// EffectiveTimeoutMs returns the per-operation budget in milliseconds.
func (t *UdpCallTemplate) EffectiveTimeoutMs() int64 {
	if t.Timeout <= 0 {
		return 30000
	}
	return t.Timeout
}
