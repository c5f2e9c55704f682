package templates

// Framing strategies for the TCP transport.
const (
	FramingLengthPrefix = "length_prefix"
	FramingDelimiter    = "delimiter"
	FramingFixedLength  = "fixed_length"
	FramingStream       = "stream"
)

// TcpCallTemplate configures a raw TCP socket endpoint.
type TcpCallTemplate struct {
	BaseCallTemplate

	Host string `json:"host"`
	Port int    `json:"port"`

	// FramingStrategy is one of the Framing* constants, default stream.
	FramingStrategy string `json:"framing_strategy,omitempty"`

	// LengthPrefixBytes is 1, 2, 4 or 8; LengthPrefixEndian is "big" or
	// "little".
	LengthPrefixBytes  int    `json:"length_prefix_bytes,omitempty"`
	LengthPrefixEndian string `json:"length_prefix_endian,omitempty"`

	// MessageDelimiter terminates delimiter-framed messages; supports the
	// \n and \x00 escape spellings.
	MessageDelimiter *string `json:"message_delimiter,omitempty"`

	FixedMessageLength int `json:"fixed_message_length,omitempty"`
	MaxResponseSize    int `json:"max_response_size,omitempty"`

	// RequestDataFormat is "json" (default) or "text".
	RequestDataFormat   string  `json:"request_data_format,omitempty"`
	RequestDataTemplate *string `json:"request_data_template,omitempty"`

	// ResponseByteFormat is a text encoding name ("utf-8") or nil for raw
	// bytes.
	ResponseByteFormat *string `json:"response_byte_format,omitempty"`

	// Timeout is the per-operation budget in milliseconds, default 30000.
	Timeout int64 `json:"timeout,omitempty"`
}

// NewTcpCallTemplate constructs a TcpCallTemplate with stream framing.
func NewTcpCallTemplate(name, host string, port int) *TcpCallTemplate {
	return &TcpCallTemplate{
		BaseCallTemplate: BaseCallTemplate{Name: name, CallTemplateType: TemplateTCP},
		Host:             host,
		Port:             port,
		FramingStrategy:  FramingStream,
	}
}

// EffectiveTimeoutMs returns the per-operation budget in milliseconds.
func (t *TcpCallTemplate) EffectiveTimeoutMs() int64 {
	if t.Timeout <= 0 {
		return 30000
	}
	return t.Timeout
}
