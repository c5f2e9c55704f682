package templates

// GraphQLCallTemplate configures a GraphQL endpoint. Discovery fetches a
// UTCP manual from the endpoint over HTTP; calls run a query or mutation
// named after the tool with call arguments bound as variables.
type GraphQLCallTemplate struct {
	BaseCallTemplate

	URL string `json:"url"`

	// OperationType is "query" (default) or "mutation".
	OperationType string `json:"operation_type,omitempty"`

	Headers map[string]string `json:"headers,omitempty"`
}

// NewGraphQLCallTemplate constructs a GraphQLCallTemplate.
func NewGraphQLCallTemplate(name, url string) *GraphQLCallTemplate {
	return &GraphQLCallTemplate{
		BaseCallTemplate: BaseCallTemplate{Name: name, CallTemplateType: TemplateGraphQL},
		URL:              url,
	}
}

// Operation returns the configured operation type, defaulting to query.
func (t *GraphQLCallTemplate) Operation() string {
	if t.OperationType == "" {
		return "query"
	}
	return t.OperationType
}
