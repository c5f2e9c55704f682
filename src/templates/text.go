package templates

// TextCallTemplate configures a filesystem document endpoint: the manual is
// a JSON file and calls return raw file contents.
type TextCallTemplate struct {
	BaseCallTemplate

	FilePath string `json:"file_path"`
}

// NewTextCallTemplate constructs a TextCallTemplate.
func NewTextCallTemplate(name, filePath string) *TextCallTemplate {
	return &TextCallTemplate{
		BaseCallTemplate: BaseCallTemplate{Name: name, CallTemplateType: TemplateText},
		FilePath:         filePath,
	}
}
