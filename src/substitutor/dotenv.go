package substitutor

import (
	"github.com/joho/godotenv"
)

// DotEnvLoader reads variables from a .env file on demand.
type DotEnvLoader struct {
	EnvFilePath string
}

// NewDotEnvLoader constructs a loader for the given .env file.
func NewDotEnvLoader(path string) *DotEnvLoader {
	return &DotEnvLoader{EnvFilePath: path}
}

// Load reads the whole .env file.
func (l *DotEnvLoader) Load() (map[string]string, error) {
	return godotenv.Read(l.EnvFilePath)
}

// Get reads the file and looks up a single key.
func (l *DotEnvLoader) Get(key string) (string, error) {
	vars, err := l.Load()
	if err != nil {
		return "", err
	}
	if val, ok := vars[key]; ok {
		return val, nil
	}
	return "", &VariableNotFoundError{VariableName: key}
}
