package env

import (
	"os"

	"github.com/joho/godotenv"
)

// envFiles are tried in order; the first one found is loaded.
var envFiles = []string{
	".env",          // Current directory
	"../../.env",    // From cmd/memberhub to project root
	"../../../.env", // Fallback for deeper nesting
}

// Load reads the first .env file found into the process environment.
// Variables already set in the environment win. It returns the loaded path,
// or "" when no file exists (containers pass real environment variables).
func Load() string {
	for _, envFile := range envFiles {
		if _, err := os.Stat(envFile); err != nil {
			continue
		}
		if err := godotenv.Load(envFile); err == nil {
			return envFile
		}
	}
	return ""
}
