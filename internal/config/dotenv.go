package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// loadDotEnvFiles applies each file in order without clobbering variables the
// caller already exported. Missing files are skipped.
func loadDotEnvFiles(paths ...string) error {
	for _, path := range paths {
		values, err := godotenv.Read(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		for key, value := range values {
			existing, exists := os.LookupEnv(key)
			if exists && strings.TrimSpace(existing) != "" {
				continue
			}
			if err := os.Setenv(key, value); err != nil {
				return err
			}
		}
	}
	return nil
}
