package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// LoadEnvFiles exports variables from dotenv files so GAZETTE_* overrides can live
// next to the binary. base never replaces variables already set in the process;
// local overrides both. Missing files are skipped.
func LoadEnvFiles(base, local string) error {
	if err := loadIfExists(base, godotenv.Load); err != nil {
		return err
	}
	return loadIfExists(local, godotenv.Overload)
}

func loadIfExists(path string, load func(...string) error) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if err := load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}
