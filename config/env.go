package config

import (
	"bufio"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// loadEnvFile loads KEY=VALUE pairs from a .env file
func loadEnvFile(path string) (map[string]string, error) {
	envVars := make(map[string]string)

	file, err := os.Open(path)
	if err != nil {
		return envVars, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		if len(value) >= 2 && (value[0] == '"' || value[0] == '\'') && value[len(value)-1] == value[0] {
			value = value[1 : len(value)-1]
		} else if i := strings.Index(value, "#"); i != -1 {
			value = strings.TrimSpace(value[:i])
		}

		envVars[key] = value
	}

	return envVars, scanner.Err()
}

// applyEnvFile layers .env values over config.yaml. Variables already set in
// the process environment are left to viper's own env lookup.
func applyEnvFile(v *viper.Viper, envVars map[string]string) {
	if len(envVars) == 0 {
		return
	}

	for _, key := range v.AllKeys() {
		names, ok := envBindings[key]
		if !ok {
			names = []string{"BRIDGE_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}
		}
		if anySet(names) {
			continue
		}
		for _, name := range names {
			if value, ok := envVars[name]; ok && value != "" {
				v.Set(key, value)
				break
			}
		}
	}
}

func anySet(names []string) bool {
	for _, name := range names {
		if _, ok := os.LookupEnv(name); ok {
			return true
		}
	}
	return false
}
