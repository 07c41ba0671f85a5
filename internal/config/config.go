package config

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

type Config struct {
	HTTPAddr     string
	DataDir      string
	DBPath       string
	WorkspaceDir string
	WebDir       string

	GatewayURL   string
	GatewayToken string
	DefaultModel string

	ProjectName string
}

func Load() Config {
	loadDotEnv(".env")
	dataDir := getEnv("CLAWNCIL_DATA_DIR", "data")
	return Config{
		HTTPAddr:     getEnv("CLAWNCIL_HTTP_ADDR", ":8080"),
		DataDir:      dataDir,
		DBPath:       getEnv("CLAWNCIL_DB_PATH", filepath.Join(dataDir, "clawncil.db")),
		WorkspaceDir: getEnv("CLAWNCIL_WORKSPACE_DIR", defaultWorkspaceDir()),
		WebDir:       getEnv("CLAWNCIL_WEB_DIR", "web"),

		GatewayURL:   getEnv("CLAWNCIL_GATEWAY_URL", "http://127.0.0.1:18789"),
		GatewayToken: getEnv("CLAWNCIL_GATEWAY_TOKEN", ""),
		DefaultModel: getEnv("CLAWNCIL_DEFAULT_MODEL", "kimi-coding/k2p5"),

		ProjectName: getEnv("CLAWNCIL_PROJECT_NAME", "Clawncil Swarm"),
	}
}

func defaultWorkspaceDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".clawncil"
	}
	return filepath.Join(home, ".clawncil")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func loadDotEnv(path string) {
	file, err := os.Open(path)
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "export ") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		value = strings.TrimSpace(value)
		value = strings.Trim(value, `"'`)
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		_ = os.Setenv(key, value)
	}
}
