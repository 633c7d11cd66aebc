// Package config loads the six configuration keys from §6 via flags, with
// environment variables (optionally sourced from a .env file) as the
// fallback, following the flag/environment pattern the archive's teacher
// uses in cmd/example-posix.
package config

import (
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"k8s.io/klog/v2"
)

// Config holds the archive server's runtime configuration.
type Config struct {
	Host         string
	Port         int
	DBPath       string
	FilesDir     string
	Tracing      bool
	TracingLevel string
}

// Load parses flags (falling back to environment variables, which are
// themselves loaded from a .env file in the working directory if one
// exists) into a Config. args is normally os.Args[1:].
func Load(args []string) (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		klog.Warningf("config: could not load .env: %v", err)
	}

	fs := flag.NewFlagSet("archive-server", flag.ContinueOnError)
	host := fs.String("host", envOr("ARCHIVE_HOST", "localhost"), "address to listen on")
	port := fs.Int("port", envOrInt("ARCHIVE_PORT", 8511), "port to listen on")
	dbPath := fs.String("db_path", envOr("ARCHIVE_DB_PATH", "archive.db"), "path to the database snapshot file")
	filesDir := fs.String("files_dir", envOr("ARCHIVE_FILES_DIR", "files"), "directory holding archived file blobs")
	tracing := fs.Bool("tracing", envOrBool("ARCHIVE_TRACING", false), "enable OpenTelemetry tracing")
	tracingLevel := fs.String("tracing_level", envOr("ARCHIVE_TRACING_LEVEL", "info"), "tracing verbosity level")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	return Config{
		Host:         *host,
		Port:         *port,
		DBPath:       *dbPath,
		FilesDir:     *filesDir,
		Tracing:      *tracing,
		TracingLevel: *tracingLevel,
	}, nil
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return fallback
	}
	return n
}

func envOrBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	return v == "1" || v == "true" || v == "TRUE" || v == "True"
}
