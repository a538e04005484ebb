package util

import (
	"strings"
	"time"

	"github.com/ValentinKolb/dSync/lib/shared"
	"github.com/ValentinKolb/dSync/lib/shared/rstore"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		// Add the word
		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	// Add any remaining text
	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// InitConfig initializes configuration from env files and environment
// variables. The format of the environment variables is DSYNC_<flag>
// (e.g. DSYNC_STORE_ENDPOINT=localhost:6379)
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("dsync")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// SetupStoreFlags adds the shared-store connection flags to a command
func SetupStoreFlags(cmd *cobra.Command) {
	key := "store-endpoint"
	cmd.PersistentFlags().String(key, "localhost:6379", WrapString("host:port of the Redis-compatible shared store"))

	key = "store-password"
	cmd.PersistentFlags().String(key, "", WrapString("Password for the shared store (empty for no auth)"))

	key = "store-db"
	cmd.PersistentFlags().Int(key, 0, WrapString("Database number to select on the shared store"))

	key = "store-timeout"
	cmd.PersistentFlags().Int(key, 5, WrapString("Timeout in seconds for shared store operations"))

	key = "namespace"
	cmd.PersistentFlags().String(key, "dsync", WrapString("Namespace prefix isolating this fleet's keys and channels on the shared store"))
}

// GetStoreOptions reads the shared-store connection options from viper
func GetStoreOptions() rstore.Options {
	timeout := time.Duration(viper.GetInt("store-timeout")) * time.Second
	return rstore.Options{
		Addr:           viper.GetString("store-endpoint"),
		Password:       viper.GetString("store-password"),
		DB:             viper.GetInt("store-db"),
		ConnectTimeout: timeout,
		OpTimeout:      timeout,
	}
}

// GetNamespace reads the configured fleet namespace from viper
func GetNamespace() string {
	return viper.GetString("namespace")
}

// GetSharedStore connects to the configured shared store. Unlike the serve
// command, client commands do not fall back to a local store: a lock taken
// on an in-process store would be invisible to the fleet.
func GetSharedStore() (shared.ISharedStore, error) {
	return rstore.NewRedisStore(GetStoreOptions())
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}
