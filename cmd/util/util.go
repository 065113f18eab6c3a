package util

import (
	"strings"

	"github.com/ValentinKolb/sectorkv/lib/db"
	"github.com/ValentinKolb/sectorkv/lib/db/engines/maple"
	"github.com/ValentinKolb/sectorkv/lib/world"
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

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	// Add any remaining text
	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// InitConfig loads .env files and makes every flag settable as SECTORKV_<FLAG>
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("sectorkv")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// SetupWorldFlags adds the storage tuning flags to a command
func SetupWorldFlags(cmd *cobra.Command) {
	defaults := world.DefaultOptions()

	key := "file"
	cmd.PersistentFlags().String(key, "world.db", WrapString("Path of the world file"))

	key = "sector-size"
	cmd.PersistentFlags().Int(key, defaults.SectorSize, WrapString("Edge length of a sector in tiles (only used when a world is created)"))

	key = "min-sector-ttl"
	cmd.PersistentFlags().Float64(key, defaults.MinSectorTTL, WrapString("Lower bound of the randomized sector time-to-live in seconds"))

	key = "max-sector-ttl"
	cmd.PersistentFlags().Float64(key, defaults.MaxSectorTTL, WrapString("Upper bound of the randomized sector time-to-live in seconds"))

	key = "queue-ttl"
	cmd.PersistentFlags().Float64(key, defaults.GenerationQueueTTL, WrapString("Seconds a queued sector waits for generation before it is dropped"))

	key = "seed"
	cmd.PersistentFlags().Int64(key, 0, WrapString("Seed of the TTL randomization (0 = random)"))

	key = "shards"
	cmd.PersistentFlags().Int(key, 0, WrapString("Number of shards of the in-memory engine (0 = number of CPUs)"))
}

// GetWorldOptions reads the storage options from viper. Generator and factory
// are left to the caller.
func GetWorldOptions() *world.Options {
	opts := world.DefaultOptions()
	opts.SectorSize = viper.GetInt("sector-size")
	opts.MinSectorTTL = viper.GetFloat64("min-sector-ttl")
	opts.MaxSectorTTL = viper.GetFloat64("max-sector-ttl")
	opts.GenerationQueueTTL = viper.GetFloat64("queue-ttl")
	opts.Seed = viper.GetInt64("seed")

	shards := viper.GetInt("shards")
	opts.DBFactory = func() db.KVDB {
		return maple.NewMapleDB(&maple.DBOptions{NumShards: shards})
	}
	return opts
}

// GetWorldFile returns the configured world file path
func GetWorldFile() string {
	return viper.GetString("file")
}
