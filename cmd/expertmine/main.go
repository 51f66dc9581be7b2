package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global flags
	verbose   bool
	apiKey    string
	workspace string
	timeout   time.Duration
	userID    string

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "expertmine",
	Short: "expertmine - adaptive interview engine for expertise datasets",
	Long: `expertmine interviews domain experts and converts their answers into
structured, sellable training datasets.

An adaptive interviewer asks questions, extracts skills and workflows from
each answer, scores conversational saturation, and once enough knowledge has
accumulated generates validated question/answer instances with quality scores
and vector embeddings for marketplace search.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config := zap.NewProductionConfig()
		if verbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// interviewCmd runs an interactive interview session in the terminal.
var interviewCmd = &cobra.Command{
	Use:   "interview",
	Short: "Run an interactive interview session",
	Long: `Starts an interview session for the given user and drives it from the
terminal: the engine asks questions, you answer, and once saturation is
reached it generates training instances.

Example:
  expertmine interview --user alice`,
	RunE: runInterview,
}

// statusCmd shows store statistics and active configuration.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show engine status and storage statistics",
	RunE:  showStatus,
}

// quotaCmd reports the user's remaining monthly allowance.
var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Show remaining instance-generation allowance for a user",
	RunE:  showQuota,
}

// versionCmd prints the build version.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("expertmine %s\n", version)
	},
}

const version = "0.3.0"

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "Provider API key (or set GEMINI_API_KEY / OPENAI_API_KEY)")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "Operation timeout")
	rootCmd.PersistentFlags().StringVarP(&userID, "user", "u", "", "User ID")

	rootCmd.AddCommand(interviewCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(quotaCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func resolveWorkspace() (string, error) {
	if workspace != "" {
		return workspace, nil
	}
	return os.Getwd()
}
