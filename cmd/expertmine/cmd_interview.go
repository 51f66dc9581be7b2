package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"expertmine/internal/types"
)

// runInterview drives one interview session from the terminal. Each answer is
// one round; the loop ends when the engine generates instances, the expert
// types /quit, or a round fails.
func runInterview(cmd *cobra.Command, args []string) error {
	if userID == "" {
		return fmt.Errorf("--user is required")
	}

	ws, err := resolveWorkspace()
	if err != nil {
		return err
	}

	a, err := buildApp(ws)
	if err != nil {
		return err
	}
	defer a.close()

	tabID := uuid.NewString()

	ctx, cancel := withTimeout()
	start, err := a.engine.StartSession(ctx, types.StartSessionRequest{
		UserID: userID,
		TabID:  tabID,
	})
	cancel()
	if err != nil {
		logger.Error("Failed to start interview session",
			zap.String("user", userID), zap.Error(err))
		return err
	}
	logger.Info("Interview session started",
		zap.String("session_id", start.SessionID),
		zap.String("user", userID),
		zap.String("tab_id", tabID))

	fmt.Printf("Session %s started (%s)\n", start.SessionID, start.ContextSnapshotSummary)
	fmt.Printf("\nQ: %s\n", start.Question)

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Print("\n> ")
		if !scanner.Scan() {
			break
		}
		answer := strings.TrimSpace(scanner.Text())
		if answer == "" {
			continue
		}
		if answer == "/quit" {
			ctx, cancel := withTimeout()
			err := a.engine.CloseSession(ctx, types.CloseSessionRequest{
				SessionID: start.SessionID,
				UserID:    userID,
				TabID:     tabID,
			})
			cancel()
			if err != nil {
				logger.Error("Failed to close session",
					zap.String("session_id", start.SessionID), zap.Error(err))
				return err
			}
			logger.Info("Session closed by user",
				zap.String("session_id", start.SessionID))
			fmt.Println("Session closed; progress merged into your profile.")
			return nil
		}

		ctx, cancel := withTimeout()
		resp, err := a.engine.SubmitAnswer(ctx, types.SubmitAnswerRequest{
			SessionID: start.SessionID,
			UserID:    userID,
			TabID:     tabID,
			Answer:    answer,
		})
		cancel()
		if err != nil {
			logger.Error("Interview round failed",
				zap.String("session_id", start.SessionID), zap.Error(err))
			return fmt.Errorf("session failed: %w", err)
		}

		printProgress(resp)

		if resp.IsComplete {
			logger.Info("Interview complete",
				zap.String("session_id", start.SessionID),
				zap.Int("exchanges", resp.Progress.ExchangeCount),
				zap.Int("instances", resp.InstancesGenerated))
			fmt.Printf("\nInterview complete: %s\n", resp.SessionSummary)
			fmt.Printf("Generated %d training instances:\n", resp.InstancesGenerated)
			for i, inst := range resp.Instances {
				fmt.Printf("  %d. [%.0f] %s\n", i+1, inst.QualityScore, truncateLine(inst.Question, 80))
			}
			return nil
		}

		fmt.Printf("\nQ: %s\n", resp.NextQuestion)
	}

	return scanner.Err()
}

func printProgress(resp *types.SubmitAnswerResponse) {
	fmt.Printf("[round %d | score %.1f | skills %d | workflows %d]\n",
		resp.Progress.ExchangeCount, resp.Metrics.Overall,
		resp.Progress.SkillCount, resp.Progress.WorkflowCount)
	if len(resp.NewSkills) > 0 {
		fmt.Printf("  new skills: %s\n", strings.Join(resp.NewSkills, ", "))
	}
	if len(resp.NewWorkflows) > 0 {
		fmt.Printf("  new workflows: %s\n", strings.Join(resp.NewWorkflows, ", "))
	}
}

func truncateLine(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// showStatus prints engine configuration and store statistics.
func showStatus(cmd *cobra.Command, args []string) error {
	ws, err := resolveWorkspace()
	if err != nil {
		return err
	}

	a, err := buildApp(ws)
	if err != nil {
		return err
	}
	defer a.close()

	fmt.Printf("expertmine %s\n", version)
	fmt.Printf("Workspace: %s\n", ws)
	fmt.Printf("Provider:  %s (%s)\n", a.cfg.LLM.Provider, a.cfg.LLM.Model)
	fmt.Printf("Threshold: %.0f (cap %d exchanges, advisory mode %q)\n",
		a.cfg.Engine.GenerationThreshold, a.cfg.Engine.MaxExchanges, a.cfg.Engine.AdvisoryMode)

	stats, err := a.store.GetStats()
	if err != nil {
		return err
	}
	fmt.Println("\nStorage:")
	for _, table := range []string{"sessions", "global_contexts", "instances", "instance_vectors"} {
		fmt.Printf("  %-18s %d\n", table, stats[table])
	}
	return nil
}

// showQuota prints the user's remaining allowance.
func showQuota(cmd *cobra.Command, args []string) error {
	if userID == "" {
		return fmt.Errorf("--user is required")
	}

	ws, err := resolveWorkspace()
	if err != nil {
		return err
	}

	a, err := buildApp(ws)
	if err != nil {
		return err
	}
	defer a.close()

	remaining := a.ledger.Remaining(userID)
	fmt.Printf("User %s: %d of %d instances remaining this month\n",
		userID, remaining, a.cfg.Quota.MonthlyAllowance)
	return nil
}
