package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/spigell/hr-assistant/internal/candidate"
	"github.com/spigell/hr-assistant/internal/workflow"
)

const (
	PromptYes = "Yes"
	PromptNo  = "No"
)

var errAborted = errors.New("aborted by operator")

var candidateCmd = &cobra.Command{
	Use:   "candidate",
	Short: "Inspect a candidate or override its stage",
}

var candidateShowCmd = &cobra.Command{
	Use:   "show <candidate-id>",
	Short: "Print the stored record of a candidate",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		env := setup()
		defer env.Close()

		rec, err := env.store.GetByCandidateID(context.Background(), args[0])
		if err != nil {
			env.logger.Fatal("loading candidate", zap.Error(err))
		}

		if err := yaml.NewEncoder(os.Stdout).Encode(view(rec)); err != nil {
			env.logger.Fatal("printing candidate", zap.Error(err))
		}
	},
}

var candidateDiscardCmd = &cobra.Command{
	Use:   "discard <candidate-id>",
	Short: "Move a candidate to PASS and discard the chat on the platform",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		reason, _ := cmd.Flags().GetString("reason")
		override(cmd, args[0], "Discard candidate "+args[0]+"?", func(ctx context.Context, runner *workflow.Runner) (*candidate.Record, error) {
			return runner.Discard(ctx, args[0], reason)
		})
	},
}

var candidateContactCmd = &cobra.Command{
	Use:   "contact <candidate-id>",
	Short: "Record contact details obtained outside the chat and move the candidate to CONTACT",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		phone, _ := cmd.Flags().GetString("phone")
		wechat, _ := cmd.Flags().GetString("wechat")
		override(cmd, args[0], "Mark candidate "+args[0]+" as contacted?", func(ctx context.Context, runner *workflow.Runner) (*candidate.Record, error) {
			return runner.CaptureContact(ctx, args[0], candidate.Contact{Phone: phone, WeChat: wechat})
		})
	},
}

func init() {
	rootCmd.AddCommand(candidateCmd)
	candidateCmd.AddCommand(candidateShowCmd, candidateDiscardCmd, candidateContactCmd)

	for _, c := range []*cobra.Command{candidateDiscardCmd, candidateContactCmd} {
		c.Flags().BoolP("auto-aprove", "y", false, "do not ask for confirmation")
	}
	candidateDiscardCmd.Flags().String("reason", "", "why the candidate is discarded, for the log")
	candidateContactCmd.Flags().String("phone", "", "phone number shared by the candidate")
	candidateContactCmd.Flags().String("wechat", "", "wechat id shared by the candidate")
}

// override runs a manual stage change after the operator confirms it.
func override(cmd *cobra.Command, candidateID, question string, apply func(context.Context, *workflow.Runner) (*candidate.Record, error)) {
	ctx := context.Background()

	env := setup()
	defer env.Close()
	logger := env.logger

	if err := confirm(cmd, question); err != nil {
		logger.Info("exiting", zap.String("reason", err.Error()))
		return
	}

	runner, err := env.overrides()
	if err != nil {
		logger.Fatal("preparing the override", zap.Error(err))
	}

	rec, err := apply(ctx, runner)
	if err != nil {
		logger.Fatal("applying the override", zap.String("candidate_id", candidateID), zap.Error(err))
	}

	logger.Info("candidate updated",
		zap.String("candidate_id", rec.CandidateID),
		zap.String("stage", string(rec.Stage)),
		zap.String("stage_source", string(rec.StageSource)),
	)
}

func confirm(cmd *cobra.Command, question string) error {
	if auto, _ := cmd.Flags().GetBool("auto-aprove"); auto {
		return nil
	}

	prompt := promptui.Select{
		Label: question,
		Items: []string{PromptYes, PromptNo},
	}
	_, answer, err := prompt.Run()
	if err != nil {
		return err
	}
	if answer != PromptYes {
		return errAborted
	}
	return nil
}

// candidateView is the printable form of a record.
type candidateView struct {
	CandidateID     string             `yaml:"candidate_id"`
	ChatID          string             `yaml:"chat_id,omitempty"`
	Name            string             `yaml:"name"`
	Job             string             `yaml:"job_applied"`
	Stage           candidate.Stage    `yaml:"stage"`
	StageSource     string             `yaml:"stage_source"`
	ConversationRef string             `yaml:"conversation_ref,omitempty"`
	Overall         *float64           `yaml:"overall,omitempty"`
	Scores          map[string]float64 `yaml:"scores,omitempty"`
	Summary         string             `yaml:"summary,omitempty"`
	Contact         string             `yaml:"contact,omitempty"`
	Resume          string             `yaml:"resume,omitempty"`
	FullResume      bool               `yaml:"full_resume_attached"`
	Embedded        bool               `yaml:"embedded"`
	UpdatedAt       string             `yaml:"updated_at"`
}

func view(rec *candidate.Record) candidateView {
	v := candidateView{
		CandidateID:     rec.CandidateID,
		ChatID:          rec.ChatID,
		Name:            rec.Name,
		Job:             rec.JobApplied,
		Stage:           rec.Stage,
		StageSource:     string(rec.StageSource),
		ConversationRef: rec.ConversationRef,
		Resume:          preview(rec.Resume(), 300),
		FullResume:      strings.TrimSpace(rec.FullResume) != "",
		Embedded:        len(rec.Embedding) > 0,
		UpdatedAt:       rec.UpdatedAt.Format("2006-01-02 15:04:05 MST"),
	}
	if rec.Analysis != nil {
		v.Overall = rec.Analysis.Overall
		v.Scores = rec.Analysis.Scores
		v.Summary = rec.Analysis.Summary
	}
	if c := rec.Contact; c != nil {
		parts := make([]string, 0, 3)
		if c.Phone != "" {
			parts = append(parts, "phone "+c.Phone)
		}
		if c.WeChat != "" {
			parts = append(parts, "wechat "+c.WeChat)
		}
		if c.Revoked {
			parts = append(parts, "(revoked)")
		}
		v.Contact = strings.Join(parts, ", ")
	}
	return v
}

func preview(text string, limit int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return fmt.Sprintf("%s... (%d chars)", string(runes[:limit]), len(runes))
}
