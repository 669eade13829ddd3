package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/goccy/go-json"
	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/jobmail/internal/filtering"
	"github.com/spigell/jobmail/internal/logger"
	"github.com/spigell/jobmail/internal/pipeline"
)

const (
	PromptYes        = "Yes"
	PromptNo         = "No"
	PromptShowEmails = "Show pending e-mails"
)

var errSkip = errors.New("skip requested")

var prompt = promptui.Select{
	Label: "Process pending e-mails?",
	Items: []string{PromptYes, PromptNo, PromptShowEmails},
}

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Fetch new mail for the configured users and update their ledgers",
	Run: func(cmd *cobra.Command, _ []string) {
		process(cmd)
	},
}

func init() {
	rootCmd.AddCommand(processCmd)

	processCmd.Flags().StringSliceP("user", "u", nil, "process only these users (default is every configured user)")
	processCmd.Flags().BoolP("auto-approve", "y", false, "do not ask for confirmation before processing")
	processCmd.Flags().StringSlice("disable-filter", nil, "names of pre-filters to skip")
}

func process(cmd *cobra.Command) {
	ctx := context.Background()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	logger.Info("starting the jobmail", zap.String("version", version))

	// do not bother error since there is a valid parseable config
	pretty, _ := json.MarshalIndent(config, "", "  ")
	logger.Debug(fmt.Sprintf("starting with config: \n %s", pretty))

	users, _ := cmd.Flags().GetStringSlice("user")
	if len(users) == 0 {
		users = config.userEmails()
	}
	if len(users) == 0 {
		logger.Fatal("no users to process", zap.String("hint", "add accounts under users or pass --user"))
	}

	disabled, _ := cmd.Flags().GetStringSlice("disable-filter")
	rt, err := newRuntime(ctx, config, disabled, logger)
	if err != nil {
		logger.Fatal("preparing components", zap.Error(err))
	}
	defer rt.Close()

	for _, status := range filtering.Describe(rt.filters) {
		logger.Debug("filter", zap.String("name", status.Name), zap.Bool("enabled", status.Enabled),
			zap.String("reason", status.Reason), zap.Any("details", status.Details))
	}

	autoApprove, _ := cmd.Flags().GetBool("auto-approve")

	failed := false
	for _, user := range users {
		if err := processUser(ctx, rt.syncer, user, autoApprove, logger); err != nil {
			if errors.Is(err, errSkip) {
				continue
			}
			logger.Error("processing user", zap.String("user", user), zap.Error(err))
			failed = true
		}
	}

	if failed {
		logger.Fatal("exiting", zap.String("reason", "some users failed"))
	}
}

func processUser(ctx context.Context, syncer *pipeline.Syncer, user string, autoApprove bool, log *zap.Logger) error {
	log = log.With(zap.String(logger.FieldUser, user))

	batch, err := syncer.Pending(ctx, user)
	if err != nil {
		return err
	}

	if len(batch.Emails) == 0 && batch.Newest.IsZero() {
		log.Info("nothing to do", zap.String("reason", "no new e-mails"))
		return nil
	}

	log.Info("pending e-mails", zap.Int("count", len(batch.Emails)))

	for !autoApprove {
		_, action, err := prompt.Run()
		if err != nil {
			return err
		}

		switch action {
		case PromptYes:
			autoApprove = true
		case PromptNo:
			log.Info("skipping user", zap.String("reason", "got no from prompt"))
			return errSkip
		case PromptShowEmails:
			for _, email := range batch.Emails {
				log.Info("pending e-mail",
					zap.String("message_id", email.ID),
					zap.String("from", email.From),
					zap.String("subject", email.Subject),
					zap.Time("sent_at", email.SentAt),
				)
			}
		default:
			return fmt.Errorf("invalid action: %s", action)
		}
	}

	summary, err := syncer.Process(ctx, batch)
	log.Info("run finished",
		zap.String("run_id", summary.RunID),
		zap.Int("total", summary.Total),
		zap.Int("created", summary.Created),
		zap.Int("matched", summary.Matched),
		zap.Int("unresolved", summary.Unresolved),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
	)
	return err
}
