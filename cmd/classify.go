package cmd

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/jobmail/internal/classifier"
	"github.com/spigell/jobmail/internal/logger"
	"github.com/spigell/jobmail/internal/mailbox"
)

var classifyCmd = &cobra.Command{
	Use:   "classify FILE",
	Short: "Classify a single .eml file and print the result without storing it",
	Long:  "Classify a single RFC 5322 message. Use - to read the message from stdin.",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		classify(args[0])
	},
}

func init() {
	rootCmd.AddCommand(classifyCmd)
}

type classifyResult struct {
	MessageID string                      `json:"message_id,omitempty"`
	Subject   string                      `json:"subject"`
	Result    *classifier.ClassifiedEmail `json:"result"`
}

func classify(path string) {
	ctx := context.Background()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	email, err := readMessage(path)
	if err != nil {
		logger.Fatal("reading message", zap.String("path", path), zap.Error(err))
	}
	if email.SentAt.IsZero() {
		email.SentAt = time.Now()
	}

	o, err := newOracles(ctx, config.AI, config.Index.Dimension, logger)
	if err != nil {
		logger.Fatal("creating ai oracles", zap.Error(err))
	}

	cls, err := newClassifier(o.classification, config, logger)
	if err != nil {
		logger.Fatal("creating classifier", zap.Error(err))
	}

	result, err := cls.ClassifyMessage(ctx, email.Subject, email.Body, email.SentAt)
	if err != nil {
		logger.Fatal("classifying message", zap.Error(err))
	}

	pretty, err := json.MarshalIndent(classifyResult{MessageID: email.ID, Subject: email.Subject, Result: result}, "", "  ")
	if err != nil {
		logger.Fatal("encoding result", zap.Error(err))
	}
	fmt.Println(string(pretty))
}

func readMessage(path string) (mailbox.Email, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return mailbox.Email{}, err
		}
		defer f.Close()
		r = f
	}
	return mailbox.ParseMessage(r)
}
