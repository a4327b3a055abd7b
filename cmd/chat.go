package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xhad/rolerag/internal/types"
	"github.com/xhad/rolerag/pkg/errs"
	"github.com/xhad/rolerag/pkg/rag"
	"github.com/xhad/rolerag/pkg/role"
)

func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat --role ROLE",
		Short: "Ask questions interactively as a role",
		Long: "Start an interactive session. Type a question to ask it as the current role,\n" +
			"'/role NAME' to switch roles, '/whoami' to show the current role's permissions, or 'exit' to quit.",
		Args: cobra.NoArgs,
		RunE: runChat,
	}

	cmd.Flags().String("role", "", roleFlagUsage())
	cmd.Flags().Bool("seed", false, "replace the store with the sample corpus before chatting")
	_ = cmd.MarkFlagRequired("role")

	return cmd
}

func runChat(cmd *cobra.Command, _ []string) error {
	roleName, _ := cmd.Flags().GetString("role")
	if _, err := role.Validate(roleName); err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, cmd, "warn")
	if err != nil {
		return err
	}
	defer a.Close()

	if seed, _ := cmd.Flags().GetBool("seed"); seed {
		if _, err := a.seed(ctx); err != nil {
			return fmt.Errorf("seeding store: %w", err)
		}
	}

	assistant, err := a.assistant()
	if err != nil {
		return err
	}

	session := &chatSession{
		assistant: assistant,
		role:      roleName,
		streaming: a.cfg.UI.Streaming,
		out:       cmd.OutOrStdout(),
		status:    cmd.ErrOrStderr(),
		logger:    a.logger,
	}
	return session.run(ctx, cmd.InOrStdin())
}

type asker interface {
	Ask(ctx context.Context, roleName, question string, opts ...types.SearchOption) (rag.Answer, error)
	AskStream(ctx context.Context, roleName, question string, opts ...types.SearchOption) (rag.Stream, error)
}

// chatSession is the interactive loop. The role it holds is only a default
// for the next question; the assistant validates it again on every call.
type chatSession struct {
	assistant asker
	role      string
	streaming bool
	out       io.Writer
	status    io.Writer
	logger    *zap.Logger
}

func (s *chatSession) run(ctx context.Context, in io.Reader) error {
	if s.logger == nil {
		s.logger = zap.NewNop()
	}

	userPrompt := color.New(color.FgGreen)
	failure := color.New(color.FgRed)

	color.New(color.FgCyan).Fprintf(s.out, "Chat with your knowledge base as %q (type '/role NAME' to switch, '/whoami' for permissions, 'exit' to quit)\n", s.role)
	s.whoami()

	scanner := bufio.NewScanner(in)
	for {
		userPrompt.Fprintf(s.out, "\nYou (%s): ", s.role)
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case strings.EqualFold(line, "exit"), strings.EqualFold(line, "quit"):
			return nil
		case line == "/role" || strings.HasPrefix(line, "/role "):
			s.switchRole(strings.TrimSpace(strings.TrimPrefix(line, "/role")), failure)
			continue
		case line == "/whoami":
			s.whoami()
			continue
		}

		if err := s.ask(ctx, line); err != nil {
			s.logger.Warn("question failed", zap.String("role", s.role), zap.Error(err))
			failure.Fprintf(s.out, "Error: %s\n", errs.Public(err))
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	return scanner.Err()
}

func (s *chatSession) switchRole(name string, failure *color.Color) {
	if _, err := role.Validate(name); err != nil {
		failure.Fprintf(s.out, "%s Choose one of: %s\n", errs.Public(err), strings.Join(role.Names(), ", "))
		return
	}
	s.role = name
	color.New(color.FgCyan).Fprintf(s.out, "Now asking as %q\n", name)
	s.whoami()
}

// permissions describes what each role can read in the sample corpus. It is
// display text only; access is decided by each document's allowed roles.
var permissions = map[role.Role]string{
	role.Engineer: "Engineering docs, Internal IT, Public info",
	role.HR:       "HR policy, Salaries, Public info",
	role.Intern:   "Internal IT (restricted), Public info",
	role.Public:   "Public info only",
}

func (s *chatSession) whoami() {
	r, err := role.Validate(s.role)
	if err != nil {
		return
	}
	color.New(color.Faint).Fprintf(s.out, "Role: %s | Your permissions: %s\n", r, permissions[r])
}

func (s *chatSession) ask(ctx context.Context, question string) error {
	assistantPrompt := color.New(color.FgCyan)
	spinner := getSpinner(s.status, "Searching documentation...")

	if !s.streaming {
		answer, err := s.assistant.Ask(ctx, s.role, question)
		_ = spinner.Finish()
		if err != nil {
			return err
		}
		assistantPrompt.Fprintf(s.out, "Assistant: %s\n", answer.Text)
		printSources(s.out, answer.Sources)
		return nil
	}

	stream, err := s.assistant.AskStream(ctx, s.role, question)
	_ = spinner.Finish()
	if err != nil {
		return err
	}

	assistantPrompt.Fprint(s.out, "Assistant: ")
	for chunk := range stream.Chunks {
		assistantPrompt.Fprint(s.out, chunk)
	}
	fmt.Fprintln(s.out)

	if err := <-stream.Err; err != nil {
		return err
	}
	printSources(s.out, stream.Sources)
	return nil
}

// accessDenied is shown under an answer built without any authorized document.
const accessDenied = "Access denied: no documents visible to this role matched."

func printSources(w io.Writer, sources []string) {
	faint := color.New(color.Faint)
	if len(sources) == 0 {
		faint.Fprintln(w, accessDenied)
		return
	}
	faint.Fprintf(w, "Sources: %s\n", strings.Join(sources, ", "))
}
