package main

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/xhad/rolerag/pkg/errs"
	"github.com/xhad/rolerag/pkg/logging"
)

func main() {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		level, _ := root.PersistentFlags().GetString("log-level")
		if level == "" {
			level = os.Getenv("ROLERAG_LOG_LEVEL")
		}
		reportError(os.Stderr, err, level == "debug")
		os.Exit(1)
	}
}

// reportError prints the user-facing message for err. Coded errors never show
// their chain; with debug set the detail is logged after the message.
// Uncoded errors come from argument parsing and are printed as they are.
func reportError(w io.Writer, err error, debug bool) {
	if errs.CodeOf(err) == "" {
		fmt.Fprintln(w, "Error:", err)
		return
	}

	fmt.Fprintln(w, "Error:", errs.Public(err))
	if !debug {
		fmt.Fprintln(w, "Run with --log-level debug for details.")
		return
	}

	logger, lerr := logging.New(logging.Config{Level: "debug", Format: "console", Output: w})
	if lerr != nil {
		return
	}
	logger.Debug("command failed", zap.String("code", string(errs.CodeOf(err))), zap.Error(err))
	_ = logger.Sync()
}
