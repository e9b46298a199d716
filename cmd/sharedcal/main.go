package main

import (
	"context"
	"os"

	appLog "sharedcal/internal/log"
)

func main() {
	cmd, a := newRootCommand()
	err := cmd.ExecuteContext(context.Background())
	a.close()
	if err != nil {
		appLog.Error("sharedcal failed", err)
		_ = appLog.Close()
		os.Exit(1)
	}
	_ = appLog.Close()
}
