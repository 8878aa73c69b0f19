package main

import (
	"fmt"
	"os"

	"github.com/go-rod/rod/lib/utils"
	"github.com/sirupsen/logrus"

	"dev/bravebird/debug-ui-verifier/pkg/config"
	"dev/bravebird/debug-ui-verifier/pkg/script"
)

const defaultOutput = "verification/verify_debug_ui.go"

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	output := defaultOutput
	if len(os.Args) > 1 {
		output = os.Args[1]
	}

	code := script.Generate(cfg.Plan())
	if err := utils.OutputFile(output, code); err != nil {
		logrus.Fatalf("Failed to write script: %v", err)
	}

	fmt.Printf("Generated go-rod script: %s\n", output)
	fmt.Printf("Run with: go run %s\n", output)
}
