package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/certhost/go-site-cert-manager/pkg/app"
	"github.com/certhost/go-site-cert-manager/pkg/common"
)

// Version information (replaced during build)
var version = "local-version"

func main() {
	application := app.NewApplication(version)

	application.SetupFlags()
	application.ParseFlags()

	// A full renewal run over many records can take a while, but never hours.
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Minute)
	defer cancel()

	if err := application.Run(ctx); err != nil {
		handleApplicationError(err)
		os.Exit(1)
	}

	application.WaitForShutdown()
}

// handleApplicationError prints structured errors with their remediation
// suggestions; anything else is printed as-is.
func handleApplicationError(err error) {
	if appErr := common.GetApplicationError(err); appErr != nil {
		fmt.Fprintf(os.Stderr, "Error:\n%s\n", appErr.GetDetailedMessage())

		switch appErr.Type {
		case common.ErrorTypeConfig:
			fmt.Fprintf(os.Stderr, "\nConfiguration help:\n")
			fmt.Fprintf(os.Stderr, "   Use -print-config-template to see a valid template\n")
		case common.ErrorTypeValidation:
			fmt.Fprintf(os.Stderr, "\nValidation help:\n")
			fmt.Fprintf(os.Stderr, "   Ensure all requested domains resolve to this server\n")
			fmt.Fprintf(os.Stderr, "   Check the site's http bindings and webroot path\n")
		case common.ErrorTypeLookup:
			fmt.Fprintf(os.Stderr, "\nLookup help:\n")
			fmt.Fprintf(os.Stderr, "   Use the list command to see managed certificate names\n")
		}
	} else {
		fmt.Fprintf(os.Stderr, "Application error: %v\n", err)
	}

	fmt.Fprintf(os.Stderr, "\nFor more help, use the -h flag.\n")
}
