package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	return &cobra.Command{
		Use:           "filevault",
		Short:         "Multi-tenant file storage with metered quotas",
		Long:          "filevault stores tenant files in an S3-compatible bucket, accounts their size against the tenant's plan and manages trash and share links. Configuration comes from the environment and an optional .env file.",
		Version:       fmt.Sprintf("%s.%s", version, commit),
		SilenceErrors: true,
		SilenceUsage:  true,
	}
}
